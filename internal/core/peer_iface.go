package core

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
)

// ErrNoVideoSender means ReplaceVideoTrack ran before the outgoing
// video track was attached; the link will pick up the current track
// when it attaches.
var ErrNoVideoSender = errors.New("no video sender attached")

// DataSender is one reliable ordered data channel of a peer transport.
type DataSender interface {
	SendText(string) error
	IsOpen() bool
	OnOpen(func())
	OnMessage(func([]byte))
	Close() error
}

// PeerTransport is the SDP/ICE side of one peer connection.
// The adapter owns the underlying resources; Close() releases them.
type PeerTransport interface {
	// Start configures internal callbacks and binds the transport lifetime to ctx.
	Start(ctx context.Context) error
	Close()
	IsClosed() bool
	// CreateAndSetOffer generates the local offer (offerer role).
	CreateAndSetOffer() (*webrtc.SessionDescription, error)
	// ApplyOfferAndCreateAnswer applies a remote offer and generates the local answer (answerer role).
	ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	// ApplyAnswer applies the remote answer to a previously set local offer.
	ApplyAnswer(webrtc.SessionDescription) error
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// AddLocalTrack attaches an outgoing track. The video sender is
	// remembered so ReplaceVideoTrack can swap it in place.
	AddLocalTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	// ReplaceVideoTrack swaps the outgoing video track without renegotiation.
	ReplaceVideoTrack(track webrtc.TrackLocal) error
	// CreateChatChannel opens the reliable ordered data channel (offerer side).
	CreateChatChannel() (DataSender, error)
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))
	// OnDataChannel sets a callback for the remotely opened chat channel (answerer side).
	OnDataChannel(func(DataSender))
	// OnStateChange sets a callback for transport connectivity transitions.
	OnStateChange(func(webrtc.PeerConnectionState))
}
