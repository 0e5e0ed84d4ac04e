// Package peer holds the per-remote-participant negotiation state
// machine. A Link drives one core.PeerTransport through its
// offer/answer exchange and owns the chat data channel riding on it.
package peer

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/lessonlive/meetmesh/internal/core"
	"github.com/lessonlive/meetmesh/internal/domain"
	"github.com/lessonlive/meetmesh/internal/signal"
)

// Callbacks are invoked from transport goroutines; the session
// controller re-posts them onto its own loop.
type Callbacks struct {
	SendSignal    func(signal.Envelope)
	OnConnected   func(remote domain.ParticipantID)
	OnFailed      func(remote domain.ParticipantID, err error)
	OnChat        func(remote domain.ParticipantID, payload []byte)
	OnRemoteTrack func(remote domain.ParticipantID, track *webrtc.TrackRemote)
}

type Link struct {
	local  domain.ParticipantID
	remote domain.ParticipantID
	role   Role

	transport core.PeerTransport
	cb        Callbacks

	state atomic.Int32

	mu            sync.Mutex
	remoteDescSet bool
	pending       []webrtc.ICECandidateInit
	chat          core.DataSender
}

func NewLink(local, remote domain.ParticipantID, role Role, transport core.PeerTransport, cb Callbacks) *Link {
	l := &Link{
		local:     local,
		remote:    remote,
		role:      role,
		transport: transport,
		cb:        cb,
	}

	transport.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		// Trickle: every local candidate goes out immediately,
		// addressed to this specific remote.
		l.cb.SendSignal(signal.Candidate(l.local, l.remote, ci))
	})
	transport.OnStateChange(l.onTransportState)
	transport.OnDataChannel(l.adoptChat)
	transport.OnTrack(func(_ context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if l.cb.OnRemoteTrack != nil {
			l.cb.OnRemoteTrack(l.remote, track)
		}
	})
	return l
}

func (l *Link) Remote() domain.ParticipantID { return l.remote }
func (l *Link) Role() Role                   { return l.role }
func (l *Link) State() State                 { return State(l.state.Load()) }

func (l *Link) setState(s State) {
	l.state.Store(int32(s))
	log.Info().Str("module", "peer").Str("remote", string(l.remote)).Str("state", s.String()).Msg("link state")
}

// StartOffer runs the offerer side: attach outgoing tracks, open the
// chat channel, generate the local offer and send it.
func (l *Link) StartOffer(ctx context.Context, tracks []webrtc.TrackLocal) error {
	if err := l.transport.Start(ctx); err != nil {
		return l.fail("start", err)
	}
	for _, tr := range tracks {
		if _, err := l.transport.AddLocalTrack(tr); err != nil {
			return l.fail("add track", err)
		}
	}
	ch, err := l.transport.CreateChatChannel()
	if err != nil {
		return l.fail("chat channel", err)
	}
	l.adoptChat(ch)

	l.setState(StateOffering)
	offer, err := l.transport.CreateAndSetOffer()
	if err != nil {
		return l.fail("offer", err)
	}
	l.cb.SendSignal(signal.Offer(l.local, l.remote, *offer))
	return nil
}

// StartAnswer runs the answerer side against a received remote offer.
func (l *Link) StartAnswer(ctx context.Context, tracks []webrtc.TrackLocal, offer webrtc.SessionDescription) error {
	if err := l.transport.Start(ctx); err != nil {
		return l.fail("start", err)
	}
	for _, tr := range tracks {
		if _, err := l.transport.AddLocalTrack(tr); err != nil {
			return l.fail("add track", err)
		}
	}

	l.setState(StateAnswering)
	answer, err := l.transport.ApplyOfferAndCreateAnswer(offer)
	if err != nil {
		return l.fail("answer", err)
	}
	l.markRemoteDescSet()
	l.cb.SendSignal(signal.Answer(l.local, l.remote, *answer))
	return nil
}

// HandleAnswer applies the remote answer to an in-flight offer.
func (l *Link) HandleAnswer(answer webrtc.SessionDescription) error {
	if l.State() != StateOffering {
		log.Warn().Str("module", "peer").Str("remote", string(l.remote)).Str("state", l.State().String()).Msg("answer in unexpected state")
		return nil
	}
	if err := l.transport.ApplyAnswer(answer); err != nil {
		return l.fail("apply answer", err)
	}
	l.markRemoteDescSet()
	return nil
}

// HandleCandidate applies a remote ICE candidate, buffering ones that
// arrive before the remote description is set.
func (l *Link) HandleCandidate(ci webrtc.ICECandidateInit) error {
	l.mu.Lock()
	if !l.remoteDescSet {
		l.pending = append(l.pending, ci)
		l.mu.Unlock()
		log.Debug().Str("module", "peer").Str("remote", string(l.remote)).Msg("buffered early candidate")
		return nil
	}
	l.mu.Unlock()
	if err := l.transport.AddICECandidate(ci); err != nil {
		log.Error().Err(err).Str("module", "peer").Str("remote", string(l.remote)).Msg("add candidate")
		return &core.NegotiationError{Peer: l.remote, Stage: "candidate", Err: err}
	}
	return nil
}

// PendingCandidates reports how many candidates await the remote description.
func (l *Link) PendingCandidates() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

func (l *Link) markRemoteDescSet() {
	l.mu.Lock()
	l.remoteDescSet = true
	flush := l.pending
	l.pending = nil
	l.mu.Unlock()
	for _, ci := range flush {
		if err := l.transport.AddICECandidate(ci); err != nil {
			log.Error().Err(err).Str("module", "peer").Str("remote", string(l.remote)).Msg("flush candidate")
		}
	}
}

// ReplaceVideoTrack swaps the outgoing video track in place.
func (l *Link) ReplaceVideoTrack(track webrtc.TrackLocal) error {
	if err := l.transport.ReplaceVideoTrack(track); err != nil {
		return &core.TrackReplaceError{Peer: l.remote, Err: err}
	}
	return nil
}

// SendChat delivers one chat payload if the channel is open.
// Best-effort: a closed or missing channel is skipped silently.
func (l *Link) SendChat(payload string) bool {
	l.mu.Lock()
	ch := l.chat
	l.mu.Unlock()
	if ch == nil || !ch.IsOpen() {
		return false
	}
	if err := ch.SendText(payload); err != nil {
		log.Warn().Err(err).Str("module", "peer").Str("remote", string(l.remote)).Msg("chat send")
		return false
	}
	return true
}

func (l *Link) adoptChat(ch core.DataSender) {
	l.mu.Lock()
	l.chat = ch
	l.mu.Unlock()
	ch.OnMessage(func(data []byte) {
		if l.cb.OnChat != nil {
			l.cb.OnChat(l.remote, data)
		}
	})
}

func (l *Link) onTransportState(s webrtc.PeerConnectionState) {
	if l.State().terminal() {
		return
	}
	switch s {
	case webrtc.PeerConnectionStateConnected:
		l.setState(StateConnected)
		if l.cb.OnConnected != nil {
			l.cb.OnConnected(l.remote)
		}
	case webrtc.PeerConnectionStateDisconnected:
		l.setState(StateDisconnected)
	case webrtc.PeerConnectionStateFailed:
		l.setState(StateFailed)
		if l.cb.OnFailed != nil {
			l.cb.OnFailed(l.remote, &core.NegotiationError{Peer: l.remote, Stage: "transport", Err: errTransportFailed})
		}
	}
}

// Close releases the transport. Idempotent; a link in any state ends Closed.
func (l *Link) Close() {
	if l.State() == StateClosed {
		return
	}
	l.setState(StateClosed)
	l.transport.Close()
}

func (l *Link) fail(stage string, err error) error {
	l.setState(StateFailed)
	nerr := &core.NegotiationError{Peer: l.remote, Stage: stage, Err: err}
	if l.cb.OnFailed != nil {
		l.cb.OnFailed(l.remote, nerr)
	}
	return nerr
}
