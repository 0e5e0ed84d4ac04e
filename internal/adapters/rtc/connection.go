package rtc

import (
	"context"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/lessonlive/meetmesh/internal/config"
	"github.com/lessonlive/meetmesh/internal/core"
	"github.com/lessonlive/meetmesh/internal/domain"
)

// WebRTCTransport implements core.PeerTransport on a pion PeerConnection.
type WebRTCTransport struct {
	pc     *webrtc.PeerConnection
	peer   domain.ParticipantID
	cancel context.CancelFunc
	closed atomic.Bool

	// Written by the negotiation goroutine, read by the session loop
	// during a track swap.
	videoSender atomic.Pointer[webrtc.RTPSender]

	onICE     func(webrtc.ICECandidateInit)
	onTrack   func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	onChannel func(core.DataSender)
	onState   func(webrtc.PeerConnectionState)
}

// NewConfiguration maps config ICE descriptors onto a pion Configuration.
func NewConfiguration(servers []config.ICEServer) webrtc.Configuration {
	ice := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		srv := webrtc.ICEServer{URLs: []string{s.URL}}
		if s.Username != "" {
			srv.Username = s.Username
			srv.Credential = s.Credential
		}
		ice = append(ice, srv)
	}
	return webrtc.Configuration{ICEServers: ice}
}

func NewWebRTCTransport(cfg webrtc.Configuration, peer domain.ParticipantID) (*WebRTCTransport, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &WebRTCTransport{pc: pc, peer: peer}, nil
}

func (t *WebRTCTransport) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("peer", string(t.peer)).Str("ice_state", s.String()).Msg("ICE state")
	})

	t.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer", string(t.peer)).Str("peer_connection_state", s.String()).Msg("peer state")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			cancel()
		}
		if t.onState != nil {
			t.onState(s)
		}
	})

	t.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && t.onICE != nil {
			t.onICE(cand.ToJSON())
		}
	})

	t.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("peer", string(t.peer)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("remote track")
		if t.onTrack != nil {
			t.onTrack(ctx, track, receiver)
		}
	})

	t.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if t.onChannel != nil {
			t.onChannel(&dataChannel{dc: dc})
		}
	})

	return nil
}

func (t *WebRTCTransport) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return &offer, nil
}

func (t *WebRTCTransport) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := t.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	return &answer, nil
}

func (t *WebRTCTransport) ApplyAnswer(answer webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(answer)
}

func (t *WebRTCTransport) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(ci)
}

// AddLocalTrack attaches an outgoing track and keeps the video sender
// for later in-place replacement.
func (t *WebRTCTransport) AddLocalTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	sender, err := t.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		t.videoSender.Store(sender)
	}
	return sender, nil
}

func (t *WebRTCTransport) ReplaceVideoTrack(track webrtc.TrackLocal) error {
	sender := t.videoSender.Load()
	if sender == nil {
		return core.ErrNoVideoSender
	}
	return sender.ReplaceTrack(track)
}

func (t *WebRTCTransport) CreateChatChannel() (core.DataSender, error) {
	// nil init: pion defaults are ordered + reliable.
	dc, err := t.pc.CreateDataChannel("chat", nil)
	if err != nil {
		return nil, err
	}
	return &dataChannel{dc: dc}, nil
}

func (t *WebRTCTransport) Close() {
	if !t.closed.CompareAndSwap(false, true) {
		return
	}
	if t.cancel != nil {
		t.cancel()
	}
	if err := t.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("peer", string(t.peer)).Msg("close error")
	} else {
		log.Info().Str("module", "rtc").Str("peer", string(t.peer)).Msg("closed")
	}
}

func (t *WebRTCTransport) IsClosed() bool { return t.closed.Load() }

func (t *WebRTCTransport) OnICECandidate(fn func(webrtc.ICECandidateInit)) { t.onICE = fn }

func (t *WebRTCTransport) OnTrack(fn func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	t.onTrack = fn
}

func (t *WebRTCTransport) OnDataChannel(fn func(core.DataSender)) { t.onChannel = fn }

func (t *WebRTCTransport) OnStateChange(fn func(webrtc.PeerConnectionState)) { t.onState = fn }

// dataChannel adapts *webrtc.DataChannel to core.DataSender.
type dataChannel struct {
	dc *webrtc.DataChannel
}

func (c *dataChannel) SendText(s string) error { return c.dc.SendText(s) }

func (c *dataChannel) IsOpen() bool {
	return c.dc.ReadyState() == webrtc.DataChannelStateOpen
}

func (c *dataChannel) OnOpen(fn func()) { c.dc.OnOpen(fn) }

func (c *dataChannel) OnMessage(fn func([]byte)) {
	c.dc.OnMessage(func(msg webrtc.DataChannelMessage) { fn(msg.Data) })
}

func (c *dataChannel) Close() error { return c.dc.Close() }
