// Package session contains the orchestrator of one meeting attendance.
// The Controller is the single writer of the roster and the peer-link
// registry: every mutation runs on its event loop, so no other locking
// is needed for correctness. Per-peer negotiation runs in its own
// goroutine and reports back through the loop, so one slow peer never
// stalls the others.
package session

import (
	"context"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/lessonlive/meetmesh/internal/app/chat"
	"github.com/lessonlive/meetmesh/internal/app/media"
	"github.com/lessonlive/meetmesh/internal/app/peer"
	"github.com/lessonlive/meetmesh/internal/core"
	"github.com/lessonlive/meetmesh/internal/domain"
	"github.com/lessonlive/meetmesh/internal/signal"
)

// Signaler is the control channel as the controller sees it.
type Signaler interface {
	Connect(ctx context.Context, meeting domain.MeetingID, local domain.Participant) error
	Send(signal.Envelope)
	OnMessage(func(signal.Envelope))
	OnClosed(func(error))
	Disconnect(meeting domain.MeetingID, from domain.ParticipantID)
}

// Media is the local capture surface as the controller sees it.
type Media interface {
	Acquire(ctx context.Context, self domain.ParticipantID) (*media.LocalTrackSet, error)
	SetMuted(bool) error
	SetVideoOff(bool) error
	StartScreenShare(self domain.ParticipantID) (*media.OutTrack, error)
	StopScreenShare() (*media.OutTrack, error)
	StopAll()
}

// TransportFactory builds one peer transport per remote participant.
type TransportFactory func(remote domain.ParticipantID) (core.PeerTransport, error)

type Controller struct {
	meeting domain.MeetingID
	self    *domain.Participant

	sig          Signaler
	media        Media
	chat         *chat.Channel
	newTransport TransportFactory

	reg    *Registry
	tracks *media.LocalTrackSet

	state  atomic.Int32
	events chan func()
	ctx    context.Context
	cancel context.CancelFunc

	onRemoteTrack  func(remote domain.ParticipantID, track *webrtc.TrackRemote)
	onLinkDegraded func(remote domain.ParticipantID, err error)
}

func NewController(
	meeting domain.MeetingID,
	self *domain.Participant,
	sig Signaler,
	m Media,
	ch *chat.Channel,
	newTransport TransportFactory,
) *Controller {
	c := &Controller{
		meeting:      meeting,
		self:         self,
		sig:          sig,
		media:        m,
		chat:         ch,
		newTransport: newTransport,
		reg:          NewRegistry(),
		events:       make(chan func(), 64),
	}
	ch.BindBroadcast(c.broadcastChat)
	return c
}

func (c *Controller) State() State              { return State(c.state.Load()) }
func (c *Controller) Self() domain.Participant  { return *c.self }
func (c *Controller) Registry() *Registry       { return c.reg }
func (c *Controller) Chat() *chat.Channel       { return c.chat }

// OnRemoteTrack hooks the rendering layer onto incoming media.
func (c *Controller) OnRemoteTrack(fn func(domain.ParticipantID, *webrtc.TrackRemote)) {
	c.onRemoteTrack = fn
}

// OnLinkDegraded is invoked when one peer link fails terminally while
// the session keeps running.
func (c *Controller) OnLinkDegraded(fn func(domain.ParticipantID, error)) {
	c.onLinkDegraded = fn
}

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
	log.Info().Str("module", "session").Str("state", s.String()).Msg("session state")
}

// Join acquires local media, opens the control channel and starts the
// event loop. Media failure is fatal and happens before any signaling.
func (c *Controller) Join(ctx context.Context) error {
	if c.State() != StateIdle {
		return ErrNotIdle
	}
	c.setState(StateConnecting)

	set, err := c.media.Acquire(ctx, c.self.ID)
	if err != nil {
		c.setState(StateFailed)
		return err
	}
	c.tracks = set

	// The loop's lifetime is ended by Leave or a fatal failure, never
	// by the caller's ctx: leaving must still run after the caller is
	// cancelled.
	c.ctx, c.cancel = context.WithCancel(context.Background())
	go c.loop()

	c.sig.OnMessage(func(env signal.Envelope) {
		c.post(func() { c.handle(env) })
	})
	c.sig.OnClosed(func(err error) {
		c.post(func() { c.onSignalLost(err) })
	})

	if err := c.sig.Connect(ctx, c.meeting, *c.self); err != nil {
		c.media.StopAll()
		c.setState(StateFailed)
		c.cancel()
		return err
	}

	c.setState(StateJoined)
	return nil
}

// Leave tears the attendance down unconditionally: every link closed,
// every local track stopped, the control channel shut. Individual
// close failures are reported and skipped, never aborting the sweep.
func (c *Controller) Leave() {
	if c.ctx == nil {
		// Never joined; nothing to release.
		c.setState(StateLeft)
		return
	}
	c.call(func() {
		if c.State().terminal() {
			return
		}
		c.setState(StateLeaving)
		c.teardown()
		c.setState(StateLeft)
	})
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Controller) teardown() {
	for _, l := range c.reg.LinksSnapshot() {
		l.Close()
	}
	c.media.StopAll()
	c.sig.Disconnect(c.meeting, c.self.ID)
	c.reg.Clear()
	log.Info().Str("module", "session").Msg("teardown complete")
}

func (c *Controller) onSignalLost(err error) {
	if c.State().terminal() || c.State() == StateLeaving {
		return
	}
	log.Error().Err(err).Str("module", "session").Msg("signaling channel lost")
	c.teardown()
	c.setState(StateFailed)
	c.cancel()
}

func (c *Controller) loop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case fn := <-c.events:
			fn()
		}
	}
}

// post queues work onto the event loop; dropped once the loop is gone.
func (c *Controller) post(fn func()) {
	select {
	case c.events <- fn:
	case <-c.ctx.Done():
	}
}

// call runs fn on the loop and waits for it.
func (c *Controller) call(fn func()) {
	done := make(chan struct{})
	select {
	case c.events <- func() { fn(); close(done) }:
	case <-c.ctx.Done():
		return
	}
	select {
	case <-done:
	case <-c.ctx.Done():
	}
}

// createLink builds and registers one peer link. Loop-only.
func (c *Controller) createLink(remote domain.ParticipantID, role peer.Role) (*peer.Link, error) {
	transport, err := c.newTransport(remote)
	if err != nil {
		return nil, &core.NegotiationError{Peer: remote, Stage: "transport", Err: err}
	}
	l := peer.NewLink(c.self.ID, remote, role, transport, peer.Callbacks{
		SendSignal: c.sig.Send,
		OnConnected: func(id domain.ParticipantID) {
			log.Info().Str("module", "session").Str("participant", string(id)).Msg("peer connected")
		},
		OnFailed: func(id domain.ParticipantID, err error) {
			c.post(func() { c.degradeLink(id, err) })
		},
		OnChat: c.chat.OnReceive,
		OnRemoteTrack: func(id domain.ParticipantID, track *webrtc.TrackRemote) {
			if c.onRemoteTrack != nil {
				c.onRemoteTrack(id, track)
			}
		},
	})
	c.reg.BindLink(remote, l)
	return l, nil
}

// degradeLink keeps the roster entry but marks the link failed; media
// from that participant is gone, the rest of the session continues.
func (c *Controller) degradeLink(remote domain.ParticipantID, err error) {
	log.Warn().Err(err).Str("module", "session").Str("participant", string(remote)).Msg("link degraded")
	if c.onLinkDegraded != nil {
		c.onLinkDegraded(remote, err)
	}
}

func (c *Controller) broadcastChat(payload string) int {
	sent := 0
	for _, l := range c.reg.LinksSnapshot() {
		if l.SendChat(payload) {
			sent++
		}
	}
	return sent
}
