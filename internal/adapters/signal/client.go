// Package signalws is the websocket adapter for the control channel.
package signalws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/lessonlive/meetmesh/internal/core"
	"github.com/lessonlive/meetmesh/internal/domain"
	"github.com/lessonlive/meetmesh/internal/signal"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrNotConnected = errors.New("not connected")
)

// Client is the persistent control channel to the rendezvous server.
// Send is fire-and-forget: frames are dropped when the channel is not
// open or the send buffer is full.
type Client struct {
	opts Options

	mu     sync.RWMutex
	conn   *websocket.Conn
	send   chan core.Frame
	closed bool

	onMessage func(signal.Envelope)
	onClosed  func(error)

	closeOnce sync.Once
}

type Options struct {
	URL        string
	ReadLimit  int64
	PingPeriod time.Duration // zero disables pings
}

func NewClient(opts Options) *Client {
	return &Client{opts: opts}
}

// OnMessage sets the inbound handler. Must be set before Connect;
// envelopes are delivered in arrival order from a single goroutine.
func (c *Client) OnMessage(fn func(signal.Envelope)) { c.onMessage = fn }

// OnClosed sets the handler invoked once when the channel drops for
// any reason other than Disconnect.
func (c *Client) OnClosed(fn func(error)) { c.onClosed = fn }

// Connect dials the rendezvous server and announces the local
// participant. The channel lives until Disconnect or a read error.
func (c *Client) Connect(ctx context.Context, meeting domain.MeetingID, local domain.Participant) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return &core.SignalingConnectionError{URL: c.opts.URL, Err: err}
	}
	if c.opts.ReadLimit > 0 {
		conn.SetReadLimit(c.opts.ReadLimit)
	}

	c.mu.Lock()
	c.conn = conn
	c.send = make(chan core.Frame, 32)
	c.closed = false
	c.mu.Unlock()

	go c.writePump(ctx)
	go c.readPump()

	c.Send(signal.JoinMeeting(meeting, local))
	log.Info().Str("module", "signal").Str("meeting", string(meeting)).Str("participant", string(local.ID)).Msg("connected")
	return nil
}

// Send marshals and queues one envelope, best-effort.
func (c *Client) Send(env signal.Envelope) {
	data, err := signal.Encode(env)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("encode")
		return
	}
	if err := c.trySend(data); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("type", string(env.Type)).Msg("dropped outbound")
	}
}

func (c *Client) trySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed || c.conn == nil {
		return ErrNotConnected
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

// Disconnect sends leave best-effort and closes the channel. Idempotent.
func (c *Client) Disconnect(meeting domain.MeetingID, from domain.ParticipantID) {
	c.Send(signal.Leave(meeting, from))
	c.close()
}

func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.mu.Unlock()
}

func (c *Client) reportClosed(err error) {
	c.closeOnce.Do(func() {
		if c.onClosed != nil {
			c.onClosed(&core.SignalingConnectionError{URL: c.opts.URL, Err: err})
		}
	})
}
