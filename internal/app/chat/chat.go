// Package chat is the reliable chat overlay carried over the peer
// links' data channels. It keeps one ordered log per observer: entries
// are appended in local receipt order, with the sender's own messages
// echoed immediately.
package chat

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lessonlive/meetmesh/internal/domain"
)

// wireMessage is the JSON payload sent over every data channel.
type wireMessage struct {
	SenderID   domain.ParticipantID `json:"senderId"`
	SenderName string               `json:"senderName"`
	Text       string               `json:"text"`
}

// Broadcaster fans one payload out to every open data channel and
// reports how many links accepted it.
type Broadcaster func(payload string) int

type Channel struct {
	self *domain.Participant

	mu       sync.Mutex
	entries  []domain.ChatMessage
	onAppend func(domain.ChatMessage)

	broadcast Broadcaster
	history   *History
	meeting   domain.MeetingID
	now       func() time.Time
}

func NewChannel(self *domain.Participant) *Channel {
	return &Channel{self: self, now: time.Now}
}

// BindBroadcast wires the fan-out function; set by the session
// controller once links exist.
func (c *Channel) BindBroadcast(fn Broadcaster) { c.broadcast = fn }

// BindHistory attaches a persistent store for the given meeting and
// preloads its log.
func (c *Channel) BindHistory(h *History, meeting domain.MeetingID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = h
	c.meeting = meeting
	if prev, err := h.Load(meeting); err == nil {
		c.entries = append(prev, c.entries...)
	} else {
		log.Warn().Err(err).Str("module", "chat").Msg("history load")
	}
}

// OnAppend subscribes the UI to new log entries.
func (c *Channel) OnAppend(fn func(domain.ChatMessage)) {
	c.mu.Lock()
	c.onAppend = fn
	c.mu.Unlock()
}

// Send broadcasts text to every open data channel, best-effort, and
// echoes it into the local log immediately.
func (c *Channel) Send(text string) domain.ChatMessage {
	payload, err := json.Marshal(wireMessage{
		SenderID:   c.self.ID,
		SenderName: c.self.DisplayName,
		Text:       text,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "chat").Msg("marshal outbound")
	} else if c.broadcast != nil {
		sent := c.broadcast(string(payload))
		log.Debug().Str("module", "chat").Int("sent_to", sent).Msg("broadcast")
	}

	echo := domain.ChatMessage{
		SenderID:   c.self.ID,
		SenderName: c.self.DisplayName,
		Text:       text,
		ReceivedAt: c.now(),
	}
	c.append(echo)
	return echo
}

// OnReceive parses one inbound data-channel payload and appends it in
// local receipt order.
func (c *Channel) OnReceive(from domain.ParticipantID, payload []byte) {
	var wm wireMessage
	if err := json.Unmarshal(payload, &wm); err != nil {
		log.Error().Err(err).Str("module", "chat").Str("from", string(from)).Msg("bad chat payload")
		return
	}
	c.append(domain.ChatMessage{
		SenderID:   wm.SenderID,
		SenderName: wm.SenderName,
		Text:       wm.Text,
		ReceivedAt: c.now(),
	})
}

func (c *Channel) append(msg domain.ChatMessage) {
	c.mu.Lock()
	c.entries = append(c.entries, msg)
	notify := c.onAppend
	h, meeting := c.history, c.meeting
	c.mu.Unlock()

	if notify != nil {
		notify(msg)
	}
	if h != nil {
		if err := h.Append(meeting, msg); err != nil {
			log.Warn().Err(err).Str("module", "chat").Msg("history append")
		}
	}
}

// Log returns a copy of the ordered log.
func (c *Channel) Log() []domain.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.ChatMessage, len(c.entries))
	copy(out, c.entries)
	return out
}
