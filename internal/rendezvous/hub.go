// Package rendezvous is the signaling relay the session engine talks
// to. It holds meetings and their live control connections in memory,
// fans presence out to the whole meeting and routes targeted
// negotiation envelopes to exactly one participant.
package rendezvous

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/lessonlive/meetmesh/internal/core"
	"github.com/lessonlive/meetmesh/internal/domain"
	"github.com/lessonlive/meetmesh/internal/signal"
)

type member struct {
	participant domain.Participant
	conn        core.SignalConnection
}

type meetingRoom struct {
	mu      sync.RWMutex
	members map[domain.ParticipantID]*member
}

func (r *meetingRoom) snapshot() []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Participant, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m.participant)
	}
	return out
}

type MeetingInfo struct {
	ID          domain.MeetingID `json:"id"`
	MemberCount int              `json:"member_count"`
}

type Hub struct {
	mu       sync.RWMutex
	meetings map[domain.MeetingID]*meetingRoom
}

func NewHub() *Hub {
	return &Hub{meetings: make(map[domain.MeetingID]*meetingRoom)}
}

func (h *Hub) room(id domain.MeetingID) *meetingRoom {
	h.mu.RLock()
	room, ok := h.meetings[id]
	h.mu.RUnlock()
	if ok {
		return room
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok = h.meetings[id]; ok {
		return room
	}
	room = &meetingRoom{members: make(map[domain.ParticipantID]*member)}
	h.meetings[id] = room
	return room
}

// Join registers the participant, replies with the current roster
// snapshot and announces the newcomer to everyone else. The snapshot
// goes out before the announcement so the joiner never offers; the
// existing members do.
func (h *Hub) Join(meeting domain.MeetingID, p domain.Participant, conn core.SignalConnection) {
	room := h.room(meeting)

	sendEnvelope(conn, signal.Envelope{
		Type:         signal.TypeParticipantsList,
		Meeting:      meeting,
		Participants: append(room.snapshot(), p),
	})

	room.mu.Lock()
	room.members[p.ID] = &member{participant: p, conn: conn}
	room.mu.Unlock()

	h.broadcastExcept(meeting, p.ID, signal.Envelope{
		Type:        signal.TypeParticipantJoined,
		Meeting:     meeting,
		Participant: &p,
	})
	log.Info().Str("module", "rendezvous").Str("meeting", string(meeting)).Str("participant", string(p.ID)).Msg("joined")
}

// Leave removes the participant and announces it. Idempotent; empty
// meetings are dropped.
func (h *Hub) Leave(meeting domain.MeetingID, id domain.ParticipantID) {
	h.mu.RLock()
	room, ok := h.meetings[meeting]
	h.mu.RUnlock()
	if !ok {
		return
	}

	room.mu.Lock()
	_, present := room.members[id]
	delete(room.members, id)
	empty := len(room.members) == 0
	room.mu.Unlock()

	if !present {
		return
	}
	h.broadcastExcept(meeting, id, signal.Envelope{
		Type:          signal.TypeParticipantLeft,
		Meeting:       meeting,
		ParticipantID: id,
	})
	if empty {
		h.mu.Lock()
		delete(h.meetings, meeting)
		h.mu.Unlock()
	}
	log.Info().Str("module", "rendezvous").Str("meeting", string(meeting)).Str("participant", string(id)).Msg("left")
}

// Route delivers one envelope: targeted negotiation messages go to
// their single addressee, presence updates fan out to everyone else.
func (h *Hub) Route(meeting domain.MeetingID, env signal.Envelope) {
	if env.Targeted() {
		h.sendTo(meeting, env.Target, env)
		return
	}
	h.broadcastExcept(meeting, env.From, env)
}

// UpdatePresence patches the stored roster entry before fanning the
// update out, so later snapshots reflect it.
func (h *Hub) UpdatePresence(meeting domain.MeetingID, env signal.Envelope) {
	h.mu.RLock()
	room, ok := h.meetings[meeting]
	h.mu.RUnlock()
	if !ok {
		return
	}
	room.mu.Lock()
	if m, ok := room.members[env.ParticipantID]; ok {
		if env.IsMuted != nil {
			m.participant.IsMuted = *env.IsMuted
		}
		if env.IsVideoOff != nil {
			m.participant.IsVideoOff = *env.IsVideoOff
		}
	}
	room.mu.Unlock()
	h.broadcastExcept(meeting, env.From, env)
}

func (h *Hub) sendTo(meeting domain.MeetingID, id domain.ParticipantID, env signal.Envelope) {
	h.mu.RLock()
	room, ok := h.meetings[meeting]
	h.mu.RUnlock()
	if !ok {
		return
	}
	room.mu.RLock()
	m, ok := room.members[id]
	room.mu.RUnlock()
	if !ok {
		log.Warn().Str("module", "rendezvous").Str("target", string(id)).Str("type", string(env.Type)).Msg("target not in meeting")
		return
	}
	sendEnvelope(m.conn, env)
}

func (h *Hub) broadcastExcept(meeting domain.MeetingID, except domain.ParticipantID, env signal.Envelope) {
	h.mu.RLock()
	room, ok := h.meetings[meeting]
	h.mu.RUnlock()
	if !ok {
		return
	}
	room.mu.RLock()
	defer room.mu.RUnlock()
	for id, m := range room.members {
		if id == except {
			continue
		}
		sendEnvelope(m.conn, env)
	}
}

// Meetings lists live meetings for the HTTP surface.
func (h *Hub) Meetings() []MeetingInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]MeetingInfo, 0, len(h.meetings))
	for id, room := range h.meetings {
		room.mu.RLock()
		n := len(room.members)
		room.mu.RUnlock()
		out = append(out, MeetingInfo{ID: id, MemberCount: n})
	}
	return out
}

func sendEnvelope(conn core.SignalConnection, env signal.Envelope) {
	data, err := signal.Encode(env)
	if err != nil {
		log.Error().Err(err).Str("module", "rendezvous").Msg("encode")
		return
	}
	// Fire-and-forget: a slow consumer drops the frame.
	_ = conn.TrySend(data)
}
