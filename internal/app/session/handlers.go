package session

import (
	"github.com/rs/zerolog/log"

	"github.com/lessonlive/meetmesh/internal/app/peer"
	"github.com/lessonlive/meetmesh/internal/signal"
)

// handle processes one inbound control envelope. Loop-only.
func (c *Controller) handle(env signal.Envelope) {
	if c.State().terminal() {
		return
	}
	switch env.Type {
	case signal.TypeParticipantJoined:
		c.handleParticipantJoined(env)
	case signal.TypeParticipantLeft:
		c.handleParticipantLeft(env)
	case signal.TypeParticipantsList:
		c.reg.ReplaceRoster(env.Participants, c.self.ID)
	case signal.TypeParticipantUpdate:
		c.reg.UpdatePresence(env.ParticipantID, env.IsMuted, env.IsVideoOff)
	case signal.TypeOffer:
		c.handleOffer(env)
	case signal.TypeAnswer:
		c.handleAnswer(env)
	case signal.TypeICECandidate:
		c.handleCandidate(env)
	default:
		log.Warn().Str("module", "session").Str("type", string(env.Type)).Msg("unexpected signal")
	}
}

// handleParticipantJoined adds the newcomer and, because this node is
// an existing member relative to them, opens an offerer link toward
// them. The newcomer itself only answers.
func (c *Controller) handleParticipantJoined(env signal.Envelope) {
	if env.Participant == nil || env.Participant.ID == c.self.ID {
		return
	}
	c.reg.AddParticipant(*env.Participant)

	if old, ok := c.reg.UnbindLink(env.Participant.ID); ok {
		log.Info().Str("module", "session").Str("participant", string(env.Participant.ID)).Msg("re-join, replacing link")
		old.Close()
	}
	l, err := c.createLink(env.Participant.ID, peer.RoleOfferer)
	if err != nil {
		c.degradeLink(env.Participant.ID, err)
		return
	}
	go func() {
		if err := l.StartOffer(c.ctx, c.tracks.Outgoing()); err != nil {
			log.Error().Err(err).Str("module", "session").Str("participant", string(l.Remote())).Msg("offer failed")
			return
		}
		c.post(func() { c.syncVideoTrack(l) })
	}()
}

// syncVideoTrack reconciles a freshly attached link with the current
// video track. A swap racing the attach is skipped by the replace
// sweep (the link has no video sender yet), so the link closes the gap
// itself once its tracks are attached. Loop-only, which keeps it
// ordered against later swaps.
func (c *Controller) syncVideoTrack(l *peer.Link) {
	if cur, ok := c.reg.Link(l.Remote()); !ok || cur != l {
		return
	}
	ot := c.tracks.CurrentVideo()
	if ot == nil {
		return
	}
	if err := l.ReplaceVideoTrack(ot.Track); err != nil {
		log.Error().Err(err).Str("module", "session").Str("participant", string(l.Remote())).Msg("video track sync")
	}
}

func (c *Controller) handleParticipantLeft(env signal.Envelope) {
	id := env.ParticipantID
	if id == "" {
		id = env.From
	}
	if l, ok := c.reg.UnbindLink(id); ok {
		l.Close()
	}
	c.reg.RemoveParticipant(id)
}

func (c *Controller) handleOffer(env signal.Envelope) {
	if env.SDP == nil || env.From == "" {
		return
	}
	if old, ok := c.reg.UnbindLink(env.From); ok {
		log.Info().Str("module", "session").Str("participant", string(env.From)).Msg("re-offer, replacing link")
		old.Close()
	}
	l, err := c.createLink(env.From, peer.RoleAnswerer)
	if err != nil {
		c.degradeLink(env.From, err)
		return
	}
	offer := *env.SDP
	go func() {
		if err := l.StartAnswer(c.ctx, c.tracks.Outgoing(), offer); err != nil {
			log.Error().Err(err).Str("module", "session").Str("participant", string(l.Remote())).Msg("answer failed")
			return
		}
		c.post(func() { c.syncVideoTrack(l) })
	}()
}

func (c *Controller) handleAnswer(env signal.Envelope) {
	if env.SDP == nil {
		return
	}
	l, ok := c.reg.Link(env.From)
	if !ok {
		log.Warn().Str("module", "session").Str("participant", string(env.From)).Msg("answer for unknown link")
		return
	}
	answer := *env.SDP
	go func() {
		if err := l.HandleAnswer(answer); err != nil {
			log.Error().Err(err).Str("module", "session").Str("participant", string(l.Remote())).Msg("apply answer failed")
		}
	}()
}

func (c *Controller) handleCandidate(env signal.Envelope) {
	if env.Candidate == nil {
		return
	}
	l, ok := c.reg.Link(env.From)
	if !ok {
		log.Warn().Str("module", "session").Str("participant", string(env.From)).Msg("candidate for unknown link")
		return
	}
	if err := l.HandleCandidate(*env.Candidate); err != nil {
		log.Error().Err(err).Str("module", "session").Str("participant", string(l.Remote())).Msg("candidate failed")
	}
}
