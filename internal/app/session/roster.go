package session

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/lessonlive/meetmesh/internal/app/peer"
	"github.com/lessonlive/meetmesh/internal/domain"
)

// Registry holds the roster of remote participants and the peer link
// per remote. Mutated only from the controller's event loop; the
// RWMutex exists for read snapshots taken by other goroutines.
type Registry struct {
	mu     sync.RWMutex
	roster map[domain.ParticipantID]*domain.Participant
	links  map[domain.ParticipantID]*peer.Link
}

func NewRegistry() *Registry {
	return &Registry{
		roster: make(map[domain.ParticipantID]*domain.Participant),
		links:  make(map[domain.ParticipantID]*peer.Link),
	}
}

func (r *Registry) AddParticipant(p domain.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roster[p.ID] = &p
	log.Info().Str("module", "session.registry").Str("participant", string(p.ID)).Str("name", p.DisplayName).Msg("roster add")
}

func (r *Registry) RemoveParticipant(id domain.ParticipantID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.roster, id)
	log.Info().Str("module", "session.registry").Str("participant", string(id)).Msg("roster remove")
}

func (r *Registry) Participant(id domain.ParticipantID) (*domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.roster[id]
	return p, ok
}

// UpdatePresence patches the mute/video flags of one participant.
// Never touches links or triggers negotiation.
func (r *Registry) UpdatePresence(id domain.ParticipantID, isMuted, isVideoOff *bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.roster[id]
	if !ok {
		return
	}
	if isMuted != nil {
		p.IsMuted = *isMuted
	}
	if isVideoOff != nil {
		p.IsVideoOff = *isVideoOff
	}
}

// ReplaceRoster swaps the whole roster, e.g. on a participants-list
// snapshot right after join. Links are untouched.
func (r *Registry) ReplaceRoster(ps []domain.Participant, self domain.ParticipantID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roster = make(map[domain.ParticipantID]*domain.Participant, len(ps))
	for _, p := range ps {
		if p.ID == self {
			continue
		}
		cp := p
		r.roster[p.ID] = &cp
	}
	log.Info().Str("module", "session.registry").Int("count", len(r.roster)).Msg("roster replaced")
}

func (r *Registry) RosterSnapshot() []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Participant, 0, len(r.roster))
	for _, p := range r.roster {
		out = append(out, *p)
	}
	return out
}

func (r *Registry) RosterSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.roster)
}

func (r *Registry) BindLink(id domain.ParticipantID, l *peer.Link) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.links[id] = l
	log.Info().Str("module", "session.registry").Str("participant", string(id)).Str("role", l.Role().String()).Msg("link bound")
}

func (r *Registry) UnbindLink(id domain.ParticipantID) (*peer.Link, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[id]
	if ok {
		delete(r.links, id)
	}
	return l, ok
}

func (r *Registry) Link(id domain.ParticipantID) (*peer.Link, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.links[id]
	return l, ok
}

func (r *Registry) LinksSnapshot() []*peer.Link {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*peer.Link, 0, len(r.links))
	for _, l := range r.links {
		out = append(out, l)
	}
	return out
}

func (r *Registry) LinkCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.links)
}

func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roster = make(map[domain.ParticipantID]*domain.Participant)
	r.links = make(map[domain.ParticipantID]*peer.Link)
}
