package media

import (
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

type TrackState int32

const (
	TrackStateLive TrackState = iota
	TrackStatePaused
	TrackStateStopped
)

// OutTrack is one outgoing local track plus its delivery gate. Muting
// flips the gate; the track object itself stays attached to every
// transport, so no renegotiation happens.
type OutTrack struct {
	Track *webrtc.TrackLocalStaticRTP
	state atomic.Int32 // zero value is TrackStateLive
}

func NewOutTrack(track *webrtc.TrackLocalStaticRTP) *OutTrack {
	return &OutTrack{Track: track}
}

func (ot *OutTrack) State() TrackState { return TrackState(ot.state.Load()) }

func (ot *OutTrack) MarkLive()    { ot.state.Store(int32(TrackStateLive)) }
func (ot *OutTrack) MarkPaused()  { ot.state.Store(int32(TrackStatePaused)) }
func (ot *OutTrack) MarkStopped() { ot.state.Store(int32(TrackStateStopped)) }

// LocalTrackSet is the shared set of outgoing tracks referenced by
// every peer link. There is exactly one current video track at a time;
// swapping it (screen share) publishes a new value that link creation
// reads atomically.
type LocalTrackSet struct {
	mu    sync.RWMutex
	audio *OutTrack
	video *OutTrack
}

func NewLocalTrackSet(audio, video *OutTrack) *LocalTrackSet {
	return &LocalTrackSet{audio: audio, video: video}
}

func (s *LocalTrackSet) Audio() *OutTrack { return s.audio }

func (s *LocalTrackSet) CurrentVideo() *OutTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.video
}

func (s *LocalTrackSet) SetCurrentVideo(ot *OutTrack) {
	s.mu.Lock()
	s.video = ot
	s.mu.Unlock()
}

// Outgoing returns the tracks a new link must send, current video last.
func (s *LocalTrackSet) Outgoing() []webrtc.TrackLocal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]webrtc.TrackLocal, 0, 2)
	if s.audio != nil {
		out = append(out, s.audio.Track)
	}
	if s.video != nil {
		out = append(out, s.video.Track)
	}
	return out
}
