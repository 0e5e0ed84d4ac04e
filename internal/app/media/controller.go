// Package media owns the local capture devices and the shared set of
// outgoing tracks. Mute, camera-off and screen share are all track
// substitution or gating; nothing here ever renegotiates a transport.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/lessonlive/meetmesh/internal/core"
	"github.com/lessonlive/meetmesh/internal/domain"
)

var (
	ErrNotAcquired    = errors.New("local media not acquired")
	ErrAlreadySharing = errors.New("screen share already active")
	ErrNotSharing     = errors.New("screen share not active")
)

// Controller acquires microphone, camera and the optional screen
// source, and guarantees exactly one current video track at a time.
type Controller struct {
	devices core.MediaDevices

	mu       sync.Mutex
	set      *LocalTrackSet
	camera   *OutTrack
	screen   *OutTrack
	sharing  bool
	videoOff bool

	micSrc    core.CaptureSource
	camSrc    core.CaptureSource
	screenSrc core.CaptureSource

	ctx    context.Context
	cancel context.CancelFunc
}

func NewController(devices core.MediaDevices) *Controller {
	return &Controller{devices: devices}
}

// Acquire opens microphone and camera and starts their pumps. Failing
// either is fatal to joining.
func (c *Controller) Acquire(ctx context.Context, self domain.ParticipantID) (*LocalTrackSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.set != nil {
		return c.set, nil
	}

	mic, err := c.devices.OpenMicrophone()
	if err != nil {
		return nil, &core.MediaAcquisitionError{Device: "microphone", Err: err}
	}
	cam, err := c.devices.OpenCamera()
	if err != nil {
		_ = mic.Close()
		return nil, &core.MediaAcquisitionError{Device: "camera", Err: err}
	}

	audioTrack, err := newAudioTrack(self)
	if err == nil {
		var videoTrack *webrtc.TrackLocalStaticRTP
		videoTrack, err = newVideoTrack(self, "video")
		if err == nil {
			c.ctx, c.cancel = context.WithCancel(ctx)
			audio := NewOutTrack(audioTrack)
			video := NewOutTrack(videoTrack)
			c.micSrc, c.camSrc = mic, cam
			c.camera = video
			c.set = NewLocalTrackSet(audio, video)
			c.startPump(mic, audio, "audio")
			c.startPump(cam, video, "video")
			log.Info().Str("module", "media").Str("participant", string(self)).Msg("local media acquired")
			return c.set, nil
		}
	}
	_ = mic.Close()
	_ = cam.Close()
	return nil, &core.MediaAcquisitionError{Device: "track", Err: err}
}

func (c *Controller) TrackSet() *LocalTrackSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.set
}

// SetMuted gates audio delivery without detaching the track.
func (c *Controller) SetMuted(muted bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.set == nil {
		return ErrNotAcquired
	}
	if muted {
		c.set.Audio().MarkPaused()
	} else {
		c.set.Audio().MarkLive()
	}
	return nil
}

// SetVideoOff gates the current video track's delivery.
func (c *Controller) SetVideoOff(off bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.set == nil {
		return ErrNotAcquired
	}
	c.videoOff = off
	if off {
		c.set.CurrentVideo().MarkPaused()
	} else {
		c.set.CurrentVideo().MarkLive()
	}
	return nil
}

// StartScreenShare acquires the display source and publishes its track
// as current. The camera source is released while sharing. Failure
// leaves the current video source unchanged.
func (c *Controller) StartScreenShare(self domain.ParticipantID) (*OutTrack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.set == nil {
		return nil, ErrNotAcquired
	}
	if c.sharing {
		return nil, &core.ScreenShareError{Err: ErrAlreadySharing}
	}

	src, err := c.devices.OpenScreen()
	if err != nil {
		return nil, &core.ScreenShareError{Err: err}
	}
	track, err := newVideoTrack(self, "screen")
	if err != nil {
		_ = src.Close()
		return nil, &core.ScreenShareError{Err: err}
	}

	if c.camSrc != nil {
		_ = c.camSrc.Close()
		c.camSrc = nil
	}
	screen := NewOutTrack(track)
	c.screen = screen
	c.screenSrc = src
	c.sharing = true
	c.set.SetCurrentVideo(screen)
	c.startPump(src, screen, "screen")
	log.Info().Str("module", "media").Msg("screen share started")
	return screen, nil
}

// StopScreenShare re-acquires the camera and restores the original
// camera track as current. On camera failure the screen track stays
// current.
func (c *Controller) StopScreenShare() (*OutTrack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.sharing {
		return nil, &core.ScreenShareError{Err: ErrNotSharing}
	}

	cam, err := c.devices.OpenCamera()
	if err != nil {
		return nil, &core.ScreenShareError{Err: err}
	}

	if c.screenSrc != nil {
		_ = c.screenSrc.Close()
		c.screenSrc = nil
	}
	if c.screen != nil {
		c.screen.MarkStopped()
		c.screen = nil
	}
	c.camSrc = cam
	c.sharing = false
	// The camera comes back under the gate it had before the share.
	if c.videoOff {
		c.camera.MarkPaused()
	} else {
		c.camera.MarkLive()
	}
	c.set.SetCurrentVideo(c.camera)
	c.startPump(cam, c.camera, "video")
	log.Info().Str("module", "media").Msg("screen share stopped")
	return c.camera, nil
}

// StopAll releases every source and stops every pump. Safe to call
// from any state; part of the unconditional leave path.
func (c *Controller) StopAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	for _, src := range []core.CaptureSource{c.micSrc, c.camSrc, c.screenSrc} {
		if src != nil {
			_ = src.Close()
		}
	}
	c.micSrc, c.camSrc, c.screenSrc = nil, nil, nil
	if c.set != nil {
		c.set.Audio().MarkStopped()
		c.set.CurrentVideo().MarkStopped()
	}
	c.sharing = false
	log.Info().Str("module", "media").Msg("local media stopped")
}

// ActiveSources reports how many capture sources are currently open.
func (c *Controller) ActiveSources() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, src := range []core.CaptureSource{c.micSrc, c.camSrc, c.screenSrc} {
		if src != nil {
			n++
		}
	}
	return n
}

func (c *Controller) startPump(src core.CaptureSource, ot *OutTrack, kind string) {
	logger := log.With().Str("module", "media").Str("kind", kind).Logger()
	go pump(c.ctx, src, ot, &logger)
}

func newAudioTrack(self domain.ParticipantID) (*webrtc.TrackLocalStaticRTP, error) {
	return webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		fmt.Sprintf("audio-%s", self),
		fmt.Sprintf("stream-%s", self),
	)
}

func newVideoTrack(self domain.ParticipantID, id string) (*webrtc.TrackLocalStaticRTP, error) {
	return webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		},
		fmt.Sprintf("%s-%s", id, self),
		fmt.Sprintf("stream-%s", self),
	)
}
