package session

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/lessonlive/meetmesh/internal/app/media"
	"github.com/lessonlive/meetmesh/internal/core"
	"github.com/lessonlive/meetmesh/internal/domain"
	"github.com/lessonlive/meetmesh/internal/signal"
)

// SetMuted gates the shared audio track and announces the change.
// The track object is referenced by every link, so nothing renegotiates.
func (c *Controller) SetMuted(muted bool) error {
	if c.ctx == nil {
		return ErrNotJoined
	}
	var err error
	c.call(func() {
		if err = c.media.SetMuted(muted); err != nil {
			return
		}
		c.self.IsMuted = muted
		c.sig.Send(signal.ParticipantUpdate(c.self.ID, muted, c.self.IsVideoOff))
	})
	return err
}

// SetVideoOff gates the current video track and announces the change.
func (c *Controller) SetVideoOff(off bool) error {
	if c.ctx == nil {
		return ErrNotJoined
	}
	var err error
	c.call(func() {
		if err = c.media.SetVideoOff(off); err != nil {
			return
		}
		c.self.IsVideoOff = off
		c.sig.Send(signal.ParticipantUpdate(c.self.ID, c.self.IsMuted, off))
	})
	return err
}

// StartScreenShare acquires the display source and swaps the outgoing
// video track on every live link in place. Capture failure leaves the
// camera current; per-link replace failures are reported but never
// close a transport or abort the session.
func (c *Controller) StartScreenShare() error {
	if c.ctx == nil {
		return ErrNotJoined
	}
	var err error
	c.call(func() {
		var ot *media.OutTrack
		ot, err = c.media.StartScreenShare(c.self.ID)
		if err != nil {
			return
		}
		err = c.replaceVideoOnLinks(ot)
	})
	return err
}

// StopScreenShare restores the camera track on every link.
func (c *Controller) StopScreenShare() error {
	if c.ctx == nil {
		return ErrNotJoined
	}
	var err error
	c.call(func() {
		var ot *media.OutTrack
		ot, err = c.media.StopScreenShare()
		if err != nil {
			return
		}
		err = c.replaceVideoOnLinks(ot)
	})
	return err
}

func (c *Controller) replaceVideoOnLinks(ot *media.OutTrack) error {
	var errs []error
	for _, l := range c.reg.LinksSnapshot() {
		if err := l.ReplaceVideoTrack(ot.Track); err != nil {
			if errors.Is(err, core.ErrNoVideoSender) {
				// Link still attaching tracks; it reads the current
				// video from the shared set and needs no replace.
				continue
			}
			log.Error().Err(err).Str("module", "session").Str("participant", string(l.Remote())).Msg("track replace")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SendChat broadcasts one chat message and returns the local echo entry.
func (c *Controller) SendChat(text string) domain.ChatMessage {
	return c.chat.Send(text)
}
