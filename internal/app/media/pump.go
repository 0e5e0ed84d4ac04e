package media

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/lessonlive/meetmesh/internal/core"
)

// pump reads RTP packets from a capture source and forwards them to
// the out track while its gate is live. Paused tracks keep consuming
// the source so capture timing is preserved across unmute.
func pump(ctx context.Context, src core.CaptureSource, ot *OutTrack, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("pump ctx done")
			return
		default:
		}
		pkt, err := src.ReadPacket()
		if err != nil {
			logger.Info().Err(err).Msg("pump source drained")
			return
		}
		switch ot.State() {
		case TrackStateStopped:
			return
		case TrackStatePaused:
		case TrackStateLive:
			if err := ot.Track.WriteRTP(pkt); err != nil {
				logger.Error().Err(err).Msg("pump write RTP error")
				return
			}
		}
	}
}
