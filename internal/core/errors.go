package core

import (
	"fmt"

	"github.com/lessonlive/meetmesh/internal/domain"
)

// MediaAcquisitionError means camera/mic could not be opened.
// Fatal to joining; surfaced before any signaling starts.
type MediaAcquisitionError struct {
	Device string
	Err    error
}

func (e *MediaAcquisitionError) Error() string {
	return fmt.Sprintf("acquire %s: %v", e.Device, e.Err)
}

func (e *MediaAcquisitionError) Unwrap() error { return e.Err }

// SignalingConnectionError means the control channel failed to open or
// dropped. Terminal for the session; no automatic retry.
type SignalingConnectionError struct {
	URL string
	Err error
}

func (e *SignalingConnectionError) Error() string {
	return fmt.Sprintf("signaling %s: %v", e.URL, e.Err)
}

func (e *SignalingConnectionError) Unwrap() error { return e.Err }

// NegotiationError is scoped to a single peer link; the rest of the
// session continues.
type NegotiationError struct {
	Peer  domain.ParticipantID
	Stage string
	Err   error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation with %s (%s): %v", e.Peer, e.Stage, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

// TrackReplaceError reports a failed outgoing-video swap on one link.
// The link stays open and the current track set is unchanged.
type TrackReplaceError struct {
	Peer domain.ParticipantID
	Err  error
}

func (e *TrackReplaceError) Error() string {
	return fmt.Sprintf("replace track for %s: %v", e.Peer, e.Err)
}

func (e *TrackReplaceError) Unwrap() error { return e.Err }

// ScreenShareError means local screen capture failed or was cancelled.
// Non-fatal; the previous video source stays current.
type ScreenShareError struct {
	Err error
}

func (e *ScreenShareError) Error() string {
	return fmt.Sprintf("screen share: %v", e.Err)
}

func (e *ScreenShareError) Unwrap() error { return e.Err }
