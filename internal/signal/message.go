// Package signal defines the control-channel protocol shared by the
// client engine and the rendezvous server. One JSON envelope per
// message, discriminated by the "type" field.
package signal

import (
	"encoding/json"
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/lessonlive/meetmesh/internal/domain"
)

type Type string

const (
	TypeJoinMeeting       Type = "join-meeting"
	TypeLeave             Type = "leave"
	TypeParticipantJoined Type = "participant-joined"
	TypeParticipantLeft   Type = "participant-left"
	TypeParticipantsList  Type = "participants-list"
	TypeParticipantUpdate Type = "participant-update"
	TypeOffer             Type = "offer"
	TypeAnswer            Type = "answer"
	TypeICECandidate      Type = "ice-candidate"
)

var ErrUnknownType = errors.New("unknown signal type")

// Envelope is the wire form of every control message. Unused fields
// are omitted; which fields are meaningful depends on Type.
type Envelope struct {
	Type    Type                 `json:"type"`
	Meeting domain.MeetingID     `json:"meetingId,omitempty"`
	From    domain.ParticipantID `json:"from,omitempty"`
	Target  domain.ParticipantID `json:"target,omitempty"`

	Participant   *domain.Participant  `json:"participant,omitempty"`
	ParticipantID domain.ParticipantID `json:"participantId,omitempty"`
	Participants  []domain.Participant `json:"participants,omitempty"`

	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`

	IsMuted    *bool `json:"isMuted,omitempty"`
	IsVideoOff *bool `json:"isVideoOff,omitempty"`
}

// Targeted reports whether the envelope is addressed to one
// participant rather than fanned out to the whole meeting.
func (e *Envelope) Targeted() bool {
	switch e.Type {
	case TypeOffer, TypeAnswer, TypeICECandidate:
		return e.Target != ""
	}
	return false
}

func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	if env.Type == "" {
		return nil, ErrUnknownType
	}
	return &env, nil
}
