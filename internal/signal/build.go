package signal

import (
	"github.com/pion/webrtc/v4"

	"github.com/lessonlive/meetmesh/internal/domain"
)

func JoinMeeting(meeting domain.MeetingID, p domain.Participant) Envelope {
	return Envelope{Type: TypeJoinMeeting, Meeting: meeting, From: p.ID, Participant: &p}
}

func Leave(meeting domain.MeetingID, from domain.ParticipantID) Envelope {
	return Envelope{Type: TypeLeave, Meeting: meeting, From: from}
}

func Offer(from, target domain.ParticipantID, sdp webrtc.SessionDescription) Envelope {
	return Envelope{Type: TypeOffer, From: from, Target: target, SDP: &sdp}
}

func Answer(from, target domain.ParticipantID, sdp webrtc.SessionDescription) Envelope {
	return Envelope{Type: TypeAnswer, From: from, Target: target, SDP: &sdp}
}

func Candidate(from, target domain.ParticipantID, cand webrtc.ICECandidateInit) Envelope {
	return Envelope{Type: TypeICECandidate, From: from, Target: target, Candidate: &cand}
}

func ParticipantUpdate(from domain.ParticipantID, isMuted, isVideoOff bool) Envelope {
	return Envelope{
		Type:          TypeParticipantUpdate,
		From:          from,
		ParticipantID: from,
		IsMuted:       &isMuted,
		IsVideoOff:    &isVideoOff,
	}
}
