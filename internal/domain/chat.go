package domain

import "time"

// ChatMessage is one entry of a participant's chat log. ReceivedAt is
// assigned by the local clock at append time; peers do not agree on a
// global order.
type ChatMessage struct {
	SenderID   ParticipantID `json:"senderId"`
	SenderName string        `json:"senderName"`
	Text       string        `json:"text"`
	ReceivedAt time.Time     `json:"receivedAt"`
}
