package domain

type MeetingID string

type Meeting struct {
	ID MeetingID
}
