package session

import "errors"

var (
	ErrNotIdle   = errors.New("session already started")
	ErrNotJoined = errors.New("session not joined")
)
