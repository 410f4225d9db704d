package router

import "errors"

var (
	// ErrRateLimitExceeded reports a sender over the per-user message cap.
	ErrRateLimitExceeded = errors.New("rate limit exceeded: 100 messages per minute")

	// ErrRoomNotFound reports a message for a session with no live room.
	ErrRoomNotFound = errors.New("no live room for message's session")

	// ErrMalformedPayload reports a payload that does not decode for its
	// message type.
	ErrMalformedPayload = errors.New("malformed message payload")
)
