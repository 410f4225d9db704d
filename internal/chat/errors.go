package chat

import "errors"

const maxMessageBytes = 4096

var (
	// ErrInvalidRecipient rejects a message addressed to nobody or to the
	// sender.
	ErrInvalidRecipient = errors.New("chat recipient must be another participant")

	// ErrInvalidText rejects an empty or oversized message body.
	ErrInvalidText = errors.New("chat text must be 1-4096 bytes")
)
