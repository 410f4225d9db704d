package types

import "errors"

// Validation errors shared across components.
var (
	ErrInvalidUserID      = errors.New("user ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidSessionName = errors.New("session name must be 1-200 characters")
	ErrEmptyStudentList   = errors.New("student list cannot be empty")
	ErrInvalidCreatedBy   = errors.New("created_by must be valid user ID")
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrInvalidFileName    = errors.New("file name must be 1-100 characters")
	ErrTooManyFiles       = errors.New("workspace exceeds the file limit")
	ErrPayloadTooLarge    = errors.New("message payload exceeds 256KB limit")
)
