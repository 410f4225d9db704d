package session

import (
	"errors"

	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

var (
	ErrInvalidStudentID    = errors.New("invalid student ID")
	ErrSessionAlreadyEnded = errors.New("session already ended")
	ErrInvalidRole         = errors.New("role must be teacher or student")

	// Record-shape sentinels come from the Session record's own Validate,
	// re-exported so callers keep matching on this package.
	ErrInvalidSessionName = types.ErrInvalidSessionName
	ErrInvalidCreatedBy   = types.ErrInvalidCreatedBy
	ErrEmptyStudentList   = types.ErrEmptyStudentList

	// Shared sentinels so callers behind the SessionManager interface can
	// match with errors.Is.
	ErrSessionNotFound = interfaces.ErrSessionNotFound
	ErrUnauthorized    = interfaces.ErrUnauthorized
)
