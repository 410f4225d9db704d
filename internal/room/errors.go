package room

import "errors"

var (
	// ErrTeacherSeatTaken rejects a second user claiming the teacher role
	// while the seat is held by someone else.
	ErrTeacherSeatTaken = errors.New("session already has a teacher")

	// ErrNotAuthorized rejects a mutation the caller has no authority for.
	// Rejections are silent on the wire; the caller only logs them.
	ErrNotAuthorized = errors.New("caller lacks authority for this operation")

	// ErrUnknownStudent rejects an operation targeting a user who is not a
	// student participant of the session.
	ErrUnknownStudent = errors.New("target is not a student in this session")

	// ErrRoomNotFound reports an operation against a session with no live
	// room.
	ErrRoomNotFound = errors.New("no live room for session")
)
