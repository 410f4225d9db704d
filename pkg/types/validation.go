package types

import "regexp"

// Compiled once at package initialization; user ids are validated on every
// connect and on several relay paths.
var userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// maxPayloadBytes bounds a single inbound payload. Workspace updates carry
// full file contents, so the ceiling is higher than a chat protocol's.
const maxPayloadBytes = 262144

// maxWorkspaceFiles bounds the file set of one workspace edit.
const maxWorkspaceFiles = 50

// Validate ensures the session record meets all requirements.
func (s *Session) Validate() error {
	if len(s.Name) < 1 || len(s.Name) > 200 {
		return ErrInvalidSessionName
	}
	if len(s.StudentIDs) == 0 {
		return ErrEmptyStudentList
	}
	if !IsValidUserID(s.CreatedBy) {
		return ErrInvalidCreatedBy
	}
	return nil
}

// Validate checks the inbound envelope before dispatch: known client
// message type and bounded payload size. Payload shape is checked at
// decode time by the handler for that type.
func (m *Message) Validate() error {
	if !IsValidClientMessageType(m.Type) {
		return ErrInvalidMessageType
	}
	if len(m.Payload) > maxPayloadBytes {
		return ErrPayloadTooLarge
	}
	return nil
}

// Validate rejects oversized file sets and workspaces with unnamed or
// duplicate files. Name is the unique key the client uses for tab
// targeting.
func (w *Workspace) Validate() error {
	if len(w.Files) > maxWorkspaceFiles {
		return ErrTooManyFiles
	}
	seen := make(map[string]bool, len(w.Files))
	for _, f := range w.Files {
		if len(f.Name) < 1 || len(f.Name) > 100 {
			return ErrInvalidFileName
		}
		if seen[f.Name] {
			return ErrInvalidFileName
		}
		seen[f.Name] = true
	}
	return nil
}

// IsValidUserID checks if a user ID meets format requirements. The literal
// "teacher" is reserved: it names the teacher workspace in viewing modes
// and terminal targets, so no participant may carry it as an id.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	if userID == ViewTeacher {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidClientMessageType reports whether msgType is a message a client
// may send. Server->client types are deliberately excluded so a client
// cannot replay fan-out frames back into the router.
func IsValidClientMessageType(msgType string) bool {
	switch msgType {
	case MessageTypeTeacherCodeUpdate,
		MessageTypeStudentCodeUpdate,
		MessageTypeTeacherDirectEdit,
		MessageTypeTeacherViewStudent,
		MessageTypeTerminalIn,
		MessageTypeRunCode,
		MessageTypeRaiseHand,
		MessageTypeSpotlightStudent,
		MessageTypeTakeControl,
		MessageTypeToggleFreeze,
		MessageTypeToggleWhiteboard,
		MessageTypeWhiteboardDraw,
		MessageTypeWhiteboardClear,
		MessageTypeAssignHomework,
		MessageTypeHomeworkJoin,
		MessageTypeHomeworkLeave,
		MessageTypeStudentReturn,
		MessageTypeWebRTCOffer,
		MessageTypeWebRTCAnswer,
		MessageTypeWebRTCICECandidate,
		MessageTypePrivateMessage,
		MessageTypeOpenChat:
		return true
	default:
		return false
	}
}
