package types

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestSessionValidate(t *testing.T) {
	valid := Session{Name: "Math 101", CreatedBy: "t1", StudentIDs: []string{"s1"}}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid session rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Session)
		want   error
	}{
		{"empty name", func(s *Session) { s.Name = "" }, ErrInvalidSessionName},
		{"name too long", func(s *Session) { s.Name = strings.Repeat("x", 201) }, ErrInvalidSessionName},
		{"no students", func(s *Session) { s.StudentIDs = nil }, ErrEmptyStudentList},
		{"bad creator", func(s *Session) { s.CreatedBy = "t 1" }, ErrInvalidCreatedBy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := valid
			tt.mutate(&session)
			if err := session.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestMessageValidate(t *testing.T) {
	valid := Message{Type: MessageTypeRaiseHand}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid message rejected: %v", err)
	}

	unknown := Message{Type: "NOT_A_TYPE"}
	if err := unknown.Validate(); !errors.Is(err, ErrInvalidMessageType) {
		t.Errorf("unknown type: got %v", err)
	}

	oversize := Message{
		Type:    MessageTypeTeacherCodeUpdate,
		Payload: json.RawMessage(strings.Repeat("x", maxPayloadBytes+1)),
	}
	if err := oversize.Validate(); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("oversize payload: got %v", err)
	}
}

func TestWorkspaceValidate(t *testing.T) {
	valid := Workspace{Files: []File{{Name: "main.py"}, {Name: "util.py"}}}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid workspace rejected: %v", err)
	}

	unnamed := Workspace{Files: []File{{Name: ""}}}
	if err := unnamed.Validate(); !errors.Is(err, ErrInvalidFileName) {
		t.Errorf("unnamed file: got %v", err)
	}

	duplicate := Workspace{Files: []File{{Name: "main.py"}, {Name: "main.py"}}}
	if err := duplicate.Validate(); !errors.Is(err, ErrInvalidFileName) {
		t.Errorf("duplicate file: got %v", err)
	}

	oversized := Workspace{Files: make([]File, maxWorkspaceFiles+1)}
	if err := oversized.Validate(); !errors.Is(err, ErrTooManyFiles) {
		t.Errorf("oversized file set: got %v", err)
	}
}

func TestIsValidUserID(t *testing.T) {
	tests := []struct {
		userID string
		want   bool
	}{
		{"s1", true},
		{"teacher_01", true},
		{"a-b-c", true},
		{"", false},
		{"has space", false},
		{"semi;colon", false},
		{strings.Repeat("x", 51), false},
		// Reserved: collides with the teacher-workspace sentinel.
		{"teacher", false},
	}

	for _, tt := range tests {
		if got := IsValidUserID(tt.userID); got != tt.want {
			t.Errorf("IsValidUserID(%q) = %v, want %v", tt.userID, got, tt.want)
		}
	}
}

func TestIsValidClientMessageType(t *testing.T) {
	if !IsValidClientMessageType(MessageTypeRunCode) {
		t.Error("client types must be accepted")
	}

	// Server fan-out types cannot be replayed inbound.
	for _, serverType := range []string{
		MessageTypeRoleAssigned,
		MessageTypeTerminalOut,
		MessageTypeStudentListUpdate,
	} {
		if IsValidClientMessageType(serverType) {
			t.Errorf("server type %s must be rejected inbound", serverType)
		}
	}
}

func TestWorkspaceClone(t *testing.T) {
	original := &Workspace{
		Files:          []File{{Name: "main.py", Content: "print(1)"}},
		ActiveFileName: "main.py",
		TerminalOutput: "1\n",
	}

	clone := original.Clone()
	clone.Files[0].Content = "changed"
	clone.TerminalOutput = "changed"

	if original.Files[0].Content != "print(1)" || original.TerminalOutput != "1\n" {
		t.Error("clone must not alias the original")
	}

	var nilWorkspace *Workspace
	if nilWorkspace.Clone() != nil {
		t.Error("cloning nil returns nil")
	}
}
