package types

import (
	"encoding/json"
	"time"

	"github.com/pion/webrtc/v4"
)

// Participant roles. A session has exactly one teacher; everyone else
// connects as a student.
const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// ViewTeacher is the teacher's viewing mode when looking at their own
// workspace. Any other viewing mode value is the id of the student whose
// homework workspace the teacher is currently watching.
const ViewTeacher = "teacher"

// Client -> server message types.
const (
	MessageTypeTeacherCodeUpdate  = "TEACHER_CODE_UPDATE"
	MessageTypeStudentCodeUpdate  = "STUDENT_CODE_UPDATE"
	MessageTypeTeacherDirectEdit  = "TEACHER_DIRECT_EDIT"
	MessageTypeTeacherViewStudent = "TEACHER_VIEW_STUDENT"
	MessageTypeTerminalIn         = "TERMINAL_IN"
	MessageTypeRunCode            = "RUN_CODE"
	MessageTypeRaiseHand          = "RAISE_HAND"
	MessageTypeSpotlightStudent   = "SPOTLIGHT_STUDENT"
	MessageTypeTakeControl        = "TAKE_CONTROL"
	MessageTypeToggleFreeze       = "TOGGLE_FREEZE"
	MessageTypeToggleWhiteboard   = "TOGGLE_WHITEBOARD"
	MessageTypeWhiteboardDraw     = "WHITEBOARD_DRAW"
	MessageTypeWhiteboardClear    = "WHITEBOARD_CLEAR"
	MessageTypeAssignHomework     = "ASSIGN_HOMEWORK"
	MessageTypeHomeworkJoin       = "HOMEWORK_JOIN"
	MessageTypeHomeworkLeave      = "HOMEWORK_LEAVE"
	MessageTypeStudentReturn      = "STUDENT_RETURN_TO_CLASSROOM"
	MessageTypeWebRTCOffer        = "WEBRTC_OFFER"
	MessageTypeWebRTCAnswer       = "WEBRTC_ANSWER"
	MessageTypeWebRTCICECandidate = "WEBRTC_ICE_CANDIDATE"
	MessageTypePrivateMessage     = "PRIVATE_MESSAGE"
	MessageTypeOpenChat           = "OPEN_CHAT"
)

// Server -> client message types.
const (
	MessageTypeRoleAssigned         = "ROLE_ASSIGNED"
	MessageTypeTeacherWorkspace     = "TEACHER_WORKSPACE_UPDATE"
	MessageTypeTeacherCodeDidUpdate = "TEACHER_CODE_DID_UPDATE"
	MessageTypeStudentWorkspace     = "STUDENT_WORKSPACE_UPDATED"
	MessageTypeTerminalOut          = "TERMINAL_OUT"
	MessageTypeHandRaisedList       = "HAND_RAISED_LIST_UPDATE"
	MessageTypeSpotlightUpdate      = "SPOTLIGHT_UPDATE"
	MessageTypeControlStateUpdate   = "CONTROL_STATE_UPDATE"
	MessageTypeFreezeStateUpdate    = "FREEZE_STATE_UPDATE"
	MessageTypeWhiteboardVisibility = "WHITEBOARD_VISIBILITY_UPDATE"
	MessageTypeWhiteboardUpdate     = "WHITEBOARD_UPDATE"
	MessageTypeHomeworkAssigned     = "HOMEWORK_ASSIGNED"
	MessageTypeHomeworkTerminal     = "HOMEWORK_TERMINAL_UPDATE"
	MessageTypeStudentListUpdate    = "STUDENT_LIST_UPDATE"
	MessageTypeChatHistory          = "CHAT_HISTORY"
	MessageTypeChatUnread           = "CHAT_UNREAD_UPDATE"
	MessageTypePeerDisconnected     = "PEER_DISCONNECTED"
	MessageTypeStudentDisconnected  = "STUDENT_DISCONNECTED"
	MessageTypeTeacherDisconnected  = "TEACHER_DISCONNECTED"
)

// Message is the wire envelope for client -> server traffic. The payload
// stays raw until the router dispatches on the type; routing metadata is
// attached by the hub from the sender's connection, never trusted from the
// client.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// Set server-side by the hub.
	ID        string    `json:"-"`
	SessionID string    `json:"-"`
	FromUser  string    `json:"-"`
	Timestamp time.Time `json:"-"`
}

// Envelope is the wire envelope for server -> client traffic.
type Envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// NewEnvelope builds an outbound message.
func NewEnvelope(msgType string, payload interface{}) *Envelope {
	return &Envelope{Type: msgType, Payload: payload}
}

// File is one editable file in a workspace. Name is the unique key.
type File struct {
	Name     string `json:"name"`
	Language string `json:"language"`
	Content  string `json:"content"`
}

// Workspace is the editable state of either the teacher or one student's
// homework: files, the focused file, and the accumulated terminal
// transcript for that workspace's sandbox.
type Workspace struct {
	Files          []File `json:"files"`
	ActiveFileName string `json:"activeFileName"`
	TerminalOutput string `json:"terminalOutput"`
}

// Clone returns a deep copy so broadcast snapshots never alias live state.
func (w *Workspace) Clone() *Workspace {
	if w == nil {
		return nil
	}
	files := make([]File, len(w.Files))
	copy(files, w.Files)
	return &Workspace{
		Files:          files,
		ActiveFileName: w.ActiveFileName,
		TerminalOutput: w.TerminalOutput,
	}
}

// Session represents a classroom session record. Immutable after creation
// except for end_time and status.
type Session struct {
	ID         string     `json:"id" db:"id"`
	Name       string     `json:"name" db:"name"`
	CreatedBy  string     `json:"created_by" db:"created_by"`
	StudentIDs []string   `json:"student_ids" db:"student_ids"`
	StartTime  time.Time  `json:"start_time" db:"start_time"`
	EndTime    *time.Time `json:"end_time,omitempty" db:"end_time"`
	Status     string     `json:"status" db:"status"`
}

// Participant is one roster entry as broadcast in STUDENT_LIST_UPDATE.
type Participant struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// ChatMessage is one private chat message, persisted and relayed verbatim.
type ChatMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// HomeworkAssignment links a student to a lesson for this session.
type HomeworkAssignment struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"sessionId"`
	StudentID        string    `json:"studentId"`
	LessonID         string    `json:"lessonId"`
	TeacherSessionID string    `json:"teacherSessionId"`
	Title            string    `json:"title"`
	AssignedAt       time.Time `json:"assignedAt"`
}

// RoleAssignedPayload is the full state snapshot sent on (re)connect and on
// STUDENT_RETURN_TO_CLASSROOM. TerminalOutput carries the complete teacher
// terminal transcript so a returning client renders history, not just
// future deltas.
type RoleAssignedPayload struct {
	Role                 string            `json:"role"`
	TeacherID            string            `json:"teacherId"`
	Files                []File            `json:"files"`
	ActiveFileName       string            `json:"activeFileName"`
	TerminalOutput       string            `json:"terminalOutput"`
	IsFrozen             bool              `json:"isFrozen"`
	SpotlightedStudentID *string           `json:"spotlightedStudentId"`
	ControlledStudentID  *string           `json:"controlledStudentId"`
	WhiteboardLines      []json.RawMessage `json:"whiteboardLines"`
	IsWhiteboardVisible  bool              `json:"isWhiteboardVisible"`
	RaisedHands          []string          `json:"raisedHands"`
	HomeworkStudents     []string          `json:"homeworkStudents"`
	Students             []Participant     `json:"students"`
}

// CodeUpdatePayload carries an editor state change: TEACHER_CODE_UPDATE and
// STUDENT_CODE_UPDATE inbound, TEACHER_CODE_DID_UPDATE outbound. No
// terminal transcript; full snapshots are reserved for join/resync.
type CodeUpdatePayload struct {
	Files          []File `json:"files"`
	ActiveFileName string `json:"activeFileName"`
}

// TeacherWorkspacePayload is the full outbound teacher snapshot, terminal
// transcript included.
type TeacherWorkspacePayload struct {
	Files          []File `json:"files"`
	ActiveFileName string `json:"activeFileName"`
	TerminalOutput string `json:"terminalOutput"`
}

// DirectEditPayload is the teacher writing into a controlled student's
// homework workspace.
type DirectEditPayload struct {
	StudentID string    `json:"studentId"`
	Workspace Workspace `json:"workspace"`
}

// StudentWorkspacePayload fans a student workspace change out to the
// teacher, tagged with the student id for roster targeting.
type StudentWorkspacePayload struct {
	StudentID string    `json:"studentId"`
	Workspace Workspace `json:"workspace"`
}

// ViewStudentPayload switches the teacher's viewing mode. Nil StudentID
// returns the teacher to their own workspace.
type ViewStudentPayload struct {
	StudentID *string `json:"studentId"`
}

// TerminalDataPayload carries raw terminal bytes in either direction.
type TerminalDataPayload struct {
	Data string `json:"data"`
}

// RunCodePayload requests execution in the sandbox.
type RunCodePayload struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

// HandRaisedListPayload is the current hand-raise set. A set, not a queue:
// raising twice is idempotent.
type HandRaisedListPayload struct {
	StudentIDs []string `json:"studentIds"`
}

// SpotlightPayload sets or clears (nil) the spotlighted student.
type SpotlightPayload struct {
	StudentID *string `json:"studentId"`
}

// SpotlightUpdatePayload broadcasts the new spotlight state together with a
// snapshot of the spotlighted workspace at broadcast time.
type SpotlightUpdatePayload struct {
	StudentID *string    `json:"studentId"`
	Workspace *Workspace `json:"workspace,omitempty"`
}

// ControlPayload sets or clears (nil) remote control of a student.
type ControlPayload struct {
	StudentID *string `json:"studentId"`
}

// FreezeStatePayload broadcasts the global editor lock.
type FreezeStatePayload struct {
	IsFrozen bool `json:"isFrozen"`
}

// WhiteboardVisibilityPayload broadcasts board visibility.
type WhiteboardVisibilityPayload struct {
	IsVisible bool `json:"isVisible"`
}

// WhiteboardLinePayload carries one stroke, opaque to the server.
type WhiteboardLinePayload struct {
	Line json.RawMessage `json:"line"`
}

// AssignHomeworkPayload assigns a lesson to one student.
type AssignHomeworkPayload struct {
	StudentID        string `json:"studentId"`
	LessonID         string `json:"lessonId"`
	TeacherSessionID string `json:"teacherSessionId"`
	Title            string `json:"title"`
}

// HomeworkPresencePayload tracks a student entering or leaving homework.
type HomeworkPresencePayload struct {
	StudentID string `json:"studentId"`
}

// HomeworkTerminalPayload fans one homework terminal chunk to its audience.
type HomeworkTerminalPayload struct {
	StudentID string `json:"studentId"`
	Output    string `json:"output"`
}

// StudentListPayload is the roster broadcast on every membership change.
type StudentListPayload struct {
	Students []Participant `json:"students"`
}

// SDPPayload relays a WebRTC offer or answer verbatim between two peers.
type SDPPayload struct {
	From string                    `json:"from"`
	To   string                    `json:"to"`
	SDP  webrtc.SessionDescription `json:"sdp"`
}

// ICECandidatePayload relays one ICE candidate verbatim between two peers.
type ICECandidatePayload struct {
	From      string                  `json:"from"`
	To        string                  `json:"to"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// PrivateMessagePayload is the inbound chat send request.
type PrivateMessagePayload struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// OpenChatPayload marks a conversation as read (teacher side).
type OpenChatPayload struct {
	StudentID string `json:"studentId"`
}

// ChatHistoryPayload replays a stored conversation when a chat panel is
// opened.
type ChatHistoryPayload struct {
	With     string         `json:"with"`
	Messages []*ChatMessage `json:"messages"`
}

// ChatUnreadPayload is the recipient's unread count per counterpart.
type ChatUnreadPayload struct {
	Counts map[string]int `json:"counts"`
}

// PeerDisconnectedPayload tells a peer to tear down its connection to the
// departed participant.
type PeerDisconnectedPayload struct {
	PeerID string `json:"peerId"`
}

// ParticipantGonePayload backs STUDENT_DISCONNECTED / TEACHER_DISCONNECTED.
type ParticipantGonePayload struct {
	UserID string `json:"userId"`
}
