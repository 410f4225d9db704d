package room

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"classhub/pkg/types"
)

// Broadcaster is the fan-out surface the room mutates through. The
// websocket layer implements it. Sends must be non-blocking enqueues:
// the room calls them while holding its lock to preserve mutation order
// end to end.
type Broadcaster interface {
	ToAll(sessionID string, msg *types.Envelope)
	ToStudents(sessionID string, msg *types.Envelope)
	ToTeacher(sessionID string, msg *types.Envelope)
	ToOne(sessionID, userID string, msg *types.Envelope)
	IsOnline(sessionID, userID string) bool
}

// Room is the authoritative live state of one classroom session: the
// teacher workspace, per-student homework workspaces, and the shared
// flags (freeze, spotlight, control, whiteboard, raised hands).
//
// A single mutex serializes every mutation, and the triggering broadcast
// is enqueued before the lock is released, so all participants observe
// state changes in the order they were applied. Different sessions share
// nothing and proceed in parallel.
type Room struct {
	sessionID string
	bc        Broadcaster

	mu                   sync.Mutex
	teacherID            string
	teacherView          string // types.ViewTeacher or a student id
	teacher              *types.Workspace
	students             map[string]*types.Workspace
	participants         map[string]string // userID -> role
	isFrozen             bool
	spotlightedStudentID string // "" = none
	controlledStudentID  string // "" = none
	whiteboardVisible    bool
	whiteboardLines      []json.RawMessage
	raisedHands          map[string]struct{}
	homeworkActive       map[string]struct{}
	emptySince           time.Time
}

func newRoom(sessionID string, bc Broadcaster) *Room {
	return &Room{
		sessionID:      sessionID,
		bc:             bc,
		teacherView:    types.ViewTeacher,
		teacher:        &types.Workspace{},
		students:       make(map[string]*types.Workspace),
		participants:   make(map[string]string),
		raisedHands:    make(map[string]struct{}),
		homeworkActive: make(map[string]struct{}),
		emptySince:     time.Now(),
	}
}

// SessionID returns the session this room serves.
func (r *Room) SessionID() string {
	return r.sessionID
}

// assignRole decides the role for a connecting user. The first user to
// claim the teacher seat keeps it for the room's lifetime; the same user
// may reconnect as teacher, anyone else claiming it is rejected. All other
// users are students.
func (r *Room) assignRole(userID, claimedRole string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if claimedRole == types.RoleTeacher {
		if r.teacherID == "" || r.teacherID == userID {
			r.teacherID = userID
			return types.RoleTeacher, nil
		}
		return "", ErrTeacherSeatTaken
	}
	return types.RoleStudent, nil
}

// Join records the participant and returns the full state snapshot the
// handler delivers as ROLE_ASSIGNED. Roster change is broadcast to
// everyone.
func (r *Room) Join(userID, role string) *types.RoleAssignedPayload {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.participants[userID] = role
	r.emptySince = time.Time{}

	snapshot := r.snapshotLocked(userID)
	r.broadcastRosterLocked()
	return snapshot
}

// Leave removes the participant and clears every reference that would
// otherwise dangle: raised hand, homework presence, the teacher's view,
// and, broadcast to all, spotlight and control if they pointed at the
// departed user.
func (r *Room) Leave(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	role, exists := r.participants[userID]
	if !exists {
		return
	}
	delete(r.participants, userID)
	delete(r.homeworkActive, userID)

	if _, raised := r.raisedHands[userID]; raised {
		delete(r.raisedHands, userID)
		r.broadcastHandsLocked()
	}

	if r.spotlightedStudentID == userID {
		r.spotlightedStudentID = ""
		r.bc.ToAll(r.sessionID, types.NewEnvelope(types.MessageTypeSpotlightUpdate,
			types.SpotlightUpdatePayload{StudentID: nil, Workspace: nil}))
	}

	if r.teacherView == userID {
		r.teacherView = types.ViewTeacher
	}

	if r.controlledStudentID == userID {
		r.controlledStudentID = ""
		r.bc.ToAll(r.sessionID, types.NewEnvelope(types.MessageTypeControlStateUpdate,
			types.ControlPayload{StudentID: nil}))
	}

	if role == types.RoleTeacher {
		r.bc.ToAll(r.sessionID, types.NewEnvelope(types.MessageTypeTeacherDisconnected,
			types.ParticipantGonePayload{UserID: userID}))
	} else {
		r.bc.ToAll(r.sessionID, types.NewEnvelope(types.MessageTypeStudentDisconnected,
			types.ParticipantGonePayload{UserID: userID}))
	}

	r.broadcastRosterLocked()

	if len(r.participants) == 0 {
		r.emptySince = time.Now()
	}
}

// Snapshot rebuilds the full ROLE_ASSIGNED state for one participant and
// sends it to them. This is the resync path behind
// STUDENT_RETURN_TO_CLASSROOM: idempotent, explicitly requestable, and
// carrying the complete terminal transcript so a returning client never
// renders a blank terminal.
func (r *Room) Snapshot(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.participants[userID]; !exists {
		return
	}
	r.bc.ToOne(r.sessionID, userID,
		types.NewEnvelope(types.MessageTypeRoleAssigned, r.snapshotLocked(userID)))
}

// TeacherEdit replaces the teacher workspace. Authorized only for the
// teacher while viewing their own workspace; the fan-out to students is
// the lightweight files+activeFile delta, never the terminal transcript.
func (r *Room) TeacherEdit(callerID string, files []types.File, activeFileName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !CanEditOwnWorkspace(r.participants[callerID], r.viewingModeLocked(callerID)) {
		return ErrNotAuthorized
	}

	r.teacher.Files = files
	r.teacher.ActiveFileName = activeFileName

	r.bc.ToStudents(r.sessionID, types.NewEnvelope(types.MessageTypeTeacherCodeDidUpdate,
		types.CodeUpdatePayload{Files: files, ActiveFileName: activeFileName}))
	return nil
}

// StudentEdit applies a student's own homework edit. Rejected while the
// student's editor is read-only (freeze or active spotlight).
func (r *Room) StudentEdit(callerID string, files []types.File, activeFileName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	role := r.participants[callerID]
	if role != types.RoleStudent {
		return ErrNotAuthorized
	}
	if IsReadOnlyForViewer(role, r.isFrozen, r.spotlightedStudentID, false, false) {
		return ErrNotAuthorized
	}

	ws := r.studentWorkspaceLocked(callerID)
	ws.Files = files
	ws.ActiveFileName = activeFileName

	r.fanOutStudentWorkspaceLocked(callerID)
	return nil
}

// DirectEdit applies the teacher's remote edit of a controlled student's
// workspace. Requires the teacher to be viewing and controlling that
// exact student.
func (r *Room) DirectEdit(callerID, studentID string, files []types.File, activeFileName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !CanDirectEditStudent(r.participants[callerID], r.viewingModeLocked(callerID), r.controlledStudentID) {
		return ErrNotAuthorized
	}
	if r.controlledStudentID != studentID {
		return ErrNotAuthorized
	}

	ws := r.studentWorkspaceLocked(studentID)
	ws.Files = files
	ws.ActiveFileName = activeFileName

	// The edited student sees the teacher's keystrokes in their own editor.
	r.bc.ToOne(r.sessionID, studentID, types.NewEnvelope(types.MessageTypeStudentWorkspace,
		types.StudentWorkspacePayload{StudentID: studentID, Workspace: *ws.Clone()}))
	r.fanOutStudentWorkspaceLocked(studentID)
	return nil
}

// SetTeacherView switches the teacher's viewing mode. The workspace the
// view lands on is sent back so the teacher's panel hydrates immediately:
// an empty studentID returns the teacher home and replays their own
// workspace, transcript included; otherwise the viewed student's workspace
// comes back.
func (r *Room) SetTeacherView(callerID, studentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.participants[callerID] != types.RoleTeacher {
		return ErrNotAuthorized
	}

	if studentID == "" {
		r.teacherView = types.ViewTeacher
		home := r.teacher.Clone()
		r.bc.ToTeacher(r.sessionID, types.NewEnvelope(types.MessageTypeTeacherWorkspace,
			types.TeacherWorkspacePayload{
				Files:          home.Files,
				ActiveFileName: home.ActiveFileName,
				TerminalOutput: home.TerminalOutput,
			}))
		return nil
	}
	if _, exists := r.participants[studentID]; !exists {
		return ErrUnknownStudent
	}
	r.teacherView = studentID

	ws := r.studentWorkspaceLocked(studentID)
	r.bc.ToTeacher(r.sessionID, types.NewEnvelope(types.MessageTypeStudentWorkspace,
		types.StudentWorkspacePayload{StudentID: studentID, Workspace: *ws.Clone()}))
	return nil
}

// TerminalTarget resolves which workspace's sandbox the caller is
// authorized to drive right now, per the same authority rules as editing:
// the teacher drives their own terminal at home, a controlled student's
// terminal while viewing them under control, and a student drives their
// own homework terminal unless frozen or spotlighted.
func (r *Room) TerminalTarget(callerID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	role := r.participants[callerID]
	switch role {
	case types.RoleTeacher:
		if CanEditOwnWorkspace(role, r.teacherView) {
			return types.ViewTeacher, nil
		}
		if CanDirectEditStudent(role, r.teacherView, r.controlledStudentID) {
			return r.controlledStudentID, nil
		}
		return "", ErrNotAuthorized
	case types.RoleStudent:
		if _, active := r.homeworkActive[callerID]; !active {
			return "", ErrNotAuthorized
		}
		if IsReadOnlyForViewer(role, r.isFrozen, r.spotlightedStudentID, false, false) {
			return "", ErrNotAuthorized
		}
		return callerID, nil
	default:
		return "", ErrNotAuthorized
	}
}

// AppendTerminal appends one sandbox output chunk to the target's
// canonical buffer, exactly once, then fans it out to whoever is watching
// that workspace right now. With no watchers the append still happens so
// a later resync replays complete history.
func (r *Room) AppendTerminal(target, chunk string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var envelope *types.Envelope
	if target == types.ViewTeacher {
		r.teacher.TerminalOutput += chunk
		envelope = types.NewEnvelope(types.MessageTypeTerminalOut,
			types.TerminalDataPayload{Data: chunk})
	} else {
		ws, exists := r.students[target]
		if !exists {
			return // sandbox output for a student who never started homework
		}
		ws.TerminalOutput += chunk
		envelope = types.NewEnvelope(types.MessageTypeHomeworkTerminal,
			types.HomeworkTerminalPayload{StudentID: target, Output: chunk})
	}

	for userID := range r.participants {
		if VisibleWorkspaceOwner(r.viewingModeLocked(userID), r.spotlightedStudentID) == target {
			r.bc.ToOne(r.sessionID, userID, envelope)
		}
	}
}

// ToggleFreeze flips the global editor lock and broadcasts the new state.
func (r *Room) ToggleFreeze(callerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.participants[callerID] != types.RoleTeacher {
		return ErrNotAuthorized
	}

	r.isFrozen = !r.isFrozen
	r.bc.ToAll(r.sessionID, types.NewEnvelope(types.MessageTypeFreezeStateUpdate,
		types.FreezeStatePayload{IsFrozen: r.isFrozen}))
	return nil
}

// SetSpotlight sets or clears ("" clears) the spotlighted student. The
// broadcast carries a snapshot of the spotlighted workspace taken at this
// instant, so spotlight content always equals the live workspace at
// broadcast time.
func (r *Room) SetSpotlight(callerID, studentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.participants[callerID] != types.RoleTeacher {
		return ErrNotAuthorized
	}

	if studentID == "" {
		r.spotlightedStudentID = ""
		r.bc.ToAll(r.sessionID, types.NewEnvelope(types.MessageTypeSpotlightUpdate,
			types.SpotlightUpdatePayload{StudentID: nil, Workspace: nil}))
		return nil
	}

	if r.participants[studentID] != types.RoleStudent {
		return ErrUnknownStudent
	}
	r.spotlightedStudentID = studentID

	ws := r.studentWorkspaceLocked(studentID)
	r.bc.ToAll(r.sessionID, types.NewEnvelope(types.MessageTypeSpotlightUpdate,
		types.SpotlightUpdatePayload{StudentID: optional(studentID), Workspace: ws.Clone()}))
	return nil
}

// SetControl sets or clears ("" clears) remote control of a student, and
// moves the teacher's view onto the controlled student.
func (r *Room) SetControl(callerID, studentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.participants[callerID] != types.RoleTeacher {
		return ErrNotAuthorized
	}

	if studentID == "" {
		r.controlledStudentID = ""
		r.bc.ToAll(r.sessionID, types.NewEnvelope(types.MessageTypeControlStateUpdate,
			types.ControlPayload{StudentID: nil}))
		return nil
	}

	if r.participants[studentID] != types.RoleStudent {
		return ErrUnknownStudent
	}
	r.controlledStudentID = studentID
	r.teacherView = studentID

	r.bc.ToAll(r.sessionID, types.NewEnvelope(types.MessageTypeControlStateUpdate,
		types.ControlPayload{StudentID: optional(studentID)}))
	return nil
}

// ToggleWhiteboard flips board visibility and broadcasts it.
func (r *Room) ToggleWhiteboard(callerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.participants[callerID] != types.RoleTeacher {
		return ErrNotAuthorized
	}

	r.whiteboardVisible = !r.whiteboardVisible
	r.bc.ToAll(r.sessionID, types.NewEnvelope(types.MessageTypeWhiteboardVisibility,
		types.WhiteboardVisibilityPayload{IsVisible: r.whiteboardVisible}))
	return nil
}

// AddWhiteboardLine appends one stroke. Strokes are opaque to the server
// and append-only until an explicit clear.
func (r *Room) AddWhiteboardLine(callerID string, line json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.participants[callerID] != types.RoleTeacher {
		return ErrNotAuthorized
	}

	r.whiteboardLines = append(r.whiteboardLines, line)
	r.bc.ToAll(r.sessionID, types.NewEnvelope(types.MessageTypeWhiteboardUpdate,
		types.WhiteboardLinePayload{Line: line}))
	return nil
}

// ClearWhiteboard drops all strokes.
func (r *Room) ClearWhiteboard(callerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.participants[callerID] != types.RoleTeacher {
		return ErrNotAuthorized
	}

	r.whiteboardLines = nil
	r.bc.ToAll(r.sessionID, types.NewEnvelope(types.MessageTypeWhiteboardClear, nil))
	return nil
}

// RaiseHand adds the student to the hand-raised set. A set, not a queue:
// raising an already-raised hand changes nothing and re-broadcasts
// nothing.
func (r *Room) RaiseHand(callerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.participants[callerID] != types.RoleStudent {
		return ErrNotAuthorized
	}

	if _, raised := r.raisedHands[callerID]; raised {
		return nil
	}
	r.raisedHands[callerID] = struct{}{}
	r.broadcastHandsLocked()
	return nil
}

// HomeworkJoin marks the student as working in their homework sub-session
// and creates their workspace on first entry. Their raised hand, if any,
// comes down with them.
func (r *Room) HomeworkJoin(callerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.participants[callerID] != types.RoleStudent {
		return ErrNotAuthorized
	}

	r.studentWorkspaceLocked(callerID)
	r.homeworkActive[callerID] = struct{}{}
	if _, raised := r.raisedHands[callerID]; raised {
		delete(r.raisedHands, callerID)
		r.broadcastHandsLocked()
	}

	r.bc.ToTeacher(r.sessionID, types.NewEnvelope(types.MessageTypeHomeworkJoin,
		types.HomeworkPresencePayload{StudentID: callerID}))
	return nil
}

// HomeworkLeave marks the student as back in the classroom.
func (r *Room) HomeworkLeave(callerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.participants[callerID] != types.RoleStudent {
		return ErrNotAuthorized
	}

	delete(r.homeworkActive, callerID)
	r.bc.ToTeacher(r.sessionID, types.NewEnvelope(types.MessageTypeHomeworkLeave,
		types.HomeworkPresencePayload{StudentID: callerID}))
	return nil
}

// TeacherID returns the user currently holding the teacher seat, or "".
func (r *Room) TeacherID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.teacherID
}

// ParticipantRole returns the role of a live participant, or "".
func (r *Room) ParticipantRole(userID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.participants[userID]
}

// emptyFor reports how long the room has been without participants; zero
// while occupied.
func (r *Room) emptyFor(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.emptySince.IsZero() || len(r.participants) > 0 {
		return 0
	}
	return now.Sub(r.emptySince)
}

// --- internal helpers, caller holds r.mu ---

// viewingModeLocked resolves the viewing mode for any participant: the
// teacher's explicit view selection, a homework student's own workspace,
// or the classroom default of watching the teacher.
func (r *Room) viewingModeLocked(userID string) string {
	if r.participants[userID] == types.RoleTeacher {
		return r.teacherView
	}
	if _, active := r.homeworkActive[userID]; active {
		return userID
	}
	return types.ViewTeacher
}

// studentWorkspaceLocked returns the student's homework workspace,
// creating an empty one on first touch.
func (r *Room) studentWorkspaceLocked(studentID string) *types.Workspace {
	ws, exists := r.students[studentID]
	if !exists {
		ws = &types.Workspace{}
		r.students[studentID] = ws
	}
	return ws
}

// fanOutStudentWorkspaceLocked sends a student workspace change to the
// teacher, and refreshes the spotlight projection when that student is the
// one spotlighted.
func (r *Room) fanOutStudentWorkspaceLocked(studentID string) {
	ws := r.studentWorkspaceLocked(studentID)

	r.bc.ToTeacher(r.sessionID, types.NewEnvelope(types.MessageTypeStudentWorkspace,
		types.StudentWorkspacePayload{StudentID: studentID, Workspace: *ws.Clone()}))

	if r.spotlightedStudentID == studentID {
		r.bc.ToAll(r.sessionID, types.NewEnvelope(types.MessageTypeSpotlightUpdate,
			types.SpotlightUpdatePayload{StudentID: optional(studentID), Workspace: ws.Clone()}))
	}
}

func (r *Room) broadcastHandsLocked() {
	r.bc.ToTeacher(r.sessionID, types.NewEnvelope(types.MessageTypeHandRaisedList,
		types.HandRaisedListPayload{StudentIDs: sortedSet(r.raisedHands)}))
}

func (r *Room) broadcastRosterLocked() {
	r.bc.ToAll(r.sessionID, types.NewEnvelope(types.MessageTypeStudentListUpdate,
		types.StudentListPayload{Students: r.studentRosterLocked()}))
}

func (r *Room) studentRosterLocked() []types.Participant {
	students := make([]types.Participant, 0, len(r.participants))
	for userID, role := range r.participants {
		if role == types.RoleStudent {
			students = append(students, types.Participant{UserID: userID, Role: role})
		}
	}
	sort.Slice(students, func(i, j int) bool { return students[i].UserID < students[j].UserID })
	return students
}

func (r *Room) snapshotLocked(userID string) *types.RoleAssignedPayload {
	lines := make([]json.RawMessage, len(r.whiteboardLines))
	copy(lines, r.whiteboardLines)

	return &types.RoleAssignedPayload{
		Role:                 r.participants[userID],
		TeacherID:            r.teacherID,
		Files:                append([]types.File(nil), r.teacher.Files...),
		ActiveFileName:       r.teacher.ActiveFileName,
		TerminalOutput:       r.teacher.TerminalOutput,
		IsFrozen:             r.isFrozen,
		SpotlightedStudentID: optional(r.spotlightedStudentID),
		ControlledStudentID:  optional(r.controlledStudentID),
		WhiteboardLines:      lines,
		IsWhiteboardVisible:  r.whiteboardVisible,
		RaisedHands:          sortedSet(r.raisedHands),
		HomeworkStudents:     sortedSet(r.homeworkActive),
		Students:             r.studentRosterLocked(),
	}
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
