package room

import "classhub/pkg/types"

// Workspace authority is a pure function of session state, re-derived on
// every relevant change and never stored. The same decisions run on the
// client for instant feedback, but only the server-side evaluation here is
// trusted to accept or reject a mutation.
//
// A viewing mode is types.ViewTeacher for the teacher's own workspace, or
// a student id for that student's homework workspace. An empty spotlight
// or control id means "none".

// CanEditOwnWorkspace reports whether the caller may mutate the teacher
// workspace: only the teacher, and only while looking at their own
// workspace.
func CanEditOwnWorkspace(role, viewingMode string) bool {
	return role == types.RoleTeacher && viewingMode == types.ViewTeacher
}

// CanDirectEditStudent reports whether the caller may mutate the student
// workspace they are currently viewing: only the teacher, only while
// viewing that student, and only with control taken over that same
// student.
func CanDirectEditStudent(role, viewingMode, controlledStudentID string) bool {
	return role == types.RoleTeacher &&
		viewingMode != types.ViewTeacher &&
		controlledStudentID != "" &&
		controlledStudentID == viewingMode
}

// IsReadOnlyForViewer computes the editor lock for one viewer.
//
// Precedence: a student is locked whenever the session is frozen or any
// spotlight is active. A teacher viewing a student is locked unless they
// have taken control of that student. Control wins even while the same
// student is spotlighted, which is the one case where a spotlighted
// editor stays writable.
func IsReadOnlyForViewer(role string, isFrozen bool, spotlightedStudentID string, isTeacherViewingStudent, isTeacherControllingThisStudent bool) bool {
	if role == types.RoleStudent && (isFrozen || spotlightedStudentID != "") {
		return true
	}
	if isTeacherViewingStudent && !isTeacherControllingThisStudent {
		return true
	}
	return false
}

// VisibleWorkspaceOwner resolves which workspace a viewer currently sees.
// A spotlight overrides every viewing choice, the teacher's own included;
// otherwise the viewer sees whatever their viewing mode points at: the
// teacher workspace for a teacher at home or a student in the classroom,
// a student workspace for a teacher viewing that student or a student in
// homework mode. The returned owner is types.ViewTeacher for the teacher
// workspace or a student id.
func VisibleWorkspaceOwner(viewingMode, spotlightedStudentID string) string {
	if spotlightedStudentID != "" {
		return spotlightedStudentID
	}
	return viewingMode
}
