package interfaces

import "context"

// SandboxRunner brokers code execution with the external sandbox service.
// The coordinator is a pure transport: it never blocks on program output,
// which arrives later through the TerminalSink.
//
// A target names the workspace whose sandbox is addressed: "teacher" for
// the teacher's, otherwise a student id for that student's homework
// sandbox.
type SandboxRunner interface {
	// Run starts executing code for the given target. Returns once the
	// request is handed to the sandbox, not when execution finishes.
	Run(ctx context.Context, sessionID, target, language, code string) error

	// Write forwards raw keystrokes to the target's running program.
	Write(sessionID, target, data string) error

	// CloseSession releases any sandbox resources held for the session.
	CloseSession(sessionID string)
}

// TerminalSink receives sandbox output. Implementations must be safe for
// concurrent calls across targets; chunks for one target are always
// delivered in write order.
type TerminalSink interface {
	OnTerminalOutput(sessionID, target, chunk string)
}
