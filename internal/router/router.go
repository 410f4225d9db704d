package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"classhub/internal/chat"
	"classhub/internal/metrics"
	"classhub/internal/room"
	"classhub/internal/signal"
	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// Router dispatches validated client messages to the subsystem that owns
// them: room mutations, terminal traffic to the sandbox, signaling and
// chat to their relays. Authority rejections come back as errors for the
// hub to log; nothing is ever sent to the offending client, so a tampered
// client learns nothing about server-side state.
type Router struct {
	rooms       *room.Manager
	chatRelay   *chat.Relay
	signalRelay *signal.Relay
	runner      interfaces.SandboxRunner
	db          interfaces.DatabaseManager
	sender      chat.Sender
	rateLimiter *RateLimiter
}

// NewRouter creates a message router. sender is used for the few
// point-to-point frames the router emits itself.
func NewRouter(rooms *room.Manager, chatRelay *chat.Relay, signalRelay *signal.Relay,
	runner interfaces.SandboxRunner, db interfaces.DatabaseManager, sender chat.Sender) *Router {
	return &Router{
		rooms:       rooms,
		chatRelay:   chatRelay,
		signalRelay: signalRelay,
		runner:      runner,
		db:          db,
		sender:      sender,
		rateLimiter: NewRateLimiter(),
	}
}

// Start launches the rate limiter's cleanup loop.
func (r *Router) Start(ctx context.Context) {
	r.rateLimiter.StartCleanup(ctx)
}

// RouteMessage validates, rate limits and dispatches one client message.
// The hub has already stamped SessionID and FromUser from the sender's
// connection; client-provided routing metadata is never trusted.
func (r *Router) RouteMessage(ctx context.Context, msg *types.Message) error {
	msg.ID = uuid.New().String()
	msg.Timestamp = time.Now()

	if err := msg.Validate(); err != nil {
		metrics.MessagesRejected.WithLabelValues("invalid").Inc()
		return err
	}

	if !r.rateLimiter.Allow(msg.FromUser) {
		metrics.MessagesRejected.WithLabelValues("rate_limit").Inc()
		return ErrRateLimitExceeded
	}

	liveRoom, exists := r.rooms.Get(msg.SessionID)
	if !exists {
		metrics.MessagesRejected.WithLabelValues("no_room").Inc()
		return ErrRoomNotFound
	}

	if err := r.dispatch(ctx, liveRoom, msg); err != nil {
		metrics.MessagesRejected.WithLabelValues("rejected").Inc()
		return err
	}

	metrics.MessagesRouted.WithLabelValues(msg.Type).Inc()
	return nil
}

func (r *Router) dispatch(ctx context.Context, liveRoom *room.Room, msg *types.Message) error {
	switch msg.Type {
	case types.MessageTypeTeacherCodeUpdate:
		var p types.CodeUpdatePayload
		if err := decode(msg.Payload, &p); err != nil {
			return err
		}
		if err := validateFiles(p.Files); err != nil {
			return err
		}
		return liveRoom.TeacherEdit(msg.FromUser, p.Files, p.ActiveFileName)

	case types.MessageTypeStudentCodeUpdate:
		var p types.CodeUpdatePayload
		if err := decode(msg.Payload, &p); err != nil {
			return err
		}
		if err := validateFiles(p.Files); err != nil {
			return err
		}
		return liveRoom.StudentEdit(msg.FromUser, p.Files, p.ActiveFileName)

	case types.MessageTypeTeacherDirectEdit:
		var p types.DirectEditPayload
		if err := decode(msg.Payload, &p); err != nil {
			return err
		}
		if err := p.Workspace.Validate(); err != nil {
			return err
		}
		return liveRoom.DirectEdit(msg.FromUser, p.StudentID, p.Workspace.Files, p.Workspace.ActiveFileName)

	case types.MessageTypeTeacherViewStudent:
		var p types.ViewStudentPayload
		if err := decode(msg.Payload, &p); err != nil {
			return err
		}
		return liveRoom.SetTeacherView(msg.FromUser, deref(p.StudentID))

	case types.MessageTypeTerminalIn:
		var p types.TerminalDataPayload
		if err := decode(msg.Payload, &p); err != nil {
			return err
		}
		target, err := liveRoom.TerminalTarget(msg.FromUser)
		if err != nil {
			return err
		}
		return r.runner.Write(msg.SessionID, target, p.Data)

	case types.MessageTypeRunCode:
		var p types.RunCodePayload
		if err := decode(msg.Payload, &p); err != nil {
			return err
		}
		target, err := liveRoom.TerminalTarget(msg.FromUser)
		if err != nil {
			return err
		}
		// The sandbox dial can take seconds and must not hold up the
		// routing goroutine. The run starts in the background; a failure
		// reaches the watchers as terminal text, like any other program
		// error.
		sessionID := msg.SessionID
		go func() {
			if err := r.runner.Run(ctx, sessionID, target, p.Language, p.Code); err != nil {
				log.Printf("Sandbox run failed for %s/%s: %v", sessionID, target, err)
				liveRoom.AppendTerminal(target, fmt.Sprintf("execution failed: %v\r\n", err))
				return
			}
			metrics.SandboxRuns.Inc()
		}()
		return nil

	case types.MessageTypeRaiseHand:
		return liveRoom.RaiseHand(msg.FromUser)

	case types.MessageTypeSpotlightStudent:
		var p types.SpotlightPayload
		if err := decode(msg.Payload, &p); err != nil {
			return err
		}
		return liveRoom.SetSpotlight(msg.FromUser, deref(p.StudentID))

	case types.MessageTypeTakeControl:
		var p types.ControlPayload
		if err := decode(msg.Payload, &p); err != nil {
			return err
		}
		return liveRoom.SetControl(msg.FromUser, deref(p.StudentID))

	case types.MessageTypeToggleFreeze:
		return liveRoom.ToggleFreeze(msg.FromUser)

	case types.MessageTypeToggleWhiteboard:
		return liveRoom.ToggleWhiteboard(msg.FromUser)

	case types.MessageTypeWhiteboardDraw:
		var p types.WhiteboardLinePayload
		if err := decode(msg.Payload, &p); err != nil {
			return err
		}
		return liveRoom.AddWhiteboardLine(msg.FromUser, p.Line)

	case types.MessageTypeWhiteboardClear:
		return liveRoom.ClearWhiteboard(msg.FromUser)

	case types.MessageTypeAssignHomework:
		var p types.AssignHomeworkPayload
		if err := decode(msg.Payload, &p); err != nil {
			return err
		}
		return r.assignHomework(ctx, liveRoom, msg, &p)

	case types.MessageTypeHomeworkJoin:
		return liveRoom.HomeworkJoin(msg.FromUser)

	case types.MessageTypeHomeworkLeave:
		return liveRoom.HomeworkLeave(msg.FromUser)

	case types.MessageTypeStudentReturn:
		liveRoom.Snapshot(msg.FromUser)
		return nil

	case types.MessageTypeWebRTCOffer:
		var p types.SDPPayload
		if err := decode(msg.Payload, &p); err != nil {
			return err
		}
		if err := r.signalRelay.RelayOffer(msg.SessionID, msg.FromUser, &p); err != nil {
			return err
		}
		metrics.SignalingFrames.WithLabelValues("offer").Inc()
		return nil

	case types.MessageTypeWebRTCAnswer:
		var p types.SDPPayload
		if err := decode(msg.Payload, &p); err != nil {
			return err
		}
		if err := r.signalRelay.RelayAnswer(msg.SessionID, msg.FromUser, &p); err != nil {
			return err
		}
		metrics.SignalingFrames.WithLabelValues("answer").Inc()
		return nil

	case types.MessageTypeWebRTCICECandidate:
		var p types.ICECandidatePayload
		if err := decode(msg.Payload, &p); err != nil {
			return err
		}
		if err := r.signalRelay.RelayICECandidate(msg.SessionID, msg.FromUser, &p); err != nil {
			return err
		}
		metrics.SignalingFrames.WithLabelValues("candidate").Inc()
		return nil

	case types.MessageTypePrivateMessage:
		var p types.PrivateMessagePayload
		if err := decode(msg.Payload, &p); err != nil {
			return err
		}
		if err := r.chatRelay.Send(ctx, msg.SessionID, msg.FromUser, &p); err != nil {
			return err
		}
		metrics.ChatMessages.Inc()
		return nil

	case types.MessageTypeOpenChat:
		var p types.OpenChatPayload
		if err := decode(msg.Payload, &p); err != nil {
			return err
		}
		return r.chatRelay.OpenChat(ctx, msg.SessionID, msg.FromUser, p.StudentID)

	default:
		return types.ErrInvalidMessageType
	}
}

// assignHomework persists the assignment, then notifies the assigned
// student. Persist-then-notify: a student is never told about an
// assignment that is not on record.
func (r *Router) assignHomework(ctx context.Context, liveRoom *room.Room, msg *types.Message, p *types.AssignHomeworkPayload) error {
	if liveRoom.ParticipantRole(msg.FromUser) != types.RoleTeacher {
		return room.ErrNotAuthorized
	}
	if liveRoom.ParticipantRole(p.StudentID) != types.RoleStudent {
		return room.ErrUnknownStudent
	}

	assignment := &types.HomeworkAssignment{
		ID:               uuid.New().String(),
		SessionID:        msg.SessionID,
		StudentID:        p.StudentID,
		LessonID:         p.LessonID,
		TeacherSessionID: p.TeacherSessionID,
		Title:            p.Title,
		AssignedAt:       time.Now().UTC(),
	}

	if err := r.db.StoreHomeworkAssignment(ctx, assignment); err != nil {
		return fmt.Errorf("failed to persist homework assignment: %w", err)
	}

	r.sender.ToOne(msg.SessionID, p.StudentID,
		types.NewEnvelope(types.MessageTypeHomeworkAssigned, assignment))
	return nil
}

// validateFiles rejects an edit whose file set breaks the
// name-as-unique-key contract before any of it reaches a workspace.
func validateFiles(files []types.File) error {
	ws := types.Workspace{Files: files}
	return ws.Validate()
}

func decode(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
