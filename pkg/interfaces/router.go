package interfaces

import (
	"context"

	"classhub/pkg/types"
)

// MessageRouter dispatches one inbound client message: decode the payload
// for its type, enforce authority, mutate room state, and trigger the
// designated fan-out. Abstracted so the hub can be tested with a mock.
type MessageRouter interface {
	// RouteMessage handles a single message. Errors are per-message: the
	// caller logs them and keeps the session loop alive.
	RouteMessage(ctx context.Context, message *types.Message) error
}
