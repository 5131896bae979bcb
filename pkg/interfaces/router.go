package interfaces

import (
	"context"

	"counselchat/pkg/types"
)

// EventRouter consumes inbound events for the transport layer.
// Events from one connection are delivered sequentially.
type EventRouter interface {
	// HandleEvent processes one inbound envelope from connID
	HandleEvent(ctx context.Context, connID string, envelope *types.Envelope) error

	// HandleDisconnect runs connection teardown; must be idempotent
	HandleDisconnect(ctx context.Context, connID string)
}
