package ports

import (
	"context"

	"github.com/layer-3/keyward/core"
)

// EventPublisher publishes audit events for other services
type EventPublisher interface {
	PublishLogout(ctx context.Context, wallet string, sessionID string) error
	PublishGrantChanged(ctx context.Context, action string, grant *core.AccessGrant) error
	PublishKeyReleased(ctx context.Context, resourceID string, wallet string) error
}
