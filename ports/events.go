package ports

import (
	"context"

	"github.com/layer-3/usdcpay/core"
)

// EventPublisher publishes transaction lifecycle events to other services
type EventPublisher interface {
	PublishTransaction(ctx context.Context, event string, tx *core.Transaction) error
}
