package service

import (
	"context"
	"log/slog"

	"github.com/layer-3/usdcpay/core"
	"github.com/layer-3/usdcpay/internal/metrics"
	"github.com/layer-3/usdcpay/ports"
)

// eventNotifier publishes lifecycle events without failing the caller.
type eventNotifier struct {
	pub    ports.EventPublisher
	logger *slog.Logger
}

func newEventNotifier(pub ports.EventPublisher, logger *slog.Logger) *eventNotifier {
	return &eventNotifier{pub: pub, logger: logger}
}

func (n *eventNotifier) notify(ctx context.Context, event string, tx *core.Transaction) {
	if n.pub == nil {
		return
	}
	if err := n.pub.PublishTransaction(ctx, event, tx); err != nil {
		metrics.EventPublishFailuresTotal.WithLabelValues(event).Inc()
		n.logger.WarnContext(ctx, "failed to publish event", "event", event, "transaction_id", tx.ID, "error", err)
	}
}
