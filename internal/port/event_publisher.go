package port

import (
	"context"

	"github.com/rl1809/market-orders/internal/core/domain"
)

// EventPublisher announces order outcomes to other systems. Implementations
// must not block the caller for long; delivery is best-effort.
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, order domain.Order) error
	PublishSettlementFailed(ctx context.Context, result domain.OrderResult) error
}
