package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/market-orders/internal/core/domain"
	"github.com/rl1809/market-orders/internal/core/logic"
	"github.com/rl1809/market-orders/internal/core/mutex"
	"github.com/rl1809/market-orders/internal/metrics"
	"github.com/rl1809/market-orders/internal/port"
)

const (
	buyerLockPrefix     = "order:user::"
	DefaultLockAttempts = 5
)

// Dependencies wires the OrderService. Events and Metrics are optional.
type Dependencies struct {
	Orders       port.OrderRepository
	Users        port.UserRepository
	Products     port.ProductRepository
	Mutex        *mutex.Coordinator
	Events       port.EventPublisher
	Metrics      *metrics.Collector
	Log          *slog.Logger
	LockAttempts int
}

type OrderService struct {
	orders       port.OrderRepository
	users        port.UserRepository
	products     port.ProductRepository
	mutex        *mutex.Coordinator
	events       port.EventPublisher
	metrics      *metrics.Collector
	log          *slog.Logger
	lockAttempts int
	tracer       trace.Tracer
}

func NewOrderService(deps Dependencies) *OrderService {
	attempts := deps.LockAttempts
	if attempts <= 0 {
		attempts = DefaultLockAttempts
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.New()
	}
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}

	return &OrderService{
		orders:       deps.Orders,
		users:        deps.Users,
		products:     deps.Products,
		mutex:        deps.Mutex,
		events:       deps.Events,
		metrics:      m,
		log:          log,
		lockAttempts: attempts,
		tracer:       otel.Tracer("order-service"),
	}
}

// CreateOrder validates the purchase, persists the order under the buyer's
// lock and then settles stock and balance. Once the order is persisted it is
// always returned; settlement problems are reported in result.Settlement.
func (s *OrderService) CreateOrder(ctx context.Context, productID string, quantity int64, buyerID string) (*domain.OrderResult, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.CreateOrder", trace.WithAttributes(
		attribute.String("product_id", productID),
		attribute.Int64("quantity", quantity),
		attribute.String("buyer_id", buyerID),
	))
	defer span.End()

	result, err := s.createOrder(ctx, productID, quantity, buyerID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.recordFailure(err)
		return nil, err
	}

	s.metrics.RecordOrderCreated()
	if result.Settlement.Failed() {
		s.metrics.RecordPartialSettlement()
		span.SetAttributes(attribute.String("settlement", string(result.Settlement.Status)))
	}
	s.publish(ctx, *result)

	return result, nil
}

func (s *OrderService) createOrder(ctx context.Context, productID string, quantity int64, buyerID string) (*domain.OrderResult, error) {
	if quantity <= 0 {
		return nil, domain.ErrInvalidQuantity
	}

	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, domain.ErrProductNotFound) {
			s.log.Debug("create order: product not found", "product_id", productID)
		}
		return nil, fmt.Errorf("get product %s: %w", productID, err)
	}

	if !logic.IsProductAvailable(*product, quantity) {
		s.log.Debug("create order: insufficient product stock",
			"product", product, "quantity", quantity)
		return nil, domain.ErrInsufficientProductStock
	}

	buyer, err := s.users.GetUser(ctx, buyerID)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", buyerID, err)
	}

	balanceBeforePurchase := logic.GetBalance(*buyer)
	totalPurchaseAmount, err := logic.TotalCost(*product, quantity)
	if err != nil {
		s.log.Debug("create order: total cost out of range",
			"product", product, "quantity", quantity)
		return nil, err
	}

	if balanceBeforePurchase < totalPurchaseAmount {
		s.log.Debug("create order: insufficient funds",
			"product", product,
			"balance_before_purchase", balanceBeforePurchase,
			"total_purchase_amount", totalPurchaseAmount)
		return nil, domain.ErrInsufficientFunds
	}

	if product.SellerID == buyerID {
		s.log.Debug("create order: cannot purchase own product",
			"product", product, "user", buyer)
		return nil, domain.ErrNotAuthorizedToPerformAction
	}

	var result *domain.OrderResult
	err = s.mutex.RunExclusive(ctx, buyerLockPrefix+buyerID, s.lockAttempts, func(ctx context.Context) error {
		basket := logic.GetOrderBasket(productID, quantity, totalPurchaseAmount)

		order, err := s.orders.CreateOrder(ctx, buyerID, basket)
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrOrderNotCreated, err)
		}
		if order.ID == "" {
			return domain.ErrOrderNotCreated
		}

		settlement := s.settle(ctx, productID, quantity, buyerID, totalPurchaseAmount)
		if settlement.Failed() {
			s.log.Warn("create order: post order settlement failed",
				"product_id", productID,
				"quantity", quantity,
				"user", buyer,
				"product", product,
				"balance_before_purchase", balanceBeforePurchase,
				"total_purchase_amount", totalPurchaseAmount,
				"order", order,
				"stock_err", errString(settlement.StockErr),
				"balance_err", errString(settlement.BalanceErr))
		}

		result = &domain.OrderResult{Order: order, Settlement: settlement}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// settle runs the stock and balance decrements in parallel. Either, both or
// neither may fail.
func (s *OrderService) settle(ctx context.Context, productID string, quantity int64, buyerID string, total int64) domain.Settlement {
	var stockErr, balanceErr error
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		stockErr = s.products.UpdateStockPostOrder(ctx, productID, quantity)
	}()
	go func() {
		defer wg.Done()
		balanceErr = s.users.UpdateBalancePostOrder(ctx, buyerID, total)
	}()
	wg.Wait()

	settlement := domain.Settlement{
		Status:     domain.SettlementOK,
		StockErr:   stockErr,
		BalanceErr: balanceErr,
	}
	if stockErr != nil || balanceErr != nil {
		settlement.Status = domain.SettlementPartialFailure
	}
	return settlement
}

func (s *OrderService) publish(ctx context.Context, result domain.OrderResult) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderCreated(ctx, result.Order); err != nil {
		s.log.Error("publish order created failed", "order_id", result.Order.ID, "err", err)
	}
	if result.Settlement.Failed() {
		if err := s.events.PublishSettlementFailed(ctx, result); err != nil {
			s.log.Error("publish settlement failed event failed", "order_id", result.Order.ID, "err", err)
		}
	}
}

func (s *OrderService) recordFailure(err error) {
	switch {
	case errors.Is(err, domain.ErrLockContention):
		s.metrics.RecordLockContention()
	case errors.Is(err, domain.ErrOrderNotCreated):
		s.metrics.RecordPersistFailure()
	case isClientError(err):
		s.metrics.RecordValidationRejected()
	}
}

func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.orders.GetOrder(ctx, orderID)
}

func (s *OrderService) ListOrdersByBuyer(ctx context.Context, buyerID string) ([]domain.Order, error) {
	if _, err := s.users.GetUser(ctx, buyerID); err != nil {
		return nil, err
	}
	return s.orders.ListOrdersByBuyer(ctx, buyerID)
}

func (s *OrderService) Stats() metrics.Stats {
	return s.metrics.GetStats()
}

func isClientError(err error) bool {
	return errors.Is(err, domain.ErrInvalidQuantity) ||
		errors.Is(err, domain.ErrAmountOutOfRange) ||
		errors.Is(err, domain.ErrProductNotFound) ||
		errors.Is(err, domain.ErrUserNotFound) ||
		errors.Is(err, domain.ErrInsufficientProductStock) ||
		errors.Is(err, domain.ErrInsufficientFunds) ||
		errors.Is(err, domain.ErrNotAuthorizedToPerformAction)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
