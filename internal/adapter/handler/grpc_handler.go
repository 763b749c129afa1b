package handler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/market-orders/internal/core/domain"
	"github.com/rl1809/market-orders/internal/core/service"
	"github.com/rl1809/market-orders/internal/port"
)

const createOrderMethod = "/orders.v1.OrderService/CreateOrder"

type CreateOrderRequest struct {
	RequestID string `json:"request_id,omitempty"`
	BuyerID   string `json:"buyer_id"`
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

type CreateOrderResponse struct {
	Order        domain.Order            `json:"order"`
	Settlement   domain.SettlementStatus `json:"settlement"`
	StockError   string                  `json:"stock_error,omitempty"`
	BalanceError string                  `json:"balance_error,omitempty"`
}

type OrderServiceServer interface {
	CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error)
}

// OrderServiceDesc describes orders.v1.OrderService. Messages travel as JSON.
var OrderServiceDesc = grpc.ServiceDesc{
	ServiceName: "orders.v1.OrderService",
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "CreateOrder",
			Handler:    createOrderHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "orders/v1/order_service.proto",
}

func createOrderHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CreateOrderRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrderServiceServer).CreateOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: createOrderMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OrderServiceServer).CreateOrder(ctx, req.(*CreateOrderRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func RegisterOrderServiceServer(s grpc.ServiceRegistrar, srv OrderServiceServer) {
	s.RegisterService(&OrderServiceDesc, srv)
}

// OrderServiceClient calls orders.v1.OrderService with the JSON codec.
type OrderServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewOrderServiceClient(cc grpc.ClientConnInterface) *OrderServiceClient {
	return &OrderServiceClient{cc: cc}
}

func (c *OrderServiceClient) CreateOrder(ctx context.Context, in *CreateOrderRequest, opts ...grpc.CallOption) (*CreateOrderResponse, error) {
	out := new(CreateOrderResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(JSONCodecName)}, opts...)
	if err := c.cc.Invoke(ctx, createOrderMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

type GRPCHandler struct {
	orderService   *service.OrderService
	cache          port.CacheRepository
	idempotencyTTL time.Duration
	log            *slog.Logger
}

func NewGRPCHandler(orderService *service.OrderService, cache port.CacheRepository, idempotencyTTL time.Duration, log *slog.Logger) *GRPCHandler {
	if log == nil {
		log = slog.Default()
	}
	if idempotencyTTL <= 0 {
		idempotencyTTL = 24 * time.Hour
	}
	return &GRPCHandler{
		orderService:   orderService,
		cache:          cache,
		idempotencyTTL: idempotencyTTL,
		log:            log,
	}
}

func (h *GRPCHandler) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	if req.BuyerID == "" || req.ProductID == "" {
		return nil, status.Error(codes.InvalidArgument, "buyer_id and product_id are required")
	}

	if req.RequestID != "" && h.cache != nil {
		fresh, err := h.cache.SetIdempotency(ctx, "order:"+req.BuyerID+":"+req.RequestID, h.idempotencyTTL)
		if err != nil {
			h.log.Error("idempotency check failed", "buyer_id", req.BuyerID, "err", err)
			return nil, status.Error(codes.Internal, "internal error")
		}
		if !fresh {
			return nil, status.Error(codes.AlreadyExists, domain.ErrDuplicateRequest.Error())
		}
	}

	result, err := h.orderService.CreateOrder(ctx, req.ProductID, req.Quantity, req.BuyerID)
	if err != nil {
		code := grpcCode(err)
		if code == codes.Internal {
			h.log.Error("create order failed", "buyer_id", req.BuyerID, "err", err)
			return nil, status.Error(code, "internal error")
		}
		return nil, status.Error(code, clientMessage(err))
	}

	return &CreateOrderResponse{
		Order:        result.Order,
		Settlement:   result.Settlement.Status,
		StockError:   errText(result.Settlement.StockErr),
		BalanceError: errText(result.Settlement.BalanceErr),
	}, nil
}

func grpcCode(err error) codes.Code {
	switch {
	case errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrAmountOutOfRange):
		return codes.InvalidArgument
	case errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrUserNotFound):
		return codes.NotFound
	case errors.Is(err, domain.ErrInsufficientProductStock),
		errors.Is(err, domain.ErrInsufficientFunds):
		return codes.FailedPrecondition
	case errors.Is(err, domain.ErrNotAuthorizedToPerformAction):
		return codes.PermissionDenied
	case errors.Is(err, domain.ErrLockContention):
		return codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	default:
		return codes.Internal
	}
}
