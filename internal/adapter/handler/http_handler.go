package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/market-orders/internal/core/domain"
	"github.com/rl1809/market-orders/internal/core/service"
	"github.com/rl1809/market-orders/internal/port"
)

const (
	HeaderUserID         = "X-User-ID"
	HeaderIdempotencyKey = "Idempotency-Key"

	retryAfterSeconds = 1
)

// Pinger is anything /health should check.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HTTPDependencies struct {
	Orders         *service.OrderService
	Users          *service.UserService
	Products       *service.ProductService
	Cache          port.CacheRepository
	IdempotencyTTL time.Duration
	Health         []Pinger
	Log            *slog.Logger
	RequestTimeout time.Duration
}

type HTTPHandler struct {
	orders         *service.OrderService
	users          *service.UserService
	products       *service.ProductService
	cache          port.CacheRepository
	idempotencyTTL time.Duration
	health         []Pinger
	log            *slog.Logger
	timeout        time.Duration
	tracer         trace.Tracer
}

type CreateOrderHTTPRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

type SettlementHTTPResponse struct {
	Status       domain.SettlementStatus `json:"status"`
	StockError   string                  `json:"stock_error,omitempty"`
	BalanceError string                  `json:"balance_error,omitempty"`
}

type CreateOrderHTTPResponse struct {
	Order      domain.Order           `json:"order"`
	Settlement SettlementHTTPResponse `json:"settlement"`
}

type UserHTTPRequest struct {
	Username string      `json:"username"`
	Role     domain.Role `json:"role"`
}

type AmountHTTPRequest struct {
	Amount int64 `json:"amount"`
}

type CreateProductHTTPRequest struct {
	Name  string `json:"name"`
	Cost  int64  `json:"cost"`
	Stock int64  `json:"stock"`
}

type ErrorHTTPResponse struct {
	Error string `json:"error"`
}

func NewHTTPHandler(deps HTTPDependencies) *HTTPHandler {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	ttl := deps.IdempotencyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPHandler{
		orders:         deps.Orders,
		users:          deps.Users,
		products:       deps.Products,
		cache:          deps.Cache,
		idempotencyTTL: ttl,
		health:         deps.Health,
		log:            log,
		timeout:        timeout,
		tracer:         otel.Tracer("order-http"),
	}
}

func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(middleware.Timeout(h.timeout))

	r.Get("/health", h.HealthCheck)
	r.Get("/metrics", h.Metrics)

	r.Post("/orders", h.CreateOrder)
	r.Get("/orders/{orderId}", h.GetOrder)

	r.Post("/users", h.CreateUser)
	r.Route("/users/{userId}", func(r chi.Router) {
		r.Get("/", h.GetUser)
		r.Put("/", h.UpdateUser)
		r.Delete("/", h.DeleteUser)
		r.Get("/orders", h.ListUserOrders)
	})
	r.Post("/deposit", h.Deposit)
	r.Post("/reset", h.ResetBalance)

	r.Post("/products", h.CreateProduct)
	r.Get("/products/{productId}", h.GetProduct)

	return r
}

func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := h.tracer.Start(ctx, "HTTP CreateOrder")
	defer span.End()

	buyerID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req CreateOrderHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProductID == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if key := r.Header.Get(HeaderIdempotencyKey); key != "" && h.cache != nil {
		fresh, err := h.cache.SetIdempotency(ctx, "order:"+buyerID+":"+key, h.idempotencyTTL)
		if err != nil {
			h.log.Error("idempotency check failed", "buyer_id", buyerID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !fresh {
			writeError(w, http.StatusConflict, domain.ErrDuplicateRequest.Error())
			return
		}
	}

	result, err := h.orders.CreateOrder(ctx, req.ProductID, req.Quantity, buyerID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.writeDomainError(w, err)
		return
	}

	span.SetAttributes(
		attribute.String("order_id", result.Order.ID),
		attribute.String("settlement", string(result.Settlement.Status)),
	)
	writeJSON(w, http.StatusCreated, toOrderResponse(*result))
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *HTTPHandler) ListUserOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListOrdersByBuyer(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *HTTPHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req UserHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.users.CreateUser(r.Context(), req.Username, req.Role)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *HTTPHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.GetUser(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *HTTPHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireOwner(w, r)
	if !ok {
		return
	}

	var req UserHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.users.UpdateUser(r.Context(), userID, req.Username, req.Role)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *HTTPHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireOwner(w, r)
	if !ok {
		return
	}

	if err := h.users.DeleteUser(r.Context(), userID); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req AmountHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.users.Deposit(r.Context(), userID, req.Amount)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *HTTPHandler) ResetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	user, err := h.users.ResetBalance(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *HTTPHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req CreateProductHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	product, err := h.products.CreateProduct(r.Context(), sellerID, req.Name, req.Cost, req.Stock)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, product)
}

func (h *HTTPHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.products.GetProduct(r.Context(), chi.URLParam(r, "productId"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	for _, p := range h.health {
		if err := p.Ping(r.Context()); err != nil {
			h.log.Warn("health check failed", "err", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orders.Stats())
}

func (h *HTTPHandler) writeDomainError(w http.ResponseWriter, err error) {
	status := httpStatus(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", "err", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, clientMessage(err))
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrAmountOutOfRange),
		errors.Is(err, domain.ErrInvalidRole),
		errors.Is(err, domain.ErrInvalidUsername),
		errors.Is(err, domain.ErrInvalidProduct):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientProductStock),
		errors.Is(err, domain.ErrUserExists),
		errors.Is(err, domain.ErrDuplicateRequest):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrNotAuthorizedToPerformAction):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrLockContention):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// clientMessage strips the wrapping context added on the way up so clients
// see the sentinel text only.
func clientMessage(err error) string {
	for _, sentinel := range []error{
		domain.ErrInvalidQuantity,
		domain.ErrInvalidAmount,
		domain.ErrAmountOutOfRange,
		domain.ErrInvalidRole,
		domain.ErrInvalidUsername,
		domain.ErrInvalidProduct,
		domain.ErrProductNotFound,
		domain.ErrUserNotFound,
		domain.ErrOrderNotFound,
		domain.ErrInsufficientProductStock,
		domain.ErrUserExists,
		domain.ErrDuplicateRequest,
		domain.ErrInsufficientFunds,
		domain.ErrNotAuthorizedToPerformAction,
		domain.ErrLockContention,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

func toOrderResponse(result domain.OrderResult) CreateOrderHTTPResponse {
	return CreateOrderHTTPResponse{
		Order: result.Order,
		Settlement: SettlementHTTPResponse{
			Status:       result.Settlement.Status,
			StockError:   errText(result.Settlement.StockErr),
			BalanceError: errText(result.Settlement.BalanceErr),
		},
	}
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(HeaderUserID)
	if id == "" {
		writeError(w, http.StatusUnauthorized, "missing "+HeaderUserID+" header")
		return "", false
	}
	return id, true
}

// requireOwner allows a user to act on their own account only.
func requireOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	caller, ok := requireUser(w, r)
	if !ok {
		return "", false
	}
	if caller != chi.URLParam(r, "userId") {
		writeError(w, http.StatusForbidden, domain.ErrNotAuthorizedToPerformAction.Error())
		return "", false
	}
	return caller, true
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorHTTPResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
