package interfaces

import (
	"context"
	"encoding/json"
	"net/http"

	inventorydomain "circuitbay/internal/service/inventory/domain"
	"circuitbay/internal/service/order/application"
	"circuitbay/internal/service/order/domain"
	paymentport "circuitbay/internal/service/payment/port"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// OrderHandler 封装订单服务的 HTTP 处理器。
type OrderHandler struct {
	service *application.OrderApplicationService
}

func NewOrderHandler(service *application.OrderApplicationService) *OrderHandler {
	return &OrderHandler{service: service}
}

// RegisterRoutes 在 ServeMux 上注册所有路由。
func (h *OrderHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/order/create", h.handleCreate)
	mux.HandleFunc("/order/transition", h.handleTransition)
	mux.HandleFunc("/order/attach_tracking", h.handleAttachTracking)
	mux.HandleFunc("/order/cancel", h.handleCancel)
	mux.HandleFunc("/order/get", h.handleGet)
}

func (h *OrderHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)

	var req application.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.service.CreateOrder(ctx, &req)
	if err != nil {
		writeOrderError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *OrderHandler) handleTransition(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)

	var req application.TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	order, err := h.service.Transition(ctx, &req)
	if err != nil {
		writeOrderError(w, err)
		return
	}
	writeOrder(w, order)
}

func (h *OrderHandler) handleAttachTracking(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)

	var req application.AttachTrackingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	order, err := h.service.AttachTracking(ctx, &req)
	if err != nil {
		writeOrderError(w, err)
		return
	}
	writeOrder(w, order)
}

func (h *OrderHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)

	var req application.CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.Cancel(ctx, &req); err != nil {
		writeOrderError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
}

func (h *OrderHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)

	order, err := h.service.Get(ctx, r.URL.Query().Get("order_id"))
	if err != nil {
		writeOrderError(w, err)
		return
	}
	writeOrder(w, order)
}

func extract(r *http.Request) context.Context {
	return otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
}

// writeOrderError 把领域错误映射到 HTTP 状态码。
func writeOrderError(w http.ResponseWriter, err error) {
	var (
		validation   *domain.ValidationError
		invalid      *domain.InvalidTransitionError
		precondition *domain.PreconditionError
	)
	var statusCode int
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		statusCode = http.StatusNotFound
	case errors.Is(err, domain.ErrConcurrentModification):
		statusCode = http.StatusConflict
	case errors.Is(err, inventorydomain.ErrInsufficientInventory):
		statusCode = http.StatusConflict
	case errors.Is(err, paymentport.ErrGatewayUnavailable):
		statusCode = http.StatusServiceUnavailable
	case errors.As(err, &validation):
		statusCode = http.StatusBadRequest
	case errors.As(err, &invalid), errors.As(err, &precondition):
		statusCode = http.StatusForbidden
	default:
		statusCode = http.StatusInternalServerError
	}
	http.Error(w, err.Error(), statusCode)
}

func writeOrder(w http.ResponseWriter, o *domain.Order) {
	resp := map[string]interface{}{
		"orderId":     o.ID,
		"orderNumber": o.OrderNumber,
		"status":      o.Status,
		"isBulkOrder": o.IsBulkOrder,
		"quantity":    o.Quantity,
		"totalMinor":  o.TotalMinor,
		"version":     o.Version,
	}
	if shipped, ok := o.Shipment.(domain.Shipped); ok {
		resp["tracking"] = map[string]interface{}{
			"carrier":        shipped.Carrier,
			"trackingNumber": shipped.TrackingNumber,
			"shippedAt":      shipped.ShippedAt,
		}
	}
	if o.CancelReason != "" {
		resp["cancelReason"] = o.CancelReason
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
