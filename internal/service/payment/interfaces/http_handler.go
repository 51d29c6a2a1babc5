package interfaces

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"circuitbay/internal/pkg/logger"
	"circuitbay/internal/service/payment/application"
	"circuitbay/internal/service/payment/domain"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// SagaRelay 把落账生效的网关回调回流给采购 Saga。
type SagaRelay interface {
	PaymentCallbackApplied(ctx context.Context, orderID, paymentID string, completed bool) error
}

// PaymentHandler 封装支付服务的 HTTP 处理器。
type PaymentHandler struct {
	coordinator   *application.Coordinator
	relay         SagaRelay
	webhookSecret string
}

func NewPaymentHandler(coordinator *application.Coordinator, relay SagaRelay, webhookSecret string) *PaymentHandler {
	return &PaymentHandler{coordinator: coordinator, relay: relay, webhookSecret: webhookSecret}
}

// RegisterRoutes 在 ServeMux 上注册所有路由。
func (h *PaymentHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/payment/callback", h.handleGatewayCallback)
	mux.HandleFunc("/payment/confirm_delivery", h.handleConfirmDelivery)
	mux.HandleFunc("/payment/refund", h.handleRefund)
}

// handleGatewayCallback 处理支付网关的异步回调。
// 签名在读取原始报文后立即校验；重复投递返回 200，网关据此停止重投。
func (h *PaymentHandler) handleGatewayCallback(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("X-Gateway-Signature")
	if !application.VerifyCallbackSignature(h.webhookSecret, body, signature) {
		logger.Ctx(ctx).Warn().Msg("gateway callback with invalid signature rejected")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var cb application.Callback
	if err := json.Unmarshal(body, &cb); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	payment, applied, err := h.coordinator.HandleCallback(ctx, cb)
	if err != nil {
		var statusCode int
		switch {
		case errors.Is(err, domain.ErrPaymentNotFound):
			statusCode = http.StatusNotFound
		default:
			statusCode = http.StatusInternalServerError
		}
		http.Error(w, err.Error(), statusCode)
		return
	}

	// 只有第一次生效的回调才值得回流，重放已经被去重挡掉
	if applied && h.relay != nil {
		if err := h.relay.PaymentCallbackApplied(ctx, payment.OrderID, payment.ID, payment.Status == domain.StatusCompleted); err != nil {
			logger.Ctx(ctx).Error().Err(err).
				Str("payment_id", payment.ID).
				Str("order_id", payment.OrderID).
				Msg("failed to relay payment callback to the saga topic")
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"paymentId": payment.ID,
		"status":    payment.Status,
		"applied":   applied,
	})
}

type confirmDeliveryRequest struct {
	PaymentID string `json:"paymentId"`
}

// handleConfirmDelivery 买家确认收货，提前结束托管并放款。
func (h *PaymentHandler) handleConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req confirmDeliveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.coordinator.ConfirmDelivery(ctx, req.PaymentID); err != nil {
		var statusCode int
		var invalid *domain.InvalidTransitionError
		switch {
		case errors.Is(err, domain.ErrPaymentNotFound):
			statusCode = http.StatusNotFound
		case errors.Is(err, domain.ErrEscrowDisputed):
			statusCode = http.StatusConflict
		case errors.As(err, &invalid):
			statusCode = http.StatusForbidden
		default:
			statusCode = http.StatusInternalServerError
		}
		http.Error(w, err.Error(), statusCode)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
}

type refundRequest struct {
	PaymentID string `json:"paymentId"`
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason"`
}

// handleRefund 对托管中或已完成的支付发起退款。
func (h *PaymentHandler) handleRefund(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.coordinator.Refund(ctx, req.PaymentID, req.Amount, req.Reason); err != nil {
		var statusCode int
		var invalid *domain.InvalidTransitionError
		switch {
		case errors.Is(err, domain.ErrPaymentNotFound):
			statusCode = http.StatusNotFound
		case errors.As(err, &invalid):
			statusCode = http.StatusForbidden
		default:
			statusCode = http.StatusInternalServerError
		}
		http.Error(w, err.Error(), statusCode)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
}
