package interfaces

import (
	"encoding/json"
	"net/http"

	"circuitbay/internal/service/quote/application"
	"circuitbay/internal/service/quote/domain"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// QuoteHandler 封装询价协商的 HTTP 处理器。
type QuoteHandler struct {
	negotiator *application.Negotiator
}

func NewQuoteHandler(negotiator *application.Negotiator) *QuoteHandler {
	return &QuoteHandler{negotiator: negotiator}
}

// RegisterRoutes 在 ServeMux 上注册所有路由。
func (h *QuoteHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/quote/request", h.handleRequest)
	mux.HandleFunc("/quote/respond", h.handleRespond)
}

type requestQuoteRequest struct {
	BuyerID     string `json:"buyerId"`
	SellerID    string `json:"sellerId"`
	ComponentID string `json:"componentId"`
	Quantity    int64  `json:"quantity"`
}

func (h *QuoteHandler) handleRequest(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req requestQuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	quote, err := h.negotiator.Request(ctx, req.BuyerID, req.SellerID, req.ComponentID, req.Quantity)
	if err != nil {
		if errors.Is(err, domain.ErrNotEligible) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeQuote(w, quote)
}

type respondQuoteRequest struct {
	QuoteID        string `json:"quoteId"`
	Action         string `json:"action"` // quote | counter | accept | reject
	Actor          string `json:"actor"`  // buyer | seller
	UnitPriceMinor int64  `json:"unitPriceMinor"`
	Quantity       int64  `json:"quantity"`
}

// handleRespond 推进一步协商。抢拍和非法流转返回 403，乐观锁冲突返回 409。
func (h *QuoteHandler) handleRespond(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req respondQuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var quote *domain.BulkQuote
	var err error
	switch req.Action {
	case "quote":
		quote, err = h.negotiator.Quote(ctx, req.QuoteID, req.UnitPriceMinor, req.Quantity)
	case "counter":
		quote, err = h.negotiator.Counter(ctx, req.QuoteID, req.UnitPriceMinor, req.Quantity)
	case "accept":
		quote, err = h.negotiator.Accept(ctx, req.QuoteID, domain.Actor(req.Actor))
	case "reject":
		quote, err = h.negotiator.Reject(ctx, req.QuoteID, domain.Actor(req.Actor))
	default:
		http.Error(w, "unknown action", http.StatusBadRequest)
		return
	}

	if err != nil {
		var statusCode int
		var invalid *domain.InvalidTransitionError
		switch {
		case errors.Is(err, domain.ErrQuoteNotFound):
			statusCode = http.StatusNotFound
		case errors.Is(err, domain.ErrQuoteConflict):
			statusCode = http.StatusConflict
		case errors.As(err, &invalid):
			statusCode = http.StatusForbidden
		default:
			statusCode = http.StatusInternalServerError
		}
		http.Error(w, err.Error(), statusCode)
		return
	}

	writeQuote(w, quote)
}

func writeQuote(w http.ResponseWriter, q *domain.BulkQuote) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"quoteId":        q.ID,
		"status":         q.Status,
		"lastActor":      q.LastActor,
		"unitPriceMinor": q.UnitPriceMinor,
		"quantity":       q.Quantity,
		"rounds":         q.Rounds,
	})
}
