// internal/service/payment/infrastructure/gateway_http_adapter.go
package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"circuitbay/internal/pkg/metrics"
	"circuitbay/internal/pkg/resilience"
	"circuitbay/internal/service/payment/port"

	pkgerrors "github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// GatewayHTTPAdapter 是 port.Gateway 的 HTTP 实现。
// 所有出站调用走统一的重试（1s/2s/4s）加熔断（连续 5 次失败后打开）。
// 网关调用是整个流程里唯一真正的外部悬挂点，超时受每次请求的 ctx 约束，
// 绝不在持有库存锁的情况下发起。
type GatewayHTTPAdapter struct {
	baseURL    string
	httpClient *http.Client
	tracer     trace.Tracer
	retry      resilience.RetryPolicy
	breaker    *resilience.CircuitBreaker
	timeout    time.Duration
}

func NewGatewayHTTPAdapter(baseURL string, tracer trace.Tracer, timeout time.Duration) *GatewayHTTPAdapter {
	return &GatewayHTTPAdapter{
		baseURL: baseURL,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
			},
		},
		tracer:  tracer,
		retry:   resilience.DefaultRetryPolicy(),
		breaker: resilience.NewCircuitBreaker("payment-gateway", 5, 30*time.Second),
		timeout: timeout,
	}
}

type sessionRequest struct {
	AmountMinor int64  `json:"amount"`
	Currency    string `json:"currency"`
	Method      string `json:"method"`
}

type sessionResponse struct {
	SessionID string    `json:"sessionId"`
	PayURL    string    `json:"payUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// CreateSession 创建网关收款会话。
func (a *GatewayHTTPAdapter) CreateSession(ctx context.Context, amountMinor int64, currency, method string) (*port.Session, error) {
	var resp sessionResponse
	err := a.call(ctx, "gateway.CreateSession", "/v1/sessions", sessionRequest{
		AmountMinor: amountMinor,
		Currency:    currency,
		Method:      method,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &port.Session{SessionID: resp.SessionID, PayURL: resp.PayURL, ExpiresAt: resp.ExpiresAt}, nil
}

// RefundTransaction 请求网关原路退回。
func (a *GatewayHTTPAdapter) RefundTransaction(ctx context.Context, gatewayTxID string, amountMinor int64, reason string) error {
	return a.call(ctx, "gateway.Refund", "/v1/refunds", map[string]interface{}{
		"txId":   gatewayTxID,
		"amount": amountMinor,
		"reason": reason,
	}, nil)
}

// AbandonSession 放弃一个未完成的收款会话。
func (a *GatewayHTTPAdapter) AbandonSession(ctx context.Context, sessionID string) error {
	return a.call(ctx, "gateway.AbandonSession", "/v1/sessions/"+sessionID+"/abandon", struct{}{}, nil)
}

// call 统一处理熔断、重试、超时和链路注入。
// 5xx 和连接错误按瞬时故障重试，重试耗尽后归并为 ErrGatewayUnavailable；
// 4xx 是网关的明确拒绝，立即返回 ErrGatewayRejected 不再重试。
func (a *GatewayHTTPAdapter) call(ctx context.Context, spanName, path string, body interface{}, out interface{}) error {
	ctx, span := a.tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("http.url", a.baseURL+path))

	if !a.breaker.Allow() {
		metrics.BreakerOpen.WithLabelValues(a.breaker.Name()).Set(1)
		span.SetStatus(codes.Error, "circuit breaker open")
		return fmt.Errorf("%w: %s", port.ErrGatewayUnavailable, resilience.ErrBreakerOpen)
	}
	metrics.BreakerOpen.WithLabelValues(a.breaker.Name()).Set(0)

	payload, err := json.Marshal(body)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to marshal gateway request")
	}

	attempt := 0
	err = a.retry.Do(ctx, func(ctx context.Context) error {
		if attempt > 0 {
			metrics.GatewayRetries.Inc()
		}
		attempt++
		return a.doOnce(ctx, path, payload, out)
	})
	if err != nil {
		a.breaker.Failure()
		span.RecordError(err)
		if pkgerrors.Is(err, port.ErrGatewayRejected) {
			span.SetStatus(codes.Error, "gateway rejected")
			return err
		}
		span.SetStatus(codes.Error, "gateway unavailable after retries")
		return fmt.Errorf("%w: %v", port.ErrGatewayUnavailable, err)
	}

	a.breaker.Success()
	return nil
}

func (a *GatewayHTTPAdapter) doOnce(ctx context.Context, path string, payload []byte, out interface{}) error {
	reqCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return resilience.PermanentError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(err, "gateway request failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return resilience.PermanentError(pkgerrors.Wrap(err, "failed to decode gateway response"))
			}
		}
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// 网关明确拒绝，重试没有意义
		return resilience.PermanentError(fmt.Errorf("%w: status %s", port.ErrGatewayRejected, resp.Status))
	default:
		return fmt.Errorf("gateway returned status %s", resp.Status)
	}
}
