// internal/service/inventory/infrastructure/catalog_http_adapter.go
package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"circuitbay/internal/pkg/resilience"

	pkgerrors "github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// CatalogComponent 是 Catalog 协作方返回的元件档案。
type CatalogComponent struct {
	ComponentID     string        `json:"componentId"`
	ListedInventory int           `json:"listedInventory"`
	BasePriceMinor  int64         `json:"priceMinor"`
	Tiers           []CatalogTier `json:"bulkPricingTiers"`
}

// CatalogTier 是目录侧配置的一档梯度价。
type CatalogTier struct {
	Name           string `json:"name"`
	Rule           string `json:"rule"`
	UnitPriceMinor int64  `json:"unitPriceMinor"`
}

// CatalogHTTPAdapter 是 Catalog 协作方的 HTTP 客户端，
// 同时实现库存侧的 CatalogNotifier（上下架通知）。
type CatalogHTTPAdapter struct {
	baseURL    string
	httpClient *http.Client
	retry      resilience.RetryPolicy
}

func NewCatalogHTTPAdapter(baseURL string, timeout time.Duration) *CatalogHTTPAdapter {
	return &CatalogHTTPAdapter{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
			},
		},
		retry: resilience.DefaultRetryPolicy(),
	}
}

// GetComponent 拉取元件的在架数量、基础价和梯度价配置。
func (a *CatalogHTTPAdapter) GetComponent(ctx context.Context, componentID string) (*CatalogComponent, error) {
	var component CatalogComponent
	err := a.retry.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v1/components/"+componentID, nil)
		if err != nil {
			return resilience.PermanentError(err)
		}
		otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

		resp, err := a.httpClient.Do(req)
		if err != nil {
			return pkgerrors.Wrap(err, "catalog request failed")
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return resilience.PermanentError(fmt.Errorf("component %s not found in catalog", componentID))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("catalog returned status %s", resp.Status)
		}
		return json.NewDecoder(resp.Body).Decode(&component)
	})
	if err != nil {
		return nil, err
	}
	return &component, nil
}

// ListedInventory 返回目录侧的当前挂牌量，台账首次遇到某个元器件时取数用。
func (a *CatalogHTTPAdapter) ListedInventory(ctx context.Context, componentID string) (int, error) {
	component, err := a.GetComponent(ctx, componentID)
	if err != nil {
		return 0, err
	}
	return component.ListedInventory, nil
}

// MarkOutOfStock 通知目录下架元件。
func (a *CatalogHTTPAdapter) MarkOutOfStock(ctx context.Context, componentID string) error {
	return a.post(ctx, "/v1/components/"+componentID+"/out_of_stock")
}

// MarkBackInStock 通知目录恢复上架。
func (a *CatalogHTTPAdapter) MarkBackInStock(ctx context.Context, componentID string) error {
	return a.post(ctx, "/v1/components/"+componentID+"/back_in_stock")
}

func (a *CatalogHTTPAdapter) post(ctx context.Context, path string) error {
	return a.retry.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(nil))
		if err != nil {
			return resilience.PermanentError(err)
		}
		otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

		resp, err := a.httpClient.Do(req)
		if err != nil {
			return pkgerrors.Wrap(err, "catalog notification failed")
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return resilience.PermanentError(fmt.Errorf("catalog rejected notification: %s", resp.Status))
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("catalog returned status %s", resp.Status)
		}
		return nil
	})
}
