package infrastructure

import (
	"context"
	"net/url"
	"strings"

	"circuitbay/internal/pkg/httpclient"
)

// DisputeHTTPAdapter 调用纠纷服务查询订单是否挂着未决纠纷。
// 放款路径上查询失败按"有纠纷"处理：宁可推迟打款，也不在纠纷未明时放钱。
type DisputeHTTPAdapter struct {
	client  *httpclient.Client
	baseURL string
}

func NewDisputeHTTPAdapter(client *httpclient.Client, baseURL string) *DisputeHTTPAdapter {
	return &DisputeHTTPAdapter{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (a *DisputeHTTPAdapter) HasOpenDispute(ctx context.Context, orderID string) (bool, error) {
	var resp struct {
		Open bool `json:"open"`
	}
	params := url.Values{"orderId": {orderID}}
	if err := a.client.GetJSON(ctx, a.baseURL+"/v1/disputes/open", params, &resp); err != nil {
		return true, err
	}
	return resp.Open, nil
}
