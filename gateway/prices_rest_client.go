package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"price-dashboard/market"
)

// maxBodyBytes 快照响应体上限。
const maxBodyBytes = 8 << 20

// StatusError 非 2xx 响应。
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.StatusCode)
}

// PricesRESTClient 拉取全量快照；HTTPClient 可注入 httptest。
type PricesRESTClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// AllPricesURL 返回 {BaseURL}/prices/all。
func (c *PricesRESTClient) AllPricesURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/prices/all"
}

// FetchAll 调用 GET /prices/all，返回全部记录。
func (c *PricesRESTClient) FetchAll(ctx context.Context) ([]market.PriceRecord, error) {
	if c == nil || c.HTTPClient == nil {
		return nil, fmt.Errorf("http client not set")
	}
	endpoint := c.AllPricesURL()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, &StatusError{URL: endpoint, StatusCode: resp.StatusCode}
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return ParsePriceResponse(raw)
}

// NewDefaultHTTPClient 提供一个带超时的 http.Client。
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
