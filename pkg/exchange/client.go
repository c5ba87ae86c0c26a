package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// Config holds backend credentials and endpoint selection.
type Config struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	RecvWindow int64 // ms
	// RequestsPerSecond throttles outbound calls; 0 means the default of 10.
	RequestsPerSecond float64
}

// Client talks to a REST execution backend with HMAC-signed requests.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a client for the configured backend.
func NewClient(cfg Config) *Client {
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(rps), int(rps)),
	}
}

// ExecuteTrade submits a trade and returns the backend report.
func (c *Client) ExecuteTrade(ctx context.Context, req TradeRequest) (TradeReport, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return TradeReport{}, ErrAuth
	}

	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", string(req.Type))
	params.Set("amount", formatFloat(req.Amount))
	if req.Type == OrderTypeLimit || req.Type == OrderTypeStopLimit {
		params.Set("price", formatFloat(req.Price))
	}
	if req.ClientID != "" {
		params.Set("clientOrderId", req.ClientID)
	}

	body, err := c.doSigned(ctx, http.MethodPost, "/api/v1/order", params)
	if err != nil {
		return TradeReport{}, err
	}

	var resp tradeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return TradeReport{}, fmt.Errorf("decode trade response: %w", err)
	}
	return resp.toReport(), nil
}

// GetBalance fetches the available balance for one asset.
func (c *Client) GetBalance(ctx context.Context, asset string) (float64, error) {
	params := url.Values{}
	params.Set("asset", asset)
	body, err := c.doSigned(ctx, http.MethodGet, "/api/v1/balance", params)
	if err != nil {
		return 0, err
	}
	var bal Balance
	if err := json.Unmarshal(body, &bal); err != nil {
		return 0, fmt.Errorf("decode balance: %w", err)
	}
	if bal.Available > 0 {
		return bal.Available, nil
	}
	return bal.Total, nil
}

// GetPositions fetches all open positions.
func (c *Client) GetPositions(ctx context.Context) ([]Position, error) {
	body, err := c.doSigned(ctx, http.MethodGet, "/api/v1/positions", url.Values{})
	if err != nil {
		return nil, err
	}
	var positions []Position
	if err := json.Unmarshal(body, &positions); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	return positions, nil
}

// CancelOrder cancels an order by its exchange-assigned id.
func (c *Client) CancelOrder(ctx context.Context, exchangeOrderID string) error {
	params := url.Values{}
	params.Set("orderId", exchangeOrderID)
	_, err := c.doSigned(ctx, http.MethodDelete, "/api/v1/order", params)
	return err
}

// Ping verifies connectivity and credentials.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.doSigned(ctx, http.MethodGet, "/api/v1/account", url.Values{})
	return err
}

func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &TransportError{Op: "rate wait", Err: err}
	}

	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
	query := params.Encode()
	params.Set("signature", c.sign(query))

	endpoint := c.cfg.BaseURL + path
	var reqURL string
	var bodyReader io.Reader
	if method == http.MethodGet || method == http.MethodDelete {
		reqURL = endpoint + "?" + params.Encode()
	} else {
		reqURL = endpoint
		bodyReader = nil
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if method == http.MethodPost {
		req.URL.RawQuery = params.Encode()
	}
	req.Header.Set("X-API-KEY", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "read body", Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d: %s", ErrAuth, resp.StatusCode, body)
	case resp.StatusCode >= 500:
		return nil, &TransportError{Op: method + " " + path, Err: fmt.Errorf("status %d: %s", resp.StatusCode, body)}
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("exchange: status %d: %s", resp.StatusCode, body)
	}

	return body, nil
}

func (c *Client) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

type tradeResponse struct {
	OrderID      string  `json:"orderId"`
	TradeID      string  `json:"tradeId"`
	Symbol       string  `json:"symbol"`
	Side         string  `json:"side"`
	Status       string  `json:"status"`
	Amount       float64 `json:"amount"`
	FilledAmount float64 `json:"filledAmount"`
	Price        float64 `json:"price"`
	Fee          float64 `json:"fee"`
	Timestamp    int64   `json:"timestamp"`
}

func (r tradeResponse) toReport() TradeReport {
	status := ReportStatus(r.Status)
	switch status {
	case StatusFilled, StatusPartial, StatusOpen:
	default:
		status = StatusOpen
	}
	filled := r.FilledAmount
	if filled == 0 && status == StatusFilled {
		filled = r.Amount
	}
	return TradeReport{
		ExchangeOrderID: r.OrderID,
		TradeID:         r.TradeID,
		Symbol:          r.Symbol,
		Side:            Side(r.Side),
		Status:          status,
		Amount:          r.Amount,
		FilledAmount:    filled,
		Price:           r.Price,
		Fee:             r.Fee,
		Timestamp:       time.UnixMilli(r.Timestamp),
	}
}
