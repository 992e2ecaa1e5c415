// Package bingx is the REST client for the BingX perpetual swap (v2) API
// in hedge mode. It implements domain.Exchange for one set of API
// credentials.
package bingx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Runner89/mexc-trading-bot/internal/crypto"
	"github.com/Runner89/mexc-trading-bot/internal/domain"
)

const (
	balanceEndpoint    = "/openApi/swap/v2/user/balance"
	positionsEndpoint  = "/openApi/swap/v2/user/positions"
	priceEndpoint      = "/openApi/swap/v2/quote/price"
	leverageEndpoint   = "/openApi/swap/v2/trade/leverage"
	orderEndpoint      = "/openApi/swap/v2/trade/order"
	openOrdersEndpoint = "/openApi/swap/v2/trade/openOrders"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://open-api.bingx.com"

// Client talks to the BingX swap API with one set of credentials.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       *crypto.HMACAuth
	precision  int32
}

var _ domain.Exchange = (*Client)(nil)

// NewClient creates a client. precision is the number of decimals that
// quantities and prices are rounded to before submission.
func NewClient(baseURL string, httpClient *http.Client, auth *crypto.HMACAuth, precision int32) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		auth:       auth,
		precision:  precision,
	}
}

// NewPublicClient creates an unauthenticated client for market data
// endpoints only.
func NewPublicClient(baseURL string, timeout time.Duration) *Client {
	return NewClient(baseURL, &http.Client{Timeout: timeout}, nil, 6)
}

// Factory builds a Client per set of webhook credentials. The HTTP client
// and its connection pool are shared.
type Factory struct {
	baseURL    string
	httpClient *http.Client
	precision  int32
}

var _ domain.ExchangeFactory = (*Factory)(nil)

// NewFactory creates a Factory.
func NewFactory(baseURL string, timeout time.Duration, precision int32) *Factory {
	return &Factory{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		precision:  precision,
	}
}

// ForCredentials returns a Client signing with creds.
func (f *Factory) ForCredentials(creds domain.Credentials) (domain.Exchange, error) {
	if creds.APIKey == "" || creds.APISecret == "" {
		return nil, fmt.Errorf("bingx: %w: missing api credentials", domain.ErrInvalidInput)
	}
	auth := &crypto.HMACAuth{Key: creds.APIKey, Secret: creds.APISecret}
	return NewClient(f.baseURL, f.httpClient, auth, f.precision), nil
}

// envelope is the common response wrapper.
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// GetBalance returns the available margin of the swap account.
func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	var data struct {
		Balance struct {
			AvailableMargin number `json:"availableMargin"`
		} `json:"balance"`
	}
	if err := c.do(ctx, http.MethodGet, balanceEndpoint, nil, &data); err != nil {
		return 0, fmt.Errorf("bingx: get balance: %w", err)
	}
	return data.Balance.AvailableMargin.Float(), nil
}

// GetPrice returns the last traded price of symbol.
func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	var data struct {
		Price number `json:"price"`
	}
	if err := c.do(ctx, http.MethodGet, priceEndpoint, map[string]string{"symbol": symbol}, &data); err != nil {
		return 0, fmt.Errorf("bingx: get price %s: %w", symbol, err)
	}
	return data.Price.Float(), nil
}

type position struct {
	Symbol           string `json:"symbol"`
	PositionSide     string `json:"positionSide"`
	PositionAmt      number `json:"positionAmt"`
	AvgPrice         number `json:"avgPrice"`
	LiquidationPrice number `json:"liquidationPrice"`
}

// GetPosition returns the position of symbol on side. A missing position
// is reported as size zero.
func (c *Client) GetPosition(ctx context.Context, symbol string, side domain.Side) (domain.PositionSnapshot, error) {
	var data []position
	if err := c.do(ctx, http.MethodGet, positionsEndpoint, map[string]string{"symbol": symbol}, &data); err != nil {
		return domain.PositionSnapshot{}, fmt.Errorf("bingx: get position %s: %w", symbol, err)
	}
	for _, p := range data {
		if p.Symbol != symbol || !strings.EqualFold(p.PositionSide, string(side)) {
			continue
		}
		return domain.PositionSnapshot{
			Size:             p.PositionAmt.Abs().InexactFloat64(),
			AvgPrice:         p.AvgPrice.Float(),
			LiquidationPrice: p.LiquidationPrice.Float(),
		}, nil
	}
	return domain.PositionSnapshot{}, nil
}

// SetLeverage sets the leverage of one side of symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, side domain.Side, leverage int) error {
	params := map[string]string{
		"symbol":   symbol,
		"side":     string(side),
		"leverage": fmt.Sprint(leverage),
	}
	if err := c.do(ctx, http.MethodPost, leverageEndpoint, params, nil); err != nil {
		return fmt.Errorf("bingx: set leverage %s %s: %w", symbol, side, err)
	}
	return nil
}

type order struct {
	OrderID       json.Number `json:"orderId"`
	ClientOrderID string      `json:"clientOrderID"`
	ClientOrderId string      `json:"clientOrderId"`
	Symbol        string      `json:"symbol"`
	Side          string      `json:"side"`
	PositionSide  string      `json:"positionSide"`
	Type          string      `json:"type"`
	Status        string      `json:"status"`
	OrigQty       number      `json:"origQty"`
	Price         number      `json:"price"`
	StopPrice     number      `json:"stopPrice"`
	AvgPrice      number      `json:"avgPrice"`
	ExecutedQty   number      `json:"executedQty"`
}

func (o order) clientID() string {
	if o.ClientOrderID != "" {
		return o.ClientOrderID
	}
	return o.ClientOrderId
}

func (o order) ack() domain.OrderAck {
	return domain.OrderAck{
		OrderID:       o.OrderID.String(),
		ClientOrderID: o.clientID(),
		Status:        strings.ToUpper(o.Status),
		AvgPrice:      o.AvgPrice.Float(),
		ExecutedQty:   o.ExecutedQty.Float(),
	}
}

// PlaceMarketOrder submits a MARKET order.
func (c *Client) PlaceMarketOrder(ctx context.Context, intent domain.OrderIntent) (domain.OrderAck, error) {
	return c.placeOrder(ctx, "MARKET", intent)
}

// PlaceLimitOrder submits a GTC LIMIT order.
func (c *Client) PlaceLimitOrder(ctx context.Context, intent domain.OrderIntent) (domain.OrderAck, error) {
	return c.placeOrder(ctx, "LIMIT", intent)
}

// PlaceStopOrder submits a STOP_MARKET order triggered at intent.StopPrice.
func (c *Client) PlaceStopOrder(ctx context.Context, intent domain.OrderIntent) (domain.OrderAck, error) {
	return c.placeOrder(ctx, "STOP_MARKET", intent)
}

func (c *Client) placeOrder(ctx context.Context, orderType string, intent domain.OrderIntent) (domain.OrderAck, error) {
	params := map[string]string{
		"symbol":       intent.Symbol,
		"type":         orderType,
		"side":         intent.ExchangeSide(),
		"positionSide": string(intent.Side),
		"quantity":     c.format(intent.Quantity),
	}
	switch orderType {
	case "LIMIT":
		params["price"] = c.format(intent.Price)
		params["timeInForce"] = "GTC"
	case "STOP_MARKET":
		params["stopPrice"] = c.format(intent.StopPrice)
	}
	if intent.ClientOrderID != "" {
		params["clientOrderID"] = intent.ClientOrderID
	}

	var data struct {
		Order order `json:"order"`
	}
	if err := c.do(ctx, http.MethodPost, orderEndpoint, params, &data); err != nil {
		return domain.OrderAck{}, fmt.Errorf("bingx: place %s %s: %w", orderType, intent.Symbol, err)
	}
	return data.Order.ack(), nil
}

// ListOpenOrders returns the resting orders of symbol.
func (c *Client) ListOpenOrders(ctx context.Context, symbol string) ([]domain.OpenOrder, error) {
	var data struct {
		Orders []order `json:"orders"`
	}
	if err := c.do(ctx, http.MethodGet, openOrdersEndpoint, map[string]string{"symbol": symbol}, &data); err != nil {
		return nil, fmt.Errorf("bingx: open orders %s: %w", symbol, err)
	}
	out := make([]domain.OpenOrder, 0, len(data.Orders))
	for _, o := range data.Orders {
		out = append(out, domain.OpenOrder{
			OrderID:       o.OrderID.String(),
			ClientOrderID: o.clientID(),
			Symbol:        o.Symbol,
			Side:          o.Side,
			PositionSide:  domain.Side(strings.ToUpper(o.PositionSide)),
			Kind:          orderKind(o.Type),
			Quantity:      o.OrigQty.Float(),
			Price:         o.Price.Float(),
			StopPrice:     o.StopPrice.Float(),
		})
	}
	return out, nil
}

// CancelOrder cancels one order of symbol.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := map[string]string{"symbol": symbol, "orderId": orderID}
	if err := c.do(ctx, http.MethodDelete, orderEndpoint, params, nil); err != nil {
		return fmt.Errorf("bingx: cancel %s: %w", orderID, err)
	}
	return nil
}

func orderKind(t string) domain.OrderKind {
	switch strings.ToUpper(t) {
	case "LIMIT":
		return domain.OrderKindLimit
	case "STOP", "STOP_MARKET":
		return domain.OrderKindStop
	default:
		return domain.OrderKindMarket
	}
}

// format rounds v to the client precision without exponent notation.
func (c *Client) format(v float64) string {
	return decimal.NewFromFloat(v).Round(c.precision).String()
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// do sends a signed request with params in the query string and decodes
// the data field of the response envelope into out.
func (c *Client) do(ctx context.Context, method, path string, params map[string]string, out any) error {
	var query string
	if c.auth != nil {
		query = c.auth.SignedQuery(params)
	} else {
		values := url.Values{}
		for k, v := range params {
			values.Set(k, v)
		}
		query = values.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+query, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.auth != nil {
		for k, v := range c.auth.Headers() {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if err := checkCode(env.Code, env.Msg, path); err != nil {
		return err
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch {
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	case statusCode >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrTransient, statusCode, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

// API error codes with a domain meaning.
const (
	codeSignature   = 100001
	codeRateLimit   = 100410
	codeServerBusy  = 100500
	codeTimeout     = 100503
	codeUnknownAuth = 100413
)

// checkCode maps a non-zero envelope code. Order endpoint failures are
// rejections.
func checkCode(code int, msg, path string) error {
	switch code {
	case 0:
		return nil
	case codeSignature, codeUnknownAuth:
		return fmt.Errorf("%w: code %d: %s", domain.ErrUnauthorized, code, msg)
	case codeRateLimit:
		return fmt.Errorf("%w: code %d: %s", domain.ErrRateLimited, code, msg)
	case codeServerBusy, codeTimeout:
		return fmt.Errorf("%w: code %d: %s", domain.ErrTransient, code, msg)
	}
	if path == orderEndpoint {
		return fmt.Errorf("%w: code %d: %s", domain.ErrRejected, code, msg)
	}
	return fmt.Errorf("code %d: %s", code, msg)
}
