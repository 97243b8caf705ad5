package mcpserver

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/zapspay/settlement/internal/auth"
)

// Config holds the configuration for connecting to the settlement API.
type Config struct {
	APIURL  string            // Base URL, e.g. "http://localhost:8080"
	Address string            // Principal the tools act as
	Key     *ecdsa.PrivateKey // Signs requests; nil sends the address header only
}

// Client is a pure HTTP client for the settlement API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	now        func() time.Time
}

// NewClient creates a new client. When a key is configured the principal
// address is derived from it.
func NewClient(cfg Config) *Client {
	if cfg.Key != nil {
		cfg.Address = auth.AddressOf(cfg.Key)
	}
	cfg.Address = strings.ToLower(cfg.Address)
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		now: time.Now,
	}
}

// Address is the principal requests are made as.
func (c *Client) Address() string { return c.cfg.Address }

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request and returns the response body.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var data []byte
	if body != nil {
		data, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.authenticate(req, data); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// authenticate sets the X-Zaps-* headers. The signed message covers the
// method, path, timestamp and body hash.
func (c *Client) authenticate(req *http.Request, body []byte) error {
	if c.cfg.Address == "" {
		return nil
	}
	req.Header.Set(auth.HeaderAddress, c.cfg.Address)
	if c.cfg.Key == nil {
		return nil
	}
	ts := c.now().Unix()
	sig, err := auth.SignMessage(c.cfg.Key, auth.RequestMessage(req.Method, req.URL.Path, ts, body))
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}
	req.Header.Set(auth.HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(auth.HeaderSignature, sig)
	return nil
}

// GetBalance returns holder's balance of asset. An empty holder means the
// client's own address.
func (c *Client) GetBalance(ctx context.Context, asset, holder string) (json.RawMessage, error) {
	if holder == "" {
		holder = c.cfg.Address
	}
	path := "/v1/assets/" + url.PathEscape(asset) + "/balances/" + url.PathEscape(holder)
	return c.doRequest(ctx, http.MethodGet, path, nil, nil)
}

// Quote previews an FX swap.
func (c *Client) Quote(ctx context.Context, src, dst, amount string) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("src", src)
	q.Set("dst", dst)
	q.Set("amount", amount)
	return c.doRequest(ctx, http.MethodGet, "/v1/fx/quote", q, nil)
}

// GetMerchant returns a merchant's registry record.
func (c *Client) GetMerchant(ctx context.Context, merchantID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/merchants/"+url.PathEscape(merchantID), nil, nil)
}

// Pay routes a payment to a merchant.
func (c *Client) Pay(ctx context.Context, merchantID, sendAsset, sendAmount, minReceive string) (json.RawMessage, error) {
	body := map[string]string{
		"merchant_id": merchantID,
		"send_asset":  sendAsset,
		"send_amount": sendAmount,
		"min_receive": minReceive,
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/payments", nil, body)
}

// LockEscrowRequest is the body of an escrow lock.
type LockEscrowRequest struct {
	ID         string `json:"id"`
	Seller     string `json:"seller"`
	Arbitrator string `json:"arbitrator,omitempty"`
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
	Memo       string `json:"memo,omitempty"`
}

// LockEscrow moves funds from the client's address into escrow.
func (c *Client) LockEscrow(ctx context.Context, req LockEscrowRequest) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/escrow", nil, req)
}

// GetEscrow returns an escrow record.
func (c *Client) GetEscrow(ctx context.Context, id string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/escrow/"+url.PathEscape(id), nil, nil)
}

// ReleaseEscrow pays a locked escrow to its seller.
func (c *Client) ReleaseEscrow(ctx context.Context, id string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/escrow/"+url.PathEscape(id)+"/release", nil, nil)
}

// RefundEscrow returns a locked escrow to its buyer.
func (c *Client) RefundEscrow(ctx context.Context, id string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/escrow/"+url.PathEscape(id)+"/refund", nil, nil)
}

// ListEvents queries the event log.
func (c *Client) ListEvents(ctx context.Context, topic, address string, auditOnly bool, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if topic != "" {
		q.Set("topic", topic)
	}
	if address != "" {
		q.Set("address", address)
	}
	if auditOnly {
		q.Set("audit", "true")
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/events", q, nil)
}
