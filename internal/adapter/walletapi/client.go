// Package walletapi implements the payment provider port against the
// wallet service REST API.
package walletapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Strob0t/SpendPilot/internal/domain/payment"
	"github.com/Strob0t/SpendPilot/internal/logger"
)

const maxResponseBody = 1 << 20

// APIError is a non-2xx answer from the wallet service. Message is the
// service's own error text, which payment failure classification reads.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wallet API error %d: %s", e.Status, e.Message)
}

// Client talks to the wallet service.
type Client struct {
	baseURL    string
	apiKey     func() string
	redact     func(string) string
	httpClient *http.Client
}

// NewClient creates a wallet API client. apiKey is read on every request so
// rotated credentials apply without a restart; nil sends no Authorization
// header. A zero timeout defaults to 15s.
func NewClient(baseURL string, apiKey func() string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// WithRedactor sets a function applied to provider error messages before
// they leave the client, for services that echo credentials back.
func (c *Client) WithRedactor(fn func(string) string) *Client {
	c.redact = fn
	return c
}

// WalletExists reports whether the wallet is known. 404 means no.
func (c *Client) WalletExists(ctx context.Context, walletID string) (bool, error) {
	_, err := c.doRequest(ctx, http.MethodGet, "/v1/wallets/"+url.PathEscape(walletID), nil, nil)
	if err == nil {
		return true, nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return false, nil
	}
	return false, fmt.Errorf("walletapi: %w", err)
}

// Balance returns the available balance of a wallet.
func (c *Client) Balance(ctx context.Context, walletID string) (float64, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/v1/wallets/"+url.PathEscape(walletID)+"/balance", nil, nil)
	if err != nil {
		return 0, fmt.Errorf("walletapi: %w", err)
	}
	var result struct {
		Available float64 `json:"available"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return 0, fmt.Errorf("unmarshal balance: %w", err)
	}
	return result.Available, nil
}

// CreatePayee registers a recipient on the wallet.
func (c *Client) CreatePayee(ctx context.Context, walletID string, req payment.PayeeRequest) (*payment.Payee, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal payee: %w", err)
	}
	data, err := c.doRequest(ctx, http.MethodPost, "/v1/wallets/"+url.PathEscape(walletID)+"/payees", body, nil)
	if err != nil {
		return nil, fmt.Errorf("walletapi: %w", err)
	}
	var p payment.Payee
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal payee: %w", err)
	}
	if p.WalletID == "" {
		p.WalletID = walletID
	}
	return &p, nil
}

// ListPayees returns the recipients registered on the wallet.
func (c *Client) ListPayees(ctx context.Context, walletID string) ([]payment.Payee, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/v1/wallets/"+url.PathEscape(walletID)+"/payees", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("walletapi: %w", err)
	}
	var result struct {
		Data []payment.Payee `json:"data"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal payees: %w", err)
	}
	return result.Data, nil
}

// Transfer issues a transfer. The request reference is sent as the
// Idempotency-Key so a retried call cannot pay twice.
func (c *Client) Transfer(ctx context.Context, req payment.TransferRequest) (*payment.Transfer, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal transfer: %w", err)
	}
	headers := map[string]string{}
	if req.Reference != "" {
		headers["Idempotency-Key"] = req.Reference
	}
	data, err := c.doRequest(ctx, http.MethodPost, "/v1/transfers", body, headers)
	if err != nil {
		return nil, fmt.Errorf("walletapi: %w", err)
	}
	var tr payment.Transfer
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, fmt.Errorf("unmarshal transfer: %w", err)
	}
	if tr.Reference == "" {
		tr.Reference = req.Reference
	}
	return &tr, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte, headers map[string]string) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != nil {
		if key := c.apiKey(); key != "" {
			req.Header.Set("Authorization", "Bearer "+key)
		}
	}
	if id := logger.RequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		msg := errorMessage(data)
		if c.redact != nil {
			msg = c.redact(msg)
		}
		return nil, &APIError{Status: resp.StatusCode, Message: msg}
	}
	return data, nil
}

// errorMessage extracts {"error": "..."} or {"message": "..."} bodies,
// falling back to the raw text.
func errorMessage(data []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return strings.TrimSpace(string(data))
}
