// Package paystack is a minimal client for the Paystack transaction API and
// its webhook signature scheme.
package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const defaultBaseURL = "https://api.paystack.co"

// APIError is a non-2xx or status=false answer from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("paystack: status %d: %s", e.StatusCode, e.Message)
}

// Client calls the Paystack REST API with a secret key.
type Client struct {
	SecretKey   string
	BaseURL     string
	CallbackURL string
	HTTP        *http.Client
}

// InitializeRequest starts a hosted checkout.
type InitializeRequest struct {
	Email string
	// Amount is in minor units (kobo).
	Amount    int64
	Reference string
	OrderID   int64
	SessionID string
}

// Transaction is the hosted checkout returned by Initialize.
type Transaction struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// Verification is the status of a transaction as reported by Verify.
type Verification struct {
	Reference string   `json:"reference"`
	Status    string   `json:"status"`
	Amount    int64    `json:"amount"`
	Metadata  Metadata `json:"metadata"`
}

// Succeeded reports whether the charge went through.
func (v Verification) Succeeded() bool { return v.Status == "success" }

type envelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// Initialize creates a transaction and returns its checkout URL.
func (c *Client) Initialize(ctx context.Context, in InitializeRequest) (Transaction, error) {
	if in.Email == "" {
		return Transaction{}, fmt.Errorf("missing email")
	}
	if in.Amount <= 0 {
		return Transaction{}, fmt.Errorf("amount must be positive")
	}

	payload := map[string]any{
		"email":  in.Email,
		"amount": in.Amount,
	}
	if in.Reference != "" {
		payload["reference"] = in.Reference
	}
	if c.CallbackURL != "" {
		payload["callback_url"] = c.CallbackURL
	}
	meta := map[string]any{}
	if in.OrderID != 0 {
		meta["order_id"] = strconv.FormatInt(in.OrderID, 10)
	}
	if in.SessionID != "" {
		meta["session_id"] = in.SessionID
	}
	if len(meta) > 0 {
		payload["metadata"] = meta
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Transaction{}, err
	}

	var out envelope[Transaction]
	if err := c.do(ctx, http.MethodPost, "/transaction/initialize", body, &out); err != nil {
		return Transaction{}, err
	}
	if out.Data.AuthorizationURL == "" {
		return Transaction{}, fmt.Errorf("paystack: missing authorization_url")
	}
	if out.Data.Reference == "" {
		out.Data.Reference = in.Reference
	}
	return out.Data, nil
}

// Verify fetches the current status of a transaction by reference.
func (c *Client) Verify(ctx context.Context, reference string) (Verification, error) {
	if reference == "" {
		return Verification{}, fmt.Errorf("missing reference")
	}
	var out envelope[Verification]
	if err := c.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &out); err != nil {
		return Verification{}, err
	}
	return out.Data, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface {
	ok() (bool, string)
}) error {
	if c.SecretKey == "" {
		return fmt.Errorf("missing paystack secret key")
	}
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	baseURL := c.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("paystack %s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	decodeErr := json.NewDecoder(res.Body).Decode(out)
	okStatus, msg := out.ok()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		if msg == "" {
			msg = http.StatusText(res.StatusCode)
		}
		return &APIError{StatusCode: res.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return fmt.Errorf("paystack: decode response: %w", decodeErr)
	}
	if !okStatus {
		if msg == "" {
			msg = "paystack api error"
		}
		return &APIError{StatusCode: res.StatusCode, Message: msg}
	}
	return nil
}

func (e *envelope[T]) ok() (bool, string) { return e.Status, e.Message }
