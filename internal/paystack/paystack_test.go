package paystack

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestVerifySignature(t *testing.T) {
	t.Parallel()

	body := []byte(`{"event":"charge.success","data":{"reference":"R","amount":2700000}}`)
	sig := Sign("sk_test", body)

	if err := VerifySignature("sk_test", body, sig); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
	if err := VerifySignature("sk_test", body, ""); !errors.Is(err, ErrMissingSignature) {
		t.Fatalf("empty signature error = %v", err)
	}
	if err := VerifySignature("sk_other", body, sig); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("wrong secret error = %v", err)
	}

	tampered := append([]byte{}, body...)
	tampered[len(tampered)-2] = '1'
	if err := VerifySignature("sk_test", tampered, sig); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("tampered body error = %v", err)
	}
}

func TestParseEventMetadataShapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		orderID int64
	}{
		{"string order id", `{"event":"charge.success","data":{"reference":"R","metadata":{"order_id":"42"}}}`, 42},
		{"numeric order id", `{"event":"charge.success","data":{"reference":"R","metadata":{"order_id":42}}}`, 42},
		{"empty metadata string", `{"event":"charge.success","data":{"reference":"R","metadata":""}}`, 0},
		{"null metadata", `{"event":"charge.success","data":{"reference":"R","metadata":null}}`, 0},
		{"no metadata", `{"event":"charge.success","data":{"reference":"R"}}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseEvent([]byte(tt.body))
			if err != nil {
				t.Fatalf("ParseEvent() error = %v", err)
			}
			if ev.Data.Metadata.OrderID != tt.orderID {
				t.Fatalf("OrderID = %d, want %d", ev.Data.Metadata.OrderID, tt.orderID)
			}
		})
	}

	if _, err := ParseEvent([]byte(`{not json`)); err == nil {
		t.Fatal("expected error for malformed body")
	}
}

func TestClientInitialize(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transaction/initialize" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test" {
			t.Errorf("unexpected auth header: %s", got)
		}
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		if body["email"] != "ada@example.com" || body["amount"] != float64(2700000) {
			t.Errorf("unexpected body: %s", raw)
		}
		meta, _ := body["metadata"].(map[string]any)
		if meta["order_id"] != "9" {
			t.Errorf("metadata order_id = %v", meta["order_id"])
		}
		_, _ = w.Write([]byte(`{"status":true,"message":"ok","data":{"authorization_url":"https://checkout.paystack.com/x","access_code":"x","reference":"ref-1"}}`))
	}))
	defer srv.Close()

	c := &Client{SecretKey: "sk_test", BaseURL: srv.URL, HTTP: srv.Client()}
	tx, err := c.Initialize(context.Background(), InitializeRequest{Email: "ada@example.com", Amount: 2700000, Reference: "ref-1", OrderID: 9})
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if tx.AuthorizationURL != "https://checkout.paystack.com/x" || tx.Reference != "ref-1" {
		t.Fatalf("unexpected transaction: %+v", tx)
	}
}

func TestClientInitializeErrors(t *testing.T) {
	t.Parallel()

	c := &Client{SecretKey: "sk_test", BaseURL: "http://127.0.0.1:0"}
	if _, err := c.Initialize(context.Background(), InitializeRequest{Amount: 100}); err == nil {
		t.Fatal("expected missing email error")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":false,"message":"Invalid key"}`))
	}))
	defer srv.Close()

	c = &Client{SecretKey: "sk_bad", BaseURL: srv.URL, HTTP: srv.Client()}
	_, err := c.Initialize(context.Background(), InitializeRequest{Email: "a@b.co", Amount: 100})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest || apiErr.Message != "Invalid key" {
		t.Fatalf("error = %v, want APIError 400", err)
	}
}

func TestClientVerify(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transaction/verify/ref-1" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"status":true,"data":{"reference":"ref-1","status":"success","amount":2700000,"metadata":{"order_id":"9"}}}`))
	}))
	defer srv.Close()

	c := &Client{SecretKey: "sk_test", BaseURL: srv.URL, HTTP: srv.Client()}
	v, err := c.Verify(context.Background(), "ref-1")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !v.Succeeded() || v.Amount != 2700000 || v.Metadata.OrderID != 9 {
		t.Fatalf("unexpected verification: %+v", v)
	}
}
