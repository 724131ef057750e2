package paystack

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// SignatureHeader carries the hex HMAC of the raw webhook body.
const SignatureHeader = "X-Paystack-Signature"

// EventChargeSuccess is the only event type acted on.
const EventChargeSuccess = "charge.success"

var (
	ErrMissingSignature = errors.New("missing paystack signature")
	ErrInvalidSignature = errors.New("invalid paystack signature")
)

// Sign returns the hex HMAC-SHA512 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks signature against the raw, unparsed body in constant time.
func VerifySignature(secret string, body []byte, signature string) error {
	if signature == "" {
		return ErrMissingSignature
	}
	if secret == "" {
		return ErrInvalidSignature
	}
	expected := Sign(secret, body)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature)))) {
		return ErrInvalidSignature
	}
	return nil
}

// Event is a webhook notification.
type Event struct {
	Event string    `json:"event"`
	Data  EventData `json:"data"`
}

// EventData is the transaction payload of an event.
type EventData struct {
	Reference string   `json:"reference"`
	Amount    int64    `json:"amount"`
	Status    string   `json:"status"`
	Metadata  Metadata `json:"metadata"`
}

// Metadata is the custom metadata attached at initialization. Paystack echoes
// it back with numbers or strings depending on how it was sent, and sends an
// empty string when there is none.
type Metadata struct {
	OrderID   int64  `json:"-"`
	SessionID string `json:"-"`
}

// UnmarshalJSON accepts an object, an empty string, or null.
func (m *Metadata) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		// "" or a JSON-encoded string: treat as absent.
		var s string
		if json.Unmarshal(b, &s) == nil {
			return nil
		}
		return err
	}
	switch v := raw["order_id"].(type) {
	case float64:
		m.OrderID = int64(v)
	case string:
		if id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			m.OrderID = id
		}
	}
	if s, ok := raw["session_id"].(string); ok {
		m.SessionID = s
	}
	return nil
}

// ParseEvent decodes an authenticated webhook body.
func ParseEvent(body []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}
