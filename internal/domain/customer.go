package domain

import (
	"strings"
	"time"
)

// CustomerInfo holds the customer facts extracted from a conversation.
// Empty strings mean "not found yet".
type CustomerInfo struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

// Complete reports whether every field has been found.
func (c CustomerInfo) Complete() bool {
	return len(c.Missing()) == 0
}

// Missing returns the names of absent fields in display order.
func (c CustomerInfo) Missing() []string {
	var missing []string
	if c.Name == "" {
		missing = append(missing, "name")
	}
	if c.Email == "" {
		missing = append(missing, "email")
	}
	if c.Phone == "" {
		missing = append(missing, "phone")
	}
	if c.Address == "" {
		missing = append(missing, "address")
	}
	return missing
}

// Merge fills the empty fields of c from other. Fields already set are never replaced.
func (c CustomerInfo) Merge(other CustomerInfo) CustomerInfo {
	if c.Name == "" {
		c.Name = other.Name
	}
	if c.Email == "" {
		c.Email = other.Email
	}
	if c.Phone == "" {
		c.Phone = other.Phone
	}
	if c.Address == "" {
		c.Address = other.Address
	}
	return c
}

// Summary renders the order summary shown before confirmation.
func (c CustomerInfo) Summary(amount int64) string {
	var b strings.Builder
	b.WriteString("Here is your order summary:\n")
	b.WriteString("Name: " + c.Name + "\n")
	b.WriteString("Email: " + c.Email + "\n")
	b.WriteString("Phone: " + c.Phone + "\n")
	b.WriteString("Delivery address: " + c.Address + "\n")
	if amount > 0 {
		b.WriteString("Total: " + FormatNaira(amount) + "\n")
	}
	b.WriteString("Please reply \"confirm\" if everything is correct.")
	return b.String()
}

// OrderStatus is the lifecycle status of an order. It only moves pending -> paid.
type OrderStatus string

const (
	OrderPending OrderStatus = "pending"
	OrderPaid    OrderStatus = "paid"
)

// PaymentStatus mirrors the gateway's charge status.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentSuccess PaymentStatus = "success"
	PaymentFailed  PaymentStatus = "failed"
)

// Customer is a persisted customer row. SessionID is the only link back to a live session.
type Customer struct {
	ID        int64
	SessionID string
	Name      string
	Email     string
	Phone     string
	Address   string
	CreatedAt time.Time
}

// Order is a persisted order row. Amount is in major currency units.
type Order struct {
	ID         int64
	CustomerID int64
	Amount     int64
	Status     OrderStatus
	CreatedAt  time.Time
	PaidAt     *time.Time
}

// Payment is a persisted payment row keyed by the gateway reference.
// Amount is in minor currency units (kobo).
type Payment struct {
	ID        int64
	OrderID   int64
	Reference string
	Amount    int64
	Status    PaymentStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}
