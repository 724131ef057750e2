package domain

import (
	"testing"
)

func TestParseIntent(t *testing.T) {
	t.Parallel()

	tests := map[string]Intent{
		"purchase_intent":      IntentPurchase,
		"  Payment_Initiation": IntentPaymentInitiation,
		"\"greeting\".":        IntentGreeting,
		"order confirmation":   IntentOrderConfirmation,
		"something else":       IntentUnknown,
		"":                     IntentUnknown,
	}
	for raw, want := range tests {
		if got := ParseIntent(raw); got != want {
			t.Errorf("ParseIntent(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestCustomerInfoMergeNeverRetracts(t *testing.T) {
	t.Parallel()

	base := CustomerInfo{Email: "ada@example.com"}
	merged := base.Merge(CustomerInfo{Email: "other@example.com", Name: "Ada Lovelace"})

	if merged.Email != "ada@example.com" {
		t.Fatalf("expected existing email to be kept, got %q", merged.Email)
	}
	if merged.Name != "Ada Lovelace" {
		t.Fatalf("expected name to be filled, got %q", merged.Name)
	}
	if merged.Complete() {
		t.Fatal("expected info to be incomplete")
	}
	missing := merged.Missing()
	if len(missing) != 2 || missing[0] != "phone" || missing[1] != "address" {
		t.Fatalf("unexpected missing fields: %v", missing)
	}
}

func TestFormatNaira(t *testing.T) {
	t.Parallel()

	tests := map[int64]string{
		0:       "₦0",
		999:     "₦999",
		27000:   "₦27,000",
		1234567: "₦1,234,567",
	}
	for in, want := range tests {
		if got := FormatNaira(in); got != want {
			t.Errorf("FormatNaira(%d) = %q, want %q", in, got, want)
		}
	}
	if ToKobo(27000) != 2700000 {
		t.Fatalf("unexpected kobo conversion: %d", ToKobo(27000))
	}
}
