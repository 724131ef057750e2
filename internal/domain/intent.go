package domain

import (
	"strings"
)

// Intent is the closed set of labels the classifier may return.
type Intent string

const (
	IntentGreeting            Intent = "greeting"
	IntentSkinConcern         Intent = "skin_concern"
	IntentProductInquiry      Intent = "product_inquiry"
	IntentPricing             Intent = "pricing"
	IntentObjection           Intent = "objection"
	IntentPurchase            Intent = "purchase_intent"
	IntentOrderConfirmation   Intent = "order_confirmation"
	IntentPaymentInitiation   Intent = "payment_initiation"
	IntentPaymentConfirmation Intent = "payment_confirmation"
	IntentSupportRequest      Intent = "support_request"
	IntentUnknown             Intent = "unknown"
)

// Intents lists every known intent in classifier-prompt order.
var Intents = []Intent{
	IntentGreeting,
	IntentSkinConcern,
	IntentProductInquiry,
	IntentPricing,
	IntentObjection,
	IntentPurchase,
	IntentOrderConfirmation,
	IntentPaymentInitiation,
	IntentPaymentConfirmation,
	IntentSupportRequest,
	IntentUnknown,
}

// ParseIntent normalizes a raw classifier label. Unrecognized labels map to IntentUnknown.
func ParseIntent(raw string) Intent {
	label := strings.ToLower(strings.TrimSpace(raw))
	label = strings.Trim(label, "\"'`.")
	label = strings.ReplaceAll(label, " ", "_")
	for _, in := range Intents {
		if label == string(in) {
			return in
		}
	}
	return IntentUnknown
}
