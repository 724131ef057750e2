package generation

import (
	"context"
	"strings"
	"unicode"

	"github.com/meleki1/salesagent/internal/domain"
)

// KeywordRule assigns an intent when any phrase occurs as whole words.
type KeywordRule struct {
	Intent  domain.Intent
	Phrases []string
}

// KeywordClassifier is a deterministic classifier. Rules are tried in order;
// the first rule with a matching phrase wins.
type KeywordClassifier struct {
	Rules []KeywordRule
}

// NewKeywordClassifier returns the default rule set. Checkout intents come
// first so "yes, pay now" is never read as a plain confirmation.
func NewKeywordClassifier() KeywordClassifier {
	return KeywordClassifier{Rules: []KeywordRule{
		{domain.IntentPaymentConfirmation, []string{"i have paid", "i've paid", "ive paid", "i paid", "just paid", "payment done", "payment made", "made the payment", "made payment"}},
		{domain.IntentPaymentInitiation, []string{"pay now", "paynow", "proceed to pay", "proceed to payment", "make payment", "make the payment", "i want to pay", "ready to pay", "send the link", "payment link", "checkout"}},
		{domain.IntentOrderConfirmation, []string{"confirm", "confirmed", "yes", "yes please", "yep", "correct", "that's correct", "that's right", "go ahead", "proceed", "looks good"}},
		{domain.IntentSupportRequest, []string{"where is my order", "track my order", "refund", "complaint", "delivery status"}},
		{domain.IntentPurchase, []string{"buy", "purchase", "order", "i'll take", "i will take", "i want to get", "add to cart", "get one"}},
		{domain.IntentObjection, []string{"too expensive", "expensive", "too much", "not sure", "cheaper", "can't afford", "discount"}},
		{domain.IntentPricing, []string{"price", "prices", "cost", "how much", "pricing"}},
		{domain.IntentSkinConcern, []string{"acne", "pimple", "pimples", "dry skin", "oily", "wrinkle", "wrinkles", "dark spot", "dark spots", "eczema", "hyperpigmentation", "sensitive skin", "breakout", "breakouts"}},
		{domain.IntentProductInquiry, []string{"product", "products", "serum", "cream", "cleanser", "moisturizer", "moisturiser", "sunscreen", "toner", "recommend", "ingredients"}},
		{domain.IntentSupportRequest, []string{"help", "track", "tracking", "support"}},
		{domain.IntentGreeting, []string{"hello", "hi", "hey", "good morning", "good afternoon", "good evening"}},
	}}
}

// Classify never returns an error.
func (k KeywordClassifier) Classify(_ context.Context, text string) (domain.Intent, error) {
	padded := " " + normalize(text) + " "
	for _, rule := range k.Rules {
		for _, phrase := range rule.Phrases {
			if strings.Contains(padded, " "+phrase+" ") {
				return rule.Intent, nil
			}
		}
	}
	return domain.IntentUnknown, nil
}

// normalize lowercases and collapses everything but letters, digits and
// apostrophes into single spaces.
func normalize(text string) string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	return strings.Join(fields, " ")
}
