package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/meleki1/salesagent/internal/domain"
)

// StaticGenerator answers from fixed templates.
type StaticGenerator struct{}

// Generate never returns an error.
func (StaticGenerator) Generate(_ context.Context, p Prompt) (string, error) {
	switch p.Purpose {
	case PurposeCollectInfo:
		if len(p.Missing) == 0 {
			return "Thanks! I have everything I need for your order.", nil
		}
		return fmt.Sprintf("Happy to get that ready for you! To prepare your order I still need your %s.", joinFields(p.Missing)), nil
	case PurposePaymentConfirmation:
		var b strings.Builder
		b.WriteString("Payment received, thank you")
		if p.Info.Name != "" {
			b.WriteString(", ")
			b.WriteString(firstName(p.Info.Name))
		}
		b.WriteString("!")
		if p.OrderID != 0 {
			fmt.Fprintf(&b, " Your order #%d is confirmed", p.OrderID)
		} else {
			b.WriteString(" Your order is confirmed")
		}
		if p.Info.Address != "" {
			fmt.Fprintf(&b, " and will be delivered to %s", p.Info.Address)
		}
		b.WriteString(". We're glad to have you with us.")
		return b.String(), nil
	case PurposeReply:
	}

	switch p.Intent {
	case domain.IntentGreeting:
		return "Hello! Welcome to our skincare store. How can I help your skin today?", nil
	case domain.IntentSkinConcern:
		return "I'm sorry you're dealing with that. Tell me a little more about your skin type and I'll recommend something gentle and effective.", nil
	case domain.IntentProductInquiry:
		return "Great question! Our products are made for everyday use on all skin types. Which concern would you like to target?", nil
	case domain.IntentPricing:
		if p.Amount > 0 {
			return fmt.Sprintf("The full routine is %s, delivered to your door.", domain.FormatNaira(p.Amount)), nil
		}
		return "Our prices are fair and include delivery. Would you like to place an order?", nil
	case domain.IntentObjection:
		return "I understand. Our customers usually see results within a few weeks, and we're here to help if you have any questions.", nil
	case domain.IntentSupportRequest:
		return "I'm here to help. Could you share a few details so I can look into it for you?", nil
	case domain.IntentOrderConfirmation:
		return "Let's get your order started first. Just tell me you'd like to buy and I'll take your details.", nil
	case domain.IntentPaymentInitiation:
		return "Before we can take payment I'll need to confirm your order details.", nil
	case domain.IntentPaymentConfirmation:
		return "Thank you! If you've made a payment, you'll receive a confirmation here shortly.", nil
	}
	return "I'm happy to help with anything skincare related. What would you like to know?", nil
}

func joinFields(fields []string) string {
	names := make([]string, len(fields))
	for i, f := range fields {
		if f == "address" {
			f = "delivery address"
		}
		names[i] = f
	}
	switch len(names) {
	case 1:
		return names[0]
	case 2:
		return names[0] + " and " + names[1]
	}
	return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
}

func firstName(name string) string {
	if i := strings.IndexByte(name, ' '); i > 0 {
		return name[:i]
	}
	return name
}
