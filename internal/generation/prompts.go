package generation

import (
	"strings"

	"github.com/meleki1/salesagent/internal/domain"
)

// SystemPrompt is sent with every generation request.
const SystemPrompt = `You are a professional sales representative for a skincare store.
You guide customers through product selection and help them place an order.

You may greet customers, answer skincare questions, recommend products, explain
benefits, and ask for missing order details (name, email, phone, delivery address).

Payment is handled by the system, not by you. You must never generate, invent or
describe payment links or payment steps. When a payment is outstanding you stay
silent: the system shows the checkout link itself.

Close every message in a supportive, reassuring tone.`

// ClassificationPrompt asks the model for a single intent label.
var ClassificationPrompt = buildClassificationPrompt()

func buildClassificationPrompt() string {
	var b strings.Builder
	b.WriteString("You are an intent classification system for a skincare sales chatbot.\n")
	b.WriteString("Classify the user message into ONE of the following categories:\n\n")
	for _, in := range domain.Intents {
		b.WriteString("- ")
		b.WriteString(string(in))
		b.WriteString("\n")
	}
	b.WriteString("\nRespond with ONLY the intent name. If unsure, respond with \"unknown\".\n")
	return b.String()
}
