package extract

import (
	"github.com/meleki1/salesagent/internal/domain"
)

// Extractor holds the ordered rule list for every customer field.
type Extractor struct {
	Name    []Rule
	Email   []Rule
	Phone   []Rule
	Address []Rule
}

// Default returns the extractor used by the dialog router.
func Default() Extractor {
	return Extractor{
		Name:    NameRules,
		Email:   EmailRules,
		Phone:   PhoneRules,
		Address: AddressRules,
	}
}

// Extract runs the default extractor over messages.
func Extract(messages []domain.Message) domain.CustomerInfo {
	return Default().Extract(messages)
}

// Extract scans user messages in log order. For each field the earliest
// message that satisfies any rule wins; within one message rules are tried in order.
func (e Extractor) Extract(messages []domain.Message) domain.CustomerInfo {
	var info domain.CustomerInfo
	info.Name, _ = FirstMatch(e.Name, messages)
	info.Email, _ = FirstMatch(e.Email, messages)
	info.Phone, _ = FirstMatch(e.Phone, messages)
	info.Address, _ = FirstMatch(e.Address, messages)
	return info
}

// FirstMatch returns the first successful rule match across user messages.
func FirstMatch(rules []Rule, messages []domain.Message) (string, bool) {
	for _, msg := range messages {
		if msg.Role != domain.RoleUser {
			continue
		}
		for _, rule := range rules {
			if v, ok := rule.Match(msg.Content); ok {
				return v, true
			}
		}
	}
	return "", false
}
