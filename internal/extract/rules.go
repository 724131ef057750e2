// Package extract derives customer facts from a conversation log with
// deterministic, ordered regular-expression rules.
package extract

import (
	"regexp"
	"strings"
	"unicode"
)

// Rule is a single named extraction pattern for one field.
type Rule struct {
	Name  string
	Match func(text string) (string, bool)
}

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

	phoneIntlPattern     = regexp.MustCompile(`\+?234[\s\-]?[789][01]\d[\s\-]?\d{3}[\s\-]?\d{4}\b`)
	phoneNationalPattern = regexp.MustCompile(`\b0[789][01]\d[\s\-]?\d{3}[\s\-]?\d{4}\b`)
	phoneBarePattern     = regexp.MustCompile(`\b\d{10,11}\b`)

	addressKeywordPattern = regexp.MustCompile(`(?i)\b(?:address|deliver|location|ship\s+to|send\s+to)`)
	addressCapturePattern = regexp.MustCompile(
		`(?i)\b(?:delivery\s+address|shipping\s+address|address|deliver(?:y)?(?:\s+(?:it|them))?(?:\s+to)?|location|ship\s+to|send\s+to)` +
			`\s*(?:(?:is|at)\s+|[:\-]\s*)?(.{10,200})`)

	nameExplicitPattern = regexp.MustCompile(`(?i:my\s+name\s+is|name\s*:|call\s+me)\s+([A-Z][A-Za-z'\-]+(?:\s+[A-Z][A-Za-z'\-]+){0,3})`)
	nameIntroPattern    = regexp.MustCompile(`\b(?i:i'?m|i\s+am|this\s+is)\s+([A-Z][A-Za-z'\-]+(?:\s+[A-Z][A-Za-z'\-]+){0,3})`)
	nameLinePattern     = regexp.MustCompile(`^([A-Z][a-z'\-]+(?:\s+[A-Z][a-z'\-]+){1,3})$`)
)

// nameStopWords are capitalised words that commonly start a line but are not names.
var nameStopWords = map[string]struct{}{
	"hello": {}, "hi": {}, "hey": {}, "thanks": {}, "thank": {}, "you": {},
	"yes": {}, "no": {}, "okay": {}, "ok": {}, "please": {}, "good": {},
	"morning": {}, "afternoon": {}, "evening": {}, "pay": {}, "now": {},
	"confirm": {}, "interested": {}, "looking": {}, "ready": {}, "done": {},
	"sure": {}, "fine": {}, "great": {}, "the": {}, "a": {}, "an": {},
}

// EmailRules finds a standard local@domain.tld address.
var EmailRules = []Rule{
	{Name: "email", Match: func(text string) (string, bool) {
		m := emailPattern.FindString(text)
		if m == "" {
			return "", false
		}
		return strings.ToLower(strings.TrimRight(m, ".")), true
	}},
}

// PhoneRules are tried in order: country-code prefixed, leading-zero national, bare digit run.
var PhoneRules = []Rule{
	{Name: "phone_international", Match: phoneMatcher(phoneIntlPattern)},
	{Name: "phone_national", Match: phoneMatcher(phoneNationalPattern)},
	{Name: "phone_bare", Match: phoneMatcher(phoneBarePattern)},
}

// AddressRules capture the text that follows an address keyword.
var AddressRules = []Rule{
	{Name: "address_keyword", Match: matchAddress},
}

// NameRules are tried in order: explicit phrase, self-introduction, standalone capitalised line.
var NameRules = []Rule{
	{Name: "name_explicit", Match: nameMatcher(nameExplicitPattern)},
	{Name: "name_intro", Match: nameMatcher(nameIntroPattern)},
	{Name: "name_line", Match: matchNameLine},
}

func phoneMatcher(re *regexp.Regexp) func(string) (string, bool) {
	return func(text string) (string, bool) {
		m := re.FindString(text)
		if m == "" {
			return "", false
		}
		return normalizePhone(m), true
	}
}

func normalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r == '+' || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func matchAddress(text string) (string, bool) {
	if !addressKeywordPattern.MatchString(text) {
		return "", false
	}
	m := addressCapturePattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	addr := strings.TrimSpace(m[1])
	addr = strings.TrimRight(addr, ".,;:!? ")
	if n := len([]rune(addr)); n < 10 || n > 200 {
		return "", false
	}
	return addr, true
}

func nameMatcher(re *regexp.Regexp) func(string) (string, bool) {
	return func(text string) (string, bool) {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if name, ok := validName(m[1]); ok {
				return name, true
			}
		}
		return "", false
	}
}

func matchNameLine(text string) (string, bool) {
	for _, line := range strings.Split(text, "\n") {
		m := nameLinePattern.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		if name, ok := validName(m[1]); ok {
			return name, true
		}
	}
	return "", false
}

func validName(raw string) (string, bool) {
	name := strings.Join(strings.Fields(raw), " ")
	if n := len([]rune(name)); n < 2 || n > 50 {
		return "", false
	}
	if strings.ContainsFunc(name, unicode.IsDigit) {
		return "", false
	}
	for _, word := range strings.Fields(name) {
		if _, stop := nameStopWords[strings.ToLower(word)]; stop {
			return "", false
		}
	}
	return name, true
}
