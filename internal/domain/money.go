package domain

import (
	"strconv"
)

// KoboPerNaira converts major to minor currency units.
const KoboPerNaira = 100

// ToKobo converts an amount in naira to kobo.
func ToKobo(naira int64) int64 {
	return naira * KoboPerNaira
}

// FormatNaira renders an amount in naira with thousands separators, e.g. "₦27,000".
func FormatNaira(naira int64) string {
	neg := naira < 0
	if neg {
		naira = -naira
	}
	digits := strconv.FormatInt(naira, 10)
	out := make([]byte, 0, len(digits)+len(digits)/3)
	for i := range len(digits) {
		if i > 0 && (len(digits)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, digits[i])
	}
	if neg {
		return "-₦" + string(out)
	}
	return "₦" + string(out)
}
