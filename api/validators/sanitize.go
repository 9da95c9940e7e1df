package validators

import "strings"

// MaxTextLength caps free-text fields such as refund and dispute reasons.
const MaxTextLength = 1000

// SanitizeString trims input and cuts it to maxLen runes.
func SanitizeString(input string, maxLen int) string {
	trimmed := strings.TrimSpace(input)
	if maxLen <= 0 {
		return trimmed
	}
	runes := []rune(trimmed)
	if len(runes) <= maxLen {
		return trimmed
	}
	return strings.TrimSpace(string(runes[:maxLen]))
}

// NormalizeEnum prepares a raw status, scope or gateway value for the enum parsers.
func NormalizeEnum(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}
