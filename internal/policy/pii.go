package policy

import (
	"regexp"
	"strings"
)

var (
	emailPattern = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	phonePattern = regexp.MustCompile(`(?:\+?\d[\d()\-\s.]{7,}\d)`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`)
)

// MaskPIIString redacts contact data and card numbers before a prompt is logged.
func MaskPIIString(value string) string {
	masked := cardPattern.ReplaceAllStringFunc(value, maskCardNumber)
	masked = emailPattern.ReplaceAllString(masked, "[email_redacted]")
	masked = phonePattern.ReplaceAllString(masked, "[phone_redacted]")
	return masked
}

// LogExcerpt returns a masked prefix of prompt suitable for log lines.
func LogExcerpt(prompt string, maxRunes int) string {
	masked := strings.Join(strings.Fields(MaskPIIString(prompt)), " ")
	runes := []rune(masked)
	if maxRunes <= 0 || len(runes) <= maxRunes {
		return masked
	}
	return string(runes[:maxRunes]) + "..."
}

func maskCardNumber(value string) string {
	digits := make([]rune, 0, len(value))
	for _, char := range value {
		if char >= '0' && char <= '9' {
			digits = append(digits, char)
		}
	}
	if len(digits) < 8 {
		return "[card_redacted]"
	}
	return "**** **** **** " + string(digits[len(digits)-4:])
}
