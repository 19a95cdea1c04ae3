package payment

import (
	"strings"
	"unicode"
)

const (
	cardDigits   = 16
	expiryDigits = 4
	phoneDigits  = 10
	cvvDigits    = 4
)

// digitsOnly strips everything but ASCII digits and keeps at most limit of them.
// limit <= 0 means no cap.
func digitsOnly(s string, limit int) string {
	var b strings.Builder
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsDigit(r) {
			continue
		}
		if limit > 0 && b.Len() >= limit {
			break
		}
		b.WriteRune(r)
	}
	return b.String()
}

// FormatCardNumber groups up to 16 digits in blocks of four.
func FormatCardNumber(input string) string {
	d := digitsOnly(input, cardDigits)
	var b strings.Builder
	for i, r := range d {
		if i > 0 && i%4 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// FormatExpiry keeps four digits and inserts "/" once the month is typed.
func FormatExpiry(input string) string {
	d := digitsOnly(input, expiryDigits)
	if len(d) >= 2 {
		return d[:2] + "/" + d[2:]
	}
	return d
}

// FormatPhone strips non-digits and caps the number at ten digits.
func FormatPhone(input string) string {
	return digitsOnly(input, phoneDigits)
}

func formatCVV(input string) string {
	return digitsOnly(input, cvvDigits)
}

func maskCard(number string) string {
	d := digitsOnly(number, 0)
	if len(d) <= 4 {
		return d
	}
	return strings.Repeat("*", len(d)-4) + d[len(d)-4:]
}
