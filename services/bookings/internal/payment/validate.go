package payment

import (
	"strings"

	"github.com/diagnosis/campus-bookings/services/bookings/internal/domain"
)

const (
	minPhoneDigits = 9
	minCardDigits  = 16
	minCVVDigits   = 3
)

// Validate checks the active detail set and returns the first field error.
func Validate(method Method, momo MomoDetails, card CardDetails) *domain.FieldError {
	switch method {
	case MethodMobileMoney:
		if len(digitsOnly(momo.Phone, 0)) < minPhoneDigits {
			return domain.NewFieldError("phone", "Enter a valid mobile money number")
		}
		return nil
	case MethodCard:
		if len(digitsOnly(card.Number, 0)) < minCardDigits {
			return domain.NewFieldError("card_number", "Enter a valid 16-digit card number")
		}
		if !validExpiry(card.Expiry) {
			return domain.NewFieldError("expiry", "Enter expiry as MM/YY")
		}
		if len(digitsOnly(card.CVV, 0)) < minCVVDigits {
			return domain.NewFieldError("cvv", "Enter a valid CVV")
		}
		if strings.TrimSpace(card.HolderName) == "" {
			return domain.NewFieldError("holder_name", "Enter the name on the card")
		}
		return nil
	default:
		return domain.NewFieldError("method", "Choose a payment method")
	}
}

func validExpiry(s string) bool {
	if len(s) != 5 || s[2] != '/' {
		return false
	}
	for _, i := range []int{0, 1, 3, 4} {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	month := int(s[0]-'0')*10 + int(s[1]-'0')
	return month >= 1 && month <= 12
}
