package billing

import (
	"fmt"
	"strings"
)

// ReasonOther is the code for a free text cancellation reason.
const ReasonOther = "other"

var cancelReasons = map[string]string{
	"1": "The site is hard to navigate",
	"2": "The price is too high",
	"3": "I no longer need the service",
	"4": "I switched to another platform",
}

// maxReasonLength is PayPal's limit for the cancel reason field.
const maxReasonLength = 128

// CancelReason turns a reason code from the cancel form into the text sent to
// PayPal. Code "5" and "other" take the free text in other.
func CancelReason(code, other string) (string, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if text, ok := cancelReasons[code]; ok {
		return text, nil
	}
	if code != ReasonOther && code != "5" {
		return "", fmt.Errorf("%w: unknown code %q", ErrInvalidReason, code)
	}

	other = strings.Join(strings.Fields(other), " ")
	if other == "" {
		return "", ErrInvalidReason
	}
	if r := []rune(other); len(r) > maxReasonLength {
		other = string(r[:maxReasonLength])
	}
	return other, nil
}
