package paypal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

var (
	ErrInvalidCertURL       = errors.New("paypal: certificate url not allowed")
	ErrCertUntrusted        = errors.New("paypal: certificate not trusted")
	ErrMissingHeader        = errors.New("paypal: missing transmission header")
	ErrUnsupportedAlgorithm = errors.New("paypal: unsupported auth algorithm")
	ErrSignatureMismatch    = errors.New("paypal: signature mismatch")
)

// APIError is a non-success answer of the PayPal REST API.
type APIError struct {
	StatusCode  int
	Name        string `json:"name"`
	Message     string `json:"message"`
	Code        string `json:"error"`
	Description string `json:"error_description"`
	DebugID     string `json:"debug_id"`
}

func newAPIError(status int, body []byte) *APIError {
	e := &APIError{StatusCode: status}
	_ = json.Unmarshal(body, e)
	e.StatusCode = status
	return e
}

// Text returns the most specific message PayPal gave.
func (e *APIError) Text() string {
	for _, s := range []string{e.Description, e.Message, e.Code} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return http.StatusText(e.StatusCode)
}

func (e *APIError) Error() string {
	if e.DebugID != "" {
		return fmt.Sprintf("paypal: status=%d %s (debug_id=%s)", e.StatusCode, e.Text(), e.DebugID)
	}
	return fmt.Sprintf("paypal: status=%d %s", e.StatusCode, e.Text())
}

// UserMessage turns a gateway error into text that can be shown to a buyer
// or an admin.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Text()
	}

	var tokenErr *oauth2.RetrieveError
	if errors.As(err, &tokenErr) {
		if tokenErr.ErrorDescription != "" {
			return tokenErr.ErrorDescription
		}
		if tokenErr.ErrorCode != "" {
			return tokenErr.ErrorCode
		}
		return "PayPal rejected the API credentials"
	}

	return "PayPal is not reachable right now, please try again later"
}
