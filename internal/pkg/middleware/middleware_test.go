package middleware

import (
	"context"
	"encoding/base64"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/felimargom/ppss/internal/pkg/paypal"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubVerifier struct {
	ok      bool
	gotBody string
	gotID   string
}

func (s *stubVerifier) Verify(_ context.Context, h paypal.TransmissionHeaders, body []byte) bool {
	s.gotBody = string(body)
	s.gotID = h.TransmissionID
	return s.ok
}

type countingStub struct{ names []string }

func (c *countingStub) Add(_ context.Context, name string) error {
	c.names = append(c.names, name)
	return nil
}

func signatureApp(v WebhookVerifier, counts EventCounter) *fiber.App {
	app := fiber.New()
	app.Post("/hook", RequirePayPalSignature(v, counts), func(c *fiber.Ctx) error {
		verified, _ := c.Locals(LocalsWebhookVerified).(bool)
		if !verified {
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		return c.SendString("ok")
	})
	return app
}

func TestRequirePayPalSignature(t *testing.T) {
	tests := []struct {
		name     string
		ok       bool
		status   int
		rejected int
	}{
		{"valid", true, fiber.StatusOK, 0},
		{"invalid", false, fiber.StatusForbidden, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &stubVerifier{ok: tt.ok}
			req := httptest.NewRequest("POST", "/hook", strings.NewReader(`{"id":"WH-1"}`))
			req.Header.Set(paypal.HeaderTransmissionID, "tid-1")

			counts := &countingStub{}
			resp, err := signatureApp(v, counts).Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Len(t, counts.names, tt.rejected)
			assert.Equal(t, `{"id":"WH-1"}`, v.gotBody)
			assert.Equal(t, "tid-1", v.gotID)
		})
	}
}

func TestRequirePayPalSignatureWithoutCounter(t *testing.T) {
	resp, err := signatureApp(&stubVerifier{}, nil).Test(httptest.NewRequest("POST", "/hook", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func adminApp(user, password string) *fiber.App {
	app := fiber.New()
	app.Get("/admin", RequireAdmin(user, password), func(c *fiber.Ctx) error {
		return c.SendString(c.Locals(LocalsAdminUser).(string))
	})
	return app
}

func basic(user, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+password))
}

func TestRequireAdmin(t *testing.T) {
	app := adminApp("ops", "s3cret")

	req := httptest.NewRequest("GET", "/admin", nil)
	req.Header.Set(fiber.HeaderAuthorization, basic("ops", "s3cret"))
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "ops", string(body))

	req = httptest.NewRequest("GET", "/admin", nil)
	req.Header.Set(fiber.HeaderAuthorization, basic("ops", "wrong"))
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/admin", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestRequireAdminWithoutCredentialsRejectsAll(t *testing.T) {
	req := httptest.NewRequest("GET", "/admin", nil)
	req.Header.Set(fiber.HeaderAuthorization, basic("", ""))
	resp, err := adminApp("", "").Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
