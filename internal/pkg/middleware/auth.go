package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
)

// LocalsAdminUser holds the authenticated admin name.
const LocalsAdminUser = "admin_user"

// RequireAdmin protects operator routes with HTTP basic auth. Without
// configured credentials every request is rejected.
func RequireAdmin(user, password string) fiber.Handler {
	return basicauth.New(basicauth.Config{
		Realm: "PPSS",
		Authorizer: func(u, p string) bool {
			if user == "" || password == "" {
				return false
			}
			userOK := subtle.ConstantTimeCompare([]byte(u), []byte(user)) == 1
			passOK := subtle.ConstantTimeCompare([]byte(p), []byte(password)) == 1
			return userOK && passOK
		},
		Unauthorized: func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderWWWAuthenticate, `Basic realm="PPSS"`)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "admin credentials required",
			})
		},
		ContextUsername: LocalsAdminUser,
	})
}
