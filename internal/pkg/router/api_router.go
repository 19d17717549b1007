package router

import (
	"os"

	"github.com/felimargom/ppss/internal/pkg/constants"
	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// DefaultOpenAPIFile is the API description shipped with the service.
const DefaultOpenAPIFile = "./docs/openapi.yml"

type ApiRouter struct {
	openAPIFile string
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	path := h.openAPIFile
	if path == "" {
		path = DefaultOpenAPIFile
	}
	// swagger.New panics on a missing file
	if _, err := os.Stat(path); err != nil {
		log.Warnf("[Router] OpenAPI file %s not available, /docs/api disabled: %v", path, err)
		return
	}

	app.Use(swagger.New(swagger.Config{
		BasePath: constants.DocsBasePath,
		FilePath: path,
		Path:     constants.DocsPath,
		Title:    "PPSS API",
	}))
}

func NewApiRouter(openAPIFile string) *ApiRouter {
	return &ApiRouter{openAPIFile: openAPIFile}
}
