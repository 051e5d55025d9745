package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/redis/go-redis/v9"

	"chart2png/internal/config"
	"chart2png/internal/http/handlers"
	"chart2png/internal/http/middleware"
	"chart2png/internal/infra/cache"
	"chart2png/internal/infra/logging"
)

// Deps are the collaborators the HTTP app is built from. Redis, Stats and
// Keys may be nil.
type Deps struct {
	Config   config.Config
	Redis    *redis.Client
	Renderer handlers.Renderer
	Stats    handlers.StatsSource
	Keys     middleware.KeyStore
}

// New creates and configures the fiber app.
func New(d Deps) *fiber.App {
	cfg := d.Config
	app := fiber.New(fiber.Config{
		Prefork:               cfg.Server.Prefork,
		DisableStartupMessage: true,
		BodyLimit:             bodyLimit(cfg),
		ErrorHandler:          errorHandler,
	})

	middleware.Register(app, cfg, d.Keys)
	registerRoutes(app, d)

	// Ensure all responses, including 404s, return JSON
	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Not Found")
	})

	return app
}

// bodyLimit leaves the handler room to answer oversized bodies with its own 413.
func bodyLimit(cfg config.Config) int {
	if cfg.Limits.MaxBodyBytes <= 0 {
		return 0
	}
	return cfg.Limits.MaxBodyBytes * 2
}

// errorHandler renders every failure as the chart API's JSON envelope. The
// request id is echoed so a failed render can be matched to its log lines.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "Internal Server Error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	}
	requestID := c.GetRespHeader(fiber.HeaderXRequestID)

	if code >= fiber.StatusInternalServerError {
		logging.Error("Chart request failed", "method", c.Method(), "path", c.Path(), "status", code, "request_id", requestID, "error", err)
	} else {
		logging.Warn("Chart request rejected", "method", c.Method(), "path", c.Path(), "status", code, "request_id", requestID, "message", msg)
	}

	body := fiber.Map{
		"code":    code,
		"message": msg,
	}
	if requestID != "" {
		body["request_id"] = requestID
	}
	return c.Status(code).JSON(fiber.Map{"error": body})
}

func registerRoutes(app *fiber.App, d Deps) {
	var pngCache *cache.PNGCache
	if d.Config.Cache.PNGCacheEnabled {
		pngCache = cache.NewPNGCache(d.Redis, d.Config.Cache.PNGCacheTTL)
	}

	// One shared service so GET and POST share the same browser.
	svc := handlers.NewChartService(d.Config, d.Renderer, d.Stats, pngCache)

	v1 := app.Group("/v1")
	v1.Post("/chart", svc.HandleRender)
	v1.Get("/chart", svc.HandleRenderQuery)
	v1.Get("/chrome/stats", svc.HandleChromeStats)
	v1.Get("/monitor", monitor.New())
}
