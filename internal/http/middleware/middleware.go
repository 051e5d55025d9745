package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
	"github.com/gofiber/fiber/v2/middleware/keyauth"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/xid"

	"chart2png/internal/config"
	"chart2png/internal/infra/apikeys"
	"chart2png/internal/infra/logging"
	"chart2png/internal/infra/ratelimit"
)

const (
	// APIKeyHeader carries the caller's API key.
	APIKeyHeader = "X-API-Key"
	// APIKeyLocal is the fiber locals key holding a validated API key.
	APIKeyLocal = "api_key"
)

// KeyStore validates API keys and reports their rate limits.
type KeyStore interface {
	TokenRater
	Validate(key string) error
	Ready() bool
}

// APIKeyAuth validates X-API-Key against keys. Requests without the header
// pass through unauthenticated and fall under the client limiter.
func APIKeyAuth(keys KeyStore) fiber.Handler {
	return keyauth.New(keyauth.Config{
		KeyLookup:  "header:" + APIKeyHeader,
		ContextKey: APIKeyLocal,
		Validator: func(c *fiber.Ctx, key string) (bool, error) {
			if err := keys.Validate(key); err != nil {
				return false, err
			}
			return true, nil
		},
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions || c.Get(APIKeyHeader) == ""
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// keyauth may pass a nil error.
			status := fiber.StatusUnauthorized
			if err == nil {
				err = fiber.ErrUnauthorized
			}
			if errors.Is(err, apikeys.ErrStoreNotReady) {
				status = fiber.StatusServiceUnavailable
			}
			return c.Status(status).JSON(fiber.Map{
				"error": fiber.Map{
					"code":    status,
					"message": err.Error(),
				},
			})
		},
	})
}

// Register attaches the global middleware chain. keys may be nil, in which
// case API keys are not checked and every caller is a public client.
func Register(app *fiber.App, cfg config.Config, keys KeyStore) {
	store := ratelimit.NewStore(ratelimit.RedisConfig{
		Addr: cfg.Cache.RedisHost,
		DB:   cfg.Cache.RateLimitDB,
	})

	app.Use(cors.New())

	app.Use(requestid.New(requestid.Config{
		Generator: func() string {
			return xid.New().String()
		},
	}))

	app.Use(healthcheck.New(healthcheck.Config{
		LivenessEndpoint:  "/ops/health",
		ReadinessEndpoint: "/ops/ready",
		ReadinessProbe: func(*fiber.Ctx) bool {
			return keys == nil || keys.Ready()
		},
	}))

	rl := RateLimitConfig{
		RateInterval:           cfg.RateLimiter.Interval,
		EnableTokenRateLimiter: keys != nil,
		EnableUserLimiter:      cfg.RateLimiter.EnableUserLimiter || cfg.RateLimiter.UserLimit > 0,
		UserLimit:              cfg.RateLimiter.UserLimit,
	}
	if keys != nil {
		app.Use(APIKeyAuth(keys))
		app.Use(TokenRateLimit(rl, keys, store, NewLimiterCache()))
	}
	app.Use(UserRateLimit(rl, store))

	app.Use(func(c *fiber.Ctx) error {
		requestID := c.Get(fiber.HeaderXRequestID)
		if requestID == "" {
			requestID = c.GetRespHeader(fiber.HeaderXRequestID)
		}
		logging.Info("Incoming request", "method", c.Method(), "path", c.Path(), "request_id", requestID)
		return c.Next()
	})
}
