package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"chart2png/internal/chart"
	"chart2png/internal/config"
	"chart2png/internal/infra/cache"
	"chart2png/internal/infra/chrome"
	"chart2png/internal/infra/logging"
	"chart2png/internal/render"
)

// Renderer turns a chart request into a PNG response.
type Renderer interface {
	Render(ctx context.Context, req chart.Request) (*render.Response, error)
}

// StatsSource reports browser provider state.
type StatsSource interface {
	Stats() chrome.Stats
}

// ChartService bundles configuration and dependencies for chart rendering.
type ChartService struct {
	cfg      config.Config
	renderer Renderer
	stats    StatsSource
	cache    *cache.PNGCache
}

// NewChartService wires a service. stats and pngCache may be nil.
func NewChartService(cfg config.Config, renderer Renderer, stats StatsSource, pngCache *cache.PNGCache) *ChartService {
	return &ChartService{
		cfg:      cfg,
		renderer: renderer,
		stats:    stats,
		cache:    pngCache,
	}
}

// HandleRender renders the chart described by a JSON body.
func (svc *ChartService) HandleRender(c *fiber.Ctx) error {
	body := c.Body()
	if len(body) > svc.cfg.Limits.MaxBodyBytes {
		return fiber.NewError(fiber.StatusRequestEntityTooLarge, fmt.Sprintf("Request body exceeds %d bytes", svc.cfg.Limits.MaxBodyBytes))
	}
	req, err := svc.decode(body)
	if err != nil {
		return err
	}
	return svc.process(c, req)
}

// HandleRenderQuery renders the chart described by the "chart" query
// parameter, which holds the same JSON the POST endpoint accepts.
func (svc *ChartService) HandleRenderQuery(c *fiber.Ctx) error {
	raw := c.Query("chart")
	if raw == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid chart: missing")
	}
	if len(raw) > svc.cfg.Limits.MaxBodyBytes {
		return fiber.NewError(fiber.StatusRequestEntityTooLarge, fmt.Sprintf("Chart parameter exceeds %d bytes", svc.cfg.Limits.MaxBodyBytes))
	}
	req, err := svc.decode([]byte(raw))
	if err != nil {
		return err
	}
	return svc.process(c, req)
}

// HandleChromeStats reports the browser provider state.
func (svc *ChartService) HandleChromeStats(c *fiber.Ctx) error {
	if svc.stats == nil {
		return c.JSON(fiber.Map{
			"enabled":      false,
			"timeout_secs": svc.cfg.Render.TimeoutSecs,
		})
	}
	st := svc.stats.Stats()
	return c.JSON(fiber.Map{
		"enabled":      st.Enabled,
		"capacity":     st.Capacity,
		"idle":         st.Idle,
		"in_use":       st.InUse,
		"launches":     st.Launches,
		"restarts":     st.Restarts,
		"last_restart": st.LastRestart,
		"timeout_secs": svc.cfg.Render.TimeoutSecs,
	})
}

func (svc *ChartService) decode(raw []byte) (chart.Request, error) {
	req := chart.DefaultRequest()
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, fiber.NewError(fiber.StatusBadRequest, "Invalid JSON: "+err.Error())
	}
	if err := validate(req, svc.cfg); err != nil {
		return req, err
	}
	return req, nil
}

func validate(req chart.Request, cfg config.Config) error {
	switch {
	case req.Type == "":
		return fiber.NewError(fiber.StatusBadRequest, "Invalid type: missing")
	case req.Width <= 0 || req.Width > cfg.Limits.MaxWidth:
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("Invalid width: must be between 1 and %d", cfg.Limits.MaxWidth))
	case req.Height <= 0 || req.Height > cfg.Limits.MaxHeight:
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("Invalid height: must be between 1 and %d", cfg.Limits.MaxHeight))
	case req.DeviceScaleFactor <= 0 || req.DeviceScaleFactor > cfg.Limits.MaxScale:
		return fiber.NewError(fiber.StatusBadRequest, "Invalid deviceScaleFactor: must be above 0 and at most "+strconv.FormatFloat(cfg.Limits.MaxScale, 'f', -1, 64))
	case !req.Style.Valid():
		return fiber.NewError(fiber.StatusBadRequest, "Invalid style: must be 'normal' or 'rough'")
	case !req.FillStyle.Valid():
		return fiber.NewError(fiber.StatusBadRequest, "Invalid fillStyle: not supported")
	}
	return nil
}

// process handles caching and rendering.
func (svc *ChartService) process(c *fiber.Ctx, req chart.Request) error {
	key := cache.Key(req)
	if cached := svc.cache.Get(c.Context(), key); cached != nil {
		c.Set(fiber.HeaderContentType, render.ContentTypePNG)
		c.Set("X-Cache", "HIT")
		return c.Send(cached)
	}

	resp, err := svc.renderer.Render(c.UserContext(), req)
	if err != nil {
		switch {
		case errors.Is(err, chart.ErrInvalidRequest):
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			logging.Error("Chart render timeout", "timeout_secs", svc.cfg.Render.TimeoutSecs, "error", err)
			return fiber.NewError(fiber.StatusRequestTimeout, "Chart rendering took too long")
		case chrome.IsSessionInterrupted(err):
			logging.Error("Browser session interrupted", "error", err)
			return fiber.NewError(fiber.StatusServiceUnavailable, "Browser session interrupted")
		}
		logging.Error("Chart render failed", "error", err)
		return fiber.NewError(fiber.StatusInternalServerError, "Chart rendering failed: "+err.Error())
	}

	if len(resp.Body) > svc.cfg.Limits.MaxPNGBytes {
		return fiber.NewError(fiber.StatusRequestEntityTooLarge, "PNG exceeds allowed size")
	}

	svc.cache.Set(c.Context(), key, resp.Body)

	logging.Info("Chart rendered", "type", req.Type, "bytes", len(resp.Body), "request_id", c.GetRespHeader(fiber.HeaderXRequestID))

	for k, v := range resp.Headers {
		c.Set(k, v)
	}
	c.Set("X-Cache", "MISS")
	return c.Status(resp.StatusCode).Send(resp.Body)
}
