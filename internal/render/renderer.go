package render

import (
	"context"
	"fmt"
	"time"

	"chart2png/internal/chart"
	"chart2png/internal/config"
	"chart2png/internal/infra/chrome"
	"chart2png/internal/infra/logging"
)

// ContentTypePNG is the content type of every successful render.
const ContentTypePNG = "image/png"

// Response mirrors an HTTP response so the renderer can be served as-is.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// PageSource hands out browser pages. *chrome.Provider satisfies it.
type PageSource interface {
	GetPage(ctx context.Context) (chrome.Page, error)
	// Reset discards the browser behind page if it is still the current one.
	Reset(page chrome.Page) error
}

// Renderer draws charts in a browser page and captures the canvas.
type Renderer struct {
	pages   PageSource
	cdn     config.CDNConfig
	timeout time.Duration
}

// New returns a Renderer using the configured CDN sources and render timeout.
func New(pages PageSource, cfg config.Config) *Renderer {
	return &Renderer{
		pages:   pages,
		cdn:     cfg.Render.CDN,
		timeout: cfg.RenderTimeout(),
	}
}

// Render builds the chart page for req, waits until the chart is drawn and
// returns a PNG of the canvas. The page is closed on every path.
func (r *Renderer) Render(ctx context.Context, req chart.Request) (*Response, error) {
	req = req.Normalize()

	html, err := chart.BuildDocument(req, r.cdn)
	if err != nil {
		return nil, err
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	page, err := r.pages.GetPage(ctx)
	if err != nil {
		return nil, err
	}

	png, err := r.capture(ctx, page, req, html)
	if err != nil {
		if chrome.IsSessionInterrupted(err) {
			logging.Warn("Browser session lost; dropping cached browser", "error", err)
			if rerr := r.pages.Reset(page); rerr != nil {
				logging.Warn("Browser reset failed", "error", rerr)
			}
		}
		return nil, err
	}

	return &Response{
		StatusCode: 200,
		Headers:    map[string]string{"Content-Type": ContentTypePNG},
		Body:       png,
	}, nil
}

func (r *Renderer) capture(ctx context.Context, page chrome.Page, req chart.Request, html string) ([]byte, error) {
	defer func() {
		if err := page.Close(); err != nil {
			logging.Warn("Page close failed", "error", err)
		}
	}()

	page.OnConsole(func(level, text string) {
		if level == "exception" || level == "error" {
			logging.Warn("Page error", "level", level, "text", text)
			return
		}
		logging.Debug("Page console", "level", level, "text", text)
	})

	if err := page.SetViewport(ctx, req.Width, req.Height, req.DeviceScaleFactor); err != nil {
		return nil, fmt.Errorf("set viewport: %w", err)
	}
	if err := page.SetContent(ctx, html); err != nil {
		return nil, fmt.Errorf("load chart page: %w", err)
	}
	if err := page.WaitReady(ctx, chart.ReadySelector); err != nil {
		return nil, fmt.Errorf("wait for chart: %w", err)
	}

	png, err := page.Screenshot(ctx, chart.CanvasSelector, true)
	if err != nil {
		return nil, fmt.Errorf("capture canvas: %w", err)
	}
	return png, nil
}
