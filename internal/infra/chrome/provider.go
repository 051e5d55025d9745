package chrome

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chart2png/internal/config"
	"chart2png/internal/infra/logging"
)

// Page is one browser tab owned by a single render.
type Page interface {
	// OnConsole registers fn for console messages and uncaught exceptions.
	OnConsole(fn func(level, text string))
	SetViewport(ctx context.Context, width, height int, scale float64) error
	SetContent(ctx context.Context, html string) error
	WaitReady(ctx context.Context, selector string) error
	Screenshot(ctx context.Context, selector string, omitBackground bool) ([]byte, error)
	Close() error
}

// Browser is a running browser process.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Launcher starts browser processes.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
}

// OptionsFunc produces launch options; it is consulted once per launch.
type OptionsFunc func(ctx context.Context) (LaunchOptions, error)

// ErrProviderClosed is returned by GetPage after Close.
var ErrProviderClosed = errors.New("chrome provider is closed")

// Provider hands out pages from one lazily launched browser.
// The browser lives until Close or Reset; tabs in flight are bounded by MaxTabs.
type Provider struct {
	launcher Launcher
	options  OptionsFunc
	sem      chan struct{}
	acquire  time.Duration

	// launchMu serializes launches; mu only guards the fields below and is
	// never held across a launch.
	launchMu sync.Mutex

	mu          sync.Mutex
	browser     Browser
	closed      bool
	launches    int
	restarts    int
	lastRestart time.Time
}

// Stats is a point-in-time view of the provider.
type Stats struct {
	Enabled     bool      `json:"enabled"`
	Capacity    int       `json:"capacity"`
	Idle        int       `json:"idle"`
	InUse       int       `json:"in_use"`
	Launches    int       `json:"launches"`
	Restarts    int       `json:"restarts"`
	LastRestart time.Time `json:"last_restart"`
}

// NewProvider builds a provider using the environment-driven launch options.
// No browser is started until the first GetPage.
func NewProvider(cfg config.Config, l Launcher) *Provider {
	chromeCfg := cfg.Chrome
	return NewProviderWithOptions(cfg, l, func(ctx context.Context) (LaunchOptions, error) {
		return SelectLaunchOptions(ctx, chromeCfg, EnvironmentFromOS(chromeCfg))
	})
}

// NewProviderWithOptions is NewProvider with an explicit options source.
func NewProviderWithOptions(cfg config.Config, l Launcher, opts OptionsFunc) *Provider {
	p := &Provider{
		launcher: l,
		options:  opts,
		acquire:  cfg.AcquireTimeout(),
	}
	if n := cfg.Chrome.MaxTabs; n > 0 {
		p.sem = make(chan struct{}, n)
		for i := 0; i < n; i++ {
			p.sem <- struct{}{}
		}
	}
	return p
}

// GetPage returns a fresh tab, launching the browser on first use.
// Closing the returned page releases its tab slot.
func (p *Provider) GetPage(ctx context.Context) (Page, error) {
	if err := p.take(ctx); err != nil {
		return nil, err
	}

	b, err := p.ensureBrowser(ctx)
	if err != nil {
		p.give()
		return nil, err
	}

	pg, err := b.NewPage(ctx)
	if err != nil {
		p.give()
		return nil, fmt.Errorf("open page: %w", err)
	}
	return &slotPage{Page: pg, browser: b, release: p.give}, nil
}

func (p *Provider) take(ctx context.Context) error {
	if p.sem == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("wait for free tab: %w", err)
	}
	acquireCtx, cancel := context.WithTimeout(ctx, p.acquire)
	defer cancel()
	select {
	case <-p.sem:
		return nil
	case <-acquireCtx.Done():
		return fmt.Errorf("wait for free tab: %w", acquireCtx.Err())
	}
}

func (p *Provider) give() {
	if p.sem == nil {
		return
	}
	p.sem <- struct{}{}
}

func (p *Provider) ensureBrowser(ctx context.Context) (Browser, error) {
	if b, err := p.cached(); b != nil || err != nil {
		return b, err
	}

	p.launchMu.Lock()
	defer p.launchMu.Unlock()

	// another caller may have launched while we waited
	if b, err := p.cached(); b != nil || err != nil {
		return b, err
	}

	opts, err := p.options(ctx)
	if err != nil {
		return nil, fmt.Errorf("launch options: %w", err)
	}
	logging.Info("Launching browser", "exec_path", opts.ExecutablePath, "headless", opts.Headless, "args", len(opts.Args))

	b, err := p.launcher.Launch(ctx, opts)

	p.mu.Lock()
	p.launches++
	if err != nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	if p.closed {
		p.mu.Unlock()
		if cerr := b.Close(); cerr != nil {
			logging.Warn("Browser close failed", "error", cerr)
		}
		return nil, ErrProviderClosed
	}
	p.browser = b
	p.mu.Unlock()
	return b, nil
}

func (p *Provider) cached() (Browser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrProviderClosed
	}
	return p.browser, nil
}

// Reset drops the browser that served pg so the next GetPage launches a new
// one. When pg came from a browser that was already replaced, Reset does
// nothing. A nil pg drops whatever browser is cached.
func (p *Provider) Reset(pg Page) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrProviderClosed
	}
	if sp, ok := pg.(*slotPage); ok && sp.browser != p.browser {
		logging.Debug("Ignoring reset for a replaced browser")
		return nil
	}
	var err error
	if p.browser != nil {
		err = p.browser.Close()
		p.browser = nil
	}
	p.restarts++
	p.lastRestart = time.Now()
	return err
}

// Close stops the browser. It is safe to call more than once.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	if p.browser == nil {
		return nil
	}
	err := p.browser.Close()
	p.browser = nil
	return err
}

// Stats reports capacity and lifecycle counters.
func (p *Provider) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{
		Enabled:     !p.closed && p.browser != nil,
		Launches:    p.launches,
		Restarts:    p.restarts,
		LastRestart: p.lastRestart,
	}
	if p.sem != nil {
		s.Capacity = cap(p.sem)
		s.Idle = len(p.sem)
		s.InUse = s.Capacity - s.Idle
	}
	return s
}

// slotPage returns its tab slot exactly once when closed.
type slotPage struct {
	Page
	browser Browser
	release func()
	once    sync.Once
}

func (s *slotPage) Close() error {
	var err error
	s.once.Do(func() {
		err = s.Page.Close()
		s.release()
	})
	return err
}
