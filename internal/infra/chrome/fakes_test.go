package chrome

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

type fakePage struct {
	closed atomic.Int32
}

func (p *fakePage) OnConsole(func(level, text string))                       {}
func (p *fakePage) SetViewport(context.Context, int, int, float64) error     { return nil }
func (p *fakePage) SetContent(context.Context, string) error                 { return nil }
func (p *fakePage) WaitReady(context.Context, string) error                  { return nil }
func (p *fakePage) Screenshot(context.Context, string, bool) ([]byte, error) { return []byte("png"), nil }
func (p *fakePage) Close() error {
	p.closed.Add(1)
	return nil
}

type fakeBrowser struct {
	mu     sync.Mutex
	pages  []*fakePage
	closed int
	newErr error
}

func (b *fakeBrowser) NewPage(context.Context) (Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.newErr != nil {
		return nil, b.newErr
	}
	p := &fakePage{}
	b.pages = append(b.pages, p)
	return p, nil
}

func (b *fakeBrowser) Close() error {
	b.mu.Lock()
	b.closed++
	b.mu.Unlock()
	return nil
}

type fakeLauncher struct {
	mu       sync.Mutex
	launches int
	fail     int // number of launches to fail before succeeding
	browsers []*fakeBrowser
	lastOpts LaunchOptions

	// gate, when set, holds every launch until it is closed
	gate    chan struct{}
	waiting atomic.Bool
}

var errLaunch = errors.New("spawn failed")

func (l *fakeLauncher) Launch(_ context.Context, opts LaunchOptions) (Browser, error) {
	if l.gate != nil {
		l.waiting.Store(true)
		<-l.gate
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches++
	l.lastOpts = opts
	if l.fail > 0 {
		l.fail--
		return nil, errLaunch
	}
	b := &fakeBrowser{}
	l.browsers = append(l.browsers, b)
	return b, nil
}

func staticOptions(ctx context.Context) (LaunchOptions, error) {
	return LaunchOptions{ExecutablePath: "/fake/chrome", Headless: true}, nil
}
