package chrome

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"chart2png/internal/infra/logging"
)

// CDPLauncher starts Chrome through chromedp's exec allocator.
type CDPLauncher struct{}

var _ Launcher = CDPLauncher{}

// allocatorOptions turns LaunchOptions into chromedp allocator options.
// Flags given in opts.Args win over chromedp's defaults.
func allocatorOptions(opts LaunchOptions) []chromedp.ExecAllocatorOption {
	out := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if opts.ExecutablePath != "" {
		out = append(out, chromedp.ExecPath(opts.ExecutablePath))
	}
	if opts.UserDataDir != "" {
		out = append(out, chromedp.UserDataDir(opts.UserDataDir))
	}
	for _, arg := range opts.Args {
		name, value := splitFlag(arg)
		if name == "" {
			continue
		}
		out = append(out, chromedp.Flag(name, value))
	}
	// headless=false removes the flag entirely
	out = append(out, chromedp.Flag("headless", opts.Headless))
	return out
}

// splitFlag parses "--name=value" or "--name".
func splitFlag(arg string) (string, any) {
	arg = strings.TrimLeft(arg, "-")
	if name, value, ok := strings.Cut(arg, "="); ok {
		return name, value
	}
	return arg, true
}

// Launch starts the browser and waits until its first target is attached.
// The process is detached from ctx; only Close stops it.
func (CDPLauncher) Launch(ctx context.Context, opts LaunchOptions) (Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocatorOptions(opts)...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(format string, args ...any) {
			logging.Warn("chromedp error", "detail", fmt.Sprintf(format, args...))
		}),
	)
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, err
	}
	return &cdpBrowser{ctx: browserCtx, cancelBrowser: cancelBrowser, cancelAlloc: cancelAlloc}, nil
}

type cdpBrowser struct {
	ctx           context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
	once          sync.Once
}

func (b *cdpBrowser) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tabCtx, cancel := chromedp.NewContext(b.ctx)
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, err
	}
	return &cdpPage{ctx: tabCtx, cancel: cancel}, nil
}

func (b *cdpBrowser) Close() error {
	var err error
	b.once.Do(func() {
		err = chromedp.Cancel(b.ctx)
		b.cancelBrowser()
		b.cancelAlloc()
	})
	return err
}

type cdpPage struct {
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// run executes actions on the tab while honouring the caller's ctx.
func (p *cdpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if dl, ok := ctx.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(p.ctx, dl)
	} else {
		runCtx, cancel = context.WithCancel(p.ctx)
	}
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p *cdpPage) OnConsole(fn func(level, text string)) {
	chromedp.ListenTarget(p.ctx, func(ev any) {
		switch e := ev.(type) {
		case *cdpruntime.EventConsoleAPICalled:
			parts := make([]string, 0, len(e.Args))
			for _, arg := range e.Args {
				parts = append(parts, remoteObjectText(arg))
			}
			fn(string(e.Type), strings.Join(parts, " "))
		case *cdpruntime.EventExceptionThrown:
			if e.ExceptionDetails != nil {
				fn("exception", e.ExceptionDetails.Error())
			}
		}
	})
}

func remoteObjectText(o *cdpruntime.RemoteObject) string {
	if o == nil {
		return ""
	}
	if len(o.Value) > 0 {
		raw := string(o.Value)
		if s, err := strconv.Unquote(raw); err == nil {
			return s
		}
		return raw
	}
	return o.Description
}

func (p *cdpPage) SetViewport(ctx context.Context, width, height int, scale float64) error {
	return p.run(ctx, chromedp.EmulateViewport(int64(width), int64(height), chromedp.EmulateScale(scale)))
}

// SetContent replaces the document of a blank tab with html.
func (p *cdpPage) SetContent(ctx context.Context, html string) error {
	return p.run(ctx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			frame, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(frame.Frame.ID, html).Do(ctx)
		}),
	)
}

func (p *cdpPage) WaitReady(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.WaitReady(selector, chromedp.ByQuery))
}

// transparentBackground sends the override by hand: cdp.RGBA drops a zero
// alpha on the wire and Chrome then defaults it to opaque.
var transparentBackground = chromedp.ActionFunc(func(ctx context.Context) error {
	params := map[string]any{
		"color": map[string]any{"r": 0, "g": 0, "b": 0, "a": 0},
	}
	return cdp.Execute(ctx, emulation.CommandSetDefaultBackgroundColorOverride, params, nil)
})

// Screenshot captures the first element matching selector. With omitBackground
// the page background is made transparent for the capture and restored afterwards.
func (p *cdpPage) Screenshot(ctx context.Context, selector string, omitBackground bool) ([]byte, error) {
	var buf []byte
	var actions []chromedp.Action
	if omitBackground {
		actions = append(actions, transparentBackground)
	}
	actions = append(actions, chromedp.Screenshot(selector, &buf, chromedp.ByQuery))
	if omitBackground {
		actions = append(actions, emulation.SetDefaultBackgroundColorOverride())
	}
	if err := p.run(ctx, actions...); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close closes the tab; later calls are no-ops.
func (p *cdpPage) Close() error {
	p.once.Do(p.cancel)
	return nil
}
