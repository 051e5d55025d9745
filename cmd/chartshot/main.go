// Command chartshot renders one chart request to a PNG file.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/automaxprocs/maxprocs"

	"chart2png/internal/chart"
	"chart2png/internal/config"
	"chart2png/internal/infra/chrome"
	"chart2png/internal/infra/logging"
	"chart2png/internal/render"
)

type options struct {
	config  string
	in      string
	out     string
	timeout time.Duration
	width   int
	height  int
	scale   float64
	style   string
	verbose bool

	changed map[string]bool
}

// renderer is satisfied by *render.Renderer.
type renderer interface {
	Render(ctx context.Context, req chart.Request) (*render.Response, error)
}

func parseFlags(args []string) (*options, error) {
	opts := &options{changed: map[string]bool{}}
	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	fs.StringVarP(&opts.config, "config", "c", "", "config file path")
	fs.StringVarP(&opts.in, "in", "i", "-", "chart request JSON file (- for stdin)")
	fs.StringVarP(&opts.out, "out", "o", "out.png", "output PNG path")
	fs.DurationVar(&opts.timeout, "timeout", 30*time.Second, "render timeout")
	fs.IntVar(&opts.width, "width", chart.DefaultWidth, "chart width in CSS pixels")
	fs.IntVar(&opts.height, "height", chart.DefaultHeight, "chart height in CSS pixels")
	fs.Float64Var(&opts.scale, "scale", chart.DefaultDeviceScaleFactor, "device scale factor")
	fs.StringVar(&opts.style, "style", string(chart.StyleRough), "chart style: normal, rough")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "log browser activity")

	if err := fs.Parse(args[1:]); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	fs.Visit(func(f *flag.Flag) { opts.changed[f.Name] = true })
	return opts, nil
}

// loadRequest reads the request JSON and applies explicitly set flags on top.
func loadRequest(opts *options, stdin io.Reader) (chart.Request, error) {
	var src io.Reader = stdin
	if opts.in != "-" {
		f, err := os.Open(opts.in)
		if err != nil {
			return chart.Request{}, err
		}
		defer f.Close()
		src = f
	}
	raw, err := io.ReadAll(src)
	if err != nil {
		return chart.Request{}, err
	}

	req := chart.DefaultRequest()
	if err := json.Unmarshal(raw, &req); err != nil {
		return chart.Request{}, fmt.Errorf("decode chart request: %w", err)
	}

	if opts.changed["width"] {
		req.Width = opts.width
	}
	if opts.changed["height"] {
		req.Height = opts.height
	}
	if opts.changed["scale"] {
		req.DeviceScaleFactor = opts.scale
	}
	if opts.changed["style"] {
		req.Style = chart.Style(opts.style)
	}

	if req.Type == "" {
		return chart.Request{}, errors.New("chart request has no type")
	}
	if !req.Style.Valid() {
		return chart.Request{}, fmt.Errorf("unknown style %q", req.Style)
	}
	if !req.FillStyle.Valid() {
		return chart.Request{}, fmt.Errorf("unknown fill style %q", req.FillStyle)
	}
	return req, nil
}

func run(ctx context.Context, opts *options, stdin io.Reader, r renderer) error {
	req, err := loadRequest(opts, stdin)
	if err != nil {
		return err
	}

	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	resp, err := r.Render(ctx, req)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	if err := os.WriteFile(opts.out, resp.Body, 0o644); err != nil {
		return err
	}
	logging.Info("Chart written", "path", opts.out, "bytes", len(resp.Body))
	return nil
}

func loadConfig(opts *options) config.Config {
	cfg := config.Default()
	if opts.config != "" {
		cfg = config.LoadFrom(opts.config)
	}
	if cfg.Chrome.ExecPath == "" {
		cfg.Chrome.ExecPath = os.Getenv("CHROME_BIN")
	}
	if opts.timeout > 0 {
		// The context deadline in run governs; keep the renderer from cutting in first.
		cfg.Render.TimeoutSecs = int((opts.timeout + time.Second - 1) / time.Second)
	}
	cfg.Chrome.MaxTabs = 1
	return cfg
}

func main() {
	opts, err := parseFlags(os.Args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	level := "warn"
	if opts.verbose {
		level = "debug"
	}
	logging.InitLogger("", 0, 0, 0, false, level)
	_, _ = maxprocs.Set(maxprocs.Logger(func(string, ...interface{}) {}))

	cfg := loadConfig(opts)
	provider := chrome.NewProvider(cfg, chrome.CDPLauncher{})

	err = run(context.Background(), opts, os.Stdin, render.New(provider, cfg))
	if cerr := provider.Close(); cerr != nil {
		logging.Warn("Browser close failed", "error", cerr)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
