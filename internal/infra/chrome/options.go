package chrome

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/go-rod/rod/lib/launcher"

	"chart2png/internal/config"
)

// LaunchOptions is everything needed to start the browser process.
type LaunchOptions struct {
	Args           []string
	ExecutablePath string
	Headless       bool
	UserDataDir    string
}

// Environment carries the ambient signals the selector looks at.
type Environment struct {
	Region    string
	Debug     bool
	ChromeBin string
}

// EnvironmentFromOS reads the region marker and debug flag named in cfg.
func EnvironmentFromOS(cfg config.ChromeConfig) Environment {
	return Environment{
		Region:    os.Getenv(cfg.RegionEnv),
		Debug:     os.Getenv(cfg.DebugEnv) != "",
		ChromeBin: os.Getenv("CHROME_BIN"),
	}
}

// ErrBrowserNotFound is returned when no executable could be located or downloaded.
var ErrBrowserNotFound = errors.New("chrome executable not found")

// serverlessArgs are tuned for short-lived, memory-constrained containers.
var serverlessArgs = []string{
	"--disable-background-timer-throttling",
	"--disable-breakpad",
	"--disable-client-side-phishing-detection",
	"--disable-default-apps",
	"--disable-dev-shm-usage",
	"--disable-extensions",
	"--disable-features=Vulkan,UseSkiaRenderer,Translate",
	"--disable-gpu",
	"--disable-gpu-compositing",
	"--disable-hang-monitor",
	"--disable-notifications",
	"--disable-popup-blocking",
	"--disable-prompt-on-repost",
	"--disable-sync",
	"--disk-cache-size=33554432",
	"--hide-scrollbars",
	"--metrics-recording-only",
	"--mute-audio",
	"--no-default-browser-check",
	"--no-first-run",
	"--no-pings",
	"--password-store=basic",
	"--use-gl=swiftshader",
	"--use-mock-keychain",
}

// Hooks for tests; production uses go-rod's lookup and downloader.
var (
	lookPath       = launcher.LookPath
	downloadChrome = func(ctx context.Context) (string, error) {
		b := launcher.NewBrowser()
		b.Context = ctx
		return b.Get()
	}
)

// localExecutable is the browser installed on a developer machine.
func localExecutable(goos string) string {
	switch goos {
	case "windows":
		return `C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`
	case "darwin":
		return "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"
	default:
		return "/usr/bin/google-chrome"
	}
}

// SelectLaunchOptions picks the executable, flags and headless mode.
//
// In the development region or with debugging on, a locally installed
// Chrome is used without extra flags; debugging shows the window.
// Everywhere else the serverless flag set is used and the executable is
// resolved from config, CHROME_BIN, the system lookup, and finally a download.
func SelectLaunchOptions(ctx context.Context, cfg config.ChromeConfig, env Environment) (LaunchOptions, error) {
	isDev := cfg.DevRegion != "" && env.Region == cfg.DevRegion
	if isDev || env.Debug {
		exe := cfg.ExecPath
		if exe == "" {
			exe = localExecutable(runtime.GOOS)
		}
		return LaunchOptions{
			Args:           []string{},
			ExecutablePath: exe,
			Headless:       !env.Debug,
		}, nil
	}

	exe, err := resolveExecutable(ctx, cfg, env)
	if err != nil {
		return LaunchOptions{}, err
	}

	args := append([]string(nil), serverlessArgs...)
	if cfg.NoSandbox {
		args = append(args, "--no-sandbox", "--disable-setuid-sandbox", "--no-zygote")
	}
	return LaunchOptions{
		Args:           args,
		ExecutablePath: exe,
		Headless:       true,
		UserDataDir:    cfg.UserDataDir,
	}, nil
}

func resolveExecutable(ctx context.Context, cfg config.ChromeConfig, env Environment) (string, error) {
	if cfg.ExecPath != "" {
		return cfg.ExecPath, nil
	}
	if env.ChromeBin != "" {
		return env.ChromeBin, nil
	}
	if p, ok := lookPath(); ok {
		return p, nil
	}
	if !cfg.AllowDownload {
		return "", ErrBrowserNotFound
	}
	p, err := downloadChrome(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: download failed: %v", ErrBrowserNotFound, err)
	}
	return p, nil
}
