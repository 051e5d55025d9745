package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PostgresConfig describes the connection to the API key database.
// Host may also carry a full postgres:// URL, in which case the other fields are ignored.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// CDNConfig lists the script and stylesheet sources embedded in every chart page.
type CDNConfig struct {
	FontFaceObserver string `yaml:"font_face_observer"`
	ChartJS          string `yaml:"chart_js"`
	RoughJS          string `yaml:"rough_js"`
	ChartJSRough     string `yaml:"chart_js_rough"`
	GoogleFonts      string `yaml:"google_fonts"`
}

// ChromeConfig controls how the headless browser is located and launched.
type ChromeConfig struct {
	ExecPath           string `yaml:"exec_path"`
	NoSandbox          bool   `yaml:"no_sandbox"`
	MaxTabs            int    `yaml:"max_tabs"`
	AcquireTimeoutSecs int    `yaml:"acquire_timeout_secs"`
	UserDataDir        string `yaml:"user_data_dir"`
	AllowDownload      bool   `yaml:"allow_download"`

	// Environment markers read by the launch options selector.
	RegionEnv string `yaml:"region_env"`
	DevRegion string `yaml:"dev_region"`
	DebugEnv  string `yaml:"debug_env"`
}

// RenderConfig controls a single chart render.
type RenderConfig struct {
	TimeoutSecs int       `yaml:"timeout_secs"`
	CDN         CDNConfig `yaml:"cdn"`
}

// Config is the full service configuration.
type Config struct {
	Server struct {
		Host    string `yaml:"host"`
		Port    string `yaml:"port"`
		Prefork bool   `yaml:"prefork"`
	} `yaml:"server"`

	Limits struct {
		MaxBodyBytes int     `yaml:"max_body_bytes"`
		MaxPNGBytes  int     `yaml:"max_png_bytes"`
		MaxWidth     int     `yaml:"max_width"`
		MaxHeight    int     `yaml:"max_height"`
		MaxScale     float64 `yaml:"max_scale"`
	} `yaml:"limits"`

	Logger struct {
		File       string `yaml:"file"`
		Level      string `yaml:"level"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logger"`

	Cache struct {
		PNGCacheEnabled bool          `yaml:"png_cache_enabled"`
		PNGCacheTTL     time.Duration `yaml:"png_cache_ttl"`
		RedisHost       string        `yaml:"redis_host"`
		RateLimitDB     int           `yaml:"redis_rate_db"`
		PNGCacheDB      int           `yaml:"redis_png_db"`
	} `yaml:"cache"`

	RateLimiter struct {
		Interval          time.Duration `yaml:"interval"`
		UserLimit         int           `yaml:"user_limit"`
		EnableUserLimiter bool          `yaml:"enable_user_limiter"`
	} `yaml:"rate_limiter"`

	Auth struct {
		Postgres       PostgresConfig `yaml:"postgres"`
		ReloadInterval time.Duration  `yaml:"reload_interval"`
	} `yaml:"auth"`

	Chrome ChromeConfig `yaml:"chrome"`
	Render RenderConfig `yaml:"render"`
}

// Default returns a configuration usable without any file.
func Default() Config {
	var cfg Config
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = ":8080"

	cfg.Limits.MaxBodyBytes = 1 << 20
	cfg.Limits.MaxPNGBytes = 10 << 20
	cfg.Limits.MaxWidth = 4096
	cfg.Limits.MaxHeight = 4096
	cfg.Limits.MaxScale = 4

	cfg.Logger.Level = "info"
	cfg.Logger.MaxSizeMB = 50
	cfg.Logger.MaxBackups = 3
	cfg.Logger.MaxAgeDays = 14

	cfg.Cache.PNGCacheTTL = time.Hour
	cfg.Cache.RedisHost = "127.0.0.1:6379"
	cfg.Cache.PNGCacheDB = 1

	cfg.RateLimiter.Interval = time.Minute

	cfg.Auth.ReloadInterval = time.Minute

	cfg.Chrome.MaxTabs = 4
	cfg.Chrome.AcquireTimeoutSecs = 5
	cfg.Chrome.RegionEnv = "NOW_REGION"
	cfg.Chrome.DevRegion = "dev1"
	cfg.Chrome.DebugEnv = "DEBUG"

	cfg.Render.TimeoutSecs = 30
	cfg.Render.CDN = CDNConfig{
		FontFaceObserver: "https://cdnjs.cloudflare.com/ajax/libs/fontfaceobserver/2.1.0/fontfaceobserver.standalone.js",
		ChartJS:          "https://cdnjs.cloudflare.com/ajax/libs/Chart.js/2.9.3/Chart.bundle.min.js",
		RoughJS:          "https://cdn.jsdelivr.net/npm/roughjs@3.1.0/dist/rough.min.js",
		ChartJSRough:     "https://cdn.jsdelivr.net/npm/chartjs-plugin-rough@0.2.0/dist/chartjs-plugin-rough.min.js",
		GoogleFonts:      "https://fonts.googleapis.com/css",
	}
	return cfg
}

// Load reads the configuration from CONFIG_PATH, or config.yaml when unset.
func Load() Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	return LoadFrom(path)
}

// LoadFrom reads and validates the YAML file at path on top of Default.
// It panics when the file cannot be used; startup must not continue with a broken config.
func LoadFrom(path string) Config {
	raw, err := os.ReadFile(path)
	if err != nil {
		panic(fmt.Sprintf("config: read %s: %v", path, err))
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		panic(fmt.Sprintf("config: parse %s: %v", path, err))
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: %s: %v", path, err))
	}
	return cfg
}

// Validate reports the first invalid value.
func (c Config) Validate() error {
	switch {
	case c.Limits.MaxWidth <= 0 || c.Limits.MaxHeight <= 0:
		return fmt.Errorf("limits.max_width and limits.max_height must be positive")
	case c.Limits.MaxScale <= 0:
		return fmt.Errorf("limits.max_scale must be positive")
	case c.Limits.MaxBodyBytes <= 0 || c.Limits.MaxPNGBytes <= 0:
		return fmt.Errorf("limits.max_body_bytes and limits.max_png_bytes must be positive")
	case c.RateLimiter.Interval <= 0:
		return fmt.Errorf("rate_limiter.interval must be positive")
	case c.RateLimiter.UserLimit < 0:
		return fmt.Errorf("rate_limiter.user_limit must not be negative")
	case c.Chrome.MaxTabs < 0:
		return fmt.Errorf("chrome.max_tabs must not be negative")
	case c.Render.TimeoutSecs <= 0:
		return fmt.Errorf("render.timeout_secs must be positive")
	case c.Render.CDN.ChartJS == "":
		return fmt.Errorf("render.cdn.chart_js must be set")
	}
	return nil
}

// RenderTimeout returns the render deadline as a duration.
func (c Config) RenderTimeout() time.Duration {
	return time.Duration(c.Render.TimeoutSecs) * time.Second
}

// AcquireTimeout returns how long a render waits for a free tab.
func (c Config) AcquireTimeout() time.Duration {
	if c.Chrome.AcquireTimeoutSecs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Chrome.AcquireTimeoutSecs) * time.Second
}
