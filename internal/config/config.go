package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/brogergvhs/coverd/internal/extract"
)

const (
	DefaultSourceURL      = "https://jnovels.com/top-light-novels-to-read/"
	DefaultRelayBase      = "https://api.allorigins.win/raw?url="
	DefaultSearchTemplate = "https://jnovels.com/?s=%s"

	DefaultFallbackImage = `data:image/svg+xml,%3Csvg xmlns="http://www.w3.org/2000/svg" ` +
		`width="200" height="300" viewBox="0 0 200 300"%3E%3Crect width="100%" ` +
		`height="100%" fill="%23f0f0f0"/%3E%3Ctext x="50%" y="50%" dominant-baseline=` +
		`"middle" text-anchor="middle" font-family="Arial, sans-serif" font-size="16" ` +
		`fill="%23999"%3EImage not available%3C/text%3E%3C/svg%3E`
)

type Config struct {
	Output string `yaml:"output"`
	Debug  bool   `yaml:"debug"`

	SourceURL         string `yaml:"source_url"`
	RelayBase         string `yaml:"relay_base"`
	SearchURLTemplate string `yaml:"search_url_template"`
	FallbackImage     string `yaml:"fallback_image"`
	ProxyImages       bool   `yaml:"proxy_images"`
	CloudflareBypass  bool   `yaml:"cloudflare_bypass"`

	Cookie     string `yaml:"cookie"`
	CookieFile string `yaml:"cookie_file"`
	UserAgent  string `yaml:"user_agent"`

	BatchSize        int `yaml:"batch_size"`
	ImageWorkers     int `yaml:"image_workers"`
	MaxRetries       int `yaml:"max_retries"`
	RetryDelayMs     int `yaml:"retry_delay_ms"`
	SearchDebounceMs int `yaml:"search_debounce_ms"`
	FetchTimeoutMs   int `yaml:"fetch_timeout_ms"`
	ErrorDisplayMs   int `yaml:"error_display_ms"`

	ObserverThreshold    float64 `yaml:"observer_threshold"`
	ObserverRootMarginPx int     `yaml:"observer_root_margin_px"`

	DarkTheme   bool `yaml:"dark_theme"`
	GridDensity int  `yaml:"grid_density"`

	CacheBackend     string  `yaml:"cache_backend"`
	CacheDir         string  `yaml:"cache_dir"`
	RedisAddr        string  `yaml:"redis_addr"`
	CacheBudgetBytes int64   `yaml:"cache_budget_bytes"`
	ClearOnStart     bool    `yaml:"clear_on_start"`
	ClearOnExit      bool    `yaml:"clear_on_exit"`
	FreshCheck       bool    `yaml:"fresh_check"`
	FreshRatePerSec  float64 `yaml:"fresh_rate_per_sec"`

	Selectors extract.Selectors `yaml:"selectors"`
}

// Options are CLI overrides. Zero values leave the profile untouched.
type Options struct {
	IgnoreConfig bool
	Debug        bool

	Output           string
	SourceURL        string
	RelayBase        string
	BatchSize        int
	ImageWorkers     int
	MaxRetries       int
	CacheBackend     string
	CacheDir         string
	RedisAddr        string
	Cookie           string
	CookieFile       string
	UserAgent        string
	GridDensity      int
	Dark             bool
	ProxyImages      bool
	CloudflareBypass bool
	KeepCache        bool
	FreshCheck       bool
}

func DefaultConfig() *Config {
	return &Config{
		Output: "coverd-grid",
		Debug:  false,

		SourceURL:         DefaultSourceURL,
		RelayBase:         DefaultRelayBase,
		SearchURLTemplate: DefaultSearchTemplate,
		FallbackImage:     DefaultFallbackImage,
		ProxyImages:       false,
		CloudflareBypass:  false,

		BatchSize:        40,
		ImageWorkers:     5,
		MaxRetries:       3,
		RetryDelayMs:     1000,
		SearchDebounceMs: 300,
		FetchTimeoutMs:   10000,
		ErrorDisplayMs:   5000,

		ObserverThreshold:    0.2,
		ObserverRootMarginPx: 250,

		DarkTheme:   false,
		GridDensity: 4,

		CacheBackend:     "memory",
		CacheBudgetBytes: 80 << 20,
		ClearOnStart:     true,
		ClearOnExit:      true,
		FreshCheck:       false,
		FreshRatePerSec:  2,

		Selectors: extract.DefaultSelectors(),
	}
}

func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

func (c *Config) SearchDebounce() time.Duration {
	return time.Duration(c.SearchDebounceMs) * time.Millisecond
}

func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutMs) * time.Millisecond
}

func (c *Config) ErrorDisplay() time.Duration {
	return time.Duration(c.ErrorDisplayMs) * time.Millisecond
}

func SaveYAML(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// loadYAML decodes path over the defaults, so keys missing from an older
// profile keep their default value.
func loadYAML(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	c := DefaultConfig()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, err
	}

	return c, nil
}

func LoadMerged(opts Options) (*Config, string, error) {
	if opts.IgnoreConfig {
		cfg := DefaultConfig()
		mergeConfig(cfg, opts)
		normalizeDefaults(cfg)
		return cfg, "(ignored config)", nil
	}

	activePath, err := ActiveConfigPath()
	if errors.Is(err, ErrNoConfig) || activePath == "" {
		cfg := DefaultConfig()
		mergeConfig(cfg, opts)
		normalizeDefaults(cfg)
		return cfg, "(default config in memory)\nRun `coverd config init` to create an actual config\n", nil
	}
	if err != nil {
		return nil, "", err
	}

	cfg, err := loadYAML(activePath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config %s: %w", activePath, err)
	}

	mergeConfig(cfg, opts)
	normalizeDefaults(cfg)

	return cfg, activePath, nil
}

func mergeConfig(c *Config, o Options) {
	if o.Debug {
		c.Debug = true
	}
	if o.Output != "" {
		c.Output = o.Output
	}
	if o.SourceURL != "" {
		c.SourceURL = o.SourceURL
	}
	if o.RelayBase != "" {
		c.RelayBase = o.RelayBase
	}
	if o.BatchSize != 0 {
		c.BatchSize = o.BatchSize
	}
	if o.ImageWorkers != 0 {
		c.ImageWorkers = o.ImageWorkers
	}
	if o.MaxRetries != 0 {
		c.MaxRetries = o.MaxRetries
	}
	if o.CacheBackend != "" {
		c.CacheBackend = o.CacheBackend
	}
	if o.CacheDir != "" {
		c.CacheDir = o.CacheDir
	}
	if o.RedisAddr != "" {
		c.RedisAddr = o.RedisAddr
	}
	if o.Cookie != "" {
		c.Cookie = o.Cookie
	}
	if o.CookieFile != "" {
		c.CookieFile = o.CookieFile
	}
	if o.UserAgent != "" {
		c.UserAgent = o.UserAgent
	}
	if o.GridDensity != 0 {
		c.GridDensity = o.GridDensity
	}
	if o.Dark {
		c.DarkTheme = true
	}
	if o.ProxyImages {
		c.ProxyImages = true
	}
	if o.CloudflareBypass {
		c.CloudflareBypass = true
	}
	if o.KeepCache {
		c.ClearOnStart = false
		c.ClearOnExit = false
	}
	if o.FreshCheck {
		c.FreshCheck = true
	}
}

func normalizeDefaults(c *Config) {
	d := DefaultConfig()

	if c.Output == "" {
		c.Output = d.Output
	}
	if c.SourceURL == "" {
		c.SourceURL = d.SourceURL
	}
	if c.SearchURLTemplate == "" {
		c.SearchURLTemplate = d.SearchURLTemplate
	}
	if c.FallbackImage == "" {
		c.FallbackImage = d.FallbackImage
	}
	if c.BatchSize == 0 {
		c.BatchSize = d.BatchSize
	}
	if c.ImageWorkers == 0 {
		c.ImageWorkers = d.ImageWorkers
	}
	if c.FetchTimeoutMs == 0 {
		c.FetchTimeoutMs = d.FetchTimeoutMs
	}
	if c.ErrorDisplayMs == 0 {
		c.ErrorDisplayMs = d.ErrorDisplayMs
	}
	if c.GridDensity == 0 {
		c.GridDensity = d.GridDensity
	}
	if c.CacheBackend == "" {
		c.CacheBackend = d.CacheBackend
	}
	if c.CacheBudgetBytes == 0 {
		c.CacheBudgetBytes = d.CacheBudgetBytes
	}

	c.CacheBackend = strings.ToLower(strings.TrimSpace(c.CacheBackend))
	c.Selectors = c.Selectors.WithDefaults()
}

// Validate checks ranges and selector syntax.
func (c *Config) Validate() error {
	var errs []error

	if u, err := url.Parse(c.SourceURL); err != nil || !u.IsAbs() {
		errs = append(errs, fmt.Errorf("source_url must be an absolute URL, got %q", c.SourceURL))
	}
	if !strings.Contains(c.SearchURLTemplate, "%s") {
		errs = append(errs, fmt.Errorf("search_url_template must contain %%s"))
	}
	if c.BatchSize < 1 || c.BatchSize > 1000 {
		errs = append(errs, fmt.Errorf("batch_size must be between 1 and 1000, got %d", c.BatchSize))
	}
	if c.ImageWorkers < 1 || c.ImageWorkers > 64 {
		errs = append(errs, fmt.Errorf("image_workers must be between 1 and 64, got %d", c.ImageWorkers))
	}
	if c.MaxRetries < 0 || c.MaxRetries > 10 {
		errs = append(errs, fmt.Errorf("max_retries must be between 0 and 10, got %d", c.MaxRetries))
	}
	if c.RetryDelayMs < 0 || c.SearchDebounceMs < 0 || c.FetchTimeoutMs < 0 || c.ErrorDisplayMs < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	if c.ObserverThreshold < 0 || c.ObserverThreshold > 1 {
		errs = append(errs, fmt.Errorf("observer_threshold must be within [0, 1], got %g", c.ObserverThreshold))
	}
	if c.GridDensity < 1 || c.GridDensity > 12 {
		errs = append(errs, fmt.Errorf("grid_density must be between 1 and 12, got %d", c.GridDensity))
	}
	if c.CacheBudgetBytes <= 0 {
		errs = append(errs, fmt.Errorf("cache_budget_bytes must be positive"))
	}
	switch c.CacheBackend {
	case "memory", "sqlite", "redis":
	default:
		errs = append(errs, fmt.Errorf("cache_backend must be memory, sqlite or redis, got %q", c.CacheBackend))
	}
	if c.FreshRatePerSec < 0 {
		errs = append(errs, fmt.Errorf("fresh_rate_per_sec must not be negative"))
	}
	if err := extract.ValidateSelectors(c.Selectors); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (c *Config) Print() {
	fmt.Printf(" -output: %s\n", c.Output)
	fmt.Printf(" -source_url: %s\n", c.SourceURL)
	if c.RelayBase != "" {
		fmt.Printf(" -relay_base: %s\n", c.RelayBase)
	}
	fmt.Printf(" -search_url_template: %s\n", c.SearchURLTemplate)
	fmt.Printf(" -batch_size: %d\n", c.BatchSize)
	fmt.Printf(" -image_workers: %d\n", c.ImageWorkers)
	fmt.Printf(" -max_retries: %d\n", c.MaxRetries)
	fmt.Printf(" -retry_delay_ms: %d\n", c.RetryDelayMs)
	fmt.Printf(" -search_debounce_ms: %d\n", c.SearchDebounceMs)
	fmt.Printf(" -fetch_timeout_ms: %d\n", c.FetchTimeoutMs)
	fmt.Printf(" -error_display_ms: %d\n", c.ErrorDisplayMs)
	fmt.Printf(" -observer_threshold: %g\n", c.ObserverThreshold)
	fmt.Printf(" -observer_root_margin_px: %d\n", c.ObserverRootMarginPx)
	fmt.Printf(" -grid_density: %d\n", c.GridDensity)
	if c.DarkTheme {
		fmt.Printf(" -dark_theme: %t\n", c.DarkTheme)
	}
	fmt.Printf(" -cache_backend: %s\n", c.CacheBackend)
	if c.CacheDir != "" {
		fmt.Printf(" -cache_dir: %s\n", c.CacheDir)
	}
	if c.CacheBackend == "redis" {
		fmt.Printf(" -redis_addr: %s\n", c.RedisAddr)
	}
	fmt.Printf(" -cache_budget_bytes: %d\n", c.CacheBudgetBytes)
	fmt.Printf(" -clear_on_start: %t\n", c.ClearOnStart)
	fmt.Printf(" -clear_on_exit: %t\n", c.ClearOnExit)
	if c.FreshCheck {
		fmt.Printf(" -fresh_check: %t (%g/s)\n", c.FreshCheck, c.FreshRatePerSec)
	}
	if c.ProxyImages {
		fmt.Printf(" -proxy_images: %t\n", c.ProxyImages)
	}
	if c.CloudflareBypass {
		fmt.Printf(" -cloudflare_bypass: %t\n", c.CloudflareBypass)
	}
	if c.CookieFile != "" {
		fmt.Printf(" -cookie_file: %s\n", c.CookieFile)
	}
	if c.Debug {
		fmt.Printf(" -debug: %t\n", c.Debug)
	}
}
