package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Host               string
	Port               string
	RequestTimeout     time.Duration
	ComputeTimeout     time.Duration
	ImageFetchTimeout  time.Duration
	MaxImageBytes      int64
	MaxRequestBodySize int64

	Engine      string
	StubLatency time.Duration
	Workers     int

	SessionTTL    time.Duration
	SweepInterval time.Duration
	MaxSessions   int

	RateLimit float64
	RateBurst int

	EnableURLSource bool
	CaptureEnabled  bool

	ArtifactDir    string
	AzureAccount   string
	AzureKey       string
	AzureContainer string

	LogLevel string
	LogFile  string
}

// fileConfig mirrors Config for YAML files; durations are Go duration strings
type fileConfig struct {
	Host               string  `yaml:"host"`
	Port               string  `yaml:"port"`
	RequestTimeout     string  `yaml:"request_timeout"`
	ComputeTimeout     string  `yaml:"compute_timeout"`
	ImageFetchTimeout  string  `yaml:"image_fetch_timeout"`
	MaxImageBytes      int64   `yaml:"max_image_bytes"`
	MaxRequestBodySize int64   `yaml:"max_request_body_size"`
	Engine             string  `yaml:"engine"`
	StubLatency        string  `yaml:"stub_latency"`
	Workers            int     `yaml:"workers"`
	SessionTTL         string  `yaml:"session_ttl"`
	SweepInterval      string  `yaml:"sweep_interval"`
	MaxSessions        int     `yaml:"max_sessions"`
	RateLimit          float64 `yaml:"rate_limit"`
	RateBurst          int     `yaml:"rate_burst"`
	EnableURLSource    *bool   `yaml:"enable_url_source"`
	CaptureEnabled     *bool   `yaml:"capture_enabled"`
	ArtifactDir        string  `yaml:"artifact_dir"`
	Azure              struct {
		Account   string `yaml:"account_name"`
		Key       string `yaml:"account_key"`
		Container string `yaml:"container"`
	} `yaml:"azure"`
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

func (c *Config) ServerAddress() string {
	// Trim any whitespace from host and port
	host := strings.TrimSpace(c.Host)
	port := strings.TrimSpace(c.Port)
	return net.JoinHostPort(host, port)
}

// AzureEnabled reports whether blob storage credentials are configured
func (c *Config) AzureEnabled() bool {
	return c.AzureAccount != "" && c.AzureKey != ""
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		Host:               "0.0.0.0",
		Port:               "8080",
		RequestTimeout:     30 * time.Second,
		ComputeTimeout:     10 * time.Second,
		ImageFetchTimeout:  15 * time.Second,
		MaxImageBytes:      5 * 1024 * 1024, // 5MB
		MaxRequestBodySize: 6 * 1024 * 1024,
		Engine:             "stub",
		StubLatency:        1500 * time.Millisecond,
		Workers:            0,
		SessionTTL:         30 * time.Minute,
		SweepInterval:      time.Minute,
		MaxSessions:        1000,
		RateLimit:          20,
		RateBurst:          40,
		EnableURLSource:    false,
		CaptureEnabled:     true,
		LogLevel:           "info",
	}
}

// LoadFromEnv builds the configuration from defaults, the optional YAML file
// named by CONFIG_FILE, and environment variables, in that order
func LoadFromEnv() (*Config, error) {
	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile builds the configuration from defaults and a YAML file only
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.applyFile(path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	setString(&c.Host, fc.Host)
	setString(&c.Port, fc.Port)
	if err := setDuration(&c.RequestTimeout, "request_timeout", fc.RequestTimeout); err != nil {
		return err
	}
	if err := setDuration(&c.ComputeTimeout, "compute_timeout", fc.ComputeTimeout); err != nil {
		return err
	}
	if err := setDuration(&c.ImageFetchTimeout, "image_fetch_timeout", fc.ImageFetchTimeout); err != nil {
		return err
	}
	if err := setDuration(&c.StubLatency, "stub_latency", fc.StubLatency); err != nil {
		return err
	}
	if err := setDuration(&c.SessionTTL, "session_ttl", fc.SessionTTL); err != nil {
		return err
	}
	if err := setDuration(&c.SweepInterval, "sweep_interval", fc.SweepInterval); err != nil {
		return err
	}
	if fc.MaxImageBytes != 0 {
		c.MaxImageBytes = fc.MaxImageBytes
	}
	if fc.MaxRequestBodySize != 0 {
		c.MaxRequestBodySize = fc.MaxRequestBodySize
	}
	setString(&c.Engine, fc.Engine)
	if fc.Workers != 0 {
		c.Workers = fc.Workers
	}
	if fc.MaxSessions != 0 {
		c.MaxSessions = fc.MaxSessions
	}
	if fc.RateLimit != 0 {
		c.RateLimit = fc.RateLimit
	}
	if fc.RateBurst != 0 {
		c.RateBurst = fc.RateBurst
	}
	if fc.EnableURLSource != nil {
		c.EnableURLSource = *fc.EnableURLSource
	}
	if fc.CaptureEnabled != nil {
		c.CaptureEnabled = *fc.CaptureEnabled
	}
	setString(&c.ArtifactDir, fc.ArtifactDir)
	setString(&c.AzureAccount, fc.Azure.Account)
	setString(&c.AzureKey, fc.Azure.Key)
	setString(&c.AzureContainer, fc.Azure.Container)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.LogFile, fc.LogFile)
	return nil
}

func (c *Config) applyEnv() {
	c.Host = getEnvOrDefault("HOST", c.Host)
	c.Port = getEnvOrDefault("PORT", c.Port)
	c.RequestTimeout = parseDurationOrDefault("REQUEST_TIMEOUT", c.RequestTimeout)
	c.ComputeTimeout = parseDurationOrDefault("COMPUTE_TIMEOUT", c.ComputeTimeout)
	c.ImageFetchTimeout = parseDurationOrDefault("IMAGE_FETCH_TIMEOUT", c.ImageFetchTimeout)
	c.MaxImageBytes = parseIntOrDefault("MAX_IMAGE_BYTES", c.MaxImageBytes)
	c.MaxRequestBodySize = parseIntOrDefault("MAX_REQUEST_BODY_SIZE", c.MaxRequestBodySize)
	c.Engine = getEnvOrDefault("ENGINE", c.Engine)
	c.StubLatency = parseDurationOrDefault("STUB_LATENCY", c.StubLatency)
	c.Workers = int(parseIntOrDefault("WORKERS", int64(c.Workers)))
	c.SessionTTL = parseDurationOrDefault("SESSION_TTL", c.SessionTTL)
	c.SweepInterval = parseDurationOrDefault("SWEEP_INTERVAL", c.SweepInterval)
	c.MaxSessions = int(parseIntOrDefault("MAX_SESSIONS", int64(c.MaxSessions)))
	c.RateLimit = parseFloatOrDefault("RATE_LIMIT", c.RateLimit)
	c.RateBurst = int(parseIntOrDefault("RATE_BURST", int64(c.RateBurst)))
	c.EnableURLSource = parseBoolOrDefault("ENABLE_URL_SOURCE", c.EnableURLSource)
	c.CaptureEnabled = parseBoolOrDefault("CAPTURE_ENABLED", c.CaptureEnabled)
	c.ArtifactDir = getEnvOrDefault("ARTIFACT_DIR", c.ArtifactDir)
	c.AzureAccount = getEnvOrDefault("AZURE_ACCOUNT_NAME", c.AzureAccount)
	c.AzureKey = getEnvOrDefault("AZURE_ACCOUNT_KEY", c.AzureKey)
	c.AzureContainer = getEnvOrDefault("AZURE_CONTAINER", c.AzureContainer)
	c.LogLevel = getEnvOrDefault("LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnvOrDefault("LOG_FILE", c.LogFile)
}

// Validate rejects configurations the service cannot run with
func (c *Config) Validate() error {
	// Validate port is numeric and in range
	p, err := strconv.Atoi(strings.TrimSpace(c.Port))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid PORT: %q", c.Port)
	}
	if c.MaxImageBytes <= 0 {
		return fmt.Errorf("MAX_IMAGE_BYTES must be > 0 (got %d)", c.MaxImageBytes)
	}
	if c.MaxRequestBodySize < c.MaxImageBytes {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be >= MAX_IMAGE_BYTES (got %d < %d)", c.MaxRequestBodySize, c.MaxImageBytes)
	}
	if c.RequestTimeout <= 0 || c.ComputeTimeout <= 0 || c.ImageFetchTimeout <= 0 {
		return fmt.Errorf("timeouts must be > 0 (got request=%s, compute=%s, fetch=%s)",
			c.RequestTimeout, c.ComputeTimeout, c.ImageFetchTimeout)
	}
	if c.StubLatency < 0 {
		return fmt.Errorf("STUB_LATENCY must be >= 0 (got %s)", c.StubLatency)
	}
	if c.SessionTTL <= 0 || c.SweepInterval <= 0 {
		return fmt.Errorf("SESSION_TTL and SWEEP_INTERVAL must be > 0 (got ttl=%s, sweep=%s)", c.SessionTTL, c.SweepInterval)
	}
	if c.MaxSessions < 0 {
		return fmt.Errorf("MAX_SESSIONS must be >= 0 (got %d)", c.MaxSessions)
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		return fmt.Errorf("RATE_LIMIT and RATE_BURST must be >= 0")
	}
	if strings.TrimSpace(c.Engine) == "" {
		return fmt.Errorf("ENGINE must not be empty")
	}
	if c.AzureEnabled() && c.AzureContainer == "" {
		return fmt.Errorf("AZURE_CONTAINER is required when Azure credentials are set")
	}
	return nil
}

func setString(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setDuration(dst *time.Duration, key, v string) error {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && duration >= 0 {
			return duration
		}
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func parseFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func parseBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}
