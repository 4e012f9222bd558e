package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ServerAddr   string   `yaml:"server_addr"`
	TrustProxy   bool     `yaml:"trust_proxy"`
	MaxBodyBytes int64    `yaml:"max_body_bytes"` // bytes for /protect and /validate-domain payloads
	Outputs      []string `yaml:"outputs"`        // enabled audit sinks: log, kafka
	TestMode     bool     `yaml:"test_mode"`

	Log       LogConfig       `yaml:"log"`
	Policy    PolicyConfig    `yaml:"policy"`
	Domain    DomainConfig    `yaml:"domain"`
	Store     StoreConfig     `yaml:"store"`
	Clearance ClearanceConfig `yaml:"clearance"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type LogConfig struct {
	ServiceName string `yaml:"service_name"`
	Level       string `yaml:"level"`
	Format      string `yaml:"format"` // console or json
	File        string `yaml:"file"`
	MaxSize     int    `yaml:"max_size"` // megabytes
	MaxBackups  int    `yaml:"max_backups"`
	MaxAge      int    `yaml:"max_age"` // days
	Compress    bool   `yaml:"compress"`
}

// PolicyConfig carries the scoring and orchestration constants.
type PolicyConfig struct {
	BotThreshold        int           `yaml:"bot_threshold"`
	SuspiciousThreshold int           `yaml:"suspicious_threshold"`
	RepeatThreshold     int           `yaml:"repeat_threshold"`
	RepeatWindow        time.Duration `yaml:"repeat_window"`
	FingerprintTimeout  time.Duration `yaml:"fingerprint_timeout"`
	DetectorTimeout     time.Duration `yaml:"detector_timeout"`
	StoreTimeout        time.Duration `yaml:"store_timeout"`
	ProbeFonts          bool          `yaml:"probe_fonts"`
	ProbeAudio          bool          `yaml:"probe_audio"`
}

// DomainConfig carries the domain-lock and validation endpoint settings.
type DomainConfig struct {
	CanonicalOrigin     string        `yaml:"canonical_origin"`
	AllowedDomains      []string      `yaml:"allowed_domains"`
	AllowContainment    bool          `yaml:"allow_containment"`
	TokenSecret         string        `yaml:"token_secret"`
	TokenTTL            time.Duration `yaml:"token_ttl"`
	ValidatorURL        string        `yaml:"validator_url"`
	HeartbeatFailClosed bool          `yaml:"heartbeat_fail_closed"`

	ScriptTolerance     int `yaml:"script_tolerance"`
	StylesheetTolerance int `yaml:"stylesheet_tolerance"`
	DevtoolsStrikes     int `yaml:"devtools_strikes"`
	ContextMenuStrikes  int `yaml:"context_menu_strikes"`
	ShortcutStrikes     int `yaml:"shortcut_strikes"`
	ViewportStrikes     int `yaml:"viewport_strikes"`
	DOMDriftStrikes     int `yaml:"dom_drift_strikes"`
	ViewportGap         int `yaml:"viewport_gap"`

	DevtoolsDelta     time.Duration `yaml:"devtools_delta"`
	IntegrityInterval time.Duration `yaml:"integrity_interval"`
	DevtoolsInterval  time.Duration `yaml:"devtools_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	InitialDelay      time.Duration `yaml:"initial_delay"`
}

type StoreConfig struct {
	Backend        string `yaml:"backend"` // memory, postgres, redis
	PostgresDSN    string `yaml:"postgres_dsn"`
	BlockedTable   string `yaml:"blocked_table"`
	AccessLogTable string `yaml:"access_log_table"`
	RedisAddr      string `yaml:"redis_addr"`
	RedisPassword  string `yaml:"redis_password"`
	RedisDB        int    `yaml:"redis_db"`
	RedisPrefix    string `yaml:"redis_prefix"`
	// RedisRetention is how long suspicious-access entries live in Redis. It
	// is raised to at least Policy.RepeatWindow.
	RedisRetention time.Duration `yaml:"redis_retention"`
}

type ClearanceConfig struct {
	Secret string        `yaml:"secret"`
	TTL    time.Duration `yaml:"ttl"`
}

type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

func getOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func getBool(k string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(k)))
	switch v {
	case "1", "t", "true", "y", "yes":
		return true
	case "0", "f", "false", "n", "no":
		return false
	}
	return def
}
func getInt64(k string, def int64) int64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}
func getIntEnv(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}
func getFloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

// getDuration accepts Go duration strings ("3s") or bare milliseconds ("3000").
func getDuration(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}

func getStringSlice(k string, def []string) []string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// Default returns the built-in configuration before any file or env overlay.
func Default() Config {
	return Config{
		ServerAddr:   ":19890",
		MaxBodyBytes: 1 << 20, // 1 MiB
		Outputs:      []string{"log"},
		Log: LogConfig{
			ServiceName: "originguard",
			Level:       "info",
			Format:      "console",
			MaxSize:     100,
			MaxBackups:  3,
			MaxAge:      28,
		},
		Policy: PolicyConfig{
			BotThreshold:        50,
			SuspiciousThreshold: 20,
			RepeatThreshold:     3,
			RepeatWindow:        24 * time.Hour,
			FingerprintTimeout:  5 * time.Second,
			DetectorTimeout:     3 * time.Second,
			StoreTimeout:        3 * time.Second,
			ProbeFonts:          true,
			ProbeAudio:          true,
		},
		Domain: DomainConfig{
			TokenTTL:            5 * time.Minute,
			ScriptTolerance:     3,
			StylesheetTolerance: 2,
			DevtoolsStrikes:     10,
			ContextMenuStrikes:  15,
			ShortcutStrikes:     12,
			ViewportStrikes:     8,
			DOMDriftStrikes:     0,
			ViewportGap:         200,
			DevtoolsDelta:       150 * time.Millisecond,
			IntegrityInterval:   5 * time.Second,
			DevtoolsInterval:    3 * time.Second,
			HeartbeatInterval:   30 * time.Second,
			InitialDelay:        2 * time.Second,
		},
		Store: StoreConfig{
			Backend:        "memory",
			BlockedTable:   "blocked_fingerprints",
			AccessLogTable: "access_logs",
			RedisAddr:      "localhost:6379",
			RedisPrefix:    "originguard",
			RedisRetention: 48 * time.Hour,
		},
		Clearance: ClearanceConfig{
			TTL: 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			RPS:     10,
			Burst:   20,
		},
	}
}

// LoadFile overlays a YAML document onto cfg. Keys absent from the file keep their values.
func LoadFile(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Load builds the configuration from defaults, the optional CONFIG_FILE and
// the environment, in that order of precedence (env wins).
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := LoadFile(&cfg, path); err != nil {
			return cfg, err
		}
	}
	applyEnv(&cfg)
	cfg.normalize()
	return cfg, nil
}

func applyEnv(c *Config) {
	c.ServerAddr = getOr("SERVER_ADDR", c.ServerAddr)
	c.TrustProxy = getBool("TRUST_PROXY", c.TrustProxy)
	c.MaxBodyBytes = getInt64("MAX_BODY_BYTES", c.MaxBodyBytes)
	c.Outputs = getStringSlice("OUTPUTS", c.Outputs)
	c.TestMode = getBool("TEST_MODE", c.TestMode)

	c.Log.ServiceName = getOr("LOG_SERVICE_NAME", c.Log.ServiceName)
	c.Log.Level = getOr("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getOr("LOG_FORMAT", c.Log.Format)
	c.Log.File = getOr("LOG_FILE", c.Log.File)
	c.Log.MaxSize = getIntEnv("LOG_MAX_SIZE_MB", c.Log.MaxSize)
	c.Log.MaxBackups = getIntEnv("LOG_MAX_BACKUPS", c.Log.MaxBackups)
	c.Log.MaxAge = getIntEnv("LOG_MAX_AGE_DAYS", c.Log.MaxAge)
	c.Log.Compress = getBool("LOG_COMPRESS", c.Log.Compress)

	p := &c.Policy
	p.BotThreshold = getIntEnv("BOT_THRESHOLD", p.BotThreshold)
	p.SuspiciousThreshold = getIntEnv("SUSPICIOUS_THRESHOLD", p.SuspiciousThreshold)
	p.RepeatThreshold = getIntEnv("REPEAT_SUSPICION_THRESHOLD", p.RepeatThreshold)
	p.RepeatWindow = getDuration("REPEAT_SUSPICION_WINDOW", p.RepeatWindow)
	p.FingerprintTimeout = getDuration("FINGERPRINT_TIMEOUT", p.FingerprintTimeout)
	p.DetectorTimeout = getDuration("DETECTOR_TIMEOUT", p.DetectorTimeout)
	p.StoreTimeout = getDuration("STORE_TIMEOUT", p.StoreTimeout)
	p.ProbeFonts = getBool("PROBE_FONTS", p.ProbeFonts)
	p.ProbeAudio = getBool("PROBE_AUDIO", p.ProbeAudio)

	d := &c.Domain
	d.CanonicalOrigin = getOr("DOMAIN_CANONICAL_ORIGIN", d.CanonicalOrigin)
	d.AllowedDomains = getStringSlice("DOMAIN_ALLOWED", d.AllowedDomains)
	d.AllowContainment = getBool("DOMAIN_ALLOW_CONTAINMENT", d.AllowContainment)
	d.TokenSecret = getOr("DOMAIN_TOKEN_SECRET", d.TokenSecret)
	d.TokenTTL = getDuration("DOMAIN_TOKEN_TTL", d.TokenTTL)
	d.ValidatorURL = getOr("DOMAIN_VALIDATOR_URL", d.ValidatorURL)
	d.HeartbeatFailClosed = getBool("HEARTBEAT_FAIL_CLOSED", d.HeartbeatFailClosed)
	d.ScriptTolerance = getIntEnv("DOM_SCRIPT_TOLERANCE", d.ScriptTolerance)
	d.StylesheetTolerance = getIntEnv("DOM_STYLESHEET_TOLERANCE", d.StylesheetTolerance)
	d.DevtoolsStrikes = getIntEnv("STRIKES_DEVTOOLS", d.DevtoolsStrikes)
	d.ContextMenuStrikes = getIntEnv("STRIKES_CONTEXT_MENU", d.ContextMenuStrikes)
	d.ShortcutStrikes = getIntEnv("STRIKES_SHORTCUT", d.ShortcutStrikes)
	d.ViewportStrikes = getIntEnv("STRIKES_VIEWPORT", d.ViewportStrikes)
	d.DOMDriftStrikes = getIntEnv("STRIKES_DOM_DRIFT", d.DOMDriftStrikes)
	d.ViewportGap = getIntEnv("VIEWPORT_GAP_PX", d.ViewportGap)
	d.DevtoolsDelta = getDuration("DEVTOOLS_DELTA", d.DevtoolsDelta)
	d.IntegrityInterval = getDuration("INTEGRITY_INTERVAL", d.IntegrityInterval)
	d.DevtoolsInterval = getDuration("DEVTOOLS_INTERVAL", d.DevtoolsInterval)
	d.HeartbeatInterval = getDuration("HEARTBEAT_INTERVAL", d.HeartbeatInterval)
	d.InitialDelay = getDuration("INITIAL_VALIDATION_DELAY", d.InitialDelay)

	s := &c.Store
	s.Backend = strings.ToLower(getOr("STORE_BACKEND", s.Backend))
	s.PostgresDSN = getOr("PG_DSN", s.PostgresDSN)
	s.BlockedTable = getOr("PG_BLOCKED_TABLE", s.BlockedTable)
	s.AccessLogTable = getOr("PG_ACCESS_LOG_TABLE", s.AccessLogTable)
	s.RedisAddr = getOr("REDIS_ADDR", s.RedisAddr)
	s.RedisPassword = getOr("REDIS_PASSWORD", s.RedisPassword)
	s.RedisDB = getIntEnv("REDIS_DB", s.RedisDB)
	s.RedisPrefix = getOr("REDIS_PREFIX", s.RedisPrefix)
	s.RedisRetention = getDuration("REDIS_RETENTION", s.RedisRetention)

	c.Clearance.Secret = getOr("CLEARANCE_SECRET", c.Clearance.Secret)
	c.Clearance.TTL = getDuration("CLEARANCE_TTL", c.Clearance.TTL)

	c.RateLimit.Enabled = getBool("RATE_LIMIT_ENABLED", c.RateLimit.Enabled)
	c.RateLimit.RPS = getFloat("RATE_LIMIT_RPS", c.RateLimit.RPS)
	c.RateLimit.Burst = getIntEnv("RATE_LIMIT_BURST", c.RateLimit.Burst)
}

// normalize enforces cross-field invariants after all overlays.
func (c *Config) normalize() {
	if c.Policy.BotThreshold <= 0 {
		c.Policy.BotThreshold = 50
	}
	if c.Policy.SuspiciousThreshold > c.Policy.BotThreshold {
		c.Policy.SuspiciousThreshold = c.Policy.BotThreshold
	}
	if c.Policy.RepeatThreshold <= 0 {
		c.Policy.RepeatThreshold = 3
	}
	if c.Policy.RepeatWindow <= 0 {
		c.Policy.RepeatWindow = 24 * time.Hour
	}
	if c.Store.RedisRetention < c.Policy.RepeatWindow {
		c.Store.RedisRetention = c.Policy.RepeatWindow
	}
	for i, d := range c.Domain.AllowedDomains {
		c.Domain.AllowedDomains[i] = strings.ToLower(strings.TrimSpace(d))
	}
}
