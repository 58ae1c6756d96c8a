package config

// Config is the on-disk configuration (YAML or JSON).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Secrets never live here: the API key comes from OPENAI_API_KEY and the
// push credentials from a service-account file (see Resolve).
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Catalog   CatalogConfig   `json:"catalog"`
	Rewrite   RewriteConfig   `json:"rewrite"`
	Push      PushConfig      `json:"push"`
	Ops       OpsConfig       `json:"ops"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	Format  string      `json:"format,omitempty"` // "console" (default) or "json"
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls when the dispatch pipeline runs.
//
// Schedule accepts:
//   - a Go duration ("1m", "2h")
//   - "every:<dur>" / "interval:<dur>"
//   - "cron:<expr>" or a bare cron expression / descriptor ("@hourly")
//   - "at:06:00,12:00,18:00" or a bare "06:00,12:00,18:00" (times of day)
//
// Enabled is a pointer so an omitted key defaults to true.
type SchedulerConfig struct {
	Enabled     *bool  `json:"enabled,omitempty"`
	Schedule    string `json:"schedule"`
	Timezone    string `json:"timezone,omitempty"`
	RunTimeout  string `json:"run_timeout,omitempty"`
	RunOnStart  bool   `json:"run_on_start,omitempty"`
	HistorySize int    `json:"history_size,omitempty"`
}

// CatalogConfig selects the message source. An empty path uses the
// built-in set. Seed 0 means time-seeded selection.
type CatalogConfig struct {
	Path string `json:"path,omitempty"`
	Seed int64  `json:"seed,omitempty"`
}

type RewriteConfig struct {
	Enabled     *bool         `json:"enabled,omitempty"`
	Model       string        `json:"model,omitempty"`
	BaseURL     string        `json:"base_url,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	MaxChars    int           `json:"max_chars,omitempty"`
	Timeout     string        `json:"timeout,omitempty"`
	Retry       RetryConfig   `json:"retry"`
	Circuit     CircuitConfig `json:"circuit"`
}

// CircuitConfig pauses rewrite calls after consecutive transport failures.
// TripFailures 0 uses the default; a negative value disables the breaker.
type CircuitConfig struct {
	TripFailures int    `json:"trip_failures,omitempty"`
	Cooldown     string `json:"cooldown,omitempty"`
	MaxCooldown  string `json:"max_cooldown,omitempty"`
}

// PushConfig controls FCM delivery.
//
// Provider is "fcm" (default) or "log". The log provider writes payloads to
// the logger instead of sending them and needs no credentials.
type PushConfig struct {
	Provider        string      `json:"provider,omitempty"`
	Topic           string      `json:"topic,omitempty"`
	ChannelID       string      `json:"channel_id,omitempty"`
	Priority        string      `json:"priority,omitempty"`
	DryRun          bool        `json:"dry_run,omitempty"`
	Timeout         string      `json:"timeout,omitempty"`
	RatePerSec      int         `json:"rate_per_sec,omitempty"`
	CredentialsFile string      `json:"credentials_file,omitempty"`
	ProjectID       string      `json:"project_id,omitempty"`
	Retry           RetryConfig `json:"retry"`
}

// RetryConfig is a bounded retry-with-backoff policy.
// MaxAttempts counts the first call; 0 or 1 disables retries.
type RetryConfig struct {
	MaxAttempts int     `json:"max_attempts,omitempty"`
	BaseDelay   string  `json:"base_delay,omitempty"`
	MaxDelay    string  `json:"max_delay,omitempty"`
	Jitter      float64 `json:"jitter,omitempty"`
}

// OpsConfig controls the operational HTTP server (/healthz, /metrics, /status, pprof).
//
// Security note: prefer binding to localhost. A non-loopback address needs
// a token or an explicit allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}
