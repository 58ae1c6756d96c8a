package config

import (
	"net"
	"strings"
	"time"

	logx "versecast/pkg/logx"
)

// Defaults applied by Resolve when a field is omitted.
const (
	DefaultSchedule       = "1m"
	DefaultRunTimeout     = 60 * time.Second
	DefaultHistorySize    = 50
	DefaultModel          = "gpt-4o-mini"
	DefaultTemperature    = 0.7
	DefaultMaxTokens      = 80
	DefaultMaxChars       = 130
	DefaultRewriteTimeout = 8 * time.Second
	DefaultCircuitTrip    = 5
	DefaultCooldown       = 30 * time.Second
	DefaultMaxCooldown    = 10 * time.Minute
	DefaultTopic          = "testing-notification"
	DefaultChannelID      = "bible_reminders"
	DefaultPriority       = "high"
	DefaultPushTimeout    = 5 * time.Second
	DefaultRatePerSec     = 1
	DefaultRetryBase      = 500 * time.Millisecond
	DefaultRetryMaxDelay  = 5 * time.Second
	DefaultRetryJitter    = 0.2
	DefaultOpsAddr        = "127.0.0.1:9464"

	ProviderFCM = "fcm"
	ProviderLog = "log"
)

// Settings is the validated, defaulted runtime view of a Config plus
// the secrets resolved from the environment.
type Settings struct {
	Logging   logx.Config
	Scheduler SchedulerSettings
	Catalog   CatalogConfig
	Rewrite   RewriteSettings
	Push      PushSettings
	Ops       OpsSettings
}

type SchedulerSettings struct {
	Enabled     bool
	Schedule    string
	Timezone    string
	RunTimeout  time.Duration
	RunOnStart  bool
	HistorySize int
}

type RewriteSettings struct {
	Enabled     bool
	Model       string
	BaseURL     string
	APIKey      string // do not log
	Temperature float32
	MaxTokens   int
	MaxChars    int
	Timeout     time.Duration
	Retry       RetrySettings
	Circuit     CircuitSettings
}

// CircuitSettings is the resolved breaker policy. TripFailures 0 means disabled.
type CircuitSettings struct {
	TripFailures int
	Cooldown     time.Duration
	MaxCooldown  time.Duration
}

type PushSettings struct {
	Provider        string
	Topic           string
	ChannelID       string
	Priority        string
	DryRun          bool
	Timeout         time.Duration
	RatePerSec      int
	CredentialsFile string
	ProjectID       string
	Retry           RetrySettings
}

type RetrySettings struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
}

type OpsSettings struct {
	Enabled       bool
	Addr          string
	Token         string // do not log
	AllowInsecure bool
	Pprof         bool
}

// Resolve applies defaults, parses durations, pulls secrets through getenv
// and validates the result. Every error it returns is a *ConfigurationError.
func Resolve(cfg *Config, getenv Getenv) (*Settings, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if getenv == nil {
		getenv = func(string) string { return "" }
	}

	s := &Settings{Catalog: cfg.Catalog}

	// Logging
	if !logx.ValidLevel(cfg.Logging.Level) {
		return nil, Invalid("logging.level", "unknown level "+cfg.Logging.Level)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Format)) {
	case "", "console", "json":
	default:
		return nil, Invalid("logging.format", "must be console or json")
	}
	s.Logging = logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		Format:  cfg.Logging.Format,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	}

	// Scheduler
	sc := cfg.Scheduler
	s.Scheduler = SchedulerSettings{
		Enabled:     boolOr(sc.Enabled, true),
		Schedule:    strings.TrimSpace(sc.Schedule),
		Timezone:    strings.TrimSpace(sc.Timezone),
		RunOnStart:  sc.RunOnStart,
		HistorySize: sc.HistorySize,
	}
	if s.Scheduler.Schedule == "" {
		s.Scheduler.Schedule = DefaultSchedule
	}
	if s.Scheduler.HistorySize <= 0 {
		s.Scheduler.HistorySize = DefaultHistorySize
	}
	if s.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(s.Scheduler.Timezone); err != nil {
			return nil, &ConfigurationError{Field: "scheduler.timezone", Err: err}
		}
	}
	var err error
	if s.Scheduler.RunTimeout, err = ParseDurationOrDefault("scheduler.run_timeout", sc.RunTimeout, DefaultRunTimeout); err != nil {
		return nil, err
	}

	// Catalog
	s.Catalog.Path = strings.TrimSpace(s.Catalog.Path)

	// Rewrite
	rc := cfg.Rewrite
	s.Rewrite = RewriteSettings{
		Enabled:     boolOr(rc.Enabled, true),
		Model:       strOr(rc.Model, DefaultModel),
		BaseURL:     strings.TrimSpace(rc.BaseURL),
		APIKey:      strings.TrimSpace(getenv(EnvOpenAIKey)),
		Temperature: float32(DefaultTemperature),
		MaxTokens:   intOr(rc.MaxTokens, DefaultMaxTokens),
		MaxChars:    intOr(rc.MaxChars, DefaultMaxChars),
	}
	if rc.Temperature != nil {
		// go-openai omits a zero temperature, so 0 would silently become the API default.
		if *rc.Temperature <= 0 || *rc.Temperature > 2 {
			return nil, Invalid("rewrite.temperature", "must be within (0, 2]")
		}
		s.Rewrite.Temperature = float32(*rc.Temperature)
	}
	if s.Rewrite.Timeout, err = ParseDurationOrDefault("rewrite.timeout", rc.Timeout, DefaultRewriteTimeout); err != nil {
		return nil, err
	}
	if s.Rewrite.Retry, err = resolveRetry("rewrite.retry", rc.Retry); err != nil {
		return nil, err
	}
	if s.Rewrite.Circuit, err = resolveCircuit("rewrite.circuit", rc.Circuit); err != nil {
		return nil, err
	}
	if s.Rewrite.Enabled && s.Rewrite.APIKey == "" {
		return nil, &ConfigurationError{Field: EnvOpenAIKey, Err: ErrMissingAPIKey}
	}

	// Push
	pc := cfg.Push
	s.Push = PushSettings{
		Provider:   strings.ToLower(strOr(pc.Provider, ProviderFCM)),
		Topic:      strOr(pc.Topic, DefaultTopic),
		ChannelID:  strOr(pc.ChannelID, DefaultChannelID),
		Priority:   strings.ToLower(strOr(pc.Priority, DefaultPriority)),
		DryRun:     pc.DryRun,
		RatePerSec: intOr(pc.RatePerSec, DefaultRatePerSec),
		ProjectID:  strings.TrimSpace(pc.ProjectID),
	}
	if s.Push.Priority != "high" && s.Push.Priority != "normal" {
		return nil, Invalid("push.priority", "must be high or normal")
	}
	if s.Push.Timeout, err = ParseDurationOrDefault("push.timeout", pc.Timeout, DefaultPushTimeout); err != nil {
		return nil, err
	}
	if s.Push.Retry, err = resolveRetry("push.retry", pc.Retry); err != nil {
		return nil, err
	}
	switch s.Push.Provider {
	case ProviderFCM:
		s.Push.CredentialsFile = credentialsPath(pc.CredentialsFile, getenv)
		if err := checkReadable("push.credentials_file", s.Push.CredentialsFile); err != nil {
			return nil, err
		}
	case ProviderLog:
	default:
		return nil, Invalid("push.provider", "must be fcm or log")
	}

	// Ops
	oc := cfg.Ops
	s.Ops = OpsSettings{
		Enabled:       oc.Enabled,
		Addr:          strOr(oc.Addr, DefaultOpsAddr),
		Token:         strings.TrimSpace(oc.Token),
		AllowInsecure: oc.AllowInsecure,
		Pprof:         oc.Pprof,
	}
	if s.Ops.Enabled {
		host, _, err := net.SplitHostPort(s.Ops.Addr)
		if err != nil {
			return nil, &ConfigurationError{Field: "ops.addr", Err: err}
		}
		if !isLoopbackHost(host) && s.Ops.Token == "" && !s.Ops.AllowInsecure {
			return nil, Invalid("ops.addr", "non-loopback address requires ops.token or ops.allow_insecure")
		}
	}

	return s, nil
}

func resolveRetry(field string, rc RetryConfig) (RetrySettings, error) {
	if rc.MaxAttempts < 0 {
		return RetrySettings{}, Invalid(field+".max_attempts", "must be >= 0")
	}
	if rc.Jitter < 0 || rc.Jitter > 1 {
		return RetrySettings{}, Invalid(field+".jitter", "must be within [0, 1]")
	}
	out := RetrySettings{MaxAttempts: intOr(rc.MaxAttempts, 1), Jitter: rc.Jitter}
	var err error
	if out.BaseDelay, err = ParseDurationOrDefault(field+".base_delay", rc.BaseDelay, DefaultRetryBase); err != nil {
		return RetrySettings{}, err
	}
	if out.MaxDelay, err = ParseDurationOrDefault(field+".max_delay", rc.MaxDelay, DefaultRetryMaxDelay); err != nil {
		return RetrySettings{}, err
	}
	if out.Jitter == 0 {
		out.Jitter = DefaultRetryJitter
	}
	return out, nil
}

func resolveCircuit(field string, cc CircuitConfig) (CircuitSettings, error) {
	if cc.TripFailures < 0 {
		return CircuitSettings{}, nil
	}
	out := CircuitSettings{TripFailures: intOr(cc.TripFailures, DefaultCircuitTrip)}
	var err error
	if out.Cooldown, err = ParseDurationOrDefault(field+".cooldown", cc.Cooldown, DefaultCooldown); err != nil {
		return CircuitSettings{}, err
	}
	if out.MaxCooldown, err = ParseDurationOrDefault(field+".max_cooldown", cc.MaxCooldown, DefaultMaxCooldown); err != nil {
		return CircuitSettings{}, err
	}
	if out.MaxCooldown < out.Cooldown {
		return CircuitSettings{}, Invalid(field+".max_cooldown", "must be >= cooldown")
	}
	return out, nil
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func strOr(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}

func intOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
