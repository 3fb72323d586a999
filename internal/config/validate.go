package config

import "fmt"

// ConfigError indicates a malformed config file.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return e.Message }

// Issue is a single validation problem found in a config.
type Issue struct {
	Path    string
	Message string
}

func (i Issue) String() string { return fmt.Sprintf("%s: %s", i.Path, i.Message) }

// Validate checks a loaded config for inconsistencies. It returns all issues
// found rather than stopping at the first.
func Validate(cfg *Config) []Issue {
	var issues []Issue

	if cfg.Gateway.Port < 1 || cfg.Gateway.Port > 65535 {
		issues = append(issues, Issue{"gateway.port", fmt.Sprintf("invalid port %d", cfg.Gateway.Port)})
	}
	switch cfg.Gateway.Bind {
	case "loopback", "lan", "custom":
	default:
		issues = append(issues, Issue{"gateway.bind", "must be one of loopback, lan, custom"})
	}
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost == "" {
		issues = append(issues, Issue{"gateway.customBindHost", "required when bind is custom"})
	}
	switch cfg.Gateway.Auth.Mode {
	case "token", "none":
	default:
		issues = append(issues, Issue{"gateway.auth.mode", "must be token or none"})
	}
	if cfg.Gateway.Auth.Mode == "token" && cfg.Gateway.Auth.Token == "" {
		issues = append(issues, Issue{"gateway.auth.token", "required when auth mode is token"})
	}

	if cfg.Redis.Addr == "" {
		issues = append(issues, Issue{"redis.addr", "required"})
	}

	switch cfg.Store.Backend {
	case "sqlite", "memory":
	default:
		issues = append(issues, Issue{"store.backend", "must be sqlite or memory"})
	}

	if cfg.Limits.PerMinute <= 0 {
		issues = append(issues, Issue{"limits.perMinute", "must be positive"})
	}
	if cfg.Limits.PerHour < cfg.Limits.PerMinute {
		issues = append(issues, Issue{"limits.perHour", "must be at least limits.perMinute"})
	}

	if cfg.Session.TTLMinutes <= 0 {
		issues = append(issues, Issue{"session.ttlMinutes", "must be positive"})
	}
	if cfg.Session.TokenBudget <= 0 {
		issues = append(issues, Issue{"session.tokenBudget", "must be positive"})
	}

	if cfg.SLA.SweepSeconds <= 0 {
		issues = append(issues, Issue{"sla.sweepSeconds", "must be positive"})
	}
	last := 0
	for _, th := range cfg.SLA.Thresholds {
		if th <= last || th > 100 {
			issues = append(issues, Issue{"sla.thresholds", "must be strictly increasing percentages up to 100"})
			break
		}
		last = th
	}
	for _, d := range []struct {
		path string
		dl   SLADeadlines
	}{{"sla.response", cfg.SLA.Response}, {"sla.resolution", cfg.SLA.Resolution}} {
		if d.dl.Low <= 0 || d.dl.Medium <= 0 || d.dl.High <= 0 || d.dl.Emergency <= 0 {
			issues = append(issues, Issue{d.path, "all priority deadlines must be positive"})
		}
	}

	wsum := cfg.Assignment.DepartmentWeight + cfg.Assignment.LanguageWeight + cfg.Assignment.LoadWeight
	if wsum <= 0 {
		issues = append(issues, Issue{"assignment", "scoring weights must sum to a positive value"})
	}

	if cfg.Heartbeat.IntervalSeconds <= 0 {
		issues = append(issues, Issue{"heartbeat.intervalSeconds", "must be positive"})
	}
	if cfg.Heartbeat.MissedLimit <= 0 {
		issues = append(issues, Issue{"heartbeat.missedLimit", "must be positive"})
	}

	switch cfg.AI.Provider {
	case "echo", "http":
	default:
		issues = append(issues, Issue{"ai.provider", "must be echo or http"})
	}
	if cfg.AI.Provider == "http" && cfg.AI.Endpoint == "" {
		issues = append(issues, Issue{"ai.endpoint", "required when ai.provider is http"})
	}
	if cfg.AI.ConfidenceThreshold < 0 || cfg.AI.ConfidenceThreshold > 1 {
		issues = append(issues, Issue{"ai.confidenceThreshold", "must be between 0 and 1"})
	}

	return issues
}
