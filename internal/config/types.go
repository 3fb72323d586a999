// Package config loads and validates the relaydesk configuration.
package config

// Config is the root configuration for relaydesk.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway,omitempty"`
	Redis     RedisConfig     `yaml:"redis,omitempty"`
	Store     StoreConfig     `yaml:"store,omitempty"`
	Limits    LimitsConfig    `yaml:"limits,omitempty"`
	Session   SessionConfig   `yaml:"session,omitempty"`
	SLA       SLAConfig       `yaml:"sla,omitempty"`
	Assignment AssignmentConfig `yaml:"assignment,omitempty"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat,omitempty"`
	AI        AIConfig        `yaml:"ai,omitempty"`
	Logging   LoggingConfig   `yaml:"logging,omitempty"`
}

// GatewayConfig controls the HTTP/WebSocket gateway.
type GatewayConfig struct {
	Port           int         `yaml:"port,omitempty"`
	Bind           string      `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string      `yaml:"customBindHost,omitempty"`
	Auth           GatewayAuth `yaml:"auth,omitempty"`
	AllowedOrigins []string    `yaml:"allowedOrigins,omitempty"`
	MaxMessageLen  int         `yaml:"maxMessageLen,omitempty"` // max inbound chat text length
}

// GatewayAuth configures gateway authentication.
type GatewayAuth struct {
	Mode  string `yaml:"mode,omitempty"` // "token" | "none"
	Token string `yaml:"token,omitempty"`
}

// RedisConfig configures the shared coordination store.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	PoolSize int    `yaml:"poolSize,omitempty"`
}

// StoreConfig configures durable persistence.
type StoreConfig struct {
	Backend string `yaml:"backend,omitempty"` // "sqlite" | "memory"
	Path    string `yaml:"path,omitempty"`
}

// LimitsConfig configures per-owner rate limiting.
type LimitsConfig struct {
	PerMinute int      `yaml:"perMinute,omitempty"`
	PerHour   int      `yaml:"perHour,omitempty"`
	Bypass    []string `yaml:"bypass,omitempty"` // owner IDs never limited
}

// SessionConfig configures conversation sessions.
type SessionConfig struct {
	TTLMinutes    int     `yaml:"ttlMinutes,omitempty"`
	TokenBudget   int     `yaml:"tokenBudget,omitempty"`
	TokensPerChar float64 `yaml:"tokensPerChar,omitempty"`
}

// SLAConfig configures deadlines and the breach sweep.
// Deadline minutes are indexed by priority level.
type SLAConfig struct {
	SweepSeconds       int         `yaml:"sweepSeconds,omitempty"`
	Thresholds         []int       `yaml:"thresholds,omitempty"` // percent of response deadline
	Response           SLADeadlines `yaml:"response,omitempty"`
	Resolution         SLADeadlines `yaml:"resolution,omitempty"`
}

// SLADeadlines holds per-priority deadline durations in minutes.
type SLADeadlines struct {
	Low       int `yaml:"low,omitempty"`
	Medium    int `yaml:"medium,omitempty"`
	High      int `yaml:"high,omitempty"`
	Emergency int `yaml:"emergency,omitempty"`
}

// AssignmentConfig holds the candidate scoring weights.
type AssignmentConfig struct {
	DepartmentWeight float64 `yaml:"departmentWeight,omitempty"`
	LanguageWeight   float64 `yaml:"languageWeight,omitempty"`
	LoadWeight       float64 `yaml:"loadWeight,omitempty"`
}

// HeartbeatConfig configures agent liveness detection.
type HeartbeatConfig struct {
	IntervalSeconds int `yaml:"intervalSeconds,omitempty"`
	MissedLimit     int `yaml:"missedLimit,omitempty"`
}

// AIConfig configures the automated responder.
type AIConfig struct {
	Provider            string  `yaml:"provider,omitempty"` // "echo" | "http"
	Endpoint            string  `yaml:"endpoint,omitempty"`
	APIKey              string  `yaml:"apiKey,omitempty"`
	TimeoutSeconds      int     `yaml:"timeoutSeconds,omitempty"`
	ConfidenceThreshold float64 `yaml:"confidenceThreshold,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	Style string `yaml:"style,omitempty"` // "pretty" | "json"
}
