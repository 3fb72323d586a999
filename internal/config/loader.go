package config

import (
	"os"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if val, ok := os.LookupEnv(match[2 : len(match)-1]); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so tokens and passwords can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Gateway.Auth.Token = expandEnvVars(cfg.Gateway.Auth.Token)
	cfg.Redis.Password = expandEnvVars(cfg.Redis.Password)
	cfg.AI.APIKey = expandEnvVars(cfg.AI.APIKey)
}

// Load reads the config file, applies defaults and environment overrides,
// and returns a merged Config. A missing file produces defaults only.
func Load(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyDefaults(&cfg)
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 18650
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = "loopback"
	}
	if cfg.Gateway.Auth.Mode == "" {
		cfg.Gateway.Auth.Mode = "token"
	}
	if cfg.Gateway.MaxMessageLen == 0 {
		cfg.Gateway.MaxMessageLen = 4000
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 10
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "sqlite"
	}
	if cfg.Limits.PerMinute == 0 {
		cfg.Limits.PerMinute = 10
	}
	if cfg.Limits.PerHour == 0 {
		cfg.Limits.PerHour = 100
	}
	if cfg.Session.TTLMinutes == 0 {
		cfg.Session.TTLMinutes = 30
	}
	if cfg.Session.TokenBudget == 0 {
		cfg.Session.TokenBudget = 2000
	}
	if cfg.Session.TokensPerChar == 0 {
		cfg.Session.TokensPerChar = 0.25
	}
	if cfg.SLA.SweepSeconds == 0 {
		cfg.SLA.SweepSeconds = 30
	}
	if len(cfg.SLA.Thresholds) == 0 {
		cfg.SLA.Thresholds = []int{75, 90, 100}
	}
	if cfg.SLA.Response == (SLADeadlines{}) {
		cfg.SLA.Response = SLADeadlines{Low: 240, Medium: 60, High: 15, Emergency: 5}
	}
	if cfg.SLA.Resolution == (SLADeadlines{}) {
		cfg.SLA.Resolution = SLADeadlines{Low: 1440, Medium: 480, High: 120, Emergency: 30}
	}
	if cfg.Assignment.DepartmentWeight == 0 {
		cfg.Assignment.DepartmentWeight = 0.5
	}
	if cfg.Assignment.LanguageWeight == 0 {
		cfg.Assignment.LanguageWeight = 0.3
	}
	if cfg.Assignment.LoadWeight == 0 {
		cfg.Assignment.LoadWeight = 0.2
	}
	if cfg.Heartbeat.IntervalSeconds == 0 {
		cfg.Heartbeat.IntervalSeconds = 15
	}
	if cfg.Heartbeat.MissedLimit == 0 {
		cfg.Heartbeat.MissedLimit = 3
	}
	if cfg.AI.Provider == "" {
		cfg.AI.Provider = "echo"
	}
	if cfg.AI.TimeoutSeconds == 0 {
		cfg.AI.TimeoutSeconds = 60
	}
	if cfg.AI.ConfidenceThreshold == 0 {
		cfg.AI.ConfidenceThreshold = 0.4
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Style == "" {
		cfg.Logging.Style = "pretty"
	}
}

// applyEnvOverrides reads RELAYDESK_* environment variables and overrides
// config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RELAYDESK_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("RELAYDESK_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("RELAYDESK_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("RELAYDESK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
