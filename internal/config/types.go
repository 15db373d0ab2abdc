package config

import "time"

// Config represents the complete tower configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Storage StorageConfig `yaml:"storage"`
	API     APIConfig     `yaml:"api,omitempty"`
	Agents  []AgentConfig `yaml:"agents"`
	Policy  PolicyConfig  `yaml:"policy"`
	Budget  BudgetConfig  `yaml:"budget"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// StorageConfig defines where the ledger/audit database lives.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is a single bearer token with admin/full access.
	// Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// AgentConfig declares an agent identity and its launch specification.
type AgentConfig struct {
	Name     string         `yaml:"name"`
	Command  string         `yaml:"command"`
	Args     []string       `yaml:"args,omitempty"`
	Env      []string       `yaml:"env,omitempty"`
	Timeouts TimeoutsConfig `yaml:"timeouts,omitempty"`
	Restart  RestartConfig  `yaml:"restart,omitempty"`
}

// TimeoutsConfig defines per-agent operation timeouts.
type TimeoutsConfig struct {
	Handshake      time.Duration `yaml:"handshake,omitempty"`
	Call           time.Duration `yaml:"call,omitempty"`
	HealthInterval time.Duration `yaml:"health_interval,omitempty"`
}

// RestartConfig bounds the supervisor's crash-restart behavior.
type RestartConfig struct {
	MaxAttempts int           `yaml:"max_attempts,omitempty"`
	BackoffBase time.Duration `yaml:"backoff_base,omitempty"`
	BackoffCap  time.Duration `yaml:"backoff_cap,omitempty"`
}

// PolicyConfig is the ordered guardrail rule set.
type PolicyConfig struct {
	Rules           []RuleConfig  `yaml:"rules"`
	ApprovalTimeout time.Duration `yaml:"approval_timeout,omitempty"`
}

// RuleConfig defines a single guardrail rule. Rules are evaluated in
// declaration order; the first matching rule wins.
type RuleConfig struct {
	Pattern     string `yaml:"pattern"`
	Disposition string `yaml:"disposition"` // allow | block | require_approval
	Reason      string `yaml:"reason"`
}

// BudgetConfig defines the cost ledger limit and price table.
type BudgetConfig struct {
	Limit float64 `yaml:"limit"`
	// HardLimit refuses further dispatches past 100% of budget instead of
	// only alerting.
	HardLimit bool `yaml:"hard_limit,omitempty"`
	// Prices maps model name to USD price per 1000 tokens.
	Prices map[string]float64 `yaml:"prices,omitempty"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "tower",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Storage: StorageConfig{
			Path: "./data/tower.db",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
		Policy: PolicyConfig{
			ApprovalTimeout: 5 * time.Minute,
		},
		Budget: BudgetConfig{
			Limit: 100.0,
			Prices: map[string]float64{
				"gpt-4":         0.03,
				"gpt-3.5-turbo": 0.0015,
				"gpt-4o-mini":   0.00015,
			},
		},
	}
}

// DefaultAgentTimeouts returns the per-agent timeout defaults.
func DefaultAgentTimeouts() TimeoutsConfig {
	return TimeoutsConfig{
		Handshake:      10 * time.Second,
		Call:           60 * time.Second,
		HealthInterval: 30 * time.Second,
	}
}

// DefaultRestart returns the supervisor restart defaults: 200ms base delay,
// doubling to a 3.2s cap, five attempts before the agent is marked Degraded.
func DefaultRestart() RestartConfig {
	return RestartConfig{
		MaxAttempts: 5,
		BackoffBase: 200 * time.Millisecond,
		BackoffCap:  3200 * time.Millisecond,
	}
}
