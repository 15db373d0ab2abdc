package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, expands, verifies, and validates configuration from a file.
// A malformed policy or agent registry is fatal: the process must not start
// in an inconsistent state.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	expanded := expandEnvVars(string(data))

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Integrity check against the .checksums manifest, if one exists.
	if err := VerifyConfigHash(absPath); err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// expandEnvVars substitutes ${VAR} references with environment values.
// Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

func applyDefaults(cfg *Config) {
	for i := range cfg.Agents {
		a := &cfg.Agents[i]
		def := DefaultAgentTimeouts()
		if a.Timeouts.Handshake <= 0 {
			a.Timeouts.Handshake = def.Handshake
		}
		if a.Timeouts.Call <= 0 {
			a.Timeouts.Call = def.Call
		}
		if a.Timeouts.HealthInterval <= 0 {
			a.Timeouts.HealthInterval = def.HealthInterval
		}

		defR := DefaultRestart()
		if a.Restart.MaxAttempts <= 0 {
			a.Restart.MaxAttempts = defR.MaxAttempts
		}
		if a.Restart.BackoffBase <= 0 {
			a.Restart.BackoffBase = defR.BackoffBase
		}
		if a.Restart.BackoffCap <= 0 {
			a.Restart.BackoffCap = defR.BackoffCap
		}
	}

	if cfg.Policy.ApprovalTimeout <= 0 {
		cfg.Policy.ApprovalTimeout = Defaults().Policy.ApprovalTimeout
	}
	if len(cfg.Budget.Prices) == 0 {
		cfg.Budget.Prices = Defaults().Budget.Prices
	}
}

func validate(cfg *Config) error {
	seen := make(map[string]bool, len(cfg.Agents))
	for _, a := range cfg.Agents {
		if strings.TrimSpace(a.Name) == "" {
			return fmt.Errorf("agent with empty name")
		}
		if seen[a.Name] {
			return fmt.Errorf("duplicate agent name %q", a.Name)
		}
		seen[a.Name] = true
		if strings.TrimSpace(a.Command) == "" {
			return fmt.Errorf("agent %q has no command", a.Name)
		}
	}

	for i, r := range cfg.Policy.Rules {
		if strings.TrimSpace(r.Pattern) == "" {
			return fmt.Errorf("policy rule %d has empty pattern", i)
		}
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return fmt.Errorf("policy rule %d: invalid pattern %q: %w", i, r.Pattern, err)
		}
		switch strings.ToLower(r.Disposition) {
		case "allow", "block", "require_approval":
		default:
			return fmt.Errorf("policy rule %d: unknown disposition %q", i, r.Disposition)
		}
	}

	if cfg.Budget.Limit <= 0 {
		return fmt.Errorf("budget limit must be positive, got %v", cfg.Budget.Limit)
	}
	for model, price := range cfg.Budget.Prices {
		if price < 0 {
			return fmt.Errorf("negative price for model %q", model)
		}
	}

	if cfg.API.Enabled && strings.TrimSpace(cfg.API.Listen) == "" {
		return fmt.Errorf("api enabled but listen address is empty")
	}

	return nil
}
