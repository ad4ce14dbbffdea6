package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile is a named deployment profile: sandbox limits, code sources
// and rate limiting bundled under one code, loaded from YAML. Profiles
// let one binary serve dev, staging and production with different
// execution budgets.
type Profile struct {
	Name      string          `yaml:"name" json:"name"`
	Code      string          `yaml:"code" json:"code"`
	Limits    LimitsConfig    `yaml:"limits" json:"limits"`
	Gateways  []string        `yaml:"gateways,omitempty" json:"gateways,omitempty"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
}

// LimitsConfig holds the per-execution sandbox budgets.
type LimitsConfig struct {
	TimeLimitMs       int    `yaml:"time_limit_ms" json:"time_limit_ms"`
	InstructionBudget uint64 `yaml:"instruction_budget" json:"instruction_budget"`
	MemoryBytes       uint64 `yaml:"memory_bytes" json:"memory_bytes"`
}

// RateLimitConfig holds per-IP request throttling.
type RateLimitConfig struct {
	RPS   int `yaml:"rps" json:"rps"`
	Burst int `yaml:"burst" json:"burst"`
}

// TimeLimit returns the time budget as a duration, zero when unset.
func (l LimitsConfig) TimeLimit() time.Duration {
	return time.Duration(l.TimeLimitMs) * time.Millisecond
}

// LoadProfile loads a deployment profile YAML by code. It reads
// profile_<code>.yaml from the profiles directory.
func LoadProfile(profilesDir, code string) (*Profile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", code, err)
	}

	if profile.Code == "" {
		profile.Code = code
	}

	return &profile, nil
}

// LoadAllProfiles loads all profile_*.yaml files from the profiles
// directory, keyed by profile code.
func LoadAllProfiles(profilesDir string) (map[string]*Profile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*Profile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile Profile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		if profile.Code == "" {
			// Extract code from filename: profile_dev.yaml -> dev
			base := filepath.Base(path)
			profile.Code = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}

		profiles[profile.Code] = &profile
	}

	return profiles, nil
}

// Apply overlays non-zero profile values onto the config.
func (p *Profile) Apply(cfg *Config) {
	if p.Limits.TimeLimitMs > 0 {
		cfg.TimeLimit = p.Limits.TimeLimit()
	}
	if p.Limits.InstructionBudget > 0 {
		cfg.InstructionBudget = p.Limits.InstructionBudget
	}
	if p.Limits.MemoryBytes > 0 {
		cfg.MemoryBytes = p.Limits.MemoryBytes
	}
	if len(p.Gateways) > 0 {
		cfg.IPFSGateways = p.Gateways
	}
	if p.RateLimit.RPS > 0 {
		cfg.RateLimitRPS = p.RateLimit.RPS
	}
	if p.RateLimit.Burst > 0 {
		cfg.RateLimitBurst = p.RateLimit.Burst
	}
}
