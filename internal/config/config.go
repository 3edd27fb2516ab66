// Package config loads the matching engine configuration shared by the operator and the
// match server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/anvil-platform/forge/internal/domain"
	"github.com/anvil-platform/forge/internal/rules"
	"github.com/anvil-platform/forge/internal/semantic"
)

// EnvPrefix prefixes environment overrides, e.g. FORGE_SEMANTIC_BACKEND.
const EnvPrefix = "FORGE"

// Semantic backends.
const (
	BackendNone        = "none"
	BackendWordVectors = "wordvectors"
	BackendOllama      = "ollama"
)

// Config is the engine configuration.
type Config struct {
	Domains  []DomainConfig `mapstructure:"domains" validate:"dive"`
	Semantic SemanticConfig `mapstructure:"semantic"`
	Matching MatchingConfig `mapstructure:"matching"`
	Build    BuildConfig    `mapstructure:"build"`
}

// DomainConfig declares a domain, or overrides a built-in one.
type DomainConfig struct {
	Name              string  `mapstructure:"name" validate:"required"`
	SemanticThreshold float64 `mapstructure:"semantic_threshold" validate:"gte=0,lte=1"`
	// RulesFile is a YAML rule set loaded at startup.
	RulesFile string `mapstructure:"rules_file"`
}

type SemanticConfig struct {
	Backend     string        `mapstructure:"backend" validate:"oneof=none wordvectors ollama"`
	VectorsFile string        `mapstructure:"vectors_file" validate:"required_if=Backend wordvectors"`
	Endpoint    string        `mapstructure:"endpoint" validate:"omitempty,url"`
	Model       string        `mapstructure:"model"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gte=0"`
	CacheSize   int           `mapstructure:"cache_size" validate:"gte=0"`
}

type MatchingConfig struct {
	// Workers bounds the requirement x capability pool. Zero means one per CPU.
	Workers int `mapstructure:"workers" validate:"gte=0"`
}

type BuildConfig struct {
	Workers      int           `mapstructure:"workers" validate:"gte=0"`
	Timeout      time.Duration `mapstructure:"timeout" validate:"gte=0"`
	MaxSolutions int           `mapstructure:"max_solutions" validate:"gte=0"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("semantic.backend", BackendNone)
	v.SetDefault("semantic.vectors_file", "")
	v.SetDefault("semantic.endpoint", semantic.DefaultOllamaEndpoint)
	v.SetDefault("semantic.model", semantic.DefaultOllamaModel)
	v.SetDefault("semantic.timeout", 10*time.Second)
	v.SetDefault("semantic.cache_size", 4096)
	v.SetDefault("matching.workers", 0)
	v.SetDefault("build.workers", 0)
	v.SetDefault("build.timeout", 30*time.Second)
	v.SetDefault("build.max_solutions", 0)
}

// Load reads the file at path (YAML, JSON or TOML by extension), applies FORGE_*
// environment overrides and validates the result. An empty path yields the defaults
// plus environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and that no domain is declared twice.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	seen := make(map[string]struct{}, len(c.Domains))
	for _, d := range c.Domains {
		key := domain.Key(d.Name)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("invalid config: domain %q declared twice", d.Name)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// DomainList returns the built-in domains merged with the configured ones. A configured
// domain without a threshold keeps the built-in value, or semantic.DefaultThreshold.
func (c *Config) DomainList() []domain.Domain {
	builtin := make(map[string]float64)
	var order []string
	for _, d := range domain.Defaults() {
		builtin[d.Name()] = d.SemanticThreshold()
		order = append(order, d.Name())
	}

	for _, d := range c.Domains {
		key := domain.Key(d.Name)
		threshold := d.SemanticThreshold
		if threshold == 0 {
			if t, ok := builtin[key]; ok {
				threshold = t
			} else {
				threshold = semantic.DefaultThreshold
			}
		}
		if _, ok := builtin[key]; !ok {
			order = append(order, key)
		}
		builtin[key] = threshold
	}

	out := make([]domain.Domain, 0, len(order))
	for _, key := range order {
		out = append(out, domain.Spec{Key: key, Threshold: builtin[key]})
	}
	return out
}

// RuleSources returns a file source per domain that names a rules file.
func (c *Config) RuleSources() map[string]rules.Source {
	out := make(map[string]rules.Source)
	for _, d := range c.Domains {
		if d.RulesFile != "" {
			out[domain.Key(d.Name)] = rules.FileSource{Path: d.RulesFile}
		}
	}
	return out
}

// ErrNoSemanticBackend is returned by SemanticLoader when the backend is "none".
var ErrNoSemanticBackend = errors.New("config: semantic backend disabled")

// SemanticLoader returns the model loader for the configured backend.
func (c *Config) SemanticLoader() (semantic.ModelLoader, error) {
	s := c.Semantic
	switch s.Backend {
	case BackendWordVectors:
		return semantic.WordVectorFile(s.VectorsFile), nil
	case BackendOllama:
		return semantic.OllamaLoader(s.Endpoint, s.Model, s.Timeout), nil
	case BackendNone, "":
		return nil, ErrNoSemanticBackend
	default:
		return nil, fmt.Errorf("config: unknown semantic backend %q", s.Backend)
	}
}
