package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override. A double underscore
// separates nesting levels: CREDITMEM_HTTP__ADDR sets http.addr.
const EnvPrefix = "CREDITMEM_"

// FileEnv names the variable holding an optional YAML file path.
const FileEnv = EnvPrefix + "CONFIG"

// Load layers, from low to high precedence: defaults, the YAML file named
// by CREDITMEM_CONFIG (or path when non-empty), and the environment.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		path = os.Getenv(FileEnv)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	cfg := New()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	if s == "CONFIG" {
		return ""
	}
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// Validate checks the settings the binaries cannot run without.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("config: http.addr must not be empty")
	}
	if !c.Qdrant.InMemory && c.Qdrant.Addr == "" {
		return errors.New("config: qdrant.addr must not be empty")
	}
	if c.Layout.Dim() == 0 {
		return errors.New("config: layout must have at least one block")
	}
	if err := c.Thresholds.Validate(); err != nil {
		return fmt.Errorf("config: thresholds: %w", err)
	}
	return nil
}
