// Package config loads lectio's configuration from an optional YAML file
// and LECTIO_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/abhisek/lectio/internal/llm"
	"github.com/abhisek/lectio/internal/logging"
	"github.com/abhisek/lectio/internal/memjob"
	"github.com/abhisek/lectio/internal/promptctx"
	"github.com/abhisek/lectio/internal/scoring"
	"github.com/abhisek/lectio/internal/statecache"
	"github.com/abhisek/lectio/internal/tutor"
)

const (
	envPrefix         = "LECTIO_"
	maxConfigFileSize = 1024 * 1024
)

// Config is the full application configuration.
type Config struct {
	DB      DBConfig          `koanf:"db"`
	Log     logging.Config    `koanf:"log"`
	HTTP    HTTPConfig        `koanf:"http"`
	LLM     llm.Config        `koanf:"llm"`
	Cache   statecache.Config `koanf:"cache"`
	Queue   memjob.Config     `koanf:"queue"`
	Scoring scoring.Config    `koanf:"scoring"`
	Context promptctx.Config  `koanf:"context"`
	Tutor   tutor.Config      `koanf:"tutor"`
}

// DBConfig locates the sqlite database. An empty Path uses
// store.DefaultDBPath.
type DBConfig struct {
	Path string `koanf:"path"`
}

// HTTPConfig configures `lectio serve`.
type HTTPConfig struct {
	Addr string `koanf:"addr"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Log:     logging.DefaultConfig(),
		HTTP:    HTTPConfig{Addr: ":8080"},
		LLM:     llm.DefaultConfig(),
		Cache:   statecache.DefaultConfig(),
		Queue:   memjob.DefaultConfig(),
		Scoring: scoring.DefaultConfig(),
		Context: promptctx.DefaultConfig(),
		Tutor:   tutor.DefaultConfig(),
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/lectio/config.yaml, falling back to
// ~/.config/lectio/config.yaml.
func DefaultPath() (string, error) {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "lectio", "config.yaml"), nil
}

// Load builds the configuration.
//
// Precedence, highest first:
//  1. LECTIO_* environment variables (LECTIO_LLM__RETRY__MAX_ATTEMPTS -> llm.retry.max_attempts)
//  2. the YAML file at path (or DefaultPath when path is empty)
//  3. Default()
//
// A missing file is not an error unless path was given explicitly. Vendor
// API key variables such as ANTHROPIC_API_KEY fill keys left empty.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	content, err := readConfigFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist) && !explicit:
	case err != nil:
		return nil, err
	default:
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.LLM.FillStandardKeys()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the sections that have invariants.
func (c Config) Validate() error {
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if c.Context.Window < 0 || c.Context.TopK < 0 || c.Context.SliceChars < 0 {
		return errors.New("context: window, top_k and slice_chars must not be negative")
	}
	if c.Tutor.MaxTokens < 0 || c.Tutor.Temperature < 0 || c.Tutor.Temperature > 1 {
		return errors.New("tutor: max_tokens must not be negative and temperature must be within [0,1]")
	}
	return nil
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path %s is a directory", path)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}
	return io.ReadAll(f)
}

// listKeys are decoded from comma-separated environment values.
var listKeys = map[string]bool{
	"llm.order": true,
}

// envKey maps LECTIO_SECTION__FIELD_NAME to section.field_name. Variables
// without a section, such as LECTIO_DB, are not configuration keys.
func envKey(key, value string) (string, any) {
	k := strings.ToLower(strings.TrimPrefix(key, envPrefix))
	if !strings.Contains(k, "__") {
		return "", nil
	}
	k = strings.ReplaceAll(k, "__", ".")
	if listKeys[k] {
		var items []string
		for _, v := range strings.Split(value, ",") {
			if v = strings.TrimSpace(v); v != "" {
				items = append(items, v)
			}
		}
		return k, items
	}
	return k, value
}
