package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const EnvPrefix = "GRIDSYNC_"

type Loader struct {
	k         *koanf.Koanf
	envPrefix string
	filePath  string
	dotenv    []string
}

type Option func(*Loader)

func WithConfigFile(path string) Option {
	return func(l *Loader) {
		l.filePath = path
	}
}

// WithDotEnv loads the given .env files into the process environment
// before reading variables. Missing files are skipped.
func WithDotEnv(paths ...string) Option {
	return func(l *Loader) {
		l.dotenv = append(l.dotenv, paths...)
	}
}

func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: EnvPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load returns the defaults overlaid with the file and the environment,
// validated.
func (l *Loader) Load() (Config, error) {
	cfg := Default()

	for _, p := range l.dotenv {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("load %s: %w", p, err)
		}
	}

	if l.filePath != "" {
		if err := l.k.Load(file.Provider(l.filePath), yaml.Parser()); err != nil {
			return cfg, fmt.Errorf("load config file %s: %w", l.filePath, err)
		}
	}

	// GRIDSYNC_REMOTE__Y_OFFSET -> remote.y_offset
	transform := func(s string) string {
		s = strings.TrimPrefix(s, l.envPrefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	}
	if err := l.k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
		return cfg, fmt.Errorf("load env: %w", err)
	}

	if err := l.k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
