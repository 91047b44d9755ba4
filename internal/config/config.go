// Package config resolves formsync settings. Sources are layered, later ones
// winning: built-in defaults, an optional CUE file checked against the
// embedded #Config schema, an optional .env file, then FORMSYNC_* variables
// from the process environment.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/joho/godotenv"
)

//go:embed schema.cue
var schemaSource string

// Draft backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Poll interval bounds for analytics.
const (
	MinPollInterval = 5 * time.Second
	MaxPollInterval = 20 * time.Second
)

// Config is the resolved configuration.
type Config struct {
	APIBase          string
	WSURL            string
	ListenAddr       string
	PollInterval     time.Duration
	AutosaveInterval time.Duration
	DraftBackend     string
	DraftPath        string
	RedisURL         string
	LogLevel         string
}

// Default returns the built-in configuration: a local devserver on :8080
// and an in-memory draft slot.
func Default() Config {
	return Config{
		APIBase:          "http://localhost:8080/api",
		WSURL:            "ws://localhost:8080/ws",
		ListenAddr:       ":8080",
		PollInterval:     20 * time.Second,
		AutosaveInterval: 30 * time.Second,
		DraftBackend:     BackendMemory,
		DraftPath:        "formsync.db",
		RedisURL:         "redis://localhost:6379/0",
		LogLevel:         "info",
	}
}

// Sources names where Load reads from.
type Sources struct {
	// File is a CUE config file. Empty skips it; a named file must exist.
	File string
	// EnvFile is a dotenv file. Empty skips it and a missing file is ignored.
	EnvFile string
	// Lookup reads the process environment. Nil means os.LookupEnv.
	Lookup func(key string) (string, bool)
}

// fileConfig mirrors #Config in schema.cue.
type fileConfig struct {
	APIBase          string `json:"apiBase"`
	WSURL            string `json:"wsURL"`
	ListenAddr       string `json:"listenAddr"`
	PollInterval     string `json:"pollInterval"`
	AutosaveInterval string `json:"autosaveInterval"`
	LogLevel         string `json:"logLevel"`
	Draft            struct {
		Backend  string `json:"backend"`
		Path     string `json:"path"`
		RedisURL string `json:"redisURL"`
	} `json:"draft"`
}

// Load resolves a Config from src.
func Load(src Sources) (*Config, error) {
	cfg := Default()

	if src.File != "" {
		if err := cfg.applyFile(src.File); err != nil {
			return nil, err
		}
	}

	dotenv := map[string]string{}
	if src.EnvFile != "" {
		m, err := godotenv.Read(src.EnvFile)
		switch {
		case err == nil:
			dotenv = m
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("config: reading %s: %w", src.EnvFile, err)
		}
	}
	lookup := src.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	env := func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := cfg.applyEnv(env); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if schema.Err() != nil {
		return fmt.Errorf("config: compiling schema: %w", schema.Err())
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	val := ctx.CompileBytes(data, cue.Filename(path))
	if val.Err() != nil {
		return fmt.Errorf("config: parsing %s: %w", path, val.Err())
	}
	unified := def.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}

	var fc fileConfig
	if err := unified.Decode(&fc); err != nil {
		return fmt.Errorf("config: decoding %s: %w", path, err)
	}

	setString(&c.APIBase, fc.APIBase)
	setString(&c.WSURL, fc.WSURL)
	setString(&c.ListenAddr, fc.ListenAddr)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.DraftBackend, fc.Draft.Backend)
	setString(&c.DraftPath, fc.Draft.Path)
	setString(&c.RedisURL, fc.Draft.RedisURL)
	if err := setDuration(&c.PollInterval, fc.PollInterval, "pollInterval"); err != nil {
		return err
	}
	return setDuration(&c.AutosaveInterval, fc.AutosaveInterval, "autosaveInterval")
}

func (c *Config) applyEnv(env func(string) (string, bool)) error {
	strs := map[string]*string{
		"FORMSYNC_API_BASE":      &c.APIBase,
		"FORMSYNC_WS_URL":        &c.WSURL,
		"FORMSYNC_LISTEN_ADDR":   &c.ListenAddr,
		"FORMSYNC_DRAFT_BACKEND": &c.DraftBackend,
		"FORMSYNC_DRAFT_PATH":    &c.DraftPath,
		"FORMSYNC_REDIS_URL":     &c.RedisURL,
		"FORMSYNC_LOG_LEVEL":     &c.LogLevel,
	}
	for key, dst := range strs {
		if v, ok := env(key); ok {
			setString(dst, v)
		}
	}

	durs := map[string]*time.Duration{
		"FORMSYNC_POLL_INTERVAL":     &c.PollInterval,
		"FORMSYNC_AUTOSAVE_INTERVAL": &c.AutosaveInterval,
	}
	for key, dst := range durs {
		if v, ok := env(key); ok {
			if err := setDuration(dst, v, key); err != nil {
				return err
			}
		}
	}
	return nil
}

// Validate checks cross-field constraints that hold whatever the source.
func (c *Config) Validate() error {
	var problems []string
	if c.PollInterval < MinPollInterval || c.PollInterval > MaxPollInterval {
		problems = append(problems, fmt.Sprintf("poll interval %s outside [%s, %s]",
			c.PollInterval, MinPollInterval, MaxPollInterval))
	}
	if c.AutosaveInterval <= 0 {
		problems = append(problems, "autosave interval must be positive")
	}
	switch c.DraftBackend {
	case BackendMemory:
	case BackendSQLite:
		if c.DraftPath == "" {
			problems = append(problems, "sqlite draft backend needs a path")
		}
	case BackendRedis:
		if c.RedisURL == "" {
			problems = append(problems, "redis draft backend needs a URL")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown draft backend %q", c.DraftBackend))
	}
	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v, name string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", name, err)
	}
	*dst = d
	return nil
}
