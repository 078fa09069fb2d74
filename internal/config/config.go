// Package config loads iapsync configuration.
//
// Configuration is a CUE file validated against an embedded schema that also
// supplies defaults. A .env file and the process environment can override
// the attribution credentials and the database path:
//
//	IAPSYNC_API_KEY   -> api_key
//	IAPSYNC_BASE_URL  -> base_url
//	IAPSYNC_DATABASE  -> database
//
// Precedence is environment, then .env, then the config file, then schema
// defaults.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/joho/godotenv"
)

//go:embed schema.cue
var schemaSource []byte

// Environment variable names.
const (
	EnvAPIKey   = "IAPSYNC_API_KEY"
	EnvBaseURL  = "IAPSYNC_BASE_URL"
	EnvDatabase = "IAPSYNC_DATABASE"
)

// Config is the resolved configuration.
type Config struct {
	APIKey   string `json:"api_key,omitempty"`
	BaseURL  string `json:"base_url,omitempty"`
	DeviceID string `json:"device_id,omitempty"`
	AppID    string `json:"app_id,omitempty"`

	Database string `json:"database,omitempty"`
	Catalog  string `json:"catalog,omitempty"`

	ProductID        string `json:"product_id,omitempty"`
	NativeRedemption bool   `json:"native_redemption,omitempty"`

	SyncSchedule string  `json:"sync_schedule,omitempty"`
	SyncRate     float64 `json:"sync_rate,omitempty"`
	SyncBurst    int     `json:"sync_burst,omitempty"`

	MetricsAddr string `json:"metrics_addr,omitempty"`
}

// ErrMissingAPIKey is returned by RequireAttribution when no API key is set.
var ErrMissingAPIKey = errors.New("api_key is required (set it in the config file or " + EnvAPIKey + ")")

// ErrMissingBaseURL is returned by RequireAttribution when no base URL is set.
var ErrMissingBaseURL = errors.New("base_url is required (set it in the config file or " + EnvBaseURL + ")")

// Options controls where Load looks for overrides.
type Options struct {
	// EnvFile is a dotenv file to load. Missing files are ignored.
	// Empty means ".env".
	EnvFile string

	// Getenv reads the environment. Defaults to os.Getenv.
	Getenv func(string) string
}

// Load reads the CUE config at path. An empty path yields schema defaults
// plus overrides.
func Load(path string, opts Options) (*Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}

	// Fields stay keyed by name so an explicit zero value in the file
	// ("" or false) is kept instead of falling back to the schema default.
	fields := map[string]any{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		file := ctx.CompileBytes(data, cue.Filename(path))
		if err := file.Err(); err != nil {
			return nil, fmt.Errorf("parse config: %s", formatCUEError(err))
		}
		// Closed-schema check catches unknown fields before decoding drops them.
		if err := schema.Unify(file).Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %s", formatCUEError(err))
		}
		if err := file.Decode(&fields); err != nil {
			return nil, fmt.Errorf("decode config: %s", formatCUEError(err))
		}
	}

	if err := applyOverrides(fields, opts); err != nil {
		return nil, err
	}

	merged := schema.Unify(ctx.Encode(fields))
	if err := merged.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("invalid config: %s", formatCUEError(err))
	}
	var out Config
	if err := merged.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode config: %s", formatCUEError(err))
	}
	return &out, nil
}

func applyOverrides(fields map[string]any, opts Options) error {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	dotenv, err := godotenv.Read(envFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read %s: %w", envFile, err)
	}

	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	lookup := func(key string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return dotenv[key]
	}

	for env, field := range map[string]string{
		EnvAPIKey:   "api_key",
		EnvBaseURL:  "base_url",
		EnvDatabase: "database",
	} {
		if v := lookup(env); v != "" {
			fields[field] = v
		}
	}
	return nil
}

// RequireAttribution checks the settings needed to talk to the attribution
// service.
func (c *Config) RequireAttribution() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.BaseURL == "" {
		return ErrMissingBaseURL
	}
	return nil
}

func formatCUEError(err error) string {
	return strings.TrimSpace(cueerrors.Details(err, nil))
}
