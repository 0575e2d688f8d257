// Package config provides gptcommit configuration with a defined load order:
// CLI flags > environment variables > repo config > global config > defaults.
//
// Paths:
//   - Repo: .gptcommit/config.toml (relative to repo root)
//   - Global: XDG config dir, e.g. ~/.config/gptcommit/config.toml (see os.UserConfigDir)
//
// Environment variables (override config files when set):
//   - GPTCOMMIT_MODEL, GPTCOMMIT_OLLAMA_BASE_URL, GPTCOMMIT_LOCAL_BASE_URL,
//   - GPTCOMMIT_CUTOFF (maximum diff block size in characters),
//   - GPTCOMMIT_TIMEOUT (Go duration string or integer seconds),
//   - GPTCOMMIT_TEMPERATURE, GPTCOMMIT_NUM_PREDICT (model options),
//   - GPTCOMMIT_CONTEXT_LIMIT, GPTCOMMIT_WARN_THRESHOLD (token warnings),
//   - GPTCOMMIT_BODY (1/true/yes/on or 0/false/no/off),
//   - GPTCOMMIT_EXAMPLES_PATH, GPTCOMMIT_SYSTEM_PROMPT (paths).
package config

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"gptcommit/cli/internal/erruser"
)

// Config holds all gptcommit configuration. It is built once at startup and
// passed to the commit message generator.
type Config struct {
	Model         string `toml:"model"`
	OllamaBaseURL string `toml:"ollama_base_url"`
	// LocalBaseURL is used instead of OllamaBaseURL with --local.
	LocalBaseURL string `toml:"local_base_url"`
	// Cutoff is the maximum diff block size in characters sent in one summary request.
	Cutoff  int           `toml:"cutoff"`
	Timeout time.Duration `toml:"timeout"`
	// Temperature and NumPredict are passed to Ollama as model options (defaults: 0.6, 500).
	Temperature float64 `toml:"temperature"`
	NumPredict  int     `toml:"num_predict"`
	// ContextLimit is the model context window in tokens, sent as num_ctx and used for size warnings (0 = server default, no warnings).
	ContextLimit  int     `toml:"context_limit"`
	WarnThreshold float64 `toml:"warn_threshold"`
	// Body enables generation of a commit body after the title. Default true.
	Body bool `toml:"body"`
	// ExamplesPath is a YAML file of few-shot examples; empty uses the built-in ones.
	ExamplesPath string `toml:"examples_path"`
	// SystemPrompt is a file whose contents replace the default system message.
	SystemPrompt string `toml:"system_prompt"`
}

// Overrides represents optional CLI flag overrides. Non-nil pointer means
// "override with this value".
type Overrides struct {
	Model         *string
	OllamaBaseURL *string
	Cutoff        *int
	Timeout       *time.Duration
	Temperature   *float64
	NumPredict    *int
	Body          *bool
	ExamplesPath  *string
}

// LoadOptions configures Load. All fields are optional.
type LoadOptions struct {
	// RepoRoot is the repository root; if set, repo config is RepoRoot/.gptcommit/config.toml.
	RepoRoot string
	// GlobalConfigPath is the global config file path; if empty, XDG path is used.
	GlobalConfigPath string
	// Env is the environment key=value slice; if nil, os.Environ() is used.
	Env []string
	// Overrides are applied last (highest precedence).
	Overrides *Overrides
}

const (
	_defaultModel         = "llama3.1:8b"
	_defaultOllamaBaseURL = "http://localhost:11434"
	_defaultLocalBaseURL  = "http://localhost:1234"
	_defaultCutoff        = 10000
	_defaultTimeout       = 2 * time.Minute
	_defaultTemperature   = 0.6
	_defaultNumPredict    = 500
	_defaultContextLimit  = 8192
	_defaultWarnThreshold = 0.9
)

// RepoConfigDir is the per-repository config directory name.
const RepoConfigDir = ".gptcommit"

// errIntOverflow is returned when an int64 value does not fit in int (e.g. on 32-bit or huge TOML/env values).
var errIntOverflow = errors.New("value out of range for int")

func int64ToInt(n int64) (int, error) {
	if n < int64(math.MinInt) || n > int64(math.MaxInt) {
		return 0, errIntOverflow
	}
	return int(n), nil
}

// DefaultConfig returns the default configuration (no I/O).
func DefaultConfig() Config {
	return Config{
		Model:         _defaultModel,
		OllamaBaseURL: _defaultOllamaBaseURL,
		LocalBaseURL:  _defaultLocalBaseURL,
		Cutoff:        _defaultCutoff,
		Timeout:       _defaultTimeout,
		Temperature:   _defaultTemperature,
		NumPredict:    _defaultNumPredict,
		ContextLimit:  _defaultContextLimit,
		WarnThreshold: _defaultWarnThreshold,
		Body:          true,
	}
}

// BaseURL returns LocalBaseURL when local is true, otherwise OllamaBaseURL.
func (c Config) BaseURL(local bool) string {
	if local && c.LocalBaseURL != "" {
		return c.LocalBaseURL
	}
	return c.OllamaBaseURL
}

// Load loads configuration with precedence: defaults < global file < repo file < env < overrides.
// Missing config files are ignored. Invalid TOML or invalid env values return an error.
func Load(ctx context.Context, opts LoadOptions) (*Config, error) {
	if opts.Env == nil {
		opts.Env = os.Environ()
	}
	cfg := DefaultConfig()

	globalPath := opts.GlobalConfigPath
	if globalPath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, erruser.New("Could not determine config directory.", err)
		}
		globalPath = filepath.Join(dir, "gptcommit", "config.toml")
	}
	if err := mergeFile(&cfg, globalPath); err != nil {
		return nil, err
	}

	if opts.RepoRoot != "" {
		repoPath := filepath.Join(opts.RepoRoot, RepoConfigDir, "config.toml")
		if err := mergeFile(&cfg, repoPath); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(&cfg, opts.Env); err != nil {
		return nil, err
	}

	applyOverrides(&cfg, opts.Overrides)
	if cfg.Cutoff <= 0 {
		return nil, erruser.New("Cutoff must be a positive number of characters.", nil)
	}
	return &cfg, nil
}

// mergeFile reads path and merges into cfg. Only overwrites fields that are
// present in the file; empty strings and non-positive sizes keep the previous value.
// A missing file is skipped (no error).
func mergeFile(cfg *Config, path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return erruser.New("Invalid configuration file.", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return erruser.New("Could not read configuration file.", err)
	}
	var file struct {
		Model         *string  `toml:"model"`
		OllamaBaseURL *string  `toml:"ollama_base_url"`
		LocalBaseURL  *string  `toml:"local_base_url"`
		Cutoff        *int64   `toml:"cutoff"`
		Timeout       *string  `toml:"timeout"`
		Temperature   *float64 `toml:"temperature"`
		NumPredict    *int64   `toml:"num_predict"`
		ContextLimit  *int64   `toml:"context_limit"`
		WarnThreshold *float64 `toml:"warn_threshold"`
		Body          *bool    `toml:"body"`
		ExamplesPath  *string  `toml:"examples_path"`
		SystemPrompt  *string  `toml:"system_prompt"`
	}
	if _, err := toml.Decode(string(data), &file); err != nil {
		return erruser.New("Invalid configuration in "+path+".", err)
	}
	if file.Model != nil && *file.Model != "" {
		cfg.Model = *file.Model
	}
	if file.OllamaBaseURL != nil && *file.OllamaBaseURL != "" {
		cfg.OllamaBaseURL = *file.OllamaBaseURL
	}
	if file.LocalBaseURL != nil && *file.LocalBaseURL != "" {
		cfg.LocalBaseURL = *file.LocalBaseURL
	}
	if file.Cutoff != nil && *file.Cutoff > 0 {
		v, err := int64ToInt(*file.Cutoff)
		if err != nil {
			return erruser.New("Configuration cutoff value out of range.", err)
		}
		cfg.Cutoff = v
	}
	if file.Timeout != nil && *file.Timeout != "" {
		d, err := parseDuration(*file.Timeout)
		if err != nil {
			return erruser.New("Configuration timeout is invalid.", err)
		}
		cfg.Timeout = d
	}
	if file.Temperature != nil {
		if *file.Temperature < 0 || *file.Temperature > 2 {
			return erruser.New("Configuration temperature must be between 0 and 2.", nil)
		}
		cfg.Temperature = *file.Temperature
	}
	if file.NumPredict != nil && *file.NumPredict > 0 {
		v, err := int64ToInt(*file.NumPredict)
		if err != nil {
			return erruser.New("Configuration num_predict value out of range.", err)
		}
		cfg.NumPredict = v
	}
	if file.ContextLimit != nil && *file.ContextLimit >= 0 {
		v, err := int64ToInt(*file.ContextLimit)
		if err != nil {
			return erruser.New("Configuration context_limit value out of range.", err)
		}
		cfg.ContextLimit = v
	}
	if file.WarnThreshold != nil && *file.WarnThreshold >= 0 {
		cfg.WarnThreshold = *file.WarnThreshold
	}
	if file.Body != nil {
		cfg.Body = *file.Body
	}
	if file.ExamplesPath != nil {
		cfg.ExamplesPath = *file.ExamplesPath
	}
	if file.SystemPrompt != nil {
		cfg.SystemPrompt = *file.SystemPrompt
	}
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return time.Duration(n) * time.Second, nil
}

// parseBool accepts 1/true/yes/on and 0/false/no/off (case-insensitive).
func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}

const (
	envModel         = "GPTCOMMIT_MODEL"
	envOllamaBaseURL = "GPTCOMMIT_OLLAMA_BASE_URL"
	envLocalBaseURL  = "GPTCOMMIT_LOCAL_BASE_URL"
	envCutoff        = "GPTCOMMIT_CUTOFF"
	envTimeout       = "GPTCOMMIT_TIMEOUT"
	envTemperature   = "GPTCOMMIT_TEMPERATURE"
	envNumPredict    = "GPTCOMMIT_NUM_PREDICT"
	envContextLimit  = "GPTCOMMIT_CONTEXT_LIMIT"
	envWarnThreshold = "GPTCOMMIT_WARN_THRESHOLD"
	envBody          = "GPTCOMMIT_BODY"
	envExamplesPath  = "GPTCOMMIT_EXAMPLES_PATH"
	envSystemPrompt  = "GPTCOMMIT_SYSTEM_PROMPT"
)

func applyEnv(cfg *Config, env []string) error {
	vals := make(map[string]string)
	for _, e := range env {
		idx := strings.Index(e, "=")
		if idx <= 0 {
			continue
		}
		vals[strings.TrimSpace(e[:idx])] = strings.TrimSpace(e[idx+1:])
	}
	if v := vals[envModel]; v != "" {
		cfg.Model = v
	}
	if v := vals[envOllamaBaseURL]; v != "" {
		cfg.OllamaBaseURL = v
	}
	if v := vals[envLocalBaseURL]; v != "" {
		cfg.LocalBaseURL = v
	}
	if v := vals[envCutoff]; v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return erruser.New(envCutoff+" must be a valid number.", err)
		}
		if n <= 0 {
			return erruser.New(envCutoff+" must be positive.", nil)
		}
		if cfg.Cutoff, err = int64ToInt(n); err != nil {
			return erruser.New(envCutoff+" value out of range.", err)
		}
	}
	if v := vals[envTimeout]; v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return erruser.New(envTimeout+" must be a valid duration.", err)
		}
		cfg.Timeout = d
	}
	if v := vals[envTemperature]; v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return erruser.New(envTemperature+" must be a valid number.", err)
		}
		if f < 0 || f > 2 {
			return erruser.New(envTemperature+" must be between 0 and 2.", nil)
		}
		cfg.Temperature = f
	}
	if v := vals[envNumPredict]; v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return erruser.New(envNumPredict+" must be a valid number.", err)
		}
		if n < 0 {
			return erruser.New(envNumPredict+" must be non-negative.", nil)
		}
		if cfg.NumPredict, err = int64ToInt(n); err != nil {
			return erruser.New(envNumPredict+" value out of range.", err)
		}
	}
	if v := vals[envContextLimit]; v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return erruser.New(envContextLimit+" must be a valid number.", err)
		}
		if cfg.ContextLimit, err = int64ToInt(n); err != nil {
			return erruser.New(envContextLimit+" value out of range.", err)
		}
	}
	if v := vals[envWarnThreshold]; v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return erruser.New(envWarnThreshold+" must be a valid number.", err)
		}
		cfg.WarnThreshold = f
	}
	if v := vals[envBody]; v != "" {
		b, err := parseBool(v)
		if err != nil {
			return erruser.New(envBody+" must be 1/true/yes/on or 0/false/no/off.", err)
		}
		cfg.Body = b
	}
	if v, ok := vals[envExamplesPath]; ok {
		cfg.ExamplesPath = v
	}
	if v, ok := vals[envSystemPrompt]; ok {
		cfg.SystemPrompt = v
	}
	return nil
}

func applyOverrides(cfg *Config, o *Overrides) {
	if o == nil {
		return
	}
	if o.Model != nil && *o.Model != "" {
		cfg.Model = *o.Model
	}
	if o.OllamaBaseURL != nil && *o.OllamaBaseURL != "" {
		cfg.OllamaBaseURL = *o.OllamaBaseURL
	}
	if o.Cutoff != nil {
		cfg.Cutoff = *o.Cutoff
	}
	if o.Timeout != nil {
		cfg.Timeout = *o.Timeout
	}
	if o.Temperature != nil {
		cfg.Temperature = *o.Temperature
	}
	if o.NumPredict != nil {
		cfg.NumPredict = *o.NumPredict
	}
	if o.Body != nil {
		cfg.Body = *o.Body
	}
	if o.ExamplesPath != nil {
		cfg.ExamplesPath = *o.ExamplesPath
	}
}
