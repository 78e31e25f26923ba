// Package config holds the daemon configuration: a JSON file with env-var
// substitution and the flexible injection shorthands normalized at load time.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"webinject/internal/inject"
)

// Config is the root configuration.
type Config struct {
	General   GeneralConfig   `json:"general"`
	Browser   BrowserConfig   `json:"browser"`
	Channel   ChannelConfig   `json:"channel"`
	Trigger   TriggerConfig   `json:"trigger"`
	Injection InjectionConfig `json:"injection"`
	Profiles  ProfilesConfig  `json:"profiles"`
	Metrics   MetricsConfig   `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"`
}

type BrowserConfig struct {
	ProfileDir string `json:"profileDir,omitempty"`
	Headless   bool   `json:"headless"`
}

// ChannelConfig selects the message transport: "cdp" talks to pages inside
// the managed browser, "websocket" serves agents in other processes.
type ChannelConfig struct {
	Mode      string          `json:"mode"`
	WebSocket WebSocketConfig `json:"websocket"`
}

type WebSocketConfig struct {
	Port           int    `json:"port"`
	Path           string `json:"path,omitempty"`
	RequestTimeout int    `json:"requestTimeoutSeconds,omitempty"`
}

type TriggerConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path,omitempty"`
}

// InjectionConfig carries the payload configuration. A bare JSON string or
// list of strings is accepted as shorthand for {"inject": {"scripts": ...}};
// the nested inject value supports the same shorthand for scripts-only
// payloads.
type InjectionConfig struct {
	Inject          inject.Spec `json:"inject"`
	InstanceTag     *string     `json:"instanceTag,omitempty"`
	InjectOnTrigger *bool       `json:"injectOnTrigger,omitempty"` // default true
	FilterURL       string      `json:"filterUrl,omitempty"`       // regex over the target URL
	Bootstrap       bool        `json:"bootstrap,omitempty"`       // prepend the in-page agent hook
}

func (ic *InjectionConfig) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] != '{' {
		var spec inject.Spec
		if err := json.Unmarshal(trimmed, &spec); err != nil {
			return err
		}
		*ic = InjectionConfig{Inject: spec}
		return nil
	}

	type alias InjectionConfig
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*ic = InjectionConfig(a)
	return nil
}

// TriggerBound reports whether trigger events should be bound automatically.
func (ic InjectionConfig) TriggerBound() bool {
	return ic.InjectOnTrigger == nil || *ic.InjectOnTrigger
}

type ProfilesConfig struct {
	Dir string `json:"dir,omitempty"`
}

type MetricsConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".webinject"
	}
	return filepath.Join(home, ".webinject")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = expandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Browser.ProfileDir = expandPath(cfg.Browser.ProfileDir)
	cfg.Profiles.Dir = expandPath(cfg.Profiles.Dir)
	cfg.General.LogFile = expandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset
// or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be debug, info, warn or error")
	}
	switch cfg.Channel.Mode {
	case "cdp", "websocket":
	default:
		errs = append(errs, `channel.mode must be "cdp" or "websocket"`)
	}
	if p := cfg.Channel.WebSocket.Port; p < 1 || p > 65535 {
		errs = append(errs, "channel.websocket.port out of range")
	}
	if cfg.Trigger.Enabled {
		if p := cfg.Trigger.Port; p < 1 || p > 65535 {
			errs = append(errs, "trigger.port out of range")
		}
	}
	if cfg.Metrics.Enabled {
		if p := cfg.Metrics.Port; p < 1 || p > 65535 {
			errs = append(errs, "metrics.port out of range")
		}
	}
	if cfg.Injection.FilterURL != "" {
		if _, err := regexp.Compile(cfg.Injection.FilterURL); err != nil {
			errs = append(errs, fmt.Sprintf("injection.filterUrl: %v", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Lookup retrieves a config value by dot-notation path, e.g.
// "channel.websocket.port".
func Lookup(cfg *Config, path string) (any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}

	var current any = m
	for _, key := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("cannot traverse into %T at %q", current, key)
		}
		current, ok = obj[key]
		if !ok {
			return nil, fmt.Errorf("key not found: %s", path)
		}
	}
	return current, nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
