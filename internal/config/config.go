// Package config loads sisqo configuration from file and environment.
//
// Precedence (highest to lowest):
//  1. Environment variables (SISQO_*)
//  2. Config file
//  3. Built-in defaults
//
// Config file search order:
//  1. the path given with --config
//  2. .sisqo.yaml in current directory
//  3. ~/.config/sisqo/config.yaml
package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrUnknownDevice is returned for a device name that is not configured.
var ErrUnknownDevice = errors.New("unknown device")

// Config holds all sisqo configuration.
type Config struct {
	// Session defaults, overridable per device.
	Transport             string `yaml:"transport"` // "exec" or "ssh"
	Username              string `yaml:"username"`
	Password              string `yaml:"password"`
	PasswordEnv           string `yaml:"password_env"` // name of a variable holding the password
	EnablePassword        string `yaml:"enable_password"`
	EnablePasswordEnv     string `yaml:"enable_password_env"`
	KeyFile               string `yaml:"key_file"`
	Passphrase            string `yaml:"passphrase"`
	KnownHosts            string `yaml:"known_hosts"`
	InsecureIgnoreHostKey bool   `yaml:"insecure_ignore_host_key"`
	SSHConfig             string `yaml:"ssh_config"` // passed to ssh -F
	Timeout               string `yaml:"timeout"`    // Go duration string, e.g. "10s"
	PromptPattern         string `yaml:"prompt_pattern"`
	MorePattern           string `yaml:"more_pattern"`
	Rows                  int    `yaml:"rows"`
	Cols                  int    `yaml:"cols"`
	Scrollback            int    `yaml:"scrollback"`

	// Fleet runs
	Parallel int    `yaml:"parallel"`
	Interval string `yaml:"interval"`  // repeat interval for "run", "0" runs once
	CacheTTL string `yaml:"cache_ttl"` // how long unchanged output is remembered

	// LLM prompt classifier, consulted when no built-in matcher fits.
	Classifier string `yaml:"classifier"` // "none", "anthropic" or "openai"
	Model      string `yaml:"model"`
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	MaxTokens  int64  `yaml:"max_tokens"`

	LogLevel string `yaml:"log_level"`
	Theme    string `yaml:"theme"`

	// OTEL
	OTELEndpoint string `yaml:"otel_endpoint"`
	OTELHeaders  string `yaml:"otel_headers"` // Comma-separated key=value pairs

	Devices []Device `yaml:"devices"`

	// Parsed durations (not from YAML, set after loading)
	TimeoutDuration  time.Duration `yaml:"-"`
	IntervalDuration time.Duration `yaml:"-"`
	CacheTTLDuration time.Duration `yaml:"-"`

	// ConfigFile is the path to the config file that was loaded (empty if none).
	ConfigFile string `yaml:"-"`
}

// Device is one entry of the inventory. Empty fields fall back to the
// top-level defaults, see Resolve.
type Device struct {
	Name      string   `yaml:"name" json:"name"`
	Host      string   `yaml:"host" json:"host"`
	Port      int      `yaml:"port,omitempty" json:"port,omitempty"`
	Username  string   `yaml:"username,omitempty" json:"username,omitempty"`
	Transport string   `yaml:"transport,omitempty" json:"transport"`
	Enable    bool     `yaml:"enable,omitempty" json:"enable"`
	Tags      []string `yaml:"tags,omitempty" json:"tags,omitempty"`

	Password          string `yaml:"password,omitempty" json:"-"`
	PasswordEnv       string `yaml:"password_env,omitempty" json:"-"`
	EnablePassword    string `yaml:"enable_password,omitempty" json:"-"`
	EnablePasswordEnv string `yaml:"enable_password_env,omitempty" json:"-"`
	KeyFile           string `yaml:"key_file,omitempty" json:"-"`
	Passphrase        string `yaml:"passphrase,omitempty" json:"-"`

	PromptPattern string `yaml:"prompt_pattern,omitempty" json:"prompt_pattern,omitempty"`
	MorePattern   string `yaml:"more_pattern,omitempty" json:"more_pattern,omitempty"`
	Timeout       string `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	TimeoutDuration time.Duration `yaml:"-" json:"-"`
}

// Defaults returns a Config with all default values.
func Defaults() *Config {
	return &Config{
		Transport:  "exec",
		Timeout:    "10s",
		Rows:       256,
		Cols:       512,
		Scrollback: 100000,
		Parallel:   10,
		Interval:   "0",
		CacheTTL:   "5m",
		Classifier: "none",
		MaxTokens:  1024,
		LogLevel:   "info",
		Theme:      "dark",
	}
}

// Load reads configuration from file and environment variables.
// Environment variables always override file values. An explicit path must
// exist; the default locations are optional.
func Load(explicit string) (*Config, error) {
	cfg := Defaults()

	path, data, err := findConfigFile(explicit)
	switch {
	case err == nil:
		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
		cfg.ConfigFile = path
		mergeFile(cfg, &fileCfg)
	case explicit != "":
		return nil, err
	}

	mergeEnv(cfg)

	if cfg.TimeoutDuration, err = parseDurationOrDisable(cfg.Timeout, 10*time.Second); err != nil {
		return nil, fmt.Errorf("invalid timeout %q: %w", cfg.Timeout, err)
	}
	if cfg.IntervalDuration, err = parseDurationOrDisable(cfg.Interval, 0); err != nil {
		return nil, fmt.Errorf("invalid interval %q: %w", cfg.Interval, err)
	}
	if cfg.CacheTTLDuration, err = parseDurationOrDisable(cfg.CacheTTL, 5*time.Minute); err != nil {
		return nil, fmt.Errorf("invalid cache TTL %q: %w", cfg.CacheTTL, err)
	}
	if err := cfg.validateDevices(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findConfigFile searches for a config file and returns its path and contents.
func findConfigFile(explicit string) (string, []byte, error) {
	if explicit != "" {
		data, err := os.ReadFile(explicit)
		if err != nil {
			return "", nil, fmt.Errorf("reading config file: %w", err)
		}
		return explicit, data, nil
	}

	if data, err := os.ReadFile(".sisqo.yaml"); err == nil {
		return ".sisqo.yaml", data, nil
	}

	if home, err := os.UserHomeDir(); err == nil {
		path := filepath.Join(home, ".config", "sisqo", "config.yaml")
		if data, err := os.ReadFile(path); err == nil {
			return path, data, nil
		}
	}

	return "", nil, fmt.Errorf("no config file found")
}

func (c *Config) validateDevices() error {
	seen := make(map[string]bool, len(c.Devices))
	for i := range c.Devices {
		d := &c.Devices[i]
		if d.Name == "" {
			d.Name = d.Host
		}
		if d.Host == "" {
			return fmt.Errorf("device %d (%q): host is required", i, d.Name)
		}
		if seen[d.Name] {
			return fmt.Errorf("device %q is configured twice", d.Name)
		}
		seen[d.Name] = true
	}
	return nil
}

// mergeFile applies non-zero file values onto cfg.
func mergeFile(cfg *Config, file *Config) {
	setString := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, v int) {
		if v > 0 {
			*dst = v
		}
	}

	setString(&cfg.Transport, file.Transport)
	setString(&cfg.Username, file.Username)
	setString(&cfg.Password, file.Password)
	setString(&cfg.PasswordEnv, file.PasswordEnv)
	setString(&cfg.EnablePassword, file.EnablePassword)
	setString(&cfg.EnablePasswordEnv, file.EnablePasswordEnv)
	setString(&cfg.KeyFile, file.KeyFile)
	setString(&cfg.Passphrase, file.Passphrase)
	setString(&cfg.KnownHosts, file.KnownHosts)
	if file.InsecureIgnoreHostKey {
		cfg.InsecureIgnoreHostKey = true
	}
	setString(&cfg.SSHConfig, file.SSHConfig)
	setString(&cfg.Timeout, file.Timeout)
	setString(&cfg.PromptPattern, file.PromptPattern)
	setString(&cfg.MorePattern, file.MorePattern)
	setInt(&cfg.Rows, file.Rows)
	setInt(&cfg.Cols, file.Cols)
	if file.Scrollback != 0 {
		cfg.Scrollback = file.Scrollback
	}

	setInt(&cfg.Parallel, file.Parallel)
	setString(&cfg.Interval, file.Interval)
	setString(&cfg.CacheTTL, file.CacheTTL)

	setString(&cfg.Classifier, file.Classifier)
	setString(&cfg.Model, file.Model)
	setString(&cfg.BaseURL, file.BaseURL)
	setString(&cfg.APIKey, file.APIKey)
	if file.MaxTokens > 0 {
		cfg.MaxTokens = file.MaxTokens
	}

	setString(&cfg.LogLevel, file.LogLevel)
	setString(&cfg.Theme, file.Theme)
	setString(&cfg.OTELEndpoint, file.OTELEndpoint)
	setString(&cfg.OTELHeaders, file.OTELHeaders)

	if len(file.Devices) > 0 {
		cfg.Devices = file.Devices
	}
}

// mergeEnv applies environment variables onto cfg. Env always wins.
func mergeEnv(cfg *Config) {
	strs := map[string]*string{
		"SISQO_TRANSPORT":             &cfg.Transport,
		"SISQO_USERNAME":              &cfg.Username,
		"SISQO_PASSWORD":              &cfg.Password,
		"SISQO_ENABLE_PASSWORD":       &cfg.EnablePassword,
		"SISQO_KEY_FILE":              &cfg.KeyFile,
		"SISQO_PASSPHRASE":            &cfg.Passphrase,
		"SISQO_KNOWN_HOSTS":           &cfg.KnownHosts,
		"SISQO_SSH_CONFIG":            &cfg.SSHConfig,
		"SISQO_TIMEOUT":               &cfg.Timeout,
		"SISQO_PROMPT":                &cfg.PromptPattern,
		"SISQO_MORE":                  &cfg.MorePattern,
		"SISQO_INTERVAL":              &cfg.Interval,
		"SISQO_CACHE_TTL":             &cfg.CacheTTL,
		"SISQO_CLASSIFIER":            &cfg.Classifier,
		"SISQO_MODEL":                 &cfg.Model,
		"SISQO_BASE_URL":              &cfg.BaseURL,
		"SISQO_API_KEY":               &cfg.APIKey,
		"SISQO_LOG_LEVEL":             &cfg.LogLevel,
		"SISQO_THEME":                 &cfg.Theme,
		"OTEL_EXPORTER_OTLP_ENDPOINT": &cfg.OTELEndpoint,
		"OTEL_EXPORTER_OTLP_HEADERS":  &cfg.OTELHeaders,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("SISQO_PARALLEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Parallel = n
		}
	}
	if v := os.Getenv("SISQO_INSECURE_IGNORE_HOST_KEY"); v == "true" || v == "1" {
		cfg.InsecureIgnoreHostKey = true
	}

	cfg.ClassifierDefaults()
}

// ClassifierDefaults fills the API key and, for Azure, the base URL of the
// configured classifier from the provider's usual environment variables.
// Call it again after changing Classifier.
func (c *Config) ClassifierDefaults() {
	if c.APIKey == "" {
		for _, key := range apiKeyFallbacks(c.Classifier) {
			if v := os.Getenv(key); v != "" {
				c.APIKey = v
				break
			}
		}
	}

	if c.BaseURL == "" {
		if rn := os.Getenv("AZURE_RESOURCE_NAME"); rn != "" {
			switch c.Classifier {
			case "anthropic":
				// The Anthropic SDK appends v1/messages.
				c.BaseURL = fmt.Sprintf("https://%s.services.ai.azure.com/anthropic/", rn)
			case "openai":
				c.BaseURL = fmt.Sprintf("https://%s.openai.azure.com/openai/v1", rn)
			}
		}
	}
}

func apiKeyFallbacks(provider string) []string {
	switch provider {
	case "anthropic":
		return []string{"AZURE_OPENAI_API_KEY", "ANTHROPIC_API_KEY"}
	case "openai":
		return []string{"AZURE_OPENAI_API_KEY", "OPENAI_API_KEY"}
	}
	return nil
}

// DefaultModel returns the model used when none is configured.
func DefaultModel(provider string) string {
	if provider == "openai" {
		return "gpt-4o-mini"
	}
	return "claude-haiku-4-5"
}

// parseDurationOrDisable parses a duration string. "0", "off", "disable" return 0.
// Empty string returns the fallback value.
func parseDurationOrDisable(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	if s == "0" || s == "off" || s == "disable" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// IsAzureEndpoint returns true if the URL is an Azure endpoint.
func IsAzureEndpoint(url string) bool {
	return strings.Contains(url, ".azure.com") || strings.Contains(url, ".azure.us")
}

// MatchesAny reports whether name matches one of the glob patterns.
func MatchesAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := path.Match(p, name); ok {
			return true
		}
	}
	return false
}

// Device returns the named device with defaults applied. A name that is
// not in the inventory but looks like a host ("r1.example.net",
// "user@10.0.0.1") is accepted as an ad-hoc device.
func (c *Config) Device(name string) (Device, error) {
	for _, d := range c.Devices {
		if d.Name == name {
			return c.Resolve(d)
		}
	}
	if name == "" {
		return Device{}, fmt.Errorf("%w: empty name", ErrUnknownDevice)
	}
	d := Device{Name: name, Host: name}
	if user, host, ok := strings.Cut(name, "@"); ok {
		d.Username, d.Host = user, host
	}
	if host, port, err := splitHostPort(d.Host); err == nil {
		d.Host, d.Port = host, port
	}
	if len(c.Devices) > 0 && !strings.ContainsAny(d.Host, ".:") {
		return Device{}, fmt.Errorf("%w: %s", ErrUnknownDevice, name)
	}
	return c.Resolve(d)
}

func splitHostPort(s string) (string, int, error) {
	i := strings.LastIndexByte(s, ':')
	if i < 0 || strings.Count(s, ":") > 1 {
		return "", 0, errors.New("no port")
	}
	port, err := strconv.Atoi(s[i+1:])
	if err != nil {
		return "", 0, err
	}
	return s[:i], port, nil
}

// Select returns the configured devices whose name or one of whose tags
// matches a pattern, in inventory order. No patterns selects everything.
func (c *Config) Select(patterns []string) ([]Device, error) {
	var out []Device
	for _, d := range c.Devices {
		if len(patterns) > 0 && !MatchesAny(d.Name, patterns) && !anyTag(d.Tags, patterns) {
			continue
		}
		r, err := c.Resolve(d)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func anyTag(tags, patterns []string) bool {
	for _, t := range tags {
		if MatchesAny(t, patterns) {
			return true
		}
	}
	return false
}

// Resolve fills the empty fields of d from the top-level defaults and
// looks up passwords named by *_env fields.
func (c *Config) Resolve(d Device) (Device, error) {
	or := func(v, def string) string {
		if v != "" {
			return v
		}
		return def
	}
	d.Username = or(d.Username, c.Username)
	d.Transport = or(d.Transport, c.Transport)
	d.KeyFile = or(d.KeyFile, c.KeyFile)
	d.Passphrase = or(d.Passphrase, c.Passphrase)
	d.PromptPattern = or(d.PromptPattern, c.PromptPattern)
	d.MorePattern = or(d.MorePattern, c.MorePattern)

	d.Password = or(d.Password, envValue(or(d.PasswordEnv, c.PasswordEnv)))
	d.Password = or(d.Password, c.Password)
	d.EnablePassword = or(d.EnablePassword, envValue(or(d.EnablePasswordEnv, c.EnablePasswordEnv)))
	d.EnablePassword = or(d.EnablePassword, c.EnablePassword)
	if d.EnablePassword == "" {
		d.EnablePassword = d.Password
	}

	d.TimeoutDuration = c.TimeoutDuration
	if d.Timeout != "" {
		t, err := parseDurationOrDisable(d.Timeout, c.TimeoutDuration)
		if err != nil {
			return Device{}, fmt.Errorf("device %s: invalid timeout %q: %w", d.Name, d.Timeout, err)
		}
		d.TimeoutDuration = t
	}
	return d, nil
}

func envValue(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}
