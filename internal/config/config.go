// Package config loads markguard configuration from .markguard.yml and the
// environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/phobologic/markguard/internal/model"
	"github.com/phobologic/markguard/internal/rules"
)

// FileName is the configuration file looked up in the lint root.
const FileName = ".markguard.yml"

// EnvPrefix prefixes environment overrides, e.g. MARKGUARD_FORMAT=json.
const EnvPrefix = "MARKGUARD"

// DefaultMaxFileSize is the size above which files are skipped.
const DefaultMaxFileSize = 1_000_000 // 1 MB

// Formats lists the supported output formats.
var Formats = []string{"text", "json", "toon"}

// ErrExists is returned by Write when the target file already exists.
var ErrExists = errors.New("config file already exists")

// Rule overrides one built-in rule. Zero values keep the built-in setting.
type Rule struct {
	Enabled    *bool    `yaml:"enabled,omitempty" mapstructure:"enabled"`
	Severity   string   `yaml:"severity,omitempty" mapstructure:"severity"`
	Dir        string   `yaml:"dir,omitempty" mapstructure:"dir"`
	Tables     []string `yaml:"tables,omitempty,flow" mapstructure:"tables"`
	Terminal   []string `yaml:"terminal,omitempty,flow" mapstructure:"terminal"`
	Middleware []string `yaml:"middleware,omitempty,flow" mapstructure:"middleware"`
}

// Config is the merged markguard configuration.
type Config struct {
	// Completion is the parameter name of the completion value.
	Completion   string          `yaml:"completion" mapstructure:"completion"`
	Format       string          `yaml:"format" mapstructure:"format"`
	MaxFileSize  int             `yaml:"max_file_size" mapstructure:"max_file_size"`
	Ignore       []string        `yaml:"ignore,omitempty" mapstructure:"ignore"`
	IncludeTests bool            `yaml:"include_tests" mapstructure:"include_tests"`
	Rules        map[string]Rule `yaml:"rules,omitempty" mapstructure:"rules"`

	// Path is the file the configuration was read from, if any.
	Path string `yaml:"-" mapstructure:"-"`
}

// Default returns the configuration markguard uses without a config file,
// spelling out every built-in rule.
func Default() *Config {
	c := &Config{
		Completion:  rules.DefaultCompletion,
		Format:      "text",
		MaxFileSize: DefaultMaxFileSize,
		Rules:       make(map[string]Rule),
	}
	for _, r := range rules.Builtin() {
		enabled := r.Enabled
		c.Rules[r.Name] = Rule{
			Enabled:    &enabled,
			Severity:   string(r.Severity),
			Dir:        r.Dir,
			Tables:     r.Tables,
			Terminal:   r.Taxonomy.Terminal,
			Middleware: r.Taxonomy.Middleware,
		}
	}
	return c
}

// Load reads the configuration. With an explicit path the file must exist;
// otherwise FileName is looked up in root and is optional. Environment
// variables override file values.
func Load(path, root string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("completion", rules.DefaultCompletion)
	v.SetDefault("format", "text")
	v.SetDefault("max_file_size", DefaultMaxFileSize)
	v.SetDefault("ignore", []string{})
	v.SetDefault("include_tests", false)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	} else {
		candidate := filepath.Join(root, FileName)
		if _, err := os.Stat(candidate); err == nil {
			v.SetConfigFile(candidate)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("reading %s: %w", candidate, err)
			}
		}
	}

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	c.Path = v.ConfigFileUsed()

	if err := c.Validate(); err != nil {
		if c.Path != "" {
			return nil, fmt.Errorf("%s: %w", c.Path, err)
		}
		return nil, err
	}
	return c, nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Completion == "" {
		return fmt.Errorf("completion must not be empty")
	}
	if !ValidFormat(c.Format) {
		return fmt.Errorf("unsupported format %q (want %s)", c.Format, strings.Join(Formats, ", "))
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("max_file_size must be positive, got %d", c.MaxFileSize)
	}

	builtin := rules.Builtin()
	for _, name := range c.ruleNames() {
		if _, ok := builtin.Get(name); !ok {
			return fmt.Errorf("unknown rule %q", name)
		}
		switch model.Severity(c.Rules[name].Severity) {
		case "", model.Error, model.Warning:
		default:
			return fmt.Errorf("rule %s: unsupported severity %q", name, c.Rules[name].Severity)
		}
	}
	return nil
}

// ValidFormat reports whether format names a supported output format.
func ValidFormat(format string) bool {
	for _, f := range Formats {
		if f == format {
			return true
		}
	}
	return false
}

// RuleSet applies the rule overrides to the built-in rules.
func (c *Config) RuleSet() rules.Set {
	set := rules.Builtin()
	for i := range set {
		o, ok := c.Rules[set[i].Name]
		if !ok {
			continue
		}
		r := &set[i]
		if o.Enabled != nil {
			r.Enabled = *o.Enabled
		}
		if o.Severity != "" {
			r.Severity = model.Severity(o.Severity)
		}
		if o.Dir != "" {
			r.Dir = o.Dir
		}
		if len(o.Tables) > 0 {
			r.Tables = o.Tables
		}
		if len(o.Terminal) > 0 {
			r.Taxonomy.Terminal = o.Terminal
		}
		if len(o.Middleware) > 0 {
			r.Taxonomy.Middleware = o.Middleware
		}
	}
	return set
}

func (c *Config) ruleNames() []string {
	names := make([]string, 0, len(c.Rules))
	for name := range c.Rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Marshal renders c as YAML.
func Marshal(c *Config) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("# markguard configuration\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return buf.Bytes(), nil
}

// Write stores c at path. An existing file is only replaced when force is
// set.
func Write(path string, c *Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s: %w", path, ErrExists)
		}
	}
	data, err := Marshal(c)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
