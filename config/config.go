// Package config loads the setup-time defaults that synchronizers and the
// mirror command fall back to when a call site leaves an option unset.
//
// Defaults are read from a YAML (.yml, .yaml) or TOML (.toml) file. ${VAR}
// and ${VAR:-default} references are expanded before parsing, and the
// MIRROR_PATH, MIRROR_PAGE_SIZE and MIRROR_TABLE environment variables
// override the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/jacentio/trellis/collection"
	"github.com/jacentio/trellis/remote"
)

var (
	ErrUnsupportedFormat = errors.New("config: unsupported file format")
	ErrInvalid           = errors.New("config: invalid configuration")
)

// Format is the syntax of a config file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatOf returns the format implied by the file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
}

// Defaults holds the fallback options.
type Defaults struct {
	Path         string `yaml:"path"`
	OrderBy      string `yaml:"order_by"`
	LimitToLast  int    `yaml:"limit_to_last"`
	LimitToFirst int    `yaml:"limit_to_first"`
	PageSize     int    `yaml:"page_size"`

	DynamoDB DynamoDB `yaml:"dynamodb"`
	Stream   Stream   `yaml:"stream"`
}

// DynamoDB configures the DynamoDB backed store.
type DynamoDB struct {
	Table     string `yaml:"table"`
	NumShards int    `yaml:"num_shards"`
	Region    string `yaml:"region"`
	Profile   string `yaml:"profile"`
	Endpoint  string `yaml:"endpoint"`
}

// Stream configures the change stream poller.
type Stream struct {
	ARN          string        `yaml:"arn"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Load reads the file at path, applies environment overrides and
// validates the result.
func Load(path string) (*Defaults, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(format, data)
}

// Parse decodes data in the given format.
func Parse(format Format, data []byte) (*Defaults, error) {
	expanded := []byte(expandEnvVars(string(data)))

	var raw map[string]any
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(expanded, &raw); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	case FormatTOML:
		if err := toml.Unmarshal(expanded, &raw); err != nil {
			return nil, fmt.Errorf("config: parse toml: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	var d Defaults
	if err := decode(raw, &d); err != nil {
		return nil, err
	}
	if err := d.applyEnv(); err != nil {
		return nil, err
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// FromEnv returns defaults built from the environment alone.
func FromEnv() (*Defaults, error) {
	var d Defaults
	if err := d.applyEnv(); err != nil {
		return nil, err
	}
	return &d, d.Validate()
}

func decode(raw map[string]any, out *Defaults) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return fmt.Errorf("config: create decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

func (d *Defaults) applyEnv() error {
	if v := os.Getenv("MIRROR_PATH"); v != "" {
		d.Path = v
	}
	if v := os.Getenv("MIRROR_TABLE"); v != "" {
		d.DynamoDB.Table = v
	}
	if v := os.Getenv("MIRROR_PAGE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: MIRROR_PAGE_SIZE=%q", ErrInvalid, v)
		}
		d.PageSize = n
	}
	return nil
}

// Validate checks the options that can be checked without a source.
func (d *Defaults) Validate() error {
	if _, err := remote.ParseOrder(d.OrderBy); err != nil {
		return fmt.Errorf("%w: order_by: %w", ErrInvalid, err)
	}
	if d.LimitToLast < 0 || d.LimitToFirst < 0 || d.PageSize < 0 {
		return fmt.Errorf("%w: limits must not be negative", ErrInvalid)
	}
	if d.LimitToLast > 0 && d.LimitToFirst > 0 {
		return fmt.Errorf("%w: limit_to_last and limit_to_first are exclusive", ErrInvalid)
	}
	if d.DynamoDB.NumShards < 0 {
		return fmt.Errorf("%w: dynamodb.num_shards must not be negative", ErrInvalid)
	}
	return nil
}

// CollectionConfig converts the defaults into a fallback configuration for
// collection.New. src may be nil when every call site brings its own.
func (d *Defaults) CollectionConfig(src remote.Source, logger *logrus.Entry) (collection.Config, error) {
	order, err := remote.ParseOrder(d.OrderBy)
	if err != nil {
		return collection.Config{}, fmt.Errorf("%w: order_by: %w", ErrInvalid, err)
	}
	cfg := collection.Config{
		Source:       src,
		Path:         d.Path,
		LimitToLast:  d.LimitToLast,
		LimitToFirst: d.LimitToFirst,
		PageSize:     d.PageSize,
		Logger:       logger,
	}
	switch order.Kind {
	case remote.OrderKey:
		cfg.OrderByKey = true
	case remote.OrderValue:
		cfg.OrderByValue = true
	case remote.OrderChild:
		cfg.OrderByChild = order.Child
	}
	return cfg, nil
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} with values from the
// environment.
func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		name := envVarRegex.FindStringSubmatch(match)[1]
		parts := strings.SplitN(name, ":-", 2)
		if v := os.Getenv(parts[0]); v != "" {
			return v
		}
		if len(parts) > 1 {
			return parts[1]
		}
		return ""
	})
}
