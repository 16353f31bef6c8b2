package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models brandforge.yml. The workspace copy of the config lives in
// the database; the YAML file is only an import/export surface.
type Config struct {
	Pipeline struct {
		// StrictRevalidate turns the post-apply soft revalidation of slot
		// content into a hard failure. Default false: warnings are logged
		// and the write goes through.
		StrictRevalidate bool `yaml:"strict_revalidate" json:"strict_revalidate"`
	} `yaml:"pipeline" json:"pipeline"`
	Generation struct {
		// Provider selects the text-generation collaborator. "none" wires a
		// stub that returns empty output.
		Provider string `yaml:"provider" json:"provider"`
	} `yaml:"generation" json:"generation"`
	Server struct {
		JWTSecret              string `yaml:"jwt_secret" json:"jwt_secret"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header" json:"allow_legacy_actor_header"`
	} `yaml:"server" json:"server"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks,omitempty"`
}

type WebhookConfig struct {
	URL string `yaml:"url" json:"url"`
	// Events filters delivered event types; empty means all.
	Events         []string `yaml:"events" json:"events,omitempty"`
	Secret         string   `yaml:"secret" json:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Generation.Provider {
	case "", "none", "static":
	default:
		return fmt.Errorf("config.generation.provider %q is not supported", c.Generation.Provider)
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "brandforge.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the workspace config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `pipeline:
  strict_revalidate: false

generation:
  provider: none

server:
  jwt_secret: ""
  allow_legacy_actor_header: true
`
