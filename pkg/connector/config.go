// Copyright 2024-2026 Aiku AI

package connector

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/rs/zerolog"
	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"

	"github.com/aiku/mattermost-mirror/pkg/relay"
)

//go:embed example-config.yaml
var ExampleConfig string

// AccessTokenEnv overrides access_token from the config file when set.
const AccessTokenEnv = "MIRROR_ACCESS_TOKEN"

// Config holds the mirror service configuration.
type Config struct {
	ServerURL           string `yaml:"server_url"`
	AccessToken         string `yaml:"access_token"`
	DisplaynameTemplate string `yaml:"displayname_template"`
	// BotPrefix is a username prefix for echo prevention. Posts by any
	// Mattermost username starting with this prefix are never relayed.
	// Leave empty to disable prefix-based filtering.
	BotPrefix string `yaml:"bot_prefix"`
	// AdminAPIAddr is the listen address for the admin HTTP API and
	// /metrics. Defaults to ":29320".
	AdminAPIAddr string `yaml:"admin_api_addr"`
	// DataDir holds the per-team relay configs under configs/.
	DataDir      string `yaml:"data_dir"`
	EndpointName string `yaml:"endpoint_name"`

	Logging zeroconfig.Config `yaml:"logging"`

	displaynameTemplate *template.Template `yaml:"-"`
}

// DisplaynameParams holds the parameters for rendering the displayname template.
type DisplaynameParams struct {
	Username  string
	Nickname  string
	FirstName string
	LastName  string
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// PostProcess compiles the displayname template, applies environment
// overrides and fills in defaults. It must be called after unmarshaling.
func (c *Config) PostProcess() error {
	var err error
	c.displaynameTemplate, err = template.New("displayname").Parse(c.DisplaynameTemplate)
	if err != nil {
		return fmt.Errorf("invalid displayname_template: %w", err)
	}
	if token := os.Getenv(AccessTokenEnv); token != "" {
		c.AccessToken = token
	}
	c.ServerURL = strings.TrimSuffix(c.ServerURL, "/")
	if c.AdminAPIAddr == "" {
		c.AdminAPIAddr = ":29320"
	}
	if c.DataDir == "" {
		c.DataDir = "."
	}
	if c.EndpointName == "" {
		c.EndpointName = relay.DefaultEndpointName
	}
	return nil
}

// Validate reports missing settings that prevent connecting.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	if c.AccessToken == "" {
		return fmt.Errorf("access_token is required (or set %s)", AccessTokenEnv)
	}
	return nil
}

// ConfigDir is where per-team relay configs are stored.
func (c *Config) ConfigDir() string {
	return filepath.Join(c.DataDir, "configs")
}

// Logger compiles the logging section into a zerolog logger.
func (c *Config) Logger() (*zerolog.Logger, error) {
	log, err := c.Logging.Compile()
	if err != nil {
		return nil, fmt.Errorf("failed to compile logging config: %w", err)
	}
	return log, nil
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "server_url")
	helper.Copy(up.Str|up.Null, "access_token")
	helper.Copy(up.Str, "displayname_template")
	helper.Copy(up.Str|up.Null, "bot_prefix")
	helper.Copy(up.Str, "admin_api_addr")
	helper.Copy(up.Str, "data_dir")
	helper.Copy(up.Str, "endpoint_name")
	helper.Copy(up.Map, "logging")
}

// LoadConfig upgrades the file at path against the example config, saving
// the upgraded version back when it changed, and parses the result.
func LoadConfig(path string) (*Config, error) {
	data, _, err := up.Do(path, true, &up.StructUpgrader{
		SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
		Blocks: [][]string{
			{"server_url"},
			{"admin_api_addr"},
			{"logging"},
		},
		Base: ExampleConfig,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses raw YAML and post-processes it.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FormatDisplayname generates a display name from the template and params.
func (c *Config) FormatDisplayname(params DisplaynameParams) string {
	if c.displaynameTemplate == nil {
		return params.Username
	}
	var buf []byte
	err := c.displaynameTemplate.Execute(
		(*templateBuffer)(&buf),
		params,
	)
	if err != nil {
		return params.Username
	}
	name := strings.TrimSpace(string(buf))
	if name == "" {
		return params.Username
	}
	return name
}

// templateBuffer is a simple io.Writer that appends to a byte slice.
type templateBuffer []byte

func (b *templateBuffer) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}
