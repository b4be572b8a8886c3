// Package config holds the settings shared by sessions, drivers and the CLI.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/guregu/null.v3"
)

// Locator orders accepted by LocatorOrder.
const (
	LocatorOrderStrategy = "strategy"
	LocatorOrderDocument = "document"
)

// Config holds the options for a session and its driver.
//
//nolint:lll
type Config struct {
	Driver       null.String `json:"driver" envconfig:"WEBCAT_DRIVER"`
	MaxRedirects null.Int    `json:"maxRedirects" envconfig:"WEBCAT_MAX_REDIRECTS"`
	// Timeout bounds every blocking step of a remote driver, parsed with time.ParseDuration.
	Timeout null.String `json:"timeout" envconfig:"WEBCAT_TIMEOUT"`

	LogLevel          null.String `json:"logLevel" envconfig:"WEBCAT_LOG_LEVEL"`
	LogCategoryFilter null.String `json:"logCategoryFilter" envconfig:"WEBCAT_LOG_CATEGORY_FILTER"`
	Debug             null.Bool   `json:"debug" envconfig:"WEBCAT_DEBUG"`

	// LocatorOrder decides between strategy precedence and document order
	// when different strategies match different elements.
	LocatorOrder null.String `json:"locatorOrder" envconfig:"WEBCAT_LOCATOR_ORDER"`

	// AppHost is the host name used for in-process application targets.
	AppHost null.String `json:"appHost" envconfig:"WEBCAT_APP_HOST"`

	ChromiumPath     null.String `json:"chromiumPath" envconfig:"WEBCAT_CHROMIUM_PATH"`
	ChromiumHeadless null.Bool   `json:"chromiumHeadless" envconfig:"WEBCAT_CHROMIUM_HEADLESS"`
	ChromiumArgs     []string    `json:"chromiumArgs" envconfig:"WEBCAT_CHROMIUM_ARGS"`
	ChromiumWSURL    null.String `json:"chromiumWSURL" envconfig:"WEBCAT_CHROMIUM_WS_URL"`

	BridgeURL null.String `json:"bridgeURL" envconfig:"WEBCAT_BRIDGE_URL"`
}

// NewConfig creates a new Config instance with default values for some fields.
func NewConfig() Config {
	return Config{
		Driver:           null.NewString("replay", false),
		MaxRedirects:     null.NewInt(20, false),
		Timeout:          null.NewString("30s", false),
		LogLevel:         null.NewString("info", false),
		LocatorOrder:     null.NewString(LocatorOrderStrategy, false),
		AppHost:          null.NewString("www.example.com", false),
		ChromiumHeadless: null.NewBool(true, false),
		BridgeURL:        null.NewString("ws://127.0.0.1:9515/", false),
	}
}

// Apply saves config non-zero config values from the passed config in the receiver.
//
//nolint:cyclop
func (c Config) Apply(cfg Config) Config {
	if cfg.Driver.Valid && cfg.Driver.String != "" {
		c.Driver = cfg.Driver
	}
	if cfg.MaxRedirects.Valid {
		c.MaxRedirects = cfg.MaxRedirects
	}
	if cfg.Timeout.Valid && cfg.Timeout.String != "" {
		c.Timeout = cfg.Timeout
	}
	if cfg.LogLevel.Valid && cfg.LogLevel.String != "" {
		c.LogLevel = cfg.LogLevel
	}
	if cfg.LogCategoryFilter.Valid {
		c.LogCategoryFilter = cfg.LogCategoryFilter
	}
	if cfg.Debug.Valid {
		c.Debug = cfg.Debug
	}
	if cfg.LocatorOrder.Valid && cfg.LocatorOrder.String != "" {
		c.LocatorOrder = cfg.LocatorOrder
	}
	if cfg.AppHost.Valid && cfg.AppHost.String != "" {
		c.AppHost = cfg.AppHost
	}
	if cfg.ChromiumPath.Valid {
		c.ChromiumPath = cfg.ChromiumPath
	}
	if cfg.ChromiumHeadless.Valid {
		c.ChromiumHeadless = cfg.ChromiumHeadless
	}
	if len(cfg.ChromiumArgs) > 0 {
		c.ChromiumArgs = append([]string(nil), cfg.ChromiumArgs...)
	}
	if cfg.ChromiumWSURL.Valid {
		c.ChromiumWSURL = cfg.ChromiumWSURL
	}
	if cfg.BridgeURL.Valid && cfg.BridgeURL.String != "" {
		c.BridgeURL = cfg.BridgeURL
	}
	return c
}

// FromEnv reads the WEBCAT_* environment variables.
func FromEnv() (Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return c, fmt.Errorf("reading environment: %w", err)
	}
	return c, nil
}

// Consolidate combines the defaults with the JSON config (if any) and the
// environment, in that order of precedence, and validates the result.
func Consolidate(jsonRawConf json.RawMessage) (Config, error) {
	result := NewConfig()
	if len(jsonRawConf) > 0 {
		var jsonConf Config
		if err := json.Unmarshal(jsonRawConf, &jsonConf); err != nil {
			return result, fmt.Errorf("parsing JSON config: %w", err)
		}
		result = result.Apply(jsonConf)
	}

	envConf, err := FromEnv()
	if err != nil {
		return result, err
	}
	result = result.Apply(envConf)

	return result, result.Validate()
}

// Validate reports the first invalid option.
func (c Config) Validate() error {
	if _, err := c.TimeoutDuration(); err != nil {
		return err
	}
	if c.MaxRedirects.Int64 < 0 {
		return fmt.Errorf("max redirects must not be negative, got %d", c.MaxRedirects.Int64)
	}
	switch c.LocatorOrder.String {
	case LocatorOrderStrategy, LocatorOrderDocument:
	default:
		return fmt.Errorf("unknown locator order %q, want %q or %q",
			c.LocatorOrder.String, LocatorOrderStrategy, LocatorOrderDocument)
	}
	return nil
}

// TimeoutDuration parses Timeout.
func (c Config) TimeoutDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.Timeout.String)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", c.Timeout.String, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("timeout must be positive, got %s", d)
	}
	return d, nil
}
