// Package archive provides access to the EFD, the InfluxDB-backed
// time-series archive holding historical telemetry and events.
package archive

import (
	"errors"
	"time"
)

// Static errors for configuration validation
var (
	ErrURLRequired      = errors.New("URL is required")
	ErrDatabaseRequired = errors.New("database is required")
)

// Config contains archive connection settings
type Config struct {
	URL          string        `yaml:"url" validate:"required,url"`
	Database     string        `yaml:"database"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	QueryTimeout time.Duration `yaml:"queryTimeout"`
	KeepAlive    time.Duration `yaml:"keepAlive"`
	Debug        bool          `yaml:"debug"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.URL == "" {
		return ErrURLRequired
	}

	if c.Database == "" {
		return ErrDatabaseRequired
	}

	return nil
}

// SetDefaults sets default values for the configuration
func (c *Config) SetDefaults() {
	if c.QueryTimeout == 0 {
		c.QueryTimeout = 30 * time.Second
	}

	if c.KeepAlive == 0 {
		c.KeepAlive = 30 * time.Second
	}
}
