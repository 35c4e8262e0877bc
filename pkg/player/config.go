package player

import (
	"errors"
	"time"

	"github.com/lsst-ts/ts-criopy-sub002/pkg/api"
	"github.com/lsst-ts/ts-criopy-sub002/pkg/archive"
	"github.com/lsst-ts/ts-criopy-sub002/pkg/topiccache"
)

var (
	// ErrSourceRequired is returned when no data source name is configured
	ErrSourceRequired = errors.New("source is required")
	// ErrNoTopics is returned when neither telemetry nor event topics are configured
	ErrNoTopics = errors.New("at least one telemetry or event topic is required")
	// ErrInvalidSpeed is returned when the playback speed is not positive
	ErrInvalidSpeed = errors.New("playback speed must be positive")
	// ErrInvalidTickInterval is returned when the tick interval is not positive
	ErrInvalidTickInterval = errors.New("tick interval must be positive")
	// ErrInvalidWindow is returned when the coverage window is not positive
	ErrInvalidWindow = errors.New("window must be positive")
)

// Config represents the complete replay application configuration
type Config struct {
	// Core settings
	Logging         string `yaml:"logging" default:"info" validate:"oneof=panic fatal warn info debug trace"`
	MetricsAddr     string `yaml:"metricsAddr" default:":9090"`
	HealthCheckAddr string `yaml:"healthCheckAddr"`
	PProfAddr       string `yaml:"pprofAddr"`

	// Source is the CSC the topics belong to, e.g. MTM1M3TS.
	Source string `yaml:"source"`

	// Topics enumerates the series to cache, by bare topic name.
	Topics TopicsConfig `yaml:"topics"`

	// Dependencies
	Archive archive.Config    `yaml:"archive"`
	Cache   topiccache.Config `yaml:"cache"`
	API     api.Config        `yaml:"api"`

	// Playback settings
	Playback PlaybackConfig `yaml:"playback"`
}

// TopicsConfig lists the topic names of one data source
type TopicsConfig struct {
	Telemetry []string `yaml:"telemetry"`
	Events    []string `yaml:"events"`
}

// PlaybackConfig represents the playback loop configuration
type PlaybackConfig struct {
	// Start is the initial playback position. Zero means the window's
	// length before now.
	Start time.Time `yaml:"start"`

	// Speed is the playback rate relative to real time.
	Speed float64 `yaml:"speed" default:"1"`

	// TickInterval is how often the position advances and the cache is
	// rescheduled and refreshed.
	TickInterval time.Duration `yaml:"tickInterval" default:"1s"`

	// Window is the minimum coverage margin requested around the
	// playback position on every pass.
	Window time.Duration `yaml:"window" default:"1m"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Source == "" {
		return ErrSourceRequired
	}

	if len(c.Topics.Telemetry) == 0 && len(c.Topics.Events) == 0 {
		return ErrNoTopics
	}

	if err := c.Archive.Validate(); err != nil {
		return err
	}

	if err := c.Cache.Validate(); err != nil {
		return err
	}

	return c.Playback.Validate()
}

// Validate validates the playback configuration
func (c *PlaybackConfig) Validate() error {
	if c.Speed <= 0 {
		return ErrInvalidSpeed
	}

	if c.TickInterval <= 0 {
		return ErrInvalidTickInterval
	}

	if c.Window <= 0 {
		return ErrInvalidWindow
	}

	return nil
}
