package topiccache

import (
	"errors"
	"time"
)

var (
	// ErrInvalidMaxSpan is returned when the max span is not positive
	ErrInvalidMaxSpan = errors.New("max span must be positive")
	// ErrInvalidChunk is returned when a chunk limit is not positive
	ErrInvalidChunk = errors.New("chunk limits must be positive")
	// ErrInvalidConcurrency is returned when the load concurrency is not positive
	ErrInvalidConcurrency = errors.New("concurrency must be positive")
)

// Config represents the registry configuration.
//
// The chunk defaults carry the archive's sampling characteristics: event
// topics are sparse, so a single call may safely cover a wider range than
// for high-rate telemetry. The extra 50ms keeps chunk boundaries off
// whole-second sample timestamps.
type Config struct {
	// MaxSpan is the discontinuity threshold. When the requested playback
	// time is further than this from the cached interval, the cache resets
	// to a fresh window instead of bridging the gap.
	MaxSpan time.Duration `yaml:"maxSpan" default:"10m"`

	// TelemetryChunk is the maximum archive call duration for telemetry topics.
	TelemetryChunk time.Duration `yaml:"telemetryChunk" default:"2m0.05s"`

	// EventChunk is the maximum archive call duration for event topics.
	EventChunk time.Duration `yaml:"eventChunk" default:"10m0.05s"`

	// Concurrency bounds how many topics are fetched at once.
	Concurrency int `yaml:"concurrency" default:"10"`

	// UpdateBuffer sizes the changed-row notification channel.
	UpdateBuffer int `yaml:"updateBuffer" default:"256"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.MaxSpan <= 0 {
		return ErrInvalidMaxSpan
	}

	if c.TelemetryChunk <= 0 || c.EventChunk <= 0 {
		return ErrInvalidChunk
	}

	if c.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}

	return nil
}
