package topiccache

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

func testConfig() *Config {
	return &Config{
		MaxSpan:        600 * time.Second,
		TelemetryChunk: 120 * time.Second,
		EventChunk:     600 * time.Second,
		Concurrency:    4,
		UpdateBuffer:   16,
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	registry, err := NewRegistry(
		testLogger(),
		"MTM1M3TS",
		[]string{"thermalData"},
		[]string{"heaterState"},
		testConfig(),
	)
	require.NoError(t, err)

	return registry
}

func TestNewRegistryValidatesConfig(t *testing.T) {
	_, err := NewRegistry(testLogger(), "MTM1M3TS", nil, nil, &Config{})
	assert.ErrorIs(t, err, ErrInvalidMaxSpan)
}

func TestRegistryNewRequests(t *testing.T) {
	t.Run("empty caches yield a request per topic", func(t *testing.T) {
		registry := newTestRegistry(t)

		requests := registry.NewRequests(at(100), testMinDuration)
		require.Len(t, requests, 2)

		byTopic := make(map[string]*FetchRequest, len(requests))
		for _, req := range requests {
			byTopic[req.Topic] = req
		}

		telem, ok := byTopic["thermalData"]
		require.True(t, ok)
		assert.Equal(t, at(99.95), telem.Start)
		assert.Equal(t, at(110), telem.End)
		assert.Equal(t, 120*time.Second, telem.MaxChunk)
		assert.Equal(t, "lsst.sal.MTM1M3TS.thermalData", telem.SeriesName())

		event, ok := byTopic["logevent_heaterState"]
		require.True(t, ok)
		assert.Equal(t, 600*time.Second, event.MaxChunk)
		assert.True(t, event.IsEvent())
	})

	t.Run("covered topics are skipped", func(t *testing.T) {
		registry := newTestRegistry(t)

		cache, ok := registry.Telemetry("thermalData")
		require.True(t, ok)
		cache.Merge(NewTable(rows(100)...))
		cache.Update(at(99.95), at(110))

		requests := registry.NewRequests(at(100), testMinDuration)
		require.Len(t, requests, 1)
		assert.Equal(t, "logevent_heaterState", requests[0].Topic)
	})
}

func TestRegistryLoadClassification(t *testing.T) {
	ctx := context.Background()

	t.Run("missing series flags the topic for removal", func(t *testing.T) {
		registry := newTestRegistry(t)
		client := &mockArchiveClient{
			respond: func(_ int, start, _ time.Time) (*Table, error) {
				return nil, fmt.Errorf("%w: at %s", ErrSeriesNotFound, start)
			},
		}

		registry.LoadAll(ctx, client, registry.NewRequests(at(100), testMinDuration))
		registry.Cleanup()

		assert.Nil(t, registry.Get("thermalData"))
		assert.Nil(t, registry.Get("logevent_heaterState"))
		assert.Empty(t, registry.NewRequests(at(100), testMinDuration))
		assert.Empty(t, registry.Topics())
	})

	t.Run("transient errors keep the topic", func(t *testing.T) {
		registry := newTestRegistry(t)
		client := &mockArchiveClient{
			respond: func(_ int, _, _ time.Time) (*Table, error) {
				return nil, context.DeadlineExceeded
			},
		}

		registry.LoadAll(ctx, client, registry.NewRequests(at(100), testMinDuration))
		registry.Cleanup()

		assert.NotNil(t, registry.Get("thermalData"))
		assert.Len(t, registry.NewRequests(at(100), testMinDuration), 2)
	})

	t.Run("successful loads fill the caches", func(t *testing.T) {
		registry := newTestRegistry(t)
		client := &mockArchiveClient{}

		registry.LoadAll(ctx, client, registry.NewRequests(at(100), testMinDuration))

		cache, ok := registry.Telemetry("thermalData")
		require.True(t, ok)
		assert.False(t, cache.Empty())

		cache, ok = registry.Event("heaterState")
		require.True(t, ok)
		assert.False(t, cache.Empty())

		assert.Empty(t, registry.NewRequests(at(100), testMinDuration))
	})
}

func TestRegistryRefresh(t *testing.T) {
	registry := newTestRegistry(t)

	cache, ok := registry.Telemetry("thermalData")
	require.True(t, ok)
	cache.Merge(NewTable(rows(100, 105)...))
	cache.Update(at(100), at(110))

	drain := func() []Update {
		var updates []Update
		for {
			select {
			case u := <-registry.Updates():
				updates = append(updates, u)
			default:
				return updates
			}
		}
	}

	// Update initialized the current row from the covered start, so the
	// first refresh inside the same row emits nothing.
	registry.Refresh(at(102))
	assert.Empty(t, drain())

	registry.Refresh(at(106))
	updates := drain()
	require.Len(t, updates, 1)
	assert.Equal(t, "MTM1M3TS", updates[0].Source)
	assert.Equal(t, "thermalData", updates[0].Topic)
	assert.Equal(t, at(105), updates[0].Row.Timestamp)

	// Same row again, nothing new.
	registry.Refresh(at(107))
	assert.Empty(t, drain())
}

func TestRegistryGet(t *testing.T) {
	registry := newTestRegistry(t)

	assert.NotNil(t, registry.Get("thermalData"))
	assert.NotNil(t, registry.Get("heaterState"))
	assert.NotNil(t, registry.Get("logevent_heaterState"))
	assert.Nil(t, registry.Get("appliedForces"))
}

func TestRegistryTopics(t *testing.T) {
	registry := newTestRegistry(t)

	cache, ok := registry.Telemetry("thermalData")
	require.True(t, ok)
	cache.Merge(NewTable(rows(100)...))
	cache.Update(at(99.95), at(110))

	statuses := registry.Topics()
	require.Len(t, statuses, 2)

	// Sorted by name: logevent_heaterState before thermalData.
	assert.Equal(t, "logevent_heaterState", statuses[0].Name)
	assert.Equal(t, "event", statuses[0].Kind)
	assert.True(t, statuses[0].Empty)

	assert.Equal(t, "thermalData", statuses[1].Name)
	assert.Equal(t, "telemetry", statuses[1].Kind)
	assert.Equal(t, 1, statuses[1].Rows)
	assert.Equal(t, at(99.95), statuses[1].Start)
}

func TestConfigValidate(t *testing.T) {
	config := testConfig()
	require.NoError(t, config.Validate())

	config.TelemetryChunk = 0
	assert.ErrorIs(t, config.Validate(), ErrInvalidChunk)

	config = testConfig()
	config.Concurrency = 0
	assert.ErrorIs(t, config.Validate(), ErrInvalidConcurrency)
}
