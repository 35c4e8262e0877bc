package topiccache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockArchiveClient records every interval requested and answers with rows
// generated by the respond callback.
type mockArchiveClient struct {
	calls   []mockCall
	respond func(call int, start, end time.Time) (*Table, error)
}

type mockCall struct {
	series string
	start  time.Time
	end    time.Time
}

func (m *mockArchiveClient) SelectTimeSeries(
	_ context.Context, series string, _ []string, start, end time.Time,
) (*Table, error) {
	call := len(m.calls)
	m.calls = append(m.calls, mockCall{series: series, start: start, end: end})

	if m.respond != nil {
		return m.respond(call, start, end)
	}

	return NewTable(Row{Timestamp: start, Values: map[string]any{"value": 1.0}}), nil
}

func newFetchRequest(cache *TopicCache, topic string, start, end time.Time) *FetchRequest {
	return &FetchRequest{
		ID:       "test",
		Source:   "MTM1M3TS",
		Topic:    topic,
		Cache:    cache,
		Start:    start,
		End:      end,
		MaxChunk: 120 * time.Second,
	}
}

func TestFetchRequestSeriesName(t *testing.T) {
	request := newFetchRequest(NewTopicCache(), "thermalData", at(0), at(10))
	assert.Equal(t, "lsst.sal.MTM1M3TS.thermalData", request.SeriesName())
	assert.False(t, request.IsEvent())

	request.Topic = "logevent_heaterState"
	assert.Equal(t, "lsst.sal.MTM1M3TS.logevent_heaterState", request.SeriesName())
	assert.True(t, request.IsEvent())
}

func TestFetchRequestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects an empty interval", func(t *testing.T) {
		request := newFetchRequest(NewTopicCache(), "thermalData", at(10), at(10))

		err := request.Load(ctx, &mockArchiveClient{})
		assert.ErrorIs(t, err, ErrInvalidInterval)
	})

	t.Run("walks a wide interval in chunks", func(t *testing.T) {
		client := &mockArchiveClient{}
		cache := NewTopicCache()
		request := newFetchRequest(cache, "thermalData", at(0), at(300))

		require.NoError(t, request.Load(ctx, client))

		require.Len(t, client.calls, 3)
		assert.Equal(t, at(0), client.calls[0].start)
		assert.Equal(t, at(120), client.calls[0].end)
		assert.Equal(t, at(120), client.calls[1].start)
		assert.Equal(t, at(240), client.calls[1].end)
		assert.Equal(t, at(240), client.calls[2].start)
		assert.Equal(t, at(300), client.calls[2].end)

		start, end := cache.Bounds()
		assert.Equal(t, at(0), start)
		assert.Equal(t, at(300), end)
		assert.Equal(t, 3, cache.Len())
	})

	t.Run("walks a backward extension from the newest chunk", func(t *testing.T) {
		client := &mockArchiveClient{}
		cache := NewTopicCache()
		cache.Merge(NewTable(rows(305)...))
		cache.Update(at(300), at(400))

		request := newFetchRequest(cache, "thermalData", at(100), at(300))
		require.NoError(t, request.Load(ctx, client))

		require.Len(t, client.calls, 2)
		assert.Equal(t, at(180), client.calls[0].start)
		assert.Equal(t, at(300), client.calls[0].end)
		assert.Equal(t, at(100), client.calls[1].start)
		assert.Equal(t, at(180), client.calls[1].end)

		start, end := cache.Bounds()
		assert.Equal(t, at(100), start)
		assert.Equal(t, at(400), end)
	})

	t.Run("clears the cache on a disjoint forward request", func(t *testing.T) {
		client := &mockArchiveClient{}
		cache := NewTopicCache()
		cache.Merge(NewTable(rows(5)...))
		cache.Update(at(0), at(100))

		request := newFetchRequest(cache, "thermalData", at(500), at(510))
		require.NoError(t, request.Load(ctx, client))

		start, end := cache.Bounds()
		assert.Equal(t, at(500), start)
		assert.Equal(t, at(510), end)
		assert.Equal(t, 1, cache.Len())

		_, ok := cache.table.SearchAt(at(6))
		assert.False(t, ok, "stale rows must not survive a discontinuity")
	})

	t.Run("clears the cache on a disjoint backward request", func(t *testing.T) {
		client := &mockArchiveClient{}
		cache := NewTopicCache()
		cache.Merge(NewTable(rows(305)...))
		cache.Update(at(300), at(400))

		request := newFetchRequest(cache, "thermalData", at(100), at(200))
		require.NoError(t, request.Load(ctx, client))

		start, end := cache.Bounds()
		assert.Equal(t, at(100), start)
		assert.Equal(t, at(200), end)
		assert.Equal(t, 1, cache.Len())
	})

	t.Run("keeps merged chunks when a later chunk fails", func(t *testing.T) {
		errBoom := errors.New("boom")
		client := &mockArchiveClient{
			respond: func(call int, start, _ time.Time) (*Table, error) {
				if call == 1 {
					return nil, errBoom
				}

				return NewTable(Row{Timestamp: start, Values: map[string]any{"value": 1.0}}), nil
			},
		}
		cache := NewTopicCache()
		request := newFetchRequest(cache, "thermalData", at(0), at(300))

		err := request.Load(ctx, client)
		require.ErrorIs(t, err, errBoom)

		start, end := cache.Bounds()
		assert.Equal(t, at(0), start)
		assert.Equal(t, at(120), end)
		assert.Equal(t, 1, cache.Len())
	})

	t.Run("releases the fetch lock on failure", func(t *testing.T) {
		client := &mockArchiveClient{
			respond: func(call int, start, _ time.Time) (*Table, error) {
				if call == 0 {
					return nil, errors.New("transient")
				}

				return NewTable(Row{Timestamp: start, Values: map[string]any{"value": 1.0}}), nil
			},
		}
		cache := NewTopicCache()
		request := newFetchRequest(cache, "thermalData", at(0), at(100))

		require.Error(t, request.Load(ctx, client))
		require.NoError(t, request.Load(ctx, client))
	})

	t.Run("propagates a missing series", func(t *testing.T) {
		client := &mockArchiveClient{
			respond: func(_ int, _, _ time.Time) (*Table, error) {
				return nil, fmt.Errorf("%w: lsst.sal.MTM1M3TS.thermalData", ErrSeriesNotFound)
			},
		}
		request := newFetchRequest(NewTopicCache(), "thermalData", at(0), at(100))

		err := request.Load(ctx, client)
		assert.ErrorIs(t, err, ErrSeriesNotFound)
	})
}
