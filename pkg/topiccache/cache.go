package topiccache

import (
	"fmt"
	"sync"
	"time"
)

// Epsilon is subtracted from a requested timepoint when a fresh window is
// fetched, so a sample published just before the timepoint is still
// covered despite sub-sample timing jitter.
const Epsilon = 50 * time.Millisecond

// TopicCache holds the accumulated rows of one topic together with the
// covered time interval and the row active at the last evaluated playback
// time.
//
// The covered interval (start, end) is tracked separately from the row
// extremes: a sparse event topic may cover ten minutes with a single row,
// and must not be refetched for timepoints inside the already queried
// range.
//
// Two locks are involved. The fetch lock serializes fetches so only one
// FetchRequest extends the table at a time; it is held across archive
// round-trips. The state lock guards table, bounds and current for the
// short synchronous operations, so readers never observe a partially
// merged table.
type TopicCache struct {
	fetchMu sync.Mutex

	mu      sync.RWMutex
	table   *Table
	current *Row
	start   time.Time
	end     time.Time
}

// NewTopicCache creates an empty cache for one topic.
func NewTopicCache() *TopicCache {
	return &TopicCache{}
}

// Interval determines what new interval, if any, must be fetched so the
// cache covers timepoint with at least minDuration of margin. Both return
// values are zero when the timepoint is already covered.
//
// When the gap between timepoint and the covered interval is maxSpan or
// more, continuity is abandoned and a fresh window around timepoint is
// returned; the fetch path clears the stale table before loading it.
func (c *TopicCache) Interval(timepoint time.Time, minDuration, maxSpan time.Duration) (start, end time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	halfDuration := minDuration / 2

	newStart := timepoint.Add(-Epsilon)
	newEnd := timepoint.Add(minDuration)

	switch {
	case c.start.IsZero() || c.end.IsZero():
		return newStart, newEnd
	case timepoint.Before(c.start):
		gap := c.start.Sub(timepoint)
		if gap >= maxSpan {
			return newStart, newEnd
		}
		if gap < minDuration {
			return c.start.Add(-minDuration), c.start
		}

		return timepoint.Add(-halfDuration), c.start
	case timepoint.After(c.end):
		gap := timepoint.Sub(c.end)
		if gap >= maxSpan {
			return newStart, newEnd
		}
		if gap < minDuration {
			return c.end, c.end.Add(minDuration)
		}

		return c.end, timepoint.Add(halfDuration)
	}

	return time.Time{}, time.Time{}
}

// Empty reports whether the cache holds no rows.
func (c *TopicCache) Empty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.table.Empty()
}

// Len returns the number of cached rows.
func (c *TopicCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.table.Len()
}

// Bounds returns the covered interval. Both values are zero while nothing
// has been fetched.
func (c *TopicCache) Bounds() (start, end time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.start, c.end
}

// Get returns the row active at the last evaluated playback time, or nil.
func (c *TopicCache) Get() *Row {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.current
}

// SetCurrentTime selects the last row with a timestamp at or before
// timepoint as the current row. The returned flag is true only when the
// current row actually changed; callers use it to suppress redundant
// downstream notification.
func (c *TopicCache) SetCurrentTime(timepoint time.Time) (changed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.setCurrentTimeLocked(timepoint)
}

func (c *TopicCache) setCurrentTimeLocked(timepoint time.Time) (changed bool) {
	if c.table.Empty() {
		c.current = nil

		return false
	}

	row, ok := c.table.SearchAt(timepoint)
	if !ok {
		c.current = nil

		return false
	}

	if c.current != nil && c.current.Timestamp.Equal(row.Timestamp) {
		return false
	}

	c.current = &row

	return true
}

// Clear discards the table and the covered bounds, returning the cache to
// the empty state. The current row and the fetch lock are untouched.
func (c *TopicCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.table = nil
	c.start = time.Time{}
	c.end = time.Time{}
}

// Merge combines a freshly fetched table into the cached one. When the
// chunk boundary overlaps by exactly one row, the duplicate is dropped
// before concatenation. Panics when the result would not be strictly
// increasing, as that indicates an upstream data contract violation.
func (c *TopicCache) Merge(fetched *Table) {
	if fetched.Empty() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.table.Empty() {
		c.table = fetched

		return
	}

	if fetched.First().Timestamp.Equal(c.table.Last().Timestamp) {
		fetched = fetched.dropFirst()
	} else if c.table.First().Timestamp.Equal(fetched.Last().Timestamp) {
		fetched = fetched.dropLast()
	}

	if fetched.Empty() {
		return
	}

	switch {
	case fetched.First().Timestamp.After(c.table.Last().Timestamp):
		merged := NewTable()
		merged.rows = append(merged.rows, c.table.rows...)
		for i := 0; i < fetched.Len(); i++ {
			merged.Append(fetched.At(i))
		}
		c.table = merged
	case fetched.Last().Timestamp.Before(c.table.First().Timestamp):
		merged := NewTable()
		merged.rows = append(merged.rows, fetched.rows...)
		for i := 0; i < c.table.Len(); i++ {
			merged.Append(c.table.At(i))
		}
		c.table = merged
	default:
		panic(fmt.Sprintf(
			"topiccache: merged block [%s, %s] overlaps cached rows [%s, %s]",
			fetched.First().Timestamp.Format(time.RFC3339Nano),
			fetched.Last().Timestamp.Format(time.RFC3339Nano),
			c.table.First().Timestamp.Format(time.RFC3339Nano),
			c.table.Last().Timestamp.Format(time.RFC3339Nano),
		))
	}
}

// Update extends the covered bounds to the union of the old bounds and the
// newly fetched [start, end]. Bounds never shrink. When no current row is
// set yet, it is initialized from the covered start.
func (c *TopicCache) Update(start, end time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.start.IsZero() || start.Before(c.start) {
		c.start = start
	}
	if c.end.IsZero() || end.After(c.end) {
		c.end = end
	}

	if c.current == nil {
		c.setCurrentTimeLocked(c.start)
	}
}

// lock acquires the per-topic fetch lock; only one fetch may extend the
// table at a time.
func (c *TopicCache) lock() {
	c.fetchMu.Lock()
}

func (c *TopicCache) unlock() {
	c.fetchMu.Unlock()
}
