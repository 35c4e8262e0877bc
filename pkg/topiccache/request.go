package topiccache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lsst-ts/ts-criopy-sub002/pkg/observability"
)

// EventPrefix marks event topics in the archive; telemetry topics are
// stored without a prefix.
const EventPrefix = "logevent_"

// ArchiveClient is the subset of the archive client a fetch needs. The
// interval is half-open: rows with start <= timestamp < end are returned.
// A nil fields slice selects all fields of the series.
type ArchiveClient interface {
	SelectTimeSeries(ctx context.Context, series string, fields []string, start, end time.Time) (*Table, error)
}

// FetchRequest describes one extension of a TopicCache: the topic, the
// half-open [Start, End) interval to fetch and the maximum duration of a
// single archive call. Requests are created per scheduling pass, executed
// once and discarded.
type FetchRequest struct {
	// ID correlates the log lines of one request.
	ID     string
	Source string
	Topic  string
	Cache  *TopicCache
	Start  time.Time
	End    time.Time

	// MaxChunk bounds the duration of a single archive call; wide ranges
	// are walked in MaxChunk-sized steps.
	MaxChunk time.Duration

	log logrus.FieldLogger
}

// IsEvent reports whether the request targets an event topic.
func (r *FetchRequest) IsEvent() bool {
	return strings.HasPrefix(r.Topic, EventPrefix)
}

// SeriesName returns the fully qualified archive series name.
func (r *FetchRequest) SeriesName() string {
	return fmt.Sprintf("lsst.sal.%s.%s", r.Source, r.Topic)
}

// Load fills the cache with data fetched from the archive. The topic's
// fetch lock is held for the entire call, so a second request for the same
// topic waits until this one finishes.
//
// A forward extension (request start at or after the cached end, or an
// empty cache being seeded) walks [Start, End) ascending; a backward
// extension (request end at or before the cached start) walks descending
// from End toward Start. When the request does not line up with the cached
// bounds the table is cleared first: stale rows must not survive once
// continuity is broken.
//
// Every chunk is merged and the bounds updated immediately, so partial
// progress is kept when a later chunk fails. The error of the failing
// chunk is returned; rows already merged stay cached and the uncovered
// remainder is rescheduled on the next pass.
func (r *FetchRequest) Load(ctx context.Context, client ArchiveClient) error {
	if !r.End.After(r.Start) {
		return fmt.Errorf("%w: [%s, %s)", ErrInvalidInterval,
			r.Start.Format(time.RFC3339Nano), r.End.Format(time.RFC3339Nano))
	}

	r.Cache.lock()
	defer r.Cache.unlock()

	cacheStart, cacheEnd := r.Cache.Bounds()

	if !cacheStart.IsZero() && !r.End.After(cacheStart) {
		// Backward extension.
		if !cacheStart.Equal(r.End) {
			r.Cache.Clear()
		}

		iEnd := r.End
		for iEnd.After(r.Start) {
			iStart := iEnd.Add(-r.MaxChunk)
			if iStart.Before(r.Start) {
				iStart = r.Start
			}

			if err := r.chunk(ctx, client, iStart, iEnd); err != nil {
				return err
			}

			iEnd = iStart
		}

		return nil
	}

	// Forward extension, or seeding an empty cache.
	if !cacheEnd.IsZero() && !cacheEnd.Equal(r.Start) {
		r.Cache.Clear()
	}

	iStart := r.Start
	for iStart.Before(r.End) {
		iEnd := iStart.Add(r.MaxChunk)
		if iEnd.After(r.End) {
			iEnd = r.End
		}

		if err := r.chunk(ctx, client, iStart, iEnd); err != nil {
			return err
		}

		iStart = iEnd
	}

	return nil
}

func (r *FetchRequest) chunk(ctx context.Context, client ArchiveClient, start, end time.Time) error {
	log := r.logger().WithFields(logrus.Fields{
		"request_id": r.ID,
		"topic":      r.Topic,
		"start":      start.Format(time.RFC3339Nano),
		"end":        end.Format(time.RFC3339Nano),
	})
	log.Debug("Fetching chunk")

	queryStart := time.Now()

	table, err := client.SelectTimeSeries(ctx, r.SeriesName(), nil, start, end)
	if err != nil {
		observability.RecordFetch(r.Topic, "error", time.Since(queryStart).Seconds())

		return fmt.Errorf("fetch %s: %w", r.SeriesName(), err)
	}

	duration := time.Since(queryStart)

	r.Cache.Merge(table)
	r.Cache.Update(start, end)

	observability.RecordFetch(r.Topic, "success", duration.Seconds())
	observability.RecordRowsFetched(r.Topic, float64(table.Len()))

	log.WithFields(logrus.Fields{
		"rows":     table.Len(),
		"duration": duration.Seconds(),
	}).Debug("Fetched chunk")

	return nil
}

func (r *FetchRequest) logger() logrus.FieldLogger {
	if r.log != nil {
		return r.log
	}

	return logrus.StandardLogger()
}
