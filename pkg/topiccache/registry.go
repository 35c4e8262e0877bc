package topiccache

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/lsst-ts/ts-criopy-sub002/pkg/observability"
)

// Update is emitted when a topic's current row changed during a Refresh.
type Update struct {
	Source string
	Topic  string
	Row    Row
}

// TopicStatus describes one cached topic for status surfaces.
type TopicStatus struct {
	Name  string    `json:"name"`
	Kind  string    `json:"kind"` // telemetry or event
	Empty bool      `json:"empty"`
	Rows  int       `json:"rows"`
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`
}

// Registry owns the TopicCache instances for all telemetry and event
// topics of one data source (CSC). On each playback position change it
// produces the fetch requests needed across all topics, classifies their
// outcomes and removes topics the archive does not know.
type Registry struct {
	log    logrus.FieldLogger
	config *Config
	source string

	mu        sync.Mutex
	telemetry map[string]*TopicCache
	events    map[string]*TopicCache
	removals  map[string]struct{}

	updates chan Update
}

// NewRegistry creates a registry with one empty TopicCache per topic.
// Topic names are the bare archive names: telemetry without prefix,
// events without the logevent_ prefix.
func NewRegistry(log logrus.FieldLogger, source string, telemetryTopics, eventTopics []string, config *Config) (*Registry, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	r := &Registry{
		log:       log.WithField("service", "topiccache").WithField("source", source),
		config:    config,
		source:    source,
		telemetry: make(map[string]*TopicCache, len(telemetryTopics)),
		events:    make(map[string]*TopicCache, len(eventTopics)),
		removals:  make(map[string]struct{}),
		updates:   make(chan Update, config.UpdateBuffer),
	}

	for _, t := range telemetryTopics {
		r.telemetry[t] = NewTopicCache()
	}
	for _, e := range eventTopics {
		r.events[e] = NewTopicCache()
	}

	observability.CachedTopics.WithLabelValues(source, "telemetry").Set(float64(len(r.telemetry)))
	observability.CachedTopics.WithLabelValues(source, "event").Set(float64(len(r.events)))

	return r, nil
}

// Source returns the data source name the registry was built for.
func (r *Registry) Source() string {
	return r.source
}

// NewRequests returns the fetch requests needed so every topic covers
// timepoint with at least minDuration of margin. Requests are not
// executed; the caller runs them, typically via LoadAll.
func (r *Registry) NewRequests(timepoint time.Time, minDuration time.Duration) []*FetchRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	requests := make([]*FetchRequest, 0, len(r.telemetry)+len(r.events))

	for name, cache := range r.telemetry {
		if req := r.newRequest(name, cache, timepoint, minDuration, r.config.TelemetryChunk); req != nil {
			requests = append(requests, req)
		}
	}

	for name, cache := range r.events {
		if req := r.newRequest(EventPrefix+name, cache, timepoint, minDuration, r.config.EventChunk); req != nil {
			requests = append(requests, req)
		}
	}

	return requests
}

func (r *Registry) newRequest(topic string, cache *TopicCache, timepoint time.Time, minDuration, maxChunk time.Duration) *FetchRequest {
	if _, flagged := r.removals[topic]; flagged {
		return nil
	}

	start, end := cache.Interval(timepoint, minDuration, r.config.MaxSpan)
	if start.IsZero() {
		r.log.WithFields(logrus.Fields{
			"topic":     topic,
			"timepoint": timepoint.Format(time.RFC3339Nano),
		}).Debug("Timepoint already cached")

		return nil
	}

	return &FetchRequest{
		ID:       uuid.New().String(),
		Source:   r.source,
		Topic:    topic,
		Cache:    cache,
		Start:    start,
		End:      end,
		MaxChunk: maxChunk,
		log:      r.log,
	}
}

// Load executes one request. Fetch errors never propagate to the
// consumer: a missing series flags the topic for removal, any other
// failure is logged and the uncovered interval is retried on the next
// scheduling pass.
func (r *Registry) Load(ctx context.Context, client ArchiveClient, req *FetchRequest) {
	err := req.Load(ctx, client)

	switch {
	case err == nil:
	case errors.Is(err, ErrSeriesNotFound):
		r.log.WithFields(logrus.Fields{
			"request_id": req.ID,
			"topic":      req.Topic,
		}).Warn("Topic not in archive, will be removed")
		r.flagRemoval(req.Topic)
	default:
		r.log.WithError(err).WithFields(logrus.Fields{
			"request_id": req.ID,
			"topic":      req.Topic,
		}).Error("Fetch failed, remaining interval left for next pass")
		observability.RecordError("topiccache", "fetch_error")
	}
}

// LoadAll runs the requests with bounded concurrency. Different topics
// load in parallel; requests for the same topic are serialized by the
// topic's fetch lock.
func (r *Registry) LoadAll(ctx context.Context, client ArchiveClient, requests []*FetchRequest) {
	g := new(errgroup.Group)
	g.SetLimit(r.config.Concurrency)

	for _, req := range requests {
		g.Go(func() error {
			r.Load(ctx, client, req)

			return nil
		})
	}

	// Load swallows all errors, Wait only synchronizes.
	_ = g.Wait()
}

func (r *Registry) flagRemoval(topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removals[topic] = struct{}{}
}

// Cleanup removes the caches of topics flagged as nonexistent upstream.
// The archive creates no series for topics that were defined but never
// published, so these would otherwise be retried forever.
func (r *Registry) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for topic := range r.removals {
		if name, ok := strings.CutPrefix(topic, EventPrefix); ok {
			delete(r.events, name)
			observability.CachedTopics.WithLabelValues(r.source, "event").Set(float64(len(r.events)))
		} else {
			delete(r.telemetry, topic)
			observability.CachedTopics.WithLabelValues(r.source, "telemetry").Set(float64(len(r.telemetry)))
		}

		observability.RecordTopicRemoved(r.source)
		r.log.WithField("topic", topic).Info("Removed topic missing from archive")
	}

	r.removals = make(map[string]struct{})
}

// Refresh recomputes every topic's current row for timepoint and emits an
// Update for each topic whose row changed. The send is non-blocking; a
// slow consumer loses intermediate snapshots, never the loop.
func (r *Registry) Refresh(timepoint time.Time) {
	for _, entry := range r.snapshot() {
		if changed := entry.cache.SetCurrentTime(timepoint); !changed {
			continue
		}

		row := entry.cache.Get()
		if row == nil {
			continue
		}

		select {
		case r.updates <- Update{Source: r.source, Topic: entry.topic, Row: *row}:
			observability.RecordUpdate("emitted")
		default:
			observability.RecordUpdate("dropped")
			r.log.WithField("topic", entry.topic).Debug("Update channel full, dropping snapshot")
		}
	}
}

// Updates returns the channel carrying changed current rows.
func (r *Registry) Updates() <-chan Update {
	return r.updates
}

// Telemetry returns the cache of a telemetry topic.
func (r *Registry) Telemetry(name string) (*TopicCache, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.telemetry[name]

	return c, ok
}

// Event returns the cache of an event topic. The name is the bare topic
// name without the logevent_ prefix.
func (r *Registry) Event(name string) (*TopicCache, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.events[name]

	return c, ok
}

// Get looks a topic up in both maps, accepting event names with or
// without the logevent_ prefix. Returns nil when the topic is unknown.
func (r *Registry) Get(name string) *TopicCache {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.telemetry[name]; ok {
		return c
	}
	if c, ok := r.events[strings.TrimPrefix(name, EventPrefix)]; ok {
		return c
	}

	return nil
}

// Topics returns the status of every cached topic, sorted by name.
func (r *Registry) Topics() []TopicStatus {
	entries := r.snapshot()

	statuses := make([]TopicStatus, 0, len(entries))
	for _, entry := range entries {
		start, end := entry.cache.Bounds()
		statuses = append(statuses, TopicStatus{
			Name:  entry.topic,
			Kind:  entry.kind,
			Empty: entry.cache.Empty(),
			Rows:  entry.cache.Len(),
			Start: start,
			End:   end,
		})
	}

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })

	return statuses
}

type topicEntry struct {
	topic string
	kind  string
	cache *TopicCache
}

func (r *Registry) snapshot() []topicEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]topicEntry, 0, len(r.telemetry)+len(r.events))
	for name, cache := range r.telemetry {
		entries = append(entries, topicEntry{topic: name, kind: "telemetry", cache: cache})
	}
	for name, cache := range r.events {
		entries = append(entries, topicEntry{topic: EventPrefix + name, kind: "event", cache: cache})
	}

	return entries
}
