// Package player drives the topic cache during scrub and playback: a
// ticker loop advances the playback position, schedules the fetches the
// position requires and refreshes every topic's current row.
package player

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lsst-ts/ts-criopy-sub002/pkg/observability"
	"github.com/lsst-ts/ts-criopy-sub002/pkg/topiccache"
)

// Service defines the public interface for the playback loop
type Service interface {
	// Start begins the playback loop
	Start(ctx context.Context) error

	// Stop gracefully shuts down the playback loop
	Stop() error

	// Seek moves the playback position; the next tick fetches around it
	Seek(timepoint time.Time)

	// Pause stops the position from advancing
	Pause()

	// Resume lets the position advance again
	Resume()

	// Position returns the current playback position
	Position() time.Time

	// Speed returns the configured playback rate
	Speed() float64

	// Running reports whether the position is advancing
	Running() bool
}

type service struct {
	log      logrus.FieldLogger
	config   *PlaybackConfig
	registry *topiccache.Registry
	client   topiccache.ArchiveClient

	mu       sync.Mutex
	position time.Time
	playing  bool

	// loading is set while a scheduling pass is in flight; re-issuing
	// overlapping requests for intervals already being fetched would
	// trip the discontinuity pre-clear and throw cached rows away.
	loading atomic.Bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewService creates a new playback service
func NewService(log logrus.FieldLogger, config *PlaybackConfig, registry *topiccache.Registry, client topiccache.ArchiveClient) (Service, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &service{
		log:      log.WithField("service", "player"),
		config:   config,
		registry: registry,
		client:   client,
		done:     make(chan struct{}),
	}, nil
}

// Start begins the playback loop
func (s *service) Start(ctx context.Context) error {
	start := s.config.Start
	if start.IsZero() {
		start = time.Now().UTC().Add(-s.config.Window)
	}

	s.mu.Lock()
	s.position = start
	s.playing = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx)

	s.log.WithFields(logrus.Fields{
		"start": start.Format(time.RFC3339Nano),
		"speed": s.config.Speed,
	}).Info("Playback started")

	return nil
}

// Stop gracefully shuts down the playback loop
func (s *service) Stop() error {
	close(s.done)
	s.wg.Wait()

	s.log.Info("Playback stopped")

	return nil
}

func (s *service) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick advances the position, schedules any fetches the new position
// needs and refreshes current rows. Fetches run in the background so a
// slow archive never stalls the position or the refresh.
func (s *service) tick(ctx context.Context) {
	s.mu.Lock()
	if s.playing {
		s.position = s.position.Add(time.Duration(float64(s.config.TickInterval) * s.config.Speed))
	}
	position := s.position
	s.mu.Unlock()

	observability.PlaybackPosition.WithLabelValues(s.registry.Source()).Set(float64(position.UnixNano()) / float64(time.Second))

	s.schedule(ctx, position)

	s.registry.Refresh(position)
}

func (s *service) schedule(ctx context.Context, position time.Time) {
	if !s.loading.CompareAndSwap(false, true) {
		return
	}

	requests := s.registry.NewRequests(position, s.config.Window)
	if len(requests) == 0 {
		s.loading.Store(false)

		return
	}

	s.log.WithFields(logrus.Fields{
		"requests": len(requests),
		"position": position.Format(time.RFC3339Nano),
	}).Debug("Scheduling fetch requests")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.loading.Store(false)

		s.registry.LoadAll(ctx, s.client, requests)
		s.registry.Cleanup()
	}()
}

// Seek moves the playback position
func (s *service) Seek(timepoint time.Time) {
	s.mu.Lock()
	s.position = timepoint
	s.mu.Unlock()

	s.log.WithField("position", timepoint.Format(time.RFC3339Nano)).Info("Seeked")
}

// Pause stops the position from advancing
func (s *service) Pause() {
	s.mu.Lock()
	s.playing = false
	s.mu.Unlock()
}

// Resume lets the position advance again
func (s *service) Resume() {
	s.mu.Lock()
	s.playing = true
	s.mu.Unlock()
}

// Position returns the current playback position
func (s *service) Position() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.position
}

// Speed returns the configured playback rate
func (s *service) Speed() float64 {
	return s.config.Speed
}

// Running reports whether the position is advancing
func (s *service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.playing
}

// Ensure service implements the interface
var _ Service = (*service)(nil)
