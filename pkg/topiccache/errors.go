package topiccache

import "errors"

var (
	// ErrSeriesNotFound reports that the archive has no series for a
	// requested topic. Archive clients wrap this sentinel so the registry
	// can tell a missing series from a transient fetch failure; the topic
	// is then dropped on the next Cleanup instead of being retried.
	ErrSeriesNotFound = errors.New("series not found in archive")

	// ErrInvalidInterval is returned for a fetch request whose end does
	// not lie after its start.
	ErrInvalidInterval = errors.New("interval end must be after start")
)
