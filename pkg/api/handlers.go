package api

import (
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/lsst-ts/ts-criopy-sub002/pkg/topiccache"
)

// CacheReader is the view of the topic cache registry the API serves.
type CacheReader interface {
	Source() string
	Topics() []topiccache.TopicStatus
	Get(name string) *topiccache.TopicCache
}

// Playback is the view of the playback service the API controls.
type Playback interface {
	Position() time.Time
	Speed() float64
	Running() bool
	Seek(timepoint time.Time)
	Pause()
	Resume()
}

// handler implements the API request handlers
type handler struct {
	cache    CacheReader
	playback Playback
	log      logrus.FieldLogger
}

func newHandler(cache CacheReader, playback Playback, log logrus.FieldLogger) *handler {
	return &handler{
		cache:    cache,
		playback: playback,
		log:      log.WithField("component", "api.handlers"),
	}
}

func (h *handler) register(router fiber.Router) {
	router.Get("/topics", h.listTopics)
	router.Get("/topics/:name/current", h.currentRow)
	router.Get("/playback", h.playbackState)
	router.Post("/playback/seek", h.seek)
	router.Post("/playback/pause", h.pause)
	router.Post("/playback/resume", h.resume)
}

type topicsResponse struct {
	Source string                   `json:"source"`
	Topics []topiccache.TopicStatus `json:"topics"`
}

func (h *handler) listTopics(c fiber.Ctx) error {
	return c.JSON(topicsResponse{
		Source: h.cache.Source(),
		Topics: h.cache.Topics(),
	})
}

type currentRowResponse struct {
	Topic     string         `json:"topic"`
	Timestamp *time.Time     `json:"timestamp"`
	Values    map[string]any `json:"values"`
}

func (h *handler) currentRow(c fiber.Ctx) error {
	name := c.Params("name")

	cache := h.cache.Get(name)
	if cache == nil {
		return fiber.NewError(fiber.StatusNotFound, "unknown topic")
	}

	response := currentRowResponse{Topic: name}

	if row := cache.Get(); row != nil {
		response.Timestamp = &row.Timestamp
		response.Values = row.Values
	}

	return c.JSON(response)
}

type playbackStateResponse struct {
	Position time.Time `json:"position"`
	Speed    float64   `json:"speed"`
	Running  bool      `json:"running"`
}

func (h *handler) playbackState(c fiber.Ctx) error {
	return c.JSON(playbackStateResponse{
		Position: h.playback.Position(),
		Speed:    h.playback.Speed(),
		Running:  h.playback.Running(),
	})
}

type seekRequest struct {
	Time time.Time `json:"time"`
}

func (h *handler) seek(c fiber.Ctx) error {
	var req seekRequest
	if err := c.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid seek request")
	}

	if req.Time.IsZero() {
		return fiber.NewError(fiber.StatusBadRequest, "time is required")
	}

	h.playback.Seek(req.Time)

	return h.playbackState(c)
}

func (h *handler) pause(c fiber.Ctx) error {
	h.playback.Pause()

	return h.playbackState(c)
}

func (h *handler) resume(c fiber.Ctx) error {
	h.playback.Resume()

	return h.playbackState(c)
}
