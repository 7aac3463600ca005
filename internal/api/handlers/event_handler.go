package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"example.com/backstage/eventsearch/internal/cache"
	"example.com/backstage/eventsearch/internal/models"
	"example.com/backstage/eventsearch/internal/persistence"
	"example.com/backstage/eventsearch/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// EventService is the part of services.EventService used over HTTP
type EventService interface {
	CreateEvent(ctx context.Context, title string, date time.Time, log []string) (*models.Event, error)
	CountEvents(ctx context.Context) (int, error)
	ListEvents(ctx context.Context, offset, limit int) ([]*models.Event, int, error)
	SearchEvents(ctx context.Context, title string, offset, limit int) ([]*models.Event, int, error)
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	AppendLog(ctx context.Context, id, entry string) (*models.Event, error)
	DeleteEvent(ctx context.Context, id string) error
	DeleteAllEvents(ctx context.Context) (int, error)
	DumpCaches(ctx context.Context) (map[string]map[string]string, error)
	CacheStats() map[string]cache.Stats
	Reindex(ctx context.Context, batchSize, threads int) (int, error)
}

// EventHandler handles event-related HTTP requests
type EventHandler struct {
	service EventService
	tracer  tracing.Tracer
	logger  zerolog.Logger

	reindexBatchSize int
	reindexThreads   int
}

// NewEventHandler creates a new event handler
func NewEventHandler(service EventService, tracer tracing.Tracer, logger zerolog.Logger, reindexBatchSize, reindexThreads int) *EventHandler {
	return &EventHandler{
		service:          service,
		tracer:           tracer,
		logger:           logger,
		reindexBatchSize: reindexBatchSize,
		reindexThreads:   reindexThreads,
	}
}

// CreateEventRequest is the body of POST /events
type CreateEventRequest struct {
	Title string    `json:"title" binding:"required"`
	Date  time.Time `json:"date"`
	Log   []string  `json:"log"`
}

// AppendLogRequest is the body of POST /events/:id/log
type AppendLogRequest struct {
	Entry string `json:"entry" binding:"required"`
}

// EventListResponse is a page of events with the total hit count
type EventListResponse struct {
	Total  int             `json:"total"`
	Events []*models.Event `json:"events"`
}

// HandleCreateEvent persists a new event
func (h *EventHandler) HandleCreateEvent(c *gin.Context) {
	var req CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	event, err := h.service.CreateEvent(c.Request.Context(), req.Title, req.Date, req.Log)
	if err != nil {
		h.fail(c, "Failed to create event", err)
		return
	}

	c.JSON(http.StatusCreated, event)
}

// HandleListEvents returns a page of events
func (h *EventHandler) HandleListEvents(c *gin.Context) {
	offset, limit, ok := paging(c)
	if !ok {
		return
	}

	events, total, err := h.service.ListEvents(c.Request.Context(), offset, limit)
	if err != nil {
		h.fail(c, "Failed to list events", err)
		return
	}

	c.JSON(http.StatusOK, EventListResponse{Total: total, Events: events})
}

// HandleCountEvents returns the number of indexed events
func (h *EventHandler) HandleCountEvents(c *gin.Context) {
	count, err := h.service.CountEvents(c.Request.Context())
	if err != nil {
		h.fail(c, "Failed to count events", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": count})
}

// HandleSearchEvents runs a keyword query on event titles
func (h *EventHandler) HandleSearchEvents(c *gin.Context) {
	title := c.Query("title")
	if title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title query parameter is required"})
		return
	}
	offset, limit, ok := paging(c)
	if !ok {
		return
	}

	events, total, err := h.service.SearchEvents(c.Request.Context(), title, offset, limit)
	if err != nil {
		h.fail(c, "Failed to search events", err)
		return
	}

	c.JSON(http.StatusOK, EventListResponse{Total: total, Events: events})
}

// HandleGetEvent returns one event
func (h *EventHandler) HandleGetEvent(c *gin.Context) {
	event, err := h.service.GetEvent(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to get event", err)
		return
	}

	c.JSON(http.StatusOK, event)
}

// HandleAppendLog adds an entry to an event log
func (h *EventHandler) HandleAppendLog(c *gin.Context) {
	var req AppendLogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	event, err := h.service.AppendLog(c.Request.Context(), c.Param("id"), req.Entry)
	if err != nil {
		h.fail(c, "Failed to append log entry", err)
		return
	}

	c.JSON(http.StatusOK, event)
}

// HandleDeleteEvent removes one event
func (h *EventHandler) HandleDeleteEvent(c *gin.Context) {
	if err := h.service.DeleteEvent(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, "Failed to delete event", err)
		return
	}

	c.Status(http.StatusNoContent)
}

// HandleDeleteAllEvents removes every event
func (h *EventHandler) HandleDeleteAllEvents(c *gin.Context) {
	deleted, err := h.service.DeleteAllEvents(c.Request.Context())
	if err != nil {
		h.fail(c, "Failed to delete events", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// HandleGetCaches dumps the named caches
func (h *EventHandler) HandleGetCaches(c *gin.Context) {
	dump, err := h.service.DumpCaches(c.Request.Context())
	if err != nil {
		h.fail(c, "Failed to read caches", err)
		return
	}

	c.JSON(http.StatusOK, dump)
}

// HandleGetCacheStats returns per-cache statistics
func (h *EventHandler) HandleGetCacheStats(c *gin.Context) {
	stats := h.service.CacheStats()
	if stats == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "cache statistics are disabled"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// HandleRebuildIndex rebuilds the full-text index from the store
func (h *EventHandler) HandleRebuildIndex(c *gin.Context) {
	indexed, err := h.service.Reindex(c.Request.Context(), h.reindexBatchSize, h.reindexThreads)
	if err != nil {
		h.fail(c, "Failed to rebuild index", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"indexed": indexed})
}

// RegisterRoutes registers the handler's routes
func (h *EventHandler) RegisterRoutes(router *gin.Engine) {
	events := router.Group("/events")
	events.POST("", h.HandleCreateEvent)
	events.GET("", h.HandleListEvents)
	events.DELETE("", h.HandleDeleteAllEvents)
	events.GET("/count", h.HandleCountEvents)
	events.GET("/search", h.HandleSearchEvents)
	events.GET("/:id", h.HandleGetEvent)
	events.POST("/:id/log", h.HandleAppendLog)
	events.DELETE("/:id", h.HandleDeleteEvent)

	router.GET("/caches", h.HandleGetCaches)
	router.GET("/caches/stats", h.HandleGetCacheStats)
	router.POST("/index/rebuild", h.HandleRebuildIndex)
}

func (h *EventHandler) fail(c *gin.Context, msg string, err error) {
	if errors.Is(err, persistence.ErrEntityNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}

	h.logger.Error().Err(err).Str("path", c.FullPath()).Msg(msg)
	h.tracer.RecordError(nrgin.Transaction(c), err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// paging reads offset and limit query parameters. It writes a 400 response
// and returns false when either is malformed.
func paging(c *gin.Context) (int, int, bool) {
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer"})
		return 0, 0, false
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return 0, 0, false
	}
	return offset, limit, true
}
