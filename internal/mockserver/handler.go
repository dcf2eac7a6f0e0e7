// Package mockserver implements a PostHog-compatible stub backend used by
// the demo command and the end-to-end tests: it accepts capture/batch
// traffic, serves seeded decide responses, and exposes admin endpoints to
// inspect received events and set flag state.
package mockserver

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type decideState struct {
	FeatureFlags              map[string]any    `json:"featureFlags"`
	FeatureFlagPayloads       map[string]string `json:"featureFlagPayloads"`
	ErrorsWhileComputingFlags bool              `json:"errorsWhileComputingFlags"`
}

// Handler serves the stub API.
type Handler struct {
	router *gin.Engine
	log    *zap.Logger

	mu     sync.Mutex
	events []map[string]any
	decide decideState
}

// NewHandler builds the handler with empty state.
func NewHandler(log *zap.Logger) *Handler {
	gin.SetMode(gin.ReleaseMode)

	h := &Handler{
		router: gin.New(),
		log:    log,
		decide: decideState{
			FeatureFlags:        map[string]any{},
			FeatureFlagPayloads: map[string]string{},
		},
	}

	h.registerRoutes()

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.router.GET("/health", h.healthCheck)
	h.router.POST("/capture", h.captureEvent)
	h.router.POST("/batch", h.batchCapture)
	h.router.POST("/decide/", h.decideFlags)
	h.router.GET("/admin/events", h.listEvents)
	h.router.POST("/admin/decide", h.setDecide)
}

func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// captureEvent handles a single-event capture.
func (h *Handler) captureEvent(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": 0, "error": err.Error()})
		return
	}

	h.mu.Lock()
	h.events = append(h.events, body)
	h.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"status": 1})
}

type batchRequest struct {
	APIKey string           `json:"api_key"`
	Batch  []map[string]any `json:"batch" binding:"required"`
}

// batchCapture handles POST /batch.
func (h *Handler) batchCapture(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid batch request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"status": 0, "error": err.Error()})
		return
	}

	h.mu.Lock()
	h.events = append(h.events, req.Batch...)
	total := len(h.events)
	h.mu.Unlock()

	h.log.Info("Batch received",
		zap.Int("event_count", len(req.Batch)),
		zap.Int("total_events", total))

	c.JSON(http.StatusOK, gin.H{"status": 1})
}

// decideFlags handles POST /decide/ with the seeded response.
func (h *Handler) decideFlags(c *gin.Context) {
	h.mu.Lock()
	state := h.decide
	h.mu.Unlock()

	c.JSON(http.StatusOK, state)
}

// setDecide handles POST /admin/decide: seeds the decide response served
// to clients.
func (h *Handler) setDecide(c *gin.Context) {
	var state decideState
	if err := c.ShouldBindJSON(&state); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if state.FeatureFlags == nil {
		state.FeatureFlags = map[string]any{}
	}
	if state.FeatureFlagPayloads == nil {
		state.FeatureFlagPayloads = map[string]string{}
	}

	h.mu.Lock()
	h.decide = state
	h.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"status": "set"})
}

// listEvents handles GET /admin/events with optional ?event= and
// ?distinct_id= filters.
func (h *Handler) listEvents(c *gin.Context) {
	eventFilter := c.Query("event")
	distinctIDFilter := c.Query("distinct_id")

	h.mu.Lock()
	events := make([]map[string]any, 0, len(h.events))
	for _, evt := range h.events {
		if eventFilter != "" && evt["event"] != eventFilter {
			continue
		}
		if distinctIDFilter != "" && evt["distinct_id"] != distinctIDFilter {
			continue
		}
		events = append(events, evt)
	}
	h.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"events": events, "total": len(events)})
}

// SetDecide seeds the decide response programmatically (tests).
func (h *Handler) SetDecide(flags map[string]any, payloads map[string]string, errorsWhileComputing bool) {
	if flags == nil {
		flags = map[string]any{}
	}
	if payloads == nil {
		payloads = map[string]string{}
	}

	h.mu.Lock()
	h.decide = decideState{
		FeatureFlags:              flags,
		FeatureFlagPayloads:       payloads,
		ErrorsWhileComputingFlags: errorsWhileComputing,
	}
	h.mu.Unlock()
}

// Events returns a snapshot of everything received so far.
func (h *Handler) Events() []map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]map[string]any, len(h.events))
	copy(out, h.events)
	return out
}
