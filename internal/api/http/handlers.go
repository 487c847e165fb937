package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/ContentStudio/realtime/internal/infrastructure/logging"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/router"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/streams"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/supervisor"
)

// Status is the read-only view of the realtime client the handlers serve.
type Status interface {
	State() supervisor.State
	Err() error
	Streams() []streams.Handle
	Diagnostics() []router.Diagnostic
	Subscribers() int
}

// Handlers serves the diagnostics API.
type Handlers struct {
	status  Status
	metrics *monitoring.Metrics
	logger  *zap.Logger
	started time.Time
	prom    http.Handler
}

// NewHandlers creates the diagnostics handlers. metrics may be nil, in
// which case /metrics answers 404.
func NewHandlers(status Status, metrics *monitoring.Metrics, logger *zap.Logger) *Handlers {
	logger = logging.OrNop(logger)
	h := &Handlers{
		status:  status,
		metrics: metrics,
		logger:  logger,
		started: time.Now(),
	}
	if metrics != nil {
		h.prom = promhttp.HandlerFor(metrics.Gatherer(), promhttp.HandlerOpts{})
	}
	return h
}

// Register mounts every route on r.
func (h *Handlers) Register(r gin.IRoutes) {
	r.GET("/", h.Root)
	r.GET("/healthz", h.Health)
	r.GET("/streams", h.ListStreams)
	r.GET("/streams/:id", h.GetStream)
	r.GET("/diagnostics", h.Diagnostics)
	r.GET("/metrics", h.Metrics)
	r.GET("/metrics/json", h.MetricsJSON)
}

// Root describes the service.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "realtime",
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	})
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	State       string `json:"state"`
	Error       string `json:"error,omitempty"`
	Subscribers int    `json:"subscribers"`
	LiveStreams int    `json:"live_streams"`
}

// Health answers 200 while the shared connection is Open, 503 otherwise.
func (h *Handlers) Health(c *gin.Context) {
	state := h.status.State()

	resp := HealthResponse{
		State:       state.String(),
		Subscribers: h.status.Subscribers(),
	}
	for _, s := range h.status.Streams() {
		if !s.Status.IsTerminal() {
			resp.LiveStreams++
		}
	}
	if err := h.status.Err(); err != nil {
		resp.Error = err.Error()
	}

	code := http.StatusOK
	if state != supervisor.Open {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

// ListStreams returns the retained stream handles. ?status= filters by
// status and ?owner= by subscriber.
func (h *Handlers) ListStreams(c *gin.Context) {
	status := c.Query("status")
	owner := c.Query("owner")

	out := make([]streams.Handle, 0)
	for _, s := range h.status.Streams() {
		if status != "" && s.Status.String() != status {
			continue
		}
		if owner != "" && s.Owner != owner {
			continue
		}
		out = append(out, s)
	}
	c.JSON(http.StatusOK, gin.H{"streams": out, "count": len(out)})
}

// GetStream returns one handle by client or server id.
func (h *Handlers) GetStream(c *gin.Context) {
	id := c.Param("id")
	for _, s := range h.status.Streams() {
		if s.ID == id || s.ClientID == id {
			c.JSON(http.StatusOK, s)
			return
		}
	}
	h.logger.Debug("Stream not found",
		zap.String("stream_id", id),
		zap.String("trace_id", string(tracing.FromContext(c.Request.Context()))))
	c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
}

// Diagnostics returns the router's recent diagnostics, oldest first.
func (h *Handlers) Diagnostics(c *gin.Context) {
	diags := h.status.Diagnostics()
	if diags == nil {
		diags = []router.Diagnostic{}
	}
	c.JSON(http.StatusOK, gin.H{"diagnostics": diags, "count": len(diags)})
}

// Metrics serves the Prometheus exposition format.
func (h *Handlers) Metrics(c *gin.Context) {
	if h.prom == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "metrics disabled"})
		return
	}
	h.prom.ServeHTTP(c.Writer, c.Request)
}

// MetricsJSON serves a point-in-time snapshot of the counters.
func (h *Handlers) MetricsJSON(c *gin.Context) {
	if h.metrics == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "metrics disabled"})
		return
	}
	c.JSON(http.StatusOK, h.metrics.Snapshot())
}
