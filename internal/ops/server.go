// Package ops serves the operational HTTP surface: liveness, readiness,
// and a JSON stats snapshot of lanes, sessions, and delivery counters.
package ops

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/relaywire/relaywire/internal/metrics"
	"github.com/relaywire/relaywire/internal/queue"
	"github.com/relaywire/relaywire/internal/session"
	"github.com/relaywire/relaywire/internal/task"
)

// WorkerStatus reports the executor pool's live worker count.
type WorkerStatus interface {
	Running() int
}

// StartOpts holds configuration for the ops server.
type StartOpts struct {
	Dispatcher *queue.Dispatcher
	Registry   *session.Registry
	Sink       *metrics.DBSink
	Workers    WorkerStatus
	Port       int
	Out        io.Writer
}

// Start launches the ops HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Dispatcher == nil {
		return fmt.Errorf("ops: dispatcher is required")
	}
	if opts.Registry == nil {
		return fmt.Errorf("ops: registry is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8090
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, opts)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Ops server listening on :%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ops: %w", err)
	}
	return nil
}

// registerRoutes sets up the ops routes on the Gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	router.GET("/healthz", handleHealthz())
	router.GET("/readyz", handleReadyz(opts))
	router.GET("/api/stats", handleStats(opts))
}

func handleHealthz() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// handleReadyz reports ready only when the broker answers and at least
// one worker is running.
func handleReadyz(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := opts.Dispatcher.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "broker unavailable", "error": err.Error()})
			return
		}
		if opts.Workers != nil && opts.Workers.Running() == 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "no workers running"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

func handleStats(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		depths, err := opts.Dispatcher.Depths(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		lanes := make(map[string]int64, len(depths))
		for lane, depth := range depths {
			lanes[string(lane)] = depth
		}

		states := map[string]int{}
		for _, snap := range opts.Registry.Snapshots() {
			states[snap.State]++
		}

		payload := gin.H{
			"lanes":      lanes,
			"lane_order": laneNames,
			"sessions":   states,
			"workers":    0,
		}
		if opts.Workers != nil {
			payload["workers"] = opts.Workers.Running()
		}
		if opts.Sink != nil {
			payload["delivered"] = opts.Sink.Snapshot()
		}
		c.JSON(http.StatusOK, payload)
	}
}

// laneNames is kept in sync with the dispatcher's lane set for display
// ordering in clients that want it.
var laneNames = func() []string {
	out := make([]string, len(task.Lanes))
	for i, l := range task.Lanes {
		out[i] = string(l)
	}
	return out
}()
