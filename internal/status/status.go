// Package status implements the optional watch-mode HTTP server
// (spec.md §4.17, added ambient component): a health endpoint mirroring
// the teacher's HealthHandler, plus a prometheus /metrics endpoint.
package status

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eztex/eztex/internal/logx"
	"github.com/eztex/eztex/internal/metrics"
)

var log = logx.Scope("status")

// LastCompile records the outcome of the most recent compile, read by
// the health handler the way the teacher's HealthHandler reports queue
// depth and uptime.
type LastCompile struct {
	mu       sync.RWMutex
	at       time.Time
	success  bool
	passes   int
	errorMsg string
}

func (l *LastCompile) Record(success bool, passes int, errMsg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.at = time.Now()
	l.success = success
	l.passes = passes
	l.errorMsg = errMsg
}

func (l *LastCompile) snapshot() (time.Time, bool, int, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.at, l.success, l.passes, l.errorMsg
}

// Server is the watch-mode status server. Disabled by default; started
// only when --status-addr is passed.
type Server struct {
	http    *http.Server
	engine  *gin.Engine
	last    *LastCompile
	metrics *metrics.Registry
}

// New builds a Server bound to addr, reporting through reg.
func New(addr string, reg *metrics.Registry) *Server {
	if gin.Mode() != gin.ReleaseMode && gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	last := &LastCompile{}
	s := &Server{last: last, metrics: reg, engine: engine}

	engine.GET("/health", s.healthHandler)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg.Gatherer(), promhttp.HandlerOpts{})))

	s.http = &http.Server{
		Addr:         addr,
		Handler:      engine,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// LastCompile returns the recorder the compile driver should update
// after each run.
func (s *Server) LastCompile() *LastCompile { return s.last }

func (s *Server) healthHandler(c *gin.Context) {
	at, success, passes, errMsg := s.last.snapshot()
	resp := gin.H{
		"status":      "ok",
		"queue_depth": 0, // watch mode compiles serially; no queue to report
	}
	if !at.IsZero() {
		resp["last_compile_at"] = at.Format(time.RFC3339)
		resp["last_compile_success"] = success
		resp["last_compile_passes"] = passes
		if errMsg != "" {
			resp["last_compile_error"] = errMsg
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Start runs the server in a background goroutine.
func (s *Server) Start() {
	go func() {
		log.Infof("status server listening on %s", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("status server failed: %v", err)
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
