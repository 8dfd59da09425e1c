package livehttp

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"hlfleet/internal/logger"
	"hlfleet/internal/metrics"

	"github.com/gin-gonic/gin"
)

const (
	defaultAddr        = ":9991"
	defaultReadyWindow = 5 * time.Minute
	shutdownTimeout    = 5 * time.Second
)

// Server serves health, readiness, prometheus metrics and the fleet API.
type Server struct {
	router      *gin.Engine
	identities  []Identity
	readyWindow time.Duration
	nowFn       func() time.Time
	log         logger.Scope

	mu   sync.Mutex
	addr string
}

type ServerConfig struct {
	Addr       string
	Identities []Identity
	Controls   Controls
	Events     EventLister
	// ReadyWindow is how old a loop heartbeat may be before /readyz fails.
	ReadyWindow time.Duration
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if len(cfg.Identities) == 0 {
		return nil, errors.New("live http server requires at least one identity")
	}
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	if cfg.ReadyWindow <= 0 {
		cfg.ReadyWindow = defaultReadyWindow
	}
	s := &Server{
		identities:  cfg.Identities,
		readyWindow: cfg.ReadyWindow,
		nowFn:       time.Now,
		log:         logger.Scoped("").With("component", "http"),
		addr:        cfg.Addr,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/readyz", s.handleReady)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	NewRouter(cfg.Identities, cfg.Controls, cfg.Events).Register(router.Group("/api"))
	s.router = router
	return s, nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.Request.URL.Path
		if q := c.Request.URL.RawQuery; q != "" {
			path += "?" + q
		}
		s.log.Debugf("%s %s status=%d ip=%s dur=%s",
			c.Request.Method, path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}

// handleReady fails while any identity has a loop that never ticked or whose
// last tick is older than the ready window.
func (s *Server) handleReady(c *gin.Context) {
	now := s.nowFn()
	stale := make([]string, 0)
	for _, id := range s.identities {
		beats := id.Heartbeats()
		if len(beats) == 0 {
			stale = append(stale, id.BotID())
			continue
		}
		for _, hb := range beats {
			if hb.LastTick.IsZero() || now.Sub(hb.LastTick) > s.readyWindow {
				stale = append(stale, id.BotID()+"/"+hb.Loop)
			}
		}
	}
	sort.Strings(stale)
	if len(stale) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false, "stale": stale})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}

// Addr is the configured address, or the bound one once Start is listening.
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens and serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Infof("listening on %s", ln.Addr())

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil {
			s.log.Warnf("shutdown: %v", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}
