package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/flwrctl/internal/observability"
	"github.com/danmuck/flwrctl/internal/protocol/session"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

// SessionSource is the view of a session the admin surface reports on.
type SessionSource interface {
	ID() string
	Target() string
	State() session.State
	Rounds() []session.Round
}

// Admin is the local HTTP surface of a running client.
type Admin struct {
	ID      string
	Addr    string
	Started time.Time

	router *gin.Engine

	mu      sync.RWMutex
	current SessionSource
}

func NewAdmin(id, addr string) *Admin {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(id))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &Admin{
		ID:      id,
		Addr:    addr,
		Started: time.Now(),
		router:  r,
	}
	a.registerRoutes()
	return a
}

// Attach points the admin surface at the current session. The CLI calls it
// again after every redial.
func (a *Admin) Attach(src SessionSource) {
	a.mu.Lock()
	a.current = src
	a.mu.Unlock()
}

func (a *Admin) HTTPRouter() *gin.Engine {
	return a.router
}

func (a *Admin) session() SessionSource {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.current
}

func (a *Admin) registerRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(a.Started).String(),
			"client":  a.ID,
			"version": version,
		})
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router.GET("/ready", func(c *gin.Context) {
		src := a.session()
		if src == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false, "state": "none"})
			return
		}
		state := src.State()
		ready := state == session.StateConnected || state == session.StateActive
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   ready,
			"session": src.ID(),
			"target":  src.Target(),
			"state":   state.String(),
		})
	})

	a.router.GET("/rounds", func(c *gin.Context) {
		src := a.session()
		if src == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no session"})
			return
		}
		rounds := src.Rounds()
		if raw := c.Query("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil || limit < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
				return
			}
			if limit < len(rounds) {
				rounds = rounds[len(rounds)-limit:]
			}
		}
		out := make([]roundView, 0, len(rounds))
		for _, r := range rounds {
			out = append(out, newRoundView(r))
		}
		c.JSON(http.StatusOK, gin.H{"session": src.ID(), "rounds": out})
	})
}

type roundView struct {
	Seq         uint64 `json:"seq"`
	Stream      int    `json:"stream"`
	Instruction string `json:"instruction"`
	Response    string `json:"response,omitempty"`
	Code        string `json:"code"`
	Oversize    bool   `json:"oversize,omitempty"`
	Duration    string `json:"duration"`
	Error       string `json:"error,omitempty"`
}

func newRoundView(r session.Round) roundView {
	return roundView{
		Seq:         r.Seq,
		Stream:      r.Stream,
		Instruction: r.Instruction,
		Response:    r.Response,
		Code:        r.Code.String(),
		Oversize:    r.Oversize,
		Duration:    r.Duration().String(),
		Error:       r.LastError,
	}
}

// Serve listens on Addr until ctx ends, then shuts down gracefully.
func (a *Admin) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.Addr,
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", a.Addr).Msg("admin listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
