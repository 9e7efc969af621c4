package main

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"strconv"
	"time"

	"github.com/danmuck/flwrctl/internal/capabilities"
	"github.com/danmuck/flwrctl/internal/config"
	"github.com/danmuck/flwrctl/internal/protocol/session"
	"github.com/danmuck/flwrctl/internal/protocol/transport"
	"github.com/danmuck/flwrctl/internal/server"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
)

const abortTimeout = 5 * time.Second

// runner keeps one client connected: it dials with backoff, runs a session
// to its end and redials after transport faults.
type runner struct {
	cfg      config.ClientConfig
	target   string
	registry *capabilities.Registry
	admin    *server.Admin
	rng      *rand.Rand

	dialOptions []grpc.DialOption
}

func newRunner(cfg config.ClientConfig) *runner {
	r := &runner{
		cfg:      cfg,
		target:   net.JoinHostPort(cfg.ServerHost, strconv.Itoa(cfg.ServerPort)),
		registry: capabilities.Default(),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if cfg.AdminAddr != "" {
		r.admin = server.NewAdmin("flwrclient-"+uuid.NewString()[:8], cfg.AdminAddr)
	}
	return r
}

func (r *runner) run(ctx context.Context) error {
	codec, err := r.cfg.Codec()
	if err != nil {
		return err
	}
	defer codec.Close()
	sessCfg, err := r.cfg.SessionConfig(codec)
	if err != nil {
		return err
	}
	sessCfg.DialOptions = append(sessCfg.DialOptions, r.dialOptions...)
	opts, err := r.cfg.CapabilityOptions()
	if err != nil {
		return err
	}

	adminErr := make(chan error, 1)
	if r.admin != nil {
		go func() {
			adminErr <- r.admin.Serve(ctx)
		}()
	}

	for {
		s, err := r.connect(ctx, sessCfg)
		if err != nil {
			return err
		}
		capability, err := r.registry.Build(r.cfg.Capability, opts)
		if err != nil {
			_ = s.Close()
			return err
		}
		if r.admin != nil {
			r.admin.Attach(s)
		}
		if err := s.Start(capability, nil); err != nil {
			_ = s.Close()
			return err
		}
		log.Info().Str("session", s.ID()).Str("capability", r.cfg.Capability).Msg("client running")

		var result session.Result
		select {
		case <-ctx.Done():
			r.abort(s)
			return nil
		case err := <-adminErr:
			// the admin server also stops on cancel and may win the select
			if ctx.Err() != nil {
				r.abort(s)
				return nil
			}
			_ = s.Close()
			return err
		case <-s.Done():
			result, _ = s.Wait(context.Background())
		}

		var terr *transport.TransportError
		if result.Err == nil || !errors.As(result.Err, &terr) {
			return result.Err
		}
		log.Warn().Err(result.Err).Str("session", s.ID()).Int("rounds", result.Rounds).Msg("session lost, redialing")
	}
}

// abort tells the server this client is going away and closes s.
func (r *runner) abort(s *session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), abortTimeout)
	defer cancel()
	if err := s.Abort(ctx); err != nil {
		log.Warn().Err(err).Str("session", s.ID()).Msg("abort incomplete")
	}
}

// connect opens a session, retrying with backoff up to MaxConnectAttempts
// (0 retries forever).
func (r *runner) connect(ctx context.Context, cfg session.Config) (*session.Session, error) {
	for attempt := 1; ; attempt++ {
		s, err := session.OpenTarget(ctx, r.target, cfg)
		if err == nil {
			return s, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !r.shouldRetry(attempt) {
			return nil, err
		}
		delay := session.NextBackoffDelay(cfg.Backoff, attempt, r.rng)
		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Str("target", r.target).Msg("connect failed")
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (r *runner) shouldRetry(attempt int) bool {
	if r.cfg.MaxConnectAttempts <= 0 {
		return true
	}
	return attempt < r.cfg.MaxConnectAttempts
}
