package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/flwrctl/internal/client"
	"github.com/danmuck/flwrctl/internal/observability"
	"github.com/danmuck/flwrctl/internal/protocol"
	"github.com/danmuck/flwrctl/internal/protocol/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc/keepalive"
)

// Result is delivered once, when the session is finally closed.
type Result struct {
	SessionID string
	Rounds    int
	Aborted   bool
	// Err is nil for a graceful end and a *transport.TransportError (or
	// ErrReconnectLimit) otherwise.
	Err error
}

// Session is one channel to the server and the streams run on it.
type Session struct {
	id         string
	target     string
	cfg        Config
	transport  transport.Transport
	dispatcher *client.Dispatcher
	rounds     *RoundLog
	state      stateBox

	aborts   chan abortReq
	finished chan struct{}

	mu         sync.Mutex
	started    bool
	closed     bool
	cancel     context.CancelFunc
	capability client.Capability
	done       func(Result)
	result     Result

	finishOnce sync.Once
	closeErr   error
}

// Open establishes a channel to host:port. It fails with a
// *transport.TransportError and performs no retry.
func Open(ctx context.Context, host string, port int, cfg Config) (*Session, error) {
	return OpenTarget(ctx, net.JoinHostPort(host, strconv.Itoa(port)), cfg)
}

// OpenTarget is Open with a gRPC target string.
func OpenTarget(ctx context.Context, target string, cfg Config) (*Session, error) {
	cfg = cfg.WithDefaults()
	tr, err := transport.Dial(ctx, target, transport.Options{
		ConnectTimeout: cfg.ConnectTimeout,
		Limits:         cfg.limits(),
		Keepalive: keepalive.ClientParameters{
			Time:                cfg.Keepalive.Interval,
			Timeout:             cfg.Keepalive.Timeout,
			PermitWithoutStream: cfg.Keepalive.PermitWithoutStream,
		},
		Interceptors: cfg.Interceptors,
		DialOptions:  cfg.DialOptions,
	})
	if err != nil {
		log.Error().Err(err).Str("target", target).Msg("session open failed")
		return nil, err
	}
	return New(tr, target, cfg), nil
}

// New wraps an already established transport.
func New(tr transport.Transport, target string, cfg Config) *Session {
	cfg = cfg.WithDefaults()
	s := &Session{
		id:         uuid.NewString(),
		target:     target,
		cfg:        cfg,
		transport:  tr,
		dispatcher: client.NewDispatcher(cfg.Codec),
		rounds:     NewRoundLog(cfg.RoundHistory),
		aborts:     make(chan abortReq),
		finished:   make(chan struct{}),
	}
	s.state.store(StateConnected)
	log.Info().Str("session", s.id).Str("target", target).Msg("session connected")
	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Target() string {
	return s.target
}

func (s *Session) State() State {
	return s.state.load()
}

// Rounds returns the retained round history.
func (s *Session) Rounds() []Round {
	return s.rounds.List()
}

// Done is closed after the session has fully closed.
func (s *Session) Done() <-chan struct{} {
	return s.finished
}

// Wait blocks until the session closes or ctx ends.
func (s *Session) Wait(ctx context.Context) (Result, error) {
	select {
	case <-s.finished:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Start attaches capability and begins serving instructions. done, if
// non-nil, is called exactly once when the session finally closes, before
// Done is closed. It may call Close but must not call Wait.
func (s *Session) Start(capability client.Capability, done func(Result)) error {
	if capability == nil {
		return ErrNilCapability
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.started {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.started = true
	s.cancel = cancel
	s.capability = capability
	s.done = done
	go s.run(ctx)
	return nil
}

// Abort sends DisconnectRes with the configured reason, then closes.
func (s *Session) Abort(ctx context.Context) error {
	return s.AbortWithReason(ctx, s.cfg.AbortReason)
}

// AbortWithReason sends DisconnectRes{reason} if a stream is active, then
// closes. A capability call in progress is not interrupted; its response is
// dropped.
func (s *Session) AbortWithReason(ctx context.Context, reason protocol.Reason) error {
	s.mu.Lock()
	live := s.started && !s.closed
	s.mu.Unlock()

	var sendErr error
	if live {
		req := abortReq{reason: reason, ack: make(chan error, 1)}
		select {
		case s.aborts <- req:
			select {
			case sendErr = <-req.ack:
			case <-ctx.Done():
				sendErr = ctx.Err()
			}
		case <-s.finished:
		case <-ctx.Done():
			sendErr = ctx.Err()
		}
		if sendErr != nil {
			log.Warn().Err(sendErr).Str("session", s.id).Stringer("reason", reason).Msg("abort notice not delivered")
		}
	}
	return errors.Join(sendErr, s.Close())
}

// Close tears the session down. It is safe to call repeatedly and from the
// done callback.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started, cancel := s.started, s.cancel
	s.mu.Unlock()

	if !started {
		s.finish(Result{SessionID: s.id})
		return s.closeErr
	}
	cancel()
	<-s.finished
	return s.closeErr
}

func (s *Session) run(ctx context.Context) {
	result := Result{SessionID: s.id}
	defer func() {
		result.Rounds = s.rounds.Total()
		s.finish(result)
	}()

	reconnects := 0
	for stream := 1; ; stream++ {
		end, err := s.runStream(ctx, stream)
		if err != nil {
			result.Err = err
			return
		}
		if end.aborted {
			result.Aborted = true
			return
		}
		if !end.reconnect || ctx.Err() != nil {
			return
		}

		if end.rounds > 1 {
			reconnects = 0
		}
		reconnects++
		if s.cfg.ReconnectLimit > 0 && reconnects > s.cfg.ReconnectLimit {
			result.Err = fmt.Errorf("%w: %d consecutive", ErrReconnectLimit, reconnects-1)
			return
		}
		observability.RecordReconnect()
		s.state.store(StateConnected)
		log.Info().Str("session", s.id).Dur("after", end.after).Int("attempt", reconnects).Msg("server requested reconnect")

		if !s.waitReconnect(ctx, end.after) {
			result.Aborted = ctx.Err() == nil
			return
		}
	}
}

// waitReconnect sleeps before rejoining. It returns false when the session
// is closed or aborted meanwhile; with no stream there is nothing to notify.
func (s *Session) waitReconnect(ctx context.Context, after time.Duration) bool {
	timer := time.NewTimer(after)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case req := <-s.aborts:
		req.ack <- nil
		return false
	}
}

func (s *Session) runStream(ctx context.Context, streamNo int) (streamEnd, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream, err := s.transport.Join(streamCtx)
	if err != nil {
		if ctx.Err() != nil {
			return streamEnd{}, nil
		}
		return streamEnd{}, err
	}
	s.mu.Lock()
	capability := s.capability
	s.mu.Unlock()

	s.state.store(StateActive)
	log.Info().Str("session", s.id).Int("stream", streamNo).Msg("stream active")
	d := &driver{
		sessionID:  s.id,
		streamNo:   streamNo,
		stream:     stream,
		dispatcher: s.dispatcher,
		capability: capability,
		rounds:     s.rounds,
		state:      &s.state,
		inboxDepth: s.cfg.InboxDepth,
		drain:      s.cfg.DrainTimeout,
		hangup:     cancel,
	}
	return d.run(ctx, s.aborts)
}

func (s *Session) finish(result Result) {
	s.finishOnce.Do(func() {
		s.state.store(StateClosing)
		s.closeErr = s.transport.Close()
		s.state.store(StateClosed)

		s.mu.Lock()
		s.closed = true
		if s.cancel != nil {
			s.cancel()
		}
		s.result = result
		done := s.done
		s.mu.Unlock()

		outcome := "graceful"
		switch {
		case result.Err != nil:
			outcome = "failed"
			log.Error().Err(result.Err).Str("session", s.id).Int("rounds", result.Rounds).Msg("session closed")
		case result.Aborted:
			outcome = "aborted"
			log.Info().Str("session", s.id).Int("rounds", result.Rounds).Msg("session aborted")
		default:
			log.Info().Str("session", s.id).Int("rounds", result.Rounds).Msg("session closed")
		}
		observability.RecordSessionEnd(outcome)

		if done != nil {
			done(result)
		}
		close(s.finished)
	})
}
