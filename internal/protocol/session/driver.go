package session

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/danmuck/flwrctl/internal/client"
	"github.com/danmuck/flwrctl/internal/observability"
	"github.com/danmuck/flwrctl/internal/protocol"
	"github.com/danmuck/flwrctl/internal/protocol/transport"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// streamEnd says how one Join stream ended when no transport fault occurred.
type streamEnd struct {
	reconnect bool
	after     time.Duration
	aborted   bool
	rounds    int
}

type inbound struct {
	ins protocol.Instruction
	at  time.Time
}

type sendReq struct {
	res protocol.Response
	ack chan sendAck
}

type sendAck struct {
	sent     protocol.Response
	oversize bool
	err      error
}

type abortReq struct {
	reason protocol.Reason
	ack    chan error
}

// driver runs one Join stream. The receive and send loops own the network;
// a separate worker runs the dispatcher so a long capability call never
// stalls the reader. The worker handles one instruction at a time and waits
// for its response to be sent before taking the next one.
type driver struct {
	sessionID  string
	streamNo   int
	stream     transport.Stream
	dispatcher *client.Dispatcher
	capability client.Capability
	rounds     *RoundLog
	state      *stateBox
	inboxDepth int
	drain      time.Duration
	// hangup cancels the Join call itself.
	hangup context.CancelFunc

	closing  atomic.Bool
	answered atomic.Int64
}

func (d *driver) run(ctx context.Context, aborts <-chan abortReq) (streamEnd, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(streamCtx)

	inbox := make(chan inbound, d.inboxDepth)
	sends := make(chan sendReq)
	finished := make(chan streamEnd, 1)

	recvDone := make(chan struct{})
	g.Go(func() error {
		defer close(recvDone)
		return d.recvLoop(gctx, inbox)
	})
	g.Go(func() error { return d.sendLoop(gctx, sends) })
	// Not part of the group: a capability call still running at teardown is
	// abandoned, not awaited.
	go d.work(gctx, inbox, sends, finished)

	var end streamEnd
	select {
	case end = <-finished:
	case req := <-aborts:
		d.closing.Store(true)
		ack := d.submit(gctx, sends, protocol.DisconnectRes{Reason: req.reason})
		req.ack <- ack.err
		end = streamEnd{aborted: true}
	case <-gctx.Done():
	}

	d.closing.Store(true)
	if !end.reconnect {
		d.state.store(StateClosing)
	}
	_ = d.stream.CloseSend()
	d.awaitServerEnd(ctx, recvDone)
	d.hangup()
	cancel()
	err := g.Wait()
	end.rounds = int(d.answered.Load())
	return end, err
}

// awaitServerEnd gives the server a chance to read the last response and end
// the stream before the call is cancelled.
func (d *driver) awaitServerEnd(ctx context.Context, recvDone <-chan struct{}) {
	if d.drain <= 0 {
		return
	}
	timer := time.NewTimer(d.drain)
	defer timer.Stop()
	select {
	case <-recvDone:
	case <-ctx.Done():
	case <-timer.C:
		log.Debug().Str("session", d.sessionID).Int("stream", d.streamNo).Msg("server did not end stream, hanging up")
	}
}

func (d *driver) recvLoop(ctx context.Context, inbox chan<- inbound) error {
	for {
		msg, err := d.stream.Recv()
		if err != nil {
			if d.closing.Load() || ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Str("session", d.sessionID).Int("stream", d.streamNo).Msg("receive failed")
			return err
		}
		if d.closing.Load() {
			log.Debug().Str("session", d.sessionID).Str("instruction", protocol.InstructionName(msg.Instruction)).Msg("instruction ignored while closing")
			continue
		}
		select {
		case inbox <- inbound{ins: msg.Instruction, at: time.Now()}:
		case <-ctx.Done():
			return nil
		}
	}
}

func (d *driver) sendLoop(ctx context.Context, sends <-chan sendReq) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-sends:
			ack := d.send(req.res)
			req.ack <- ack
			if ack.err != nil {
				log.Error().Err(ack.err).Str("session", d.sessionID).Int("stream", d.streamNo).Msg("send failed")
				return ack.err
			}
		}
	}
}

// send transmits res. A response over the size limit is replaced by the same
// variant without payload and a MESSAGE_TOO_LARGE status.
func (d *driver) send(res protocol.Response) sendAck {
	err := d.stream.Send(&protocol.ClientMessage{Response: res})
	if err == nil {
		return sendAck{sent: res}
	}
	if !errors.Is(err, protocol.ErrMessageTooLarge) {
		return sendAck{sent: res, err: err}
	}
	observability.RecordOversize()
	log.Warn().Err(err).Str("session", d.sessionID).Str("response", protocol.ResponseName(res)).Msg("response over message limit, sending without payload")
	stripped := protocol.StripPayload(res, protocol.CodeMessageTooLarge, err.Error())
	if err := d.stream.Send(&protocol.ClientMessage{Response: stripped}); err != nil {
		return sendAck{sent: stripped, oversize: true, err: err}
	}
	return sendAck{sent: stripped, oversize: true}
}

func (d *driver) submit(ctx context.Context, sends chan<- sendReq, res protocol.Response) sendAck {
	req := sendReq{res: res, ack: make(chan sendAck, 1)}
	select {
	case sends <- req:
	case <-ctx.Done():
		return sendAck{err: ctx.Err()}
	}
	select {
	case ack := <-req.ack:
		return ack
	case <-ctx.Done():
		return sendAck{err: ctx.Err()}
	}
}

func (d *driver) work(ctx context.Context, inbox <-chan inbound, sends chan<- sendReq, finished chan<- streamEnd) {
	for {
		var in inbound
		select {
		case <-ctx.Done():
			return
		case in = <-inbox:
		}
		if d.closing.Load() {
			return
		}

		name := protocol.InstructionName(in.ins)
		started := time.Now()
		seq := d.rounds.Begin(d.streamNo, name, in.at, started)
		observability.RecordPayload("in", instructionPayload(in.ins))
		log.Debug().Str("session", d.sessionID).Uint64("round", seq).Str("instruction", name).Msg("dispatch")

		outcome := d.dispatcher.Dispatch(ctx, in.ins, d.capability)
		if d.closing.Load() {
			log.Debug().Str("session", d.sessionID).Uint64("round", seq).Msg("response dropped after close")
			d.rounds.Complete(seq, outcome.Response, false, time.Time{}, ErrSessionClosed)
			return
		}
		final := !outcome.Continue || outcome.Reconnect
		if final {
			d.closing.Store(true)
		}

		ack := d.submit(ctx, sends, outcome.Response)
		d.rounds.Complete(seq, ack.sent, ack.oversize, time.Now(), ack.err)
		if ack.err != nil {
			return
		}
		d.answered.Add(1)
		status := protocol.ResponseStatus(ack.sent)
		observability.RecordRound(name, status.Code.String(), time.Since(started))
		observability.RecordPayload("out", responsePayload(ack.sent))

		if final {
			finished <- streamEnd{reconnect: outcome.Reconnect, after: outcome.ReconnectAfter}
			return
		}
	}
}

func instructionPayload(ins protocol.Instruction) int {
	switch in := ins.(type) {
	case protocol.FitIns:
		return in.Parameters.Size()
	case protocol.EvaluateIns:
		return in.Parameters.Size()
	default:
		return 0
	}
}

func responsePayload(res protocol.Response) int {
	switch r := res.(type) {
	case protocol.GetParametersRes:
		return r.Parameters.Size()
	case protocol.FitRes:
		return r.Parameters.Size()
	default:
		return 0
	}
}
