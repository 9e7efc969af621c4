package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/flwrctl/internal/config"
	"github.com/danmuck/flwrctl/internal/protocol"
	"github.com/danmuck/flwrctl/internal/protocol/transport"
	"github.com/danmuck/flwrctl/internal/testutil/flwrtest"
	"github.com/danmuck/flwrctl/internal/testutil/testlog"
)

func testRunner(srv *flwrtest.Server, cfg config.ClientConfig) *runner {
	r := newRunner(cfg)
	r.target = flwrtest.Target
	r.dialOptions = srv.DialOptions()
	return r
}

func TestRunnerServesUntilDisconnect(t *testing.T) {
	testlog.Start(t)
	srv := flwrtest.Start(t, protocol.DefaultLimits())
	cfg := config.Defaults()
	cfg.Capability = "zeros"
	cfg.CapabilityShapes = "2x2"

	errCh := make(chan error, 1)
	go func() {
		errCh <- testRunner(srv, cfg).run(context.Background())
	}()

	peer := srv.Accept(t, 5*time.Second)
	peer.Send(t, protocol.GetParametersIns{})
	res, ok := peer.Recv(t, 5*time.Second).(protocol.GetParametersRes)
	if !ok || len(res.Parameters.Tensors) != 1 || res.Parameters.TensorType != "numpy.ndarray" {
		t.Fatalf("unexpected response %#v", res)
	}
	peer.Send(t, protocol.DisconnectIns{Reason: protocol.ReasonAck})
	peer.Recv(t, 5*time.Second)
	peer.Finish()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("runner did not stop after disconnect")
	}
}

func TestRunnerAbortsOnCancel(t *testing.T) {
	testlog.Start(t)
	srv := flwrtest.Start(t, protocol.DefaultLimits())
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- testRunner(srv, config.Defaults()).run(ctx)
	}()

	peer := srv.Accept(t, 5*time.Second)
	cancel()
	res, ok := peer.Recv(t, 5*time.Second).(protocol.DisconnectRes)
	if !ok || res.Reason != protocol.ReasonPowerDisconnected {
		t.Fatalf("unexpected abort notice %#v", res)
	}
	peer.Finish()
	if err := <-errCh; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRunnerWithAdminAbortsOnCancel(t *testing.T) {
	testlog.Start(t)
	srv := flwrtest.Start(t, protocol.DefaultLimits())
	cfg := config.Defaults()
	cfg.AdminAddr = "127.0.0.1:0"

	// cancel ends the admin server too; either wakeup must abort
	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() {
			errCh <- testRunner(srv, cfg).run(ctx)
		}()

		peer := srv.Accept(t, 5*time.Second)
		cancel()
		res, ok := peer.Recv(t, 5*time.Second).(protocol.DisconnectRes)
		if !ok || res.Reason != protocol.ReasonPowerDisconnected {
			t.Fatalf("run %d: unexpected abort notice %#v", i, res)
		}
		peer.Finish()
		if err := <-errCh; err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
}

func TestRunnerGivesUpAfterMaxAttempts(t *testing.T) {
	testlog.Start(t)
	srv := flwrtest.Start(t, protocol.DefaultLimits())
	srv.Stop()
	cfg := config.Defaults()
	cfg.ConnectTimeout = "100ms"
	cfg.MaxConnectAttempts = 2

	err := testRunner(srv, cfg).run(context.Background())
	var terr *transport.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}
