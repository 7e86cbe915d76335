package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeProber struct {
	err error
}

func (f *fakeProber) Probe(ctx context.Context) error { return f.err }

func TestMonitorTransitions(t *testing.T) {
	prober := &fakeProber{}
	m := NewMonitor(prober, time.Minute, zap.NewNop())

	if m.Available() {
		t.Fatalf("monitor must start unavailable until first probe")
	}

	m.probeOnce(context.Background())
	if !m.Available() {
		t.Fatalf("successful probe must mark cache available")
	}

	prober.err = errors.New("connection refused")
	m.probeOnce(context.Background())
	if m.Available() {
		t.Fatalf("failed probe must mark cache unavailable")
	}

	prober.err = nil
	m.probeOnce(context.Background())
	if !m.Available() {
		t.Fatalf("recovered probe must mark cache available again")
	}
}

func TestMonitorRunStopsOnCancel(t *testing.T) {
	m := NewMonitor(&fakeProber{}, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		m.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop after context cancel")
	}

	if !m.Available() {
		t.Fatalf("probes without error must keep cache available")
	}
}
