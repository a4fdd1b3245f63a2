package main

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingPumper struct {
	calls atomic.Int32
	err   error
}

func (p *countingPumper) Pump(context.Context) error {
	p.calls.Add(1)
	return p.err
}

func TestPumpLoop_PumpsOnStartAndKick(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())

	p := &countingPumper{}
	kick := make(chan struct{})
	done := make(chan error, 1)

	go func() { done <- pumpLoop(ctx, p, time.Hour, kick, slog.Default()) }()

	require.Eventually(t, func() bool { return p.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	kick <- struct{}{}

	require.Eventually(t, func() bool { return p.calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("pumpLoop did not return after cancel")
	}
}

func TestPumpLoop_TicksAndSurvivesErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	p := &countingPumper{err: errors.New("provider down")}
	done := make(chan error, 1)

	go func() { done <- pumpLoop(ctx, p, 10*time.Millisecond, nil, slog.Default()) }()

	require.Eventually(t, func() bool { return p.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
