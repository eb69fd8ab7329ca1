package infrastructure

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServer struct {
	startErr error
	started  atomic.Bool
	stopped  atomic.Bool
}

func (s *fakeServer) Start(ctx context.Context) error {
	s.started.Store(true)
	if s.startErr != nil {
		return s.startErr
	}
	<-ctx.Done()
	return nil
}

func (s *fakeServer) Stop(context.Context) error {
	s.stopped.Store(true)
	return nil
}

func TestApp_RunStopsServersOnCancel(t *testing.T) {
	a, b := &fakeServer{}, &fakeServer{}
	app := NewApp([]Server{a, b})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool { return a.started.Load() && b.started.Load() }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("app did not stop")
	}
	assert.True(t, a.stopped.Load())
	assert.True(t, b.stopped.Load())
}

func TestApp_RunReturnsServerError(t *testing.T) {
	boom := errors.New("listen failed")
	healthy := &fakeServer{}
	app := NewApp([]Server{healthy, &fakeServer{startErr: boom}})

	err := app.Run(context.Background())

	require.ErrorIs(t, err, boom)
	assert.True(t, healthy.stopped.Load())
}

func TestRunCleanup_ReverseOrder(t *testing.T) {
	var order []int
	runCleanup([]func(){
		func() { order = append(order, 1) },
		func() { order = append(order, 2) },
		func() { order = append(order, 3) },
	})()

	assert.Equal(t, []int{3, 2, 1}, order)
}

// slowServer keeps working for a while after shutdown starts.
type slowServer struct {
	finished atomic.Bool
}

func (s *slowServer) Start(ctx context.Context) error {
	<-ctx.Done()
	time.Sleep(50 * time.Millisecond)
	s.finished.Store(true)
	return nil
}

func (s *slowServer) Stop(context.Context) error { return nil }

type journalServer struct {
	sawFinished atomic.Bool
	front       *slowServer
}

func (s *journalServer) Start(ctx context.Context) error {
	<-ctx.Done()
	s.sawFinished.Store(s.front.finished.Load())
	return nil
}

func (s *journalServer) Stop(context.Context) error { return nil }

func TestApp_BackgroundStopsAfterServers(t *testing.T) {
	front := &slowServer{}
	journal := &journalServer{front: front}
	app := NewApp([]Server{front}, journal)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("app did not stop")
	}
	assert.True(t, journal.sawFinished.Load())
}

func TestApp_BackgroundFailureStopsServers(t *testing.T) {
	boom := errors.New("subscribe failed")
	front := &fakeServer{}
	app := NewApp([]Server{front}, &fakeServer{startErr: boom})

	done := make(chan error, 1)
	go func() { done <- app.Run(context.Background()) }()

	select {
	case err := <-done:
		require.ErrorIs(t, err, boom)
	case <-time.After(2 * time.Second):
		t.Fatal("app did not stop")
	}
	assert.True(t, front.stopped.Load())
}
