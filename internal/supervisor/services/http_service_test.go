package services

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thejerf/suture/v4"
)

var _ suture.Service = (*HTTPServerService)(nil)

type mockHTTPServer struct {
	listenErr   error
	shutdownErr error
	started     chan struct{}
	stop        chan struct{}
	shutdowns   atomic.Int32
}

func newMockHTTPServer() *mockHTTPServer {
	return &mockHTTPServer{
		started: make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
}

func (m *mockHTTPServer) ListenAndServe() error {
	m.started <- struct{}{}
	if m.listenErr != nil {
		return m.listenErr
	}
	<-m.stop
	return http.ErrServerClosed
}

func (m *mockHTTPServer) Shutdown(context.Context) error {
	m.shutdowns.Add(1)
	close(m.stop)
	return m.shutdownErr
}

func serveAsync(svc *HTTPServerService, ctx context.Context) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()
	return errCh
}

func TestHTTPServerService_ShutsDownOnCancel(t *testing.T) {
	server := newMockHTTPServer()
	svc := NewHTTPServerService(server, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := serveAsync(svc, ctx)
	<-server.started
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	assert.Equal(t, int32(1), server.shutdowns.Load())
}

func TestHTTPServerService_StartupFailure(t *testing.T) {
	bindErr := errors.New("bind: address already in use")
	server := newMockHTTPServer()
	server.listenErr = bindErr

	err := NewHTTPServerService(server, time.Second).Serve(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, bindErr)
}

func TestHTTPServerService_ShutdownFailure(t *testing.T) {
	shutdownErr := errors.New("shutdown timeout")
	server := newMockHTTPServer()
	server.shutdownErr = shutdownErr
	svc := NewHTTPServerService(server, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := serveAsync(svc, ctx)
	<-server.started
	cancel()

	assert.ErrorIs(t, <-errCh, shutdownErr)
}

func TestNewHTTPServerService_DefaultTimeout(t *testing.T) {
	svc := NewHTTPServerService(newMockHTTPServer(), 0)
	assert.Equal(t, defaultShutdownTimeout, svc.shutdownTimeout)
	assert.Equal(t, "http-server", svc.String())
}
