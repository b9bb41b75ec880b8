package metric

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/colsink/errors"
)

func TestServer_Handler(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordWorkers("columnstore", 2)

	var unhealthy atomic.Bool
	srv := NewServer(ServerConfig{}, registry, func() error {
		if !unhealthy.Load() {
			return nil
		}
		return fmt.Errorf("worker 1 stopped")
	})

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `colsink_component_workers_running{component="columnstore"} 2`)

	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	unhealthy.Store(true)
	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(body), "worker 1 stopped")
}

func TestServer_Defaults(t *testing.T) {
	srv := NewServer(ServerConfig{}, NewMetricsRegistry(), nil)
	assert.Equal(t, "http://localhost:9090/metrics", srv.Address())
	assert.Nil(t, srv.Addr())

	srv = NewServer(ServerConfig{Port: 9443, Path: "/m", TLSCert: "c", TLSKey: "k"}, NewMetricsRegistry(), nil)
	assert.Equal(t, "https://localhost:9443/m", srv.Address())
}

func TestServer_StartStop(t *testing.T) {
	srv := NewServer(ServerConfig{Port: freePort(t)}, NewMetricsRegistry(), nil)

	done := make(chan error, 1)
	go func() { done <- srv.Start() }()

	require.Eventually(t, func() bool { return srv.Addr() != nil }, 2*time.Second, 10*time.Millisecond)

	err := srv.Start()
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
	require.NoError(t, <-done)

	require.NoError(t, srv.Stop(ctx), "stop is idempotent")
}

func TestServer_StartWithoutRegistry(t *testing.T) {
	srv := NewServer(ServerConfig{}, nil, nil)
	err := srv.Start()
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func freePort(t *testing.T) int {
	t.Helper()
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()
	var port int
	_, err := fmt.Sscanf(ts.Listener.Addr().String(), "127.0.0.1:%d", &port)
	require.NoError(t, err)
	return port
}
