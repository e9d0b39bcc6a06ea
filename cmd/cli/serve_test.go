package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gocausal/domain/effect"
	"gocausal/internal/config"
	"gocausal/internal/container"
)

func TestHTTPServerRoutes(t *testing.T) {
	cfg := &config.Config{Forest: effect.DefaultConfig(), Server: config.ServerConfig{Port: "9091"}}
	c, err := container.New(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close()

	srv := newHTTPServer(cfg, c)
	assert.Equal(t, ":9091", srv.Addr)
	assert.Equal(t, 10*time.Second, srv.ReadHeaderTimeout)

	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/forests")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "causalforest_trees_grown_total")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestServeStopsOnCancel(t *testing.T) {
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- serve(ctx, srv) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestServeReportsListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	srv := &http.Server{Addr: ln.Addr().String(), Handler: http.NotFoundHandler()}
	err = serve(context.Background(), srv)
	assert.Error(t, err)
}

func TestServeCommand(t *testing.T) {
	t.Setenv("PORT", "0")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("LOG_LEVEL", "ERROR")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	cmd := newRootCmd()
	cmd.SetArgs([]string{"serve"})
	assert.NoError(t, cmd.ExecuteContext(ctx))
}

func TestServeCommandRejectsBadPort(t *testing.T) {
	t.Setenv("PORT", "http")
	t.Setenv("LOG_LEVEL", "ERROR")

	cmd := newRootCmd()
	cmd.SetArgs([]string{"serve"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	assert.Error(t, cmd.Execute())
}
