package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServer(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	server := NewServer("8080", logger)

	assert.NotNil(t, server)
	assert.NotNil(t, server.server)
	assert.Equal(t, ":8080", server.server.Addr)
	assert.NotNil(t, server.log)
}

func TestServerStartStop(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	server := NewServer("0", logger)
	server.StartAsync()
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, server.Stop(ctx))
}

func TestServerMetricsEndpoint(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	server := NewServer("19099", logger)
	server.StartAsync()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Stop(ctx)
	}()
	time.Sleep(200 * time.Millisecond)

	resp, err := http.Get("http://localhost:19099/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	bodyStr := string(body)
	assert.Contains(t, bodyStr, "# HELP")
	assert.Contains(t, bodyStr, "# TYPE")
}

func TestServerHealthEndpoint(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	server := NewServer("19098", logger)
	server.StartAsync()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Stop(ctx)
	}()
	time.Sleep(200 * time.Millisecond)

	resp, err := http.Get("http://localhost:19098/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "OK", string(body))
}

func TestServerWithCustomMetrics(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	RecordDecision("allow", "")
	RecordDecision("allow", "")

	server := NewServer("19097", logger)
	server.StartAsync()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Stop(ctx)
	}()
	time.Sleep(200 * time.Millisecond)

	resp, err := http.Get("http://localhost:19097/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	bodyStr := string(body)

	assert.Contains(t, bodyStr, "gatekeeper_decisions_total")
	assert.Contains(t, bodyStr, `decision="allow"`)
}

func TestServerMultipleClients(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	server := NewServer("19096", logger)
	server.StartAsync()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Stop(ctx)
	}()
	time.Sleep(200 * time.Millisecond)

	numRequests := 5
	results := make(chan error, numRequests)
	for i := 0; i < numRequests; i++ {
		go func(i int) {
			resp, err := http.Get("http://localhost:19096/metrics")
			if err != nil {
				results <- err
				return
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				results <- fmt.Errorf("request %d: expected status 200, got %d", i, resp.StatusCode)
				return
			}
			results <- nil
		}(i)
	}
	for i := 0; i < numRequests; i++ {
		assert.NoError(t, <-results, "request %d failed", i)
	}
}

func TestServerInvalidPort(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	server := NewServer("invalid", logger)
	assert.NotNil(t, server)
	assert.Equal(t, ":invalid", server.server.Addr)
}

func TestServerContextCancellation(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	server := NewServer("19095", logger)
	server.StartAsync()
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Stop should handle a pre-cancelled context without panicking.
	_ = server.Stop(ctx)
}
