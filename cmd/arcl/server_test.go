package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZeroxCorbin/ARCLStream/arcl"
	"github.com/ZeroxCorbin/ARCLStream/internal/config"
)

var discardLog = slog.New(slog.NewTextHandler(io.Discard, nil))

// failTimes returns a connect func that fails n times before succeeding.
func failTimes(n int, err error) (func(context.Context) error, *int) {
	calls := 0
	return func(context.Context) error {
		calls++
		if calls <= n {
			return err
		}
		return nil
	}, &calls
}

func TestRetryConnectSucceedsAfterFailures(t *testing.T) {
	connect, calls := failTimes(2, arcl.NewConnectionError("failed to connect", errors.New("refused")))
	retry := config.RetryConfig{Timeout: time.Second, Interval: 10 * time.Millisecond}

	require.NoError(t, retryConnect(t.Context(), retry, discardLog, connect))
	assert.Equal(t, 3, *calls)
}

func TestRetryConnectSingleAttemptWithoutTimeout(t *testing.T) {
	cause := arcl.NewConnectionError("failed to connect", errors.New("refused"))
	connect, calls := failTimes(5, cause)

	err := retryConnect(t.Context(), config.RetryConfig{}, discardLog, connect)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, *calls)
}

func TestRetryConnectStopsOnPermanentError(t *testing.T) {
	cause := arcl.NewConnectionError("login", arcl.ErrAuthenticationFailed)
	connect, calls := failTimes(5, cause)
	retry := config.RetryConfig{Timeout: time.Second, Interval: 10 * time.Millisecond}

	err := retryConnect(t.Context(), retry, discardLog, connect)
	assert.ErrorIs(t, err, arcl.ErrAuthenticationFailed)
	assert.Equal(t, 1, *calls)
}

func TestRetryConnectGivesUp(t *testing.T) {
	cause := errors.New("refused")
	connect, calls := failTimes(1000, cause)
	retry := config.RetryConfig{Timeout: 100 * time.Millisecond, Interval: 20 * time.Millisecond}

	err := retryConnect(t.Context(), retry, discardLog, connect)
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "gave up after")
	assert.GreaterOrEqual(t, *calls, 2)
	assert.LessOrEqual(t, *calls, 6)
}

func TestRetryConnectHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	connect := func(context.Context) error {
		cancel()
		return errors.New("refused")
	}
	retry := config.RetryConfig{Timeout: time.Minute, Interval: time.Minute}

	start := time.Now()
	err := retryConnect(ctx, retry, discardLog, connect)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, isPermanent(arcl.ErrInvalidConnectionString))
	assert.True(t, isPermanent(arcl.NewConnectionError("login", arcl.ErrAuthenticationFailed)))
	assert.True(t, isPermanent(context.Canceled))
	assert.False(t, isPermanent(arcl.NewConnectionError("login", arcl.ErrTimeout)))
	assert.False(t, isPermanent(errors.New("refused")))
}

func TestDialWithRetry(t *testing.T) {
	ms := startMockServer(t, nil)

	conn, err := dialWithRetry(t.Context(), ms.connectionString(), config.RetryConfig{}, discardLog)
	require.NoError(t, err)
	defer conn.Close()

	assert.True(t, conn.IsConnected())
	assert.NotEmpty(t, conn.SessionID())
}

func TestDialWithRetryInvalidConnectionString(t *testing.T) {
	_, err := dialWithRetry(t.Context(), "no-port", config.RetryConfig{Timeout: time.Minute, Interval: time.Second}, discardLog)
	assert.ErrorIs(t, err, arcl.ErrInvalidConnectionString)
}

func TestDialWithRetryWrongPassword(t *testing.T) {
	ms := startMockServer(t, nil)
	retry := config.RetryConfig{Timeout: time.Minute, Interval: 10 * time.Millisecond}

	start := time.Now()
	_, err := dialWithRetry(t.Context(), ms.listener.Addr().String()+":nope", retry, discardLog)
	assert.ErrorIs(t, err, arcl.ErrAuthenticationFailed)
	assert.Less(t, time.Since(start), 5*time.Second, "authentication failures are not retried")
}

func TestAppConnectUsesConfig(t *testing.T) {
	ms := startMockServer(t, nil)
	a := testApp(ms)

	conn, err := a.connect(t.Context())
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, ms.listener.Addr().String(), conn.Address().Address())
}

func TestHomeDir(t *testing.T) {
	t.Setenv("HOME", "/home/operator")
	assert.Equal(t, "/home/operator", homeDir())
}

// testApp returns an app configured for ms without going through cobra.
func testApp(ms *mockServer) *app {
	cfg := config.Default()
	cfg.Connection = ms.connectionString()
	return &app{cfg: cfg, log: discardLog, stderr: io.Discard}
}
