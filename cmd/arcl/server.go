// =============================================================================
// server.go - Reaching the ARCL Server
// =============================================================================
//
// Robots often boot slower than the tools that talk to them, so the client
// can keep redialing until the server answers. The loop polls at a fixed
// interval until either a login succeeds or the retry window closes.
// Authentication failures and malformed connection strings are permanent
// and end the loop at once.
//
// =============================================================================

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ZeroxCorbin/ARCLStream/arcl"
	"github.com/ZeroxCorbin/ARCLStream/internal/config"
)

// dialWithRetry logs in to the server, redialing every retry.Interval for
// up to retry.Timeout. A zero Timeout dials exactly once.
func dialWithRetry(ctx context.Context, connection string, retry config.RetryConfig, log *slog.Logger, opts ...arcl.Option) (*arcl.Conn, error) {
	addr, err := arcl.ParseConnectionString(connection)
	if err != nil {
		return nil, err
	}
	conn := arcl.NewConn(addr, opts...)
	if err := retryConnect(ctx, retry, log, conn.Connect); err != nil {
		return nil, err
	}
	return conn, nil
}

// retryConnect calls connect until it succeeds, fails permanently or the
// retry window closes.
func retryConnect(ctx context.Context, retry config.RetryConfig, log *slog.Logger, connect func(context.Context) error) error {
	deadline := time.Now().Add(retry.Timeout)

	for attempt := 1; ; attempt++ {
		err := connect(ctx)
		if err == nil {
			return nil
		}
		if isPermanent(err) || retry.Timeout <= 0 {
			return err
		}
		if time.Now().Add(retry.Interval).After(deadline) {
			return fmt.Errorf("gave up after %d attempts: %w", attempt, err)
		}

		log.Warn("Connect failed, retrying", "attempt", attempt, "in", retry.Interval, "error", err)

		// GO CONCEPT: Cancellable Sleep
		// -----------------------------
		// time.Sleep cannot be interrupted. Selecting on a timer and the
		// context's Done channel sleeps the same amount but returns as soon
		// as the user presses Ctrl-C.
		timer := time.NewTimer(retry.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func isPermanent(err error) bool {
	return errors.Is(err, arcl.ErrInvalidConnectionString) ||
		errors.Is(err, arcl.ErrAuthenticationFailed) ||
		errors.Is(err, context.Canceled)
}

// connect dials the configured server with the app's logger and metrics.
func (a *app) connect(ctx context.Context, extra ...arcl.Option) (*arcl.Conn, error) {
	opts := append(a.cfg.ConnOptions(), arcl.WithLogger(a.log))
	opts = append(opts, extra...)

	return dialWithRetry(ctx, a.cfg.Connection, a.cfg.Retry, a.log, opts...)
}

// homeDir returns the user's home directory, or "" if it cannot be found.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home
}
