package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ZeroxCorbin/ARCLStream/arcl"
)

func newSendCmd(a *app) *cobra.Command {
	var (
		until   string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send <command> [args...]",
		Short: "Send one command and optionally print the reply",
		Long: "send logs in, writes one command (shell shorthands are accepted) and\n" +
			"exits. With --until it prints every line received until one contains\n" +
			"the given text.",
		Example: "  arcl send queuePickup Goal1\n" +
			"  arcl send queueShow --until EndQueueShow\n" +
			"  arcl send status --until Status:",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd.Context(), a, cmd.OutOrStdout(), strings.Join(args, " "), until, timeout)
		},
	}
	cmd.Flags().StringVar(&until, "until", "", "print replies until a line contains this text")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "how long to wait with --until")
	return cmd
}

func runSend(ctx context.Context, a *app, out io.Writer, line, until string, timeout time.Duration) error {
	cmd, err := translateCommand(line)
	if err != nil {
		return err
	}

	conn, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if until == "" {
		return conn.Send(cmd)
	}

	lines := make(chan string, 64)
	conn.SubscribeAll(func(l arcl.Line) {
		select {
		case lines <- l.Text:
		default:
		}
	})
	if err := conn.StartReceiving(); err != nil {
		return err
	}
	if err := conn.Send(cmd); err != nil {
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case text := <-lines:
			fmt.Fprintln(out, text)
			if strings.Contains(text, until) {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("no line containing %q within %s: %w", until, timeout, arcl.ErrTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
