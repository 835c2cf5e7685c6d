package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ZeroxCorbin/ARCLStream/arcl"
	"github.com/ZeroxCorbin/ARCLStream/internal/bridge"
)

func newBridgeCmd(a *app) *cobra.Command {
	var natsURL, prefix string

	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Republish the ARCL session onto NATS",
		Long: "bridge logs in and publishes every received line as JSON on\n" +
			"<prefix>.<category> (arcl.queue_job, arcl.status, arcl.raw, ...) and\n" +
			"connection changes on <prefix>.state. The trackers run as well so the\n" +
			"job, robot and IO dumps keep flowing.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			override(cmd.Flags(), "nats-url", &a.cfg.Bridge.NATSURL, natsURL)
			override(cmd.Flags(), "prefix", &a.cfg.Bridge.SubjectPrefix, prefix)
			return runBridge(cmd.Context(), a)
		},
	}
	cmd.Flags().StringVar(&natsURL, "nats-url", "", "NATS server URL (overrides bridge.nats_url)")
	cmd.Flags().StringVar(&prefix, "prefix", "", "subject prefix (overrides bridge.subject_prefix)")
	return cmd
}

func runBridge(ctx context.Context, a *app) error {
	categories := make([]arcl.Category, 0, len(a.cfg.Bridge.Categories))
	for _, name := range a.cfg.Bridge.Categories {
		c, ok := arcl.ParseCategory(name)
		if !ok {
			return fmt.Errorf("unknown category %q", name)
		}
		categories = append(categories, c)
	}

	nc, err := bridge.ConnectNATS(a.cfg.Bridge.NATSURL, "arcl-bridge", a.cfg.Bridge.MaxReconnects, a.log)
	if err != nil {
		return err
	}
	defer nc.Close()

	conn, err := a.connect(ctx)
	if err != nil {
		return err
	}
	sess := newSession(conn, a.cfg)
	defer sess.close()

	b := bridge.New(conn, nc, bridge.Options{
		Prefix:     a.cfg.Bridge.SubjectPrefix,
		Categories: categories,
		Logger:     a.log,
	})
	b.Start()
	defer b.Stop()

	lost := make(chan error, 1)
	conn.OnStateChange(func(connected bool, err error) {
		if !connected && err != nil {
			select {
			case lost <- err:
			default:
			}
		}
	})

	if err := sess.start(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nc.Flush()
		case <-lost:
			if err := redial(ctx, a, conn); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
			if err := errors.Join(conn.StartReceiving(), sess.refresh()); err != nil {
				a.log.Warn("Refresh after reconnect failed", "error", err)
			}
		}
	}
}
