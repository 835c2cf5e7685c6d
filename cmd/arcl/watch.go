package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/ZeroxCorbin/ARCLStream/arcl"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		metricsAddr string
		once        bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run every tracker and log what they see",
		Long: "watch logs in, starts the job, robot, external IO and config trackers\n" +
			"(and the status poller when status.rate is set) and logs their\n" +
			"notifications until interrupted. Lost connections are redialed.\n" +
			"A summary of the final tracker state is printed on exit.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			override(cmd.Flags(), "metrics-addr", &a.cfg.Metrics.Addr, metricsAddr)
			return runWatch(cmd.Context(), a, cmd.OutOrStdout(), !once)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides metrics.addr)")
	cmd.Flags().BoolVar(&once, "no-reconnect", false, "exit when the connection is lost")
	return cmd
}

// runWatch runs the trackers until ctx is cancelled. With reconnect false
// a lost connection ends the run with its error.
func runWatch(ctx context.Context, a *app, out io.Writer, reconnect bool) error {
	reg := newMetricsRegistry()
	metrics, err := arcl.NewMetrics(reg)
	if err != nil {
		return err
	}

	conn, err := a.connect(ctx, arcl.WithMetrics(metrics))
	if err != nil {
		return err
	}
	sess := newSession(conn, a.cfg)
	defer sess.close()

	if a.cfg.Metrics.Addr != "" {
		srv, err := startMetricsServer(a.cfg.Metrics.Addr, metricsHandler(reg, conn.IsConnected), a.log)
		if err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	lost := make(chan error, 1)
	conn.OnStateChange(func(connected bool, err error) {
		if !connected && err != nil {
			select {
			case lost <- err:
			default:
			}
		}
	})

	sections := newSectionQueue(sess.config, a.cfg.Config.Sections, a.log)
	logTrackers(sess, a.log)

	if err := sess.start(); err != nil {
		return err
	}
	sections.fetchAll()

	for {
		select {
		case <-ctx.Done():
			writeSummary(out, sess)
			return nil

		case err := <-lost:
			if !reconnect {
				writeSummary(out, sess)
				return err
			}
			if err := redial(ctx, a, conn); err != nil {
				if errors.Is(err, context.Canceled) {
					writeSummary(out, sess)
					return nil
				}
				return err
			}
			if err := errors.Join(conn.StartReceiving(), sess.refresh()); err != nil {
				a.log.Warn("Refresh after reconnect failed", "error", err)
			}
			sections.fetchAll()
		}
	}
}

// redial reconnects conn, retrying until it succeeds, fails permanently or
// ctx is cancelled.
func redial(ctx context.Context, a *app, conn *arcl.Conn) error {
	for {
		err := retryConnect(ctx, a.cfg.Retry, a.log, conn.Connect)
		if err == nil || isPermanent(err) || ctx.Err() != nil {
			return err
		}
		a.log.Warn("Reconnect failed", "error", err)

		timer := time.NewTimer(max(a.cfg.Retry.Interval, time.Second))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// logTrackers installs handlers that log every tracker notification.
func logTrackers(sess *session, log *slog.Logger) {
	syncLogger := func(name string) func(bool) {
		return func(synced bool) {
			log.Info("Tracker sync changed", "tracker", name, "synced", synced)
		}
	}
	sess.jobs.SetInSyncHandler(syncLogger("jobs"))
	sess.robots.SetInSyncHandler(syncLogger("robots"))
	sess.extio.SetInSyncHandler(syncLogger("extio"))

	sess.jobs.SetJobCompleteHandler(func(job arcl.Job, goal arcl.Goal) {
		log.Info("Job finished", "job", job.ID, "status", job.Status().String(),
			"goal", goal.GoalName, "robot", goal.RobotName)
	})
	sess.jobs.SetJobUpdateHandler(func(job arcl.Job, goal arcl.Goal) {
		log.Debug("Job updated", "job", job.ID, "goal", goal.ID,
			"status", goal.Status.String(), "substatus", goal.SubStatus.String())
	})
	sess.robots.SetUpdateHandler(func(r arcl.RobotEntry) {
		log.Debug("Robot updated", "robot", r.Name, "status", r.Status.String(), "substatus", r.SubStatus.String())
	})
	sess.extio.SetUpdateHandler(func(set arcl.ExtIOSet) {
		log.Debug("IO set updated", "set", set.Name,
			"inputs", arcl.EncodeIOValue(set.Inputs), "outputs", arcl.EncodeIOValue(set.Outputs))
	})
	sess.status.SetDelayedHandler(func(delayed bool) {
		if delayed {
			log.Warn("Status replies delayed")
		} else {
			log.Info("Status replies on time")
		}
	})
}

// sectionQueue fetches config sections one after another. The reader holds
// a single request in flight, so each completed section requests the next.
type sectionQueue struct {
	reader   *arcl.ConfigReader
	sections []string
	log      *slog.Logger

	mu   sync.Mutex
	next int
}

func newSectionQueue(reader *arcl.ConfigReader, sections []string, log *slog.Logger) *sectionQueue {
	q := &sectionQueue{reader: reader, sections: sections, log: log}
	reader.SetInSyncHandler(func(section string) {
		rows, _ := reader.Section(section)
		log.Info("Config section received", "section", section, "rows", len(rows))
		q.requestNext()
	})
	return q
}

// fetchAll restarts the queue from the first section.
func (q *sectionQueue) fetchAll() {
	q.mu.Lock()
	q.next = 0
	q.mu.Unlock()
	q.requestNext()
}

func (q *sectionQueue) requestNext() {
	q.mu.Lock()
	if q.next >= len(q.sections) {
		q.mu.Unlock()
		return
	}
	section := q.sections[q.next]
	q.next++
	q.mu.Unlock()

	if err := q.reader.GetConfigSectionValues(section); err != nil {
		q.log.Warn("Config section request failed", "section", section, "error", err)
	}
}

func writeSummary(w io.Writer, sess *session) {
	st := newStyles(false)
	sess.printJobs(w, st)
	fmt.Fprintln(w)
	sess.printRobots(w, st)
	fmt.Fprintln(w)
	sess.printIO(w, st)
}
