// =============================================================================
// repl.go - Interactive ARCL Shell
// =============================================================================
//
// The shell logs in, starts every tracker and then reads commands. Lines
// starting with a dot are handled locally (.jobs, .robots, .io, ...);
// everything else is expanded by translateCommand and written to the
// server. Replies arrive asynchronously on the receive goroutine and are
// printed through the line editor's output, which keeps the prompt intact.
//
// By default only lines no tracker consumes are printed, since the trackers
// already summarize queue, IO and status traffic. .raw prints everything.
//
// =============================================================================

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/ZeroxCorbin/ARCLStream/arcl"
)

const (
	promptOnline  = "arcl> "
	promptOffline = "arcl (offline)> "

	// sectionTimeout bounds how long .config waits for a section.
	sectionTimeout = 10 * time.Second
)

func newShellCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive ARCL shell (the default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(cmd.Context(), a, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

// shell is the state of one interactive session.
type shell struct {
	sess   *session
	editor *LineEditor
	out    io.Writer
	st     *styles
	raw    atomic.Bool
}

// runShell connects, starts the trackers and runs the read loop until
// .quit, end of input or ctx is cancelled.
func runShell(ctx context.Context, a *app, in io.Reader, out io.Writer) error {
	editor := NewLineEditor(in, out)
	defer editor.Close()

	conn, err := a.connect(ctx)
	if err != nil {
		return err
	}

	sh := &shell{
		sess:   newSession(conn, a.cfg),
		editor: editor,
		out:    editor.Output(),
		st:     newStyles(!a.noColor && editor.IsInteractive()),
	}
	defer sh.sess.close()

	sh.attach()
	if err := sh.sess.start(); err != nil {
		return err
	}

	if editor.IsInteractive() {
		fmt.Fprint(sh.out, welcomeBanner(conn.Address().Address()))
		fmt.Fprintln(sh.out)
	}

	return sh.loop(ctx)
}

// attach installs the print handlers. They run on the receive goroutine.
func (sh *shell) attach() {
	sh.sess.conn.SubscribeAll(func(l arcl.Line) {
		if sh.raw.Load() || !sh.consumed(l.Category) {
			fmt.Fprintln(sh.out, sh.st.line(l))
		}
	})
	sh.sess.conn.OnStateChange(func(connected bool, err error) {
		if !connected && err != nil {
			fmt.Fprintf(sh.out, "*** Disconnected: %v\n", err)
		}
	})

	sh.sess.jobs.SetJobCompleteHandler(func(job arcl.Job, goal arcl.Goal) {
		fmt.Fprintf(sh.out, "*** Job %s %s (%s at %s)\n",
			job.ID, strings.ToLower(job.Status().String()), goal.ID, goal.GoalName)
	})
	sh.sess.jobs.SetInSyncHandler(sh.syncNotice("jobs"))
	sh.sess.robots.SetInSyncHandler(sh.syncNotice("robots"))
	sh.sess.extio.SetInSyncHandler(sh.syncNotice("extio"))
	sh.sess.status.SetDelayedHandler(func(delayed bool) {
		if delayed {
			fmt.Fprintln(sh.out, sh.st.render(sh.st.warn, "*** Status replies are late"))
		} else {
			fmt.Fprintln(sh.out, "*** Status replies on time")
		}
	})
}

// consumed reports whether a tracker summarizes lines of category c.
// Status and range replies are only consumed while the poller runs.
func (sh *shell) consumed(c arcl.Category) bool {
	switch c {
	case arcl.CategoryNone:
		return false
	case arcl.CategoryStatus, arcl.CategoryRangeDeviceCurrent, arcl.CategoryRangeDeviceCumulative:
		return sh.sess.status.IsRunning()
	}
	return true
}

func (sh *shell) syncNotice(name string) func(bool) {
	return func(synced bool) {
		if !synced {
			fmt.Fprintf(sh.out, "*** %s %s\n", name, sh.st.synced(false))
		}
	}
}

func (sh *shell) prompt() string {
	if sh.sess.conn.IsConnected() {
		return promptOnline
	}
	return promptOffline
}

func (sh *shell) loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := sh.editor.GetLine(sh.prompt())
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(sh.out)
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, ".") {
			if quit := sh.dotCommand(ctx, line); quit {
				return nil
			}
			continue
		}

		cmd, err := translateCommand(line)
		if err != nil {
			printError(sh.out, err)
			continue
		}
		if err := sh.sess.conn.Send(cmd); err != nil {
			printError(sh.out, err)
		}
	}
}

// dotCommand runs one local command. It returns true for .quit.
func (sh *shell) dotCommand(ctx context.Context, line string) bool {
	keyword, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(keyword) {
	case ".quit", ".exit":
		return true
	case ".help":
		if err := printHelp(sh.out, arg); err != nil {
			printError(sh.out, err)
		}
	case ".jobs":
		sh.sess.printJobs(sh.out, sh.st)
	case ".robots":
		sh.sess.printRobots(sh.out, sh.st)
	case ".io":
		sh.sess.printIO(sh.out, sh.st)
	case ".status":
		sh.sess.printStatus(sh.out, sh.st)
	case ".config":
		if arg == "" {
			printError(sh.out, errors.New("usage: .config <section>"))
			break
		}
		sh.readSection(ctx, arg)
	case ".refresh":
		if err := sh.sess.refresh(); err != nil {
			printError(sh.out, err)
		}
	case ".raw":
		on := !sh.raw.Load()
		sh.raw.Store(on)
		fmt.Fprintf(sh.out, "Raw output %s\n", map[bool]string{true: "on", false: "off"}[on])
	default:
		printError(sh.out, fmt.Errorf("unknown command %s. Type .help for a list", keyword))
	}
	return false
}

// readSection requests a section and waits for its end marker.
func (sh *shell) readSection(ctx context.Context, section string) {
	done := make(chan struct{}, 1)
	reader := sh.sess.config
	reader.SetInSyncHandler(func(s string) {
		if strings.EqualFold(s, section) {
			select {
			case done <- struct{}{}:
			default:
			}
		}
	})
	defer reader.SetInSyncHandler(nil)

	if err := reader.GetConfigSectionValues(section); err != nil {
		printError(sh.out, err)
		return
	}

	select {
	case <-done:
	case <-ctx.Done():
		return
	case <-time.After(sectionTimeout):
		printError(sh.out, fmt.Errorf("timed out waiting for section %q", section))
		return
	}

	rows, _ := reader.Section(section)
	printSection(sh.out, sh.st, section, rows)
}
