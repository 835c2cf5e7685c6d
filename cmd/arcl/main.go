// =============================================================================
// main.go - ARCL Command-Line Client Entry Point
// =============================================================================
//
// arcl talks to the ARCL text server of a mobile robot or fleet manager.
// Without a subcommand it opens an interactive shell; the subcommands run
// the trackers headless (watch), republish the session onto NATS (bridge)
// or send a single command (send).
//
// Settings come from a YAML file (--config or ARCL_CONFIG) and can be
// overridden by the global flags:
//
//	arcl --connect 192.168.100.10:7171:adept
//	arcl --config plant.yaml watch
//	arcl --connect 10.0.0.5:7171:adept send queuePickup Goal1
//
// =============================================================================

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ZeroxCorbin/ARCLStream/internal/config"
)

const (
	version = "0.3.0"
	appName = "ARCL"
)

// fullTitle returns the application name and version for banners.
func fullTitle() string {
	return fmt.Sprintf("%s client v%s (Go)", appName, version)
}

// welcomeBanner is printed when the shell starts on a terminal.
func welcomeBanner(address string) string {
	return fmt.Sprintf(`%s - Advanced Robotics Command Language
Connected to %s
Type '.help' for available commands.
Type '.quit' to exit.
`, fullTitle(), address)
}

// app carries the settings shared by every subcommand. The root command's
// PersistentPreRunE fills it before any subcommand runs.
type app struct {
	configPath string
	connectStr string
	logLevel   string
	logFormat  string
	noColor    bool

	cfg *config.Config
	log *slog.Logger

	// stderr receives log output. Tests point it at a buffer.
	stderr io.Writer
}

// GO CONCEPT: Closures Over Shared State
// ---------------------------------------
// Every subcommand constructor takes the same *app. Cobra parses the global
// flags into its fields, the root's PersistentPreRunE loads the config, and
// the subcommand's RunE closure reads the result. No package-level
// variables are involved, so tests can build as many independent command
// trees as they like.

// newRootCmd creates the arcl command with all subcommands attached.
func newRootCmd() *cobra.Command {
	a := &app{stderr: os.Stderr}

	cmd := &cobra.Command{
		Use:   "arcl",
		Short: "Client for the ARCL robot command server",
		Long: "arcl connects to an ARCL server, logs in and keeps live views of the\n" +
			"job queue, robot queue, external IO, status and config sections.",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(cmd.Context(), a, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.SetVersionTemplate(fullTitle() + "\n")

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "YAML config file (default $"+config.EnvConfig+")")
	flags.StringVar(&a.connectStr, "connect", "", "connection string <ip>:<port>:<password>")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&a.logFormat, "log-format", "", "log format: text, json")
	flags.BoolVar(&a.noColor, "no-color", false, "disable styled output")

	cmd.AddCommand(
		newShellCmd(a),
		newWatchCmd(a),
		newBridgeCmd(a),
		newSendCmd(a),
	)

	return cmd
}

// load reads the config file, applies flag overrides, validates the result
// and builds the logger.
func (a *app) load(cmd *cobra.Command) error {
	var (
		cfg *config.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = config.LoadFile(a.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	override(flags, "connect", &cfg.Connection, a.connectStr)
	override(flags, "log-level", &cfg.Log.Level, a.logLevel)
	override(flags, "log-format", &cfg.Log.Format, a.logFormat)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	a.cfg = cfg
	a.log = setupLogger(cfg.Log.Level, cfg.Log.Format, a.stderr)
	return nil
}

// override copies value into dst when the flag was set on the command line.
func override[T any](flags *pflag.FlagSet, name string, dst *T, value T) {
	if flags.Changed(name) {
		*dst = value
	}
}

// printError writes a one-line error to stderr.
func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)
}

func main() {
	// GO CONCEPT: Signal-Aware Contexts
	// ---------------------------------
	// signal.NotifyContext returns a context that is cancelled on SIGINT
	// or SIGTERM. Every blocking operation below takes that context, so
	// Ctrl-C unwinds the program through its normal return paths and the
	// deferred Close calls still run.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		printError(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
