// =============================================================================
// help.go - Shell Help System
// =============================================================================
//
// .help with no argument lists the dot-commands, the shorthands and every
// ARCL verb the client knows. .help <topic> prints detailed help for a
// dot-command or shorthand, or the usage line of an ARCL verb. Topics are
// case-insensitive and a leading dot is optional.
//
// =============================================================================

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/ZeroxCorbin/ARCLStream/arcl"
)

// printHelp writes help for topic, or the overview when topic is empty.
// It returns an error for unknown topics.
func printHelp(w io.Writer, topic string) error {
	if topic == "" {
		printHelpOverview(w)
		return nil
	}

	key := strings.ToLower(strings.TrimPrefix(topic, "."))

	if text, ok := dotHelp[key]; ok {
		fmt.Fprintln(w, text)
		return nil
	}
	if usage, ok := aliasUsage[key]; ok {
		fmt.Fprintf(w, "  %s\n    %s\n", usage, aliasHelp[key])
		return nil
	}
	if info, ok := arcl.Verbs[key]; ok {
		fmt.Fprintf(w, "  %s\n    %s\n", info.Usage, info.Summary)
		return nil
	}

	return fmt.Errorf("no help for '%s'. Type .help to see available commands", topic)
}

func printHelpOverview(w io.Writer) {
	fmt.Fprint(w, `Shell Commands:
  .jobs             Show the job queue
  .robots           Show the robot queue
  .io               Show external IO sets
  .status           Show the latest robot status
  .config <section> Read and show a config section
  .refresh          Re-request every tracker's dump
  .raw              Toggle printing of every received line
  .help [topic]     Show help (or help for one command)
  .quit             Exit

Shorthands:
`)
	for _, name := range sortedKeys(aliasUsage) {
		fmt.Fprintf(w, "  %-40s %s\n", aliasUsage[name], aliasHelp[name])
	}

	fmt.Fprint(w, "\nARCL Commands (anything else is sent as typed):\n")
	for _, name := range arcl.VerbNames() {
		info := arcl.Verbs[strings.ToLower(name)]
		fmt.Fprintf(w, "  %-40s %s\n", info.Usage, info.Summary)
	}
}

var aliasHelp = map[string]string{
	"pickup":  "Queue a pickup job",
	"dropoff": "Queue a pickup then dropoff job",
	"cancel":  "Cancel a job by ID",
	"query":   "Query a job by ID",
	"in":      "Write a set's inputs (hex, most significant byte first)",
	"out":     "Write a set's outputs",
	"status":  "Request a one-line status",
	"laser":   "Request current readings from a range device",
}

var dotHelp = map[string]string{
	"jobs": `  .jobs
    List every job the tracker has seen with its rolled-up status,
    current goal and robot. The tracker is synced once the first
    queueShow dump has ended.`,

	"robots": `  .robots
    List the fleet's robots with status and substatus, and how many
    are available for work.`,

	"io": `  .io
    List the external IO sets on the server with their input and
    output values. Sets named in the config file are created when
    missing.`,

	"status": `  .status
    Show the latest onelinestatus reply: state, charge, pose and
    localization score. When the status poller is enabled (status.rate
    in the config), also shows whether replies are late.`,

	"config": `  .config <section>
    Request a config section and print its rows once the server has
    sent them all.
    Example:
      .config RobotPhysical`,

	"refresh": `  .refresh
    Request fresh queueShow, queueShowRobot and extIODump dumps.`,

	"raw": `  .raw
    Toggle printing of every received line. Lines that no tracker
    consumes are always printed.`,

	"help": `  .help [topic]
    Show help for all commands, or detailed help for one.
    Examples:
      .help              Overview
      .help pickup       A shorthand
      .help queueMulti   An ARCL command`,

	"quit": `  .quit
    Close the session and exit. Ctrl-D does the same.`,
}
