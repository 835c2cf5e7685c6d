// =============================================================================
// translate.go - Shell Shorthand to ARCL Commands
// =============================================================================
//
// ARCL verbs are long and camel-cased. The shell accepts a few short forms
// for the commands people type most and expands them before sending:
//
//	pickup <goal> [priority] [jobID]          -> queuePickup
//	dropoff <goal1> <goal2> [p1] [p2] [jobID] -> queuePickupDropoff
//	cancel <jobID>                            -> queueCancel jobid <jobID>
//	query <jobID>                             -> queueQuery jobid <jobID>
//	in <set> <hex>                            -> extIOInputUpdate
//	out <set> <hex>                           -> extIOOutputUpdate
//	status                                    -> onelinestatus
//	laser <device>                            -> rangeDeviceGetCurrent
//
// Anything else is checked against the known verb table and sent as typed.
//
// =============================================================================

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ZeroxCorbin/ARCLStream/arcl"
)

// aliasUsage documents each shorthand for .help.
var aliasUsage = map[string]string{
	"pickup":  "pickup <goal> [priority] [jobID]",
	"dropoff": "dropoff <goal1> <goal2> [priority1] [priority2] [jobID]",
	"cancel":  "cancel <jobID>",
	"query":   "query <jobID>",
	"in":      "in <set> <hex>",
	"out":     "out <set> <hex>",
	"status":  "status",
	"laser":   "laser <device>",
}

// translateCommand turns one shell line into the command to send.
func translateCommand(line string) (arcl.Command, error) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 {
		return arcl.Command{}, fmt.Errorf("empty command")
	}
	keyword := strings.ToLower(fields[0])
	args := fields[1:]

	usage := func() error { return fmt.Errorf("usage: %s", aliasUsage[keyword]) }

	switch keyword {
	case "pickup":
		if len(args) < 1 || len(args) > 3 {
			return arcl.Command{}, usage()
		}
		priority, err := optionalPriority(args, 1)
		if err != nil {
			return arcl.Command{}, err
		}
		return arcl.NewQueuePickupCommand(args[0], priority, optionalArg(args, 2)), nil

	case "dropoff":
		if len(args) < 2 || len(args) > 5 {
			return arcl.Command{}, usage()
		}
		p1, err := optionalPriority(args, 2)
		if err != nil {
			return arcl.Command{}, err
		}
		p2, err := optionalPriority(args, 3)
		if err != nil {
			return arcl.Command{}, err
		}
		return arcl.NewQueuePickupDropoffCommand(args[0], args[1], p1, p2, optionalArg(args, 4)), nil

	case "cancel", "query":
		if len(args) != 1 {
			return arcl.Command{}, usage()
		}
		if keyword == "cancel" {
			return arcl.NewQueueCancelCommand(args[0]), nil
		}
		return arcl.NewQueueQueryCommand(args[0]), nil

	case "in", "out":
		if len(args) != 2 {
			return arcl.Command{}, usage()
		}
		value, err := arcl.DecodeIOValue(args[1], 0)
		if err != nil {
			return arcl.Command{}, fmt.Errorf("invalid IO value %q: %w", args[1], err)
		}
		if keyword == "in" {
			return arcl.NewExtIOInputUpdateCommand(args[0], value), nil
		}
		return arcl.NewExtIOOutputUpdateCommand(args[0], value), nil

	case "status":
		if len(args) != 0 {
			return arcl.Command{}, usage()
		}
		return arcl.NewOneLineStatusCommand(), nil

	case "laser":
		if len(args) != 1 {
			return arcl.Command{}, usage()
		}
		return arcl.NewRangeDeviceGetCurrentCommand(args[0]), nil
	}

	return arcl.ParseCommand(line)
}

func optionalArg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

// optionalPriority reads args[i] as a priority. Missing or "default" means
// the server default.
func optionalPriority(args []string, i int) (int, error) {
	s := optionalArg(args, i)
	if s == "" || strings.EqualFold(s, "default") {
		return arcl.DefaultPriority, nil
	}
	p, err := strconv.Atoi(s)
	if err != nil || p < 0 {
		return 0, fmt.Errorf("invalid priority %q", s)
	}
	return p, nil
}
