package arcl

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// DefaultPriority asks the server to use its default priority.
const DefaultPriority = -1

// Command is one client-to-server ARCL command: a verb and its
// space-separated arguments. Use the constructor functions
// (NewGotoCommand, NewExtIOAddCommand, etc.) to create Command instances.
type Command struct {
	Verb string
	Args []string
}

// Format renders the command without the line terminator. Conn.Write adds
// it.
func (c Command) Format() string {
	if len(c.Args) == 0 {
		return c.Verb
	}
	return c.Verb + " " + strings.Join(c.Args, " ")
}

// FormatLine renders the command with the line terminator.
func (c Command) FormatLine() string {
	return c.Format() + LineTerminator
}

func newCommand(verb string, args ...string) Command {
	return Command{Verb: verb, Args: args}
}

func itoa(n int) string { return strconv.Itoa(n) }

func priorityArg(p int) string {
	if p < 0 {
		return "default"
	}
	return itoa(p)
}

// Navigation

// NewGotoCommand sends the robot to a named goal.
func NewGotoCommand(goal string) Command {
	return newCommand("goto", goal)
}

// NewGotoPointCommand sends the robot to a map point (mm, degrees).
func NewGotoPointCommand(x, y, heading int) Command {
	return newCommand("gotoPoint", itoa(x), itoa(y), itoa(heading))
}

// NewPatrolCommand patrols a route continuously.
func NewPatrolCommand(route string) Command {
	return newCommand("patrol", route)
}

// NewPatrolOnceCommand patrols a route once.
func NewPatrolOnceCommand(route string) Command {
	return newCommand("patrolOnce", route)
}

func NewStopCommand() Command   { return newCommand("stop") }
func NewDockCommand() Command   { return newCommand("dock") }
func NewUndockCommand() Command { return newCommand("undock") }

// NewLocalizeToPointCommand relocalizes the robot at a map point.
func NewLocalizeToPointCommand(x, y, heading int) Command {
	return newCommand("localizeToPoint", itoa(x), itoa(y), itoa(heading))
}

// NewSayCommand speaks text on the robot.
func NewSayCommand(text string) Command {
	return newCommand("say", text)
}

// NewLogCommand writes a message into the server log.
func NewLogCommand(message string) Command {
	return newCommand("log", message)
}

// Queue

func NewQueueShowCommand() Command      { return newCommand("queueShow") }
func NewQueueShowRobotCommand() Command { return newCommand("queueShowRobot") }

// NewQueueMultiCommand queues goals as one job:
//
//	queueMulti <n> 2 <goal1> <type1> <priority1> ... <jobID>
func NewQueueMultiCommand(goals []Goal, jobID string) Command {
	args := []string{itoa(len(goals)), "2"}
	for _, g := range goals {
		args = append(args, g.GoalName, g.GoalType.String(), itoa(g.Priority))
	}
	args = append(args, jobID)
	return newCommand("queueMulti", args...)
}

// NewQueuePickupCommand queues a pickup:
//
//	queuePickup <goal> [priority|default] [jobID]
func NewQueuePickupCommand(goal string, priority int, jobID string) Command {
	args := []string{goal, priorityArg(priority)}
	if jobID != "" {
		args = append(args, jobID)
	}
	return newCommand("queuePickup", args...)
}

// NewQueuePickupDropoffCommand queues a linked pickup and dropoff:
//
//	queuePickupDropoff <goal1> <goal2> [priority1|default] [priority2|default] [jobID]
func NewQueuePickupDropoffCommand(pickup, dropoff string, p1, p2 int, jobID string) Command {
	args := []string{pickup, dropoff, priorityArg(p1), priorityArg(p2)}
	if jobID != "" {
		args = append(args, jobID)
	}
	return newCommand("queuePickupDropoff", args...)
}

// NewQueueCancelCommand cancels a job by ID.
func NewQueueCancelCommand(jobID string) Command {
	return newCommand("queueCancel", "jobid", jobID)
}

// NewQueueQueryCommand queries a job by ID.
func NewQueueQueryCommand(jobID string) Command {
	return newCommand("queueQuery", "jobid", jobID)
}

// External IO

func NewExtIODumpCommand() Command { return newCommand("extIODump") }

// NewExtIOAddCommand creates a set with the given widths in bits.
func NewExtIOAddCommand(name string, inputs, outputs int) Command {
	return newCommand("extIOAdd", name, itoa(inputs), itoa(outputs))
}

// NewExtIORemoveCommand removes a set.
func NewExtIORemoveCommand(name string) Command {
	return newCommand("extIORemove", name)
}

// NewExtIOInputUpdateCommand writes a set's inputs. value is least
// significant byte first and is rendered most significant first.
func NewExtIOInputUpdateCommand(name string, value []byte) Command {
	return newCommand("extIOInputUpdate", name, EncodeIOValue(value))
}

// NewExtIOOutputUpdateCommand writes a set's outputs.
func NewExtIOOutputUpdateCommand(name string, value []byte) Command {
	return newCommand("extIOOutputUpdate", name, EncodeIOValue(value))
}

// Status

func NewOneLineStatusCommand() Command { return newCommand("onelinestatus") }

func NewRangeDeviceGetCurrentCommand(device string) Command {
	return newCommand("rangeDeviceGetCurrent", device)
}

func NewRangeDeviceGetCumulativeCommand(device string) Command {
	return newCommand("rangeDeviceGetCumulative", device)
}

// Config

// NewGetConfigSectionValuesCommand requests every row of a config section.
// Section names may contain spaces.
func NewGetConfigSectionValuesCommand(section string) Command {
	return newCommand("getconfigsectionvalues", section)
}

// VerbInfo describes a command verb for validation and help.
type VerbInfo struct {
	Verb    string
	MinArgs int
	MaxArgs int // -1 for unbounded
	Usage   string
	Summary string
}

// Verbs lists the commands the client knows, keyed by lower-case verb.
var Verbs = map[string]VerbInfo{
	"goto":                     {"goto", 1, -1, "goto <goal>", "Drive to a named goal"},
	"gotopoint":                {"gotoPoint", 3, 3, "gotoPoint <x> <y> <heading>", "Drive to a map point"},
	"patrol":                   {"patrol", 1, 1, "patrol <route>", "Patrol a route continuously"},
	"patrolonce":               {"patrolOnce", 1, 1, "patrolOnce <route>", "Patrol a route once"},
	"stop":                     {"stop", 0, 0, "stop", "Stop the robot"},
	"dock":                     {"dock", 0, 0, "dock", "Send the robot to its dock"},
	"undock":                   {"undock", 0, 0, "undock", "Leave the dock"},
	"localizetopoint":          {"localizeToPoint", 3, 3, "localizeToPoint <x> <y> <heading>", "Relocalize at a map point"},
	"say":                      {"say", 1, -1, "say <text>", "Speak text"},
	"log":                      {"log", 1, -1, "log <message>", "Write to the server log"},
	"queueshow":                {"queueShow", 0, 1, "queueShow [echo]", "Dump the job queue"},
	"queueshowrobot":           {"queueShowRobot", 0, 1, "queueShowRobot [echo]", "Dump the robot queue"},
	"queuemulti":               {"queueMulti", 5, -1, "queueMulti <n> 2 <goal> <type> <priority>... [jobID]", "Queue a multi-goal job"},
	"queuepickup":              {"queuePickup", 1, 3, "queuePickup <goal> [priority] [jobID]", "Queue a pickup"},
	"queuepickupdropoff":       {"queuePickupDropoff", 2, 5, "queuePickupDropoff <goal1> <goal2> [p1] [p2] [jobID]", "Queue a pickup and dropoff"},
	"queuecancel":              {"queueCancel", 2, 3, "queueCancel <type> <value> [echo]", "Cancel queued goals"},
	"queuequery":               {"queueQuery", 2, 3, "queueQuery <type> <value> [echo]", "Query queued goals"},
	"extiodump":                {"extIODump", 0, 0, "extIODump", "Dump external IO sets"},
	"extioadd":                 {"extIOAdd", 3, 3, "extIOAdd <name> <inputs> <outputs>", "Create an IO set"},
	"extioremove":              {"extIORemove", 1, 1, "extIORemove <name>", "Remove an IO set"},
	"extioinputupdate":         {"extIOInputUpdate", 2, 2, "extIOInputUpdate <name> <value>", "Write a set's inputs"},
	"extiooutputupdate":        {"extIOOutputUpdate", 2, 2, "extIOOutputUpdate <name> <value>", "Write a set's outputs"},
	"onelinestatus":            {"onelinestatus", 0, 0, "onelinestatus", "One-line robot status"},
	"rangedevicegetcurrent":    {"rangeDeviceGetCurrent", 1, 1, "rangeDeviceGetCurrent <device>", "Current range readings"},
	"rangedevicegetcumulative": {"rangeDeviceGetCumulative", 1, 1, "rangeDeviceGetCumulative <device>", "Cumulative range readings"},
	"getconfigsectionvalues":   {"getconfigsectionvalues", 1, -1, "getconfigsectionvalues <section>", "Read a config section"},
}

// VerbNames returns the known verbs in their canonical spelling, sorted.
func VerbNames() []string {
	names := make([]string, 0, len(Verbs))
	for _, v := range Verbs {
		names = append(names, v.Verb)
	}
	slices.Sort(names)
	return names
}

// ParseCommand splits a typed command line into a Command. Known verbs are
// checked for argument count; unknown verbs pass through unchanged since
// servers add commands by version.
func ParseCommand(text string) (Command, error) {
	f := strings.Fields(strings.TrimSpace(text))
	if len(f) == 0 {
		return Command{}, fmt.Errorf("empty command")
	}
	cmd := Command{Verb: f[0], Args: f[1:]}

	info, ok := Verbs[strings.ToLower(cmd.Verb)]
	if !ok {
		return cmd, nil
	}
	n := len(cmd.Args)
	if n < info.MinArgs || (info.MaxArgs >= 0 && n > info.MaxArgs) {
		return Command{}, fmt.Errorf("usage: %s", info.Usage)
	}
	return cmd, nil
}
