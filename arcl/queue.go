package arcl

import (
	"strconv"
	"strings"
	"time"
)

// Status is the closed set of queue job/robot states.
type Status int

const (
	StatusPending Status = iota
	StatusAvailable
	StatusInterrupted
	StatusInProgress
	StatusCompleted
	StatusCancelling
	StatusCancelled
	StatusBeforeModify
	StatusInterruptedByModify
	StatusAfterModify
	StatusUnAvailable
	StatusFailed
	StatusLoading
)

var statusNames = []string{
	"Pending",
	"Available",
	"Interrupted",
	"InProgress",
	"Completed",
	"Cancelling",
	"Cancelled",
	"BeforeModify",
	"InterruptedByModify",
	"AfterModify",
	"UnAvailable",
	"Failed",
	"Loading",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "Status(" + strconv.Itoa(int(s)) + ")"
}

// ParseStatus parses a status token exactly as the server writes it.
func ParseStatus(s string) (Status, bool) {
	for i, name := range statusNames {
		if name == s {
			return Status(i), true
		}
	}
	return 0, false
}

// SubStatus is the closed set of queue job/robot sub-states.
type SubStatus int

const (
	SubStatusNone SubStatus = iota
	SubStatusAssignedRobotOffLine
	SubStatusNoMatchingRobotForLinkedJob
	SubStatusNoMatchingRobotForOtherSegment
	SubStatusNoMatchingRobot
	SubStatusIDPickup
	SubStatusIDDropoff
	SubStatusAvailable
	SubStatusParking
	SubStatusParked
	SubStatusDockParking
	SubStatusDockParked
	SubStatusUnAllocated
	SubStatusAllocated
	SubStatusBeforePickup
	SubStatusBeforeDropoff
	SubStatusBeforeEvery
	SubStatusBefore
	SubStatusBuffering
	SubStatusBuffered
	SubStatusDriving
	SubStatusAfter
	SubStatusAfterEvery
	SubStatusAfterPickup
	SubStatusAfterDropoff
	SubStatusNotUsingEnterpriseManager
	SubStatusUnknownBatteryType
	SubStatusForcedDocked
	SubStatusLost
	SubStatusEStopPressed
	SubStatusInterrupted
	SubStatusInterruptedButNotYetIdle
	SubStatusOutgoingARCLConnLost
	SubStatusModeIsLocked
	SubStatusCancelledByMobilePlanner
)

var subStatusNames = []string{
	"None",
	"AssignedRobotOffLine",
	"NoMatchingRobotForLinkedJob",
	"NoMatchingRobotForOtherSegment",
	"NoMatchingRobot",
	"ID_PICKUP",
	"ID_DROPOFF",
	"Available",
	"Parking",
	"Parked",
	"DockParking",
	"DockParked",
	"UnAllocated",
	"Allocated",
	"BeforePickup",
	"BeforeDropoff",
	"BeforeEvery",
	"Before",
	"Buffering",
	"Buffered",
	"Driving",
	"After",
	"AfterEvery",
	"AfterPickup",
	"AfterDropoff",
	"NotUsingEnterpriseManager",
	"UnknownBatteryType",
	"ForcedDocked",
	"Lost",
	"EStopPressed",
	"Interrupted",
	"InterruptedButNotYetIdle",
	"OutgoingARCLConnLost",
	"ModeIsLocked",
	"Cancelled_by_MobilePlanner",
}

func (s SubStatus) String() string {
	if s >= 0 && int(s) < len(subStatusNames) {
		return subStatusNames[s]
	}
	return "SubStatus(" + strconv.Itoa(int(s)) + ")"
}

// ParseSubStatus parses a substatus token. Pending goals report their own
// ID as "ID_<id>"; those map to SubStatusIDPickup or SubStatusIDDropoff.
func ParseSubStatus(s string) (SubStatus, bool) {
	switch {
	case strings.HasPrefix(s, "ID_PICKUP"):
		return SubStatusIDPickup, true
	case strings.HasPrefix(s, "ID_DROPOFF"):
		return SubStatusIDDropoff, true
	}
	for i, name := range subStatusNames {
		if name == s {
			return SubStatus(i), true
		}
	}
	return 0, false
}

// GoalType is the kind of a job segment.
type GoalType int

const (
	GoalPickup GoalType = iota
	GoalDropoff
)

func (g GoalType) String() string {
	if g == GoalDropoff {
		return "dropoff"
	}
	return "pickup"
}

// Goal is one pickup or dropoff segment of a job. A Goal is a value: later
// updates with the same ID replace it rather than mutate it.
type Goal struct {
	ID          string // Segment identifier, e.g. "PICKUP3"
	GoalType    GoalType
	Order       int // Numeric suffix of ID
	JobID       string
	Priority    int
	Status      Status
	SubStatus   SubStatus
	GoalName    string
	RobotName   string
	StartedOn   time.Time // Zero when the server reports None
	CompletedOn time.Time // Zero when the server reports None
	FailCount   int
}

// NewGoal creates a request goal for QueueMulti. Status is Pending.
func NewGoal(name string, t GoalType, priority int) Goal {
	return Goal{GoalName: name, GoalType: t, Priority: priority, Status: StatusPending}
}

// queueDateLayout is the server's "<date> <time>" rendering.
const queueDateLayout = "01/02/2006 15:04:05"

// queueEvent is a parsed job-queue line.
type queueEvent struct {
	goal  Goal
	isEnd bool
	skip  bool // matched the category but carries no goal
}

// parseQueueJobLine parses one job-queue line into a goal or the end marker.
//
//	QueueShow: <id> <jobId> <priority> <status> <substatus> Goal <"goalName"> <"robotName">
//	           <queued date> <queued time> <completed date> <completed time> <echoString> <failed count>
//	QueueUpdate: <id> <jobId> <priority> <status> <substatus> Goal <"goalName"> <"robotName">
//	           <queued date> <queued time> <completed date> <completed time> <failed count>
//	QueueMulti: goal <"goal"> with priority <p> id <id> and job_id <jobId> successfully queued
func parseQueueJobLine(line string) (queueEvent, error) {
	fields := splitFields(line)
	if len(fields) == 0 {
		return queueEvent{skip: true}, nil
	}
	keyword := strings.TrimSuffix(fields[0], ":")

	switch {
	case strings.EqualFold(keyword, "EndQueueShow"):
		return queueEvent{isEnd: true}, nil
	case strings.EqualFold(keyword, "QueueShow"), strings.EqualFold(keyword, "QueueQuery"):
		g, err := parseQueueRecord(line, fields, 15)
		return queueEvent{goal: g}, err
	case strings.EqualFold(keyword, "QueueUpdate"):
		g, err := parseQueueRecord(line, fields, 14)
		return queueEvent{goal: g}, err
	case strings.EqualFold(keyword, "QueueMulti"):
		g, err := parseQueueMultiAck(line, fields)
		return queueEvent{goal: g}, err
	default:
		// EndQueueMulti, EndQueueQuery, command echoes and the like.
		return queueEvent{skip: true}, nil
	}
}

func parseQueueRecord(line string, f []string, want int) (Goal, error) {
	const cat = CategoryQueueJob

	if len(f) != want {
		return Goal{}, newFieldCountError(cat, line, strconv.Itoa(want), len(f))
	}

	var g Goal
	var err error

	g.ID = f[1]
	if g.GoalType, g.Order, err = parseGoalID(line, g.ID); err != nil {
		return Goal{}, err
	}
	g.JobID = f[2]

	if g.Priority, err = strconv.Atoi(f[3]); err != nil {
		return Goal{}, newParseError(ErrKindInvalidNumber, cat, line, "priority "+f[3])
	}

	var ok bool
	if g.Status, ok = ParseStatus(f[4]); !ok {
		return Goal{}, newParseError(ErrKindInvalidStatus, cat, line, f[4])
	}
	if g.SubStatus, ok = ParseSubStatus(f[5]); !ok {
		return Goal{}, newParseError(ErrKindInvalidSubStatus, cat, line, f[5])
	}

	if !strings.EqualFold(f[6], "Goal") {
		return Goal{}, newParseError(ErrKindUnexpectedToken, cat, line, "want Goal, got "+f[6])
	}
	g.GoalName = f[7]
	g.RobotName = f[8]

	if g.StartedOn, err = parseQueueDate(line, f[9], f[10]); err != nil {
		return Goal{}, err
	}
	if g.CompletedOn, err = parseQueueDate(line, f[11], f[12]); err != nil {
		return Goal{}, err
	}

	last := f[len(f)-1]
	if g.FailCount, err = strconv.Atoi(last); err != nil {
		return Goal{}, newParseError(ErrKindInvalidNumber, cat, line, "fail count "+last)
	}
	return g, nil
}

func parseQueueMultiAck(line string, f []string) (Goal, error) {
	const cat = CategoryQueueJob

	if len(f) < 13 {
		return Goal{}, newFieldCountError(cat, line, "at least 13", len(f))
	}
	if !strings.EqualFold(f[1], "goal") || !strings.EqualFold(f[4], "priority") || !strings.EqualFold(f[6], "id") {
		return Goal{}, newParseError(ErrKindUnexpectedToken, cat, line, "")
	}

	g := Goal{GoalName: f[2], ID: f[7], JobID: f[10], Status: StatusPending}
	var err error
	if g.Priority, err = strconv.Atoi(f[5]); err != nil {
		return Goal{}, newParseError(ErrKindInvalidNumber, cat, line, "priority "+f[5])
	}
	if g.GoalType, g.Order, err = parseGoalID(line, g.ID); err != nil {
		return Goal{}, err
	}
	if g.GoalType == GoalDropoff {
		g.SubStatus = SubStatusIDDropoff
	} else {
		g.SubStatus = SubStatusIDPickup
	}
	return g, nil
}

// parseGoalID splits "PICKUP3" into its type and order.
func parseGoalID(line, id string) (GoalType, int, error) {
	var t GoalType
	var suffix string
	switch {
	case strings.HasPrefix(id, "PICKUP"):
		t, suffix = GoalPickup, strings.TrimPrefix(id, "PICKUP")
	case strings.HasPrefix(id, "DROPOFF"):
		t, suffix = GoalDropoff, strings.TrimPrefix(id, "DROPOFF")
	default:
		return 0, 0, newParseError(ErrKindInvalidID, CategoryQueueJob, line, id)
	}
	order, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, 0, newParseError(ErrKindInvalidID, CategoryQueueJob, line, id)
	}
	return t, order, nil
}

func parseQueueDate(line, date, clock string) (time.Time, error) {
	if date == "None" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(queueDateLayout, date+" "+clock, time.Local)
	if err != nil {
		return time.Time{}, newParseError(ErrKindInvalidDate, CategoryQueueJob, line, date+" "+clock)
	}
	return t, nil
}

// RobotEntry is one robot in the fleet queue.
type RobotEntry struct {
	Name      string
	Status    Status
	SubStatus SubStatus
}

// IsAvailable reports whether the robot can take a job.
func (r RobotEntry) IsAvailable() bool {
	return r.Status == StatusAvailable && r.SubStatus == SubStatusAvailable
}

type robotEvent struct {
	robot RobotEntry
	isEnd bool
	skip  bool
}

// parseQueueRobotLine parses
//
//	QueueRobot: "<robotName>" <robotStatus> <robotSubstatus> <echoString>
//
// and the EndQueueRobot/EndQueueShowRobot markers.
func parseQueueRobotLine(line string) (robotEvent, error) {
	const cat = CategoryQueueRobot

	if hasPrefixFold(line, "EndQueue") {
		return robotEvent{isEnd: true}, nil
	}
	f := splitFields(line)
	if len(f) == 0 || !strings.EqualFold(strings.TrimSuffix(f[0], ":"), "QueueRobot") {
		return robotEvent{skip: true}, nil
	}
	if len(f) < 4 {
		return robotEvent{}, newFieldCountError(cat, line, "at least 4", len(f))
	}

	r := RobotEntry{Name: f[1]}
	var ok bool
	if r.Status, ok = ParseStatus(f[2]); !ok {
		return robotEvent{}, newParseError(ErrKindInvalidStatus, cat, line, f[2])
	}
	if r.SubStatus, ok = ParseSubStatus(f[3]); !ok {
		return robotEvent{}, newParseError(ErrKindInvalidSubStatus, cat, line, f[3])
	}
	return robotEvent{robot: r}, nil
}
