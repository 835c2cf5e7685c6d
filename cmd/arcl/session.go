package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/ZeroxCorbin/ARCLStream/arcl"
	"github.com/ZeroxCorbin/ARCLStream/internal/config"
)

// session is a logged-in connection with every tracker attached.
type session struct {
	conn   *arcl.Conn
	jobs   *arcl.JobTracker
	robots *arcl.RobotTracker
	extio  *arcl.ExtIOSync
	status *arcl.StatusPoller
	config *arcl.ConfigReader

	statusRate    time.Duration
	statusDevices []string
}

// newSession attaches the trackers to conn without starting them, so the
// caller can install handlers first.
func newSession(conn *arcl.Conn, cfg *config.Config) *session {
	s := &session{
		conn:          conn,
		jobs:          arcl.NewJobTracker(conn),
		robots:        arcl.NewRobotTracker(conn),
		extio:         arcl.NewExtIOSync(conn, cfg.ExtIO.Sets),
		status:        arcl.NewStatusPoller(conn),
		config:        arcl.NewConfigReader(conn),
		statusRate:    cfg.Status.Rate,
		statusDevices: cfg.Status.Devices,
	}
	if cfg.ExtIO.SettleDelay > 0 {
		s.extio.SetSettleDelay(cfg.ExtIO.SettleDelay)
	}
	return s
}

// start starts every tracker. The status poller only runs with a positive
// rate.
func (s *session) start() error {
	starts := []struct {
		name string
		fn   func() error
	}{
		{"config", s.config.Start},
		{"jobs", s.jobs.Start},
		{"robots", s.robots.Start},
		{"extio", s.extio.Start},
	}
	if s.statusRate > 0 {
		starts = append(starts, struct {
			name string
			fn   func() error
		}{"status", func() error { return s.status.Start(s.statusRate, s.statusDevices) }})
	}

	for _, st := range starts {
		if err := st.fn(); err != nil {
			s.stop()
			return fmt.Errorf("starting %s tracker: %w", st.name, err)
		}
	}
	return nil
}

// refresh re-requests the dumps of the queue and IO trackers.
func (s *session) refresh() error {
	return errors.Join(s.jobs.Refresh(), s.robots.Refresh(), s.extio.Refresh())
}

func (s *session) stop() {
	s.status.Stop()
	s.extio.Stop()
	s.robots.Stop()
	s.jobs.Stop()
	s.config.Stop()
}

// close stops the trackers and the connection.
func (s *session) close() error {
	s.stop()
	return s.conn.Close()
}

// Views shared by the shell's dot-commands and watch's summary.

func (s *session) printJobs(w io.Writer, st *styles) {
	fmt.Fprintf(w, "Jobs (%s)\n", st.synced(s.jobs.IsSynced()))
	jobs := s.jobs.Jobs()
	rows := make([][]string, 0, len(jobs))
	for _, id := range sortedKeys(jobs) {
		j := jobs[id]
		goal, _ := j.CurrentGoal()
		rows = append(rows, []string{
			j.ID, j.Status().String(), j.SubStatus().String(),
			goal.GoalName, goal.RobotName, strconv.Itoa(j.Priority()),
		})
	}
	st.table(w, []string{"JOB", "STATUS", "SUBSTATUS", "GOAL", "ROBOT", "PRIORITY"}, rows)
}

func (s *session) printRobots(w io.Writer, st *styles) {
	fmt.Fprintf(w, "Robots (%s) available %d, unavailable %d\n",
		st.synced(s.robots.IsSynced()), s.robots.RobotsAvailable(), s.robots.RobotsUnAvailable())
	robots := s.robots.Robots()
	rows := make([][]string, 0, len(robots))
	for _, name := range sortedKeys(robots) {
		r := robots[name]
		rows = append(rows, []string{r.Name, r.Status.String(), r.SubStatus.String()})
	}
	st.table(w, []string{"ROBOT", "STATUS", "SUBSTATUS"}, rows)
}

func (s *session) printIO(w io.Writer, st *styles) {
	fmt.Fprintf(w, "External IO (%s)\n", st.synced(s.extio.IsSynced()))
	sets := s.extio.ActiveSets()
	rows := make([][]string, 0, len(sets))
	for _, name := range sortedKeys(sets) {
		set := sets[name]
		pending := ""
		if set.Pending {
			pending = "pending"
		}
		rows = append(rows, []string{
			set.Name,
			strconv.Itoa(set.InputCount()), arcl.EncodeIOValue(set.Inputs),
			strconv.Itoa(set.OutputCount()), arcl.EncodeIOValue(set.Outputs),
			pending,
		})
	}
	st.table(w, []string{"SET", "IN", "INPUTS", "OUT", "OUTPUTS", ""}, rows)
}

func (s *session) printStatus(w io.Writer, st *styles) {
	snap := s.status.Snapshot()
	if !s.status.IsRunning() {
		fmt.Fprintln(w, "Status polling is off (set status.rate). Type 'status' to request one.")
		return
	}
	if snap.Timestamp.IsZero() {
		fmt.Fprintln(w, "No status received yet.")
		return
	}
	fmt.Fprintf(w, "Status:        %s\n", snap.Status)
	fmt.Fprintf(w, "Docking:       %s %s\n", snap.DockingState, snap.ForcedState)
	fmt.Fprintf(w, "Charge:        %.1f%% (%s)\n", snap.StateOfCharge, snap.ChargeState)
	fmt.Fprintf(w, "Location:      %.0f %.0f %.0f\n", snap.Location.X, snap.Location.Y, snap.Location.Heading)
	fmt.Fprintf(w, "Localization:  %.2f\n", snap.LocalizationScore)
	fmt.Fprintf(w, "Temperature:   %.1f\n", snap.Temperature)
	fmt.Fprintf(w, "Received:      %s\n", snap.Timestamp.Format(time.TimeOnly))
	state := st.render(st.ok, "on time")
	if s.status.IsDelayed() {
		state = st.render(st.warn, "delayed")
	}
	fmt.Fprintf(w, "Poller:        %s, latency %s\n", state, s.status.Latency().Round(time.Millisecond))
}

func printSection(w io.Writer, st *styles, section string, rows []arcl.ConfigEntry) {
	fmt.Fprintf(w, "Config section %q\n", section)
	table := make([][]string, 0, len(rows))
	for _, r := range rows {
		table = append(table, []string{r.Name, r.Value, r.Other})
	}
	st.table(w, []string{"NAME", "VALUE", "OTHER"}, table)
}
