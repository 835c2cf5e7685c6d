package arcl

import (
	"cmp"
	"math/rand/v2"
	"slices"
	"sync"
	"time"
)

// Job is a queued task and its goals, sorted by Order descending.
type Job struct {
	ID    string
	Goals []Goal
}

// Status is the first non-Completed goal's status, Completed when every
// goal is, and Loading for a job with no goals yet.
func (j Job) Status() Status {
	if len(j.Goals) == 0 {
		return StatusLoading
	}
	for _, g := range j.Goals {
		if g.Status != StatusCompleted {
			return g.Status
		}
	}
	return StatusCompleted
}

// SubStatus follows the same goal as Status.
func (j Job) SubStatus() SubStatus {
	for _, g := range j.Goals {
		if g.Status != StatusCompleted {
			return g.SubStatus
		}
	}
	return SubStatusNone
}

// CurrentGoal returns the first non-Completed goal, or the last goal when
// all are complete.
func (j Job) CurrentGoal() (Goal, bool) {
	if len(j.Goals) == 0 {
		return Goal{}, false
	}
	for _, g := range j.Goals {
		if g.Status != StatusCompleted {
			return g, true
		}
	}
	return j.Goals[len(j.Goals)-1], true
}

// Priority is the first goal's priority.
func (j Job) Priority() int {
	if len(j.Goals) == 0 {
		return 0
	}
	return j.Goals[0].Priority
}

// StartedOn is the first goal's start time.
func (j Job) StartedOn() time.Time {
	if len(j.Goals) == 0 {
		return time.Time{}
	}
	return j.Goals[0].StartedOn
}

// CompletedOn is the last goal's completion time.
func (j Job) CompletedOn() time.Time {
	if len(j.Goals) == 0 {
		return time.Time{}
	}
	return j.Goals[len(j.Goals)-1].CompletedOn
}

// IsDone reports whether the job reached a terminal status.
func (j Job) IsDone() bool {
	s := j.Status()
	return s == StatusCompleted || s == StatusCancelled
}

// upsert replaces the goal with the same ID or appends it, keeping the
// goals sorted by Order descending.
func (j *Job) upsert(g Goal) {
	for i := range j.Goals {
		if j.Goals[i].ID == g.ID {
			j.Goals[i] = g
			return
		}
	}
	j.Goals = append(j.Goals, g)
	slices.SortStableFunc(j.Goals, func(a, b Goal) int { return cmp.Compare(b.Order, a.Order) })
}

func (j *Job) clone() Job {
	return Job{ID: j.ID, Goals: slices.Clone(j.Goals)}
}

// JobTracker mirrors the server's job queue from QueueShow dumps and
// QueueUpdate/QueueMulti lines.
//
// Handlers run on the session's receive goroutine in line order. For a
// dump, every job-complete notification precedes the in-sync notification.
type JobTracker struct {
	trackerBase

	mu      sync.Mutex
	jobs    map[string]*Job
	synced  bool
	running bool

	inSyncHandler      func(synced bool)
	jobCompleteHandler func(job Job, goal Goal)
	jobUpdateHandler   func(job Job, goal Goal)
}

// NewJobTracker creates a tracker on s. Call Start to begin.
func NewJobTracker(s Session, opts ...TrackerOption) *JobTracker {
	t := &JobTracker{
		jobs: make(map[string]*Job),
	}
	t.init("jobs", s, opts)
	return t
}

// SetInSyncHandler sets the callback for sync state changes.
func (t *JobTracker) SetInSyncHandler(h func(synced bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inSyncHandler = h
}

// SetJobCompleteHandler sets the callback fired when a job's status becomes
// Completed or Cancelled. goal is the line that caused the transition.
func (t *JobTracker) SetJobCompleteHandler(h func(job Job, goal Goal)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobCompleteHandler = h
}

// SetJobUpdateHandler sets the callback fired for every applied goal.
func (t *JobTracker) SetJobUpdateHandler(h func(job Job, goal Goal)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobUpdateHandler = h
}

// Start clears the job map, subscribes and requests a full dump.
func (t *JobTracker) Start() error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	t.running = true
	t.synced = false
	t.jobs = make(map[string]*Job)
	t.mu.Unlock()

	t.subscribe(CategoryQueueJob, t.handleLine)
	t.onState(t.handleState)

	if err := t.session.StartReceiving(); err != nil {
		t.Stop()
		return err
	}
	if err := t.session.Write(NewQueueShowCommand().Format()); err != nil {
		t.Stop()
		return err
	}
	t.log.Info("Started")
	return nil
}

// Stop unsubscribes and drops back to not synced. The session's receive
// loop keeps running.
func (t *JobTracker) Stop() {
	t.unsubscribeAll()

	t.mu.Lock()
	t.running = false
	h := t.clearSyncLocked()
	t.mu.Unlock()

	if h != nil {
		h(false)
	}
}

// Refresh requests another full dump.
func (t *JobTracker) Refresh() error {
	return t.session.Write(NewQueueShowCommand().Format())
}

// IsSynced reports whether the map reflects a completed dump.
func (t *JobTracker) IsSynced() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.synced
}

// Jobs returns a snapshot of all known jobs keyed by job ID.
func (t *JobTracker) Jobs() map[string]Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Job, len(t.jobs))
	for id, j := range t.jobs {
		out[id] = j.clone()
	}
	return out
}

// Job returns a snapshot of one job.
func (t *JobTracker) Job(id string) (Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[id]
	if !ok {
		return Job{}, false
	}
	return j.clone(), true
}

// QueueMulti queues goals as one job. The job ID is goals[0].JobID when
// set, otherwise a fresh 10-letter ID that is not already tracked. It
// returns the ID used.
func (t *JobTracker) QueueMulti(goals []Goal) (string, error) {
	if len(goals) == 0 {
		return "", ErrNoGoals
	}
	id := goals[0].JobID
	if id == "" {
		id = t.newJobID()
	}
	if err := t.session.Write(NewQueueMultiCommand(goals, id).Format()); err != nil {
		return "", err
	}
	return id, nil
}

// QueuePickup queues a single pickup. Use DefaultPriority for the server
// default. An empty jobID lets the server assign one.
func (t *JobTracker) QueuePickup(goal string, priority int, jobID string) error {
	return t.session.Write(NewQueuePickupCommand(goal, priority, jobID).Format())
}

// QueuePickupDropoff queues a linked pickup and dropoff.
func (t *JobTracker) QueuePickupDropoff(pickup, dropoff string, pickupPriority, dropoffPriority int, jobID string) error {
	return t.session.Write(NewQueuePickupDropoffCommand(pickup, dropoff, pickupPriority, dropoffPriority, jobID).Format())
}

// QueueCancel cancels every goal of a job.
func (t *JobTracker) QueueCancel(jobID string) error {
	return t.session.Write(NewQueueCancelCommand(jobID).Format())
}

// newJobID generates a 10 uppercase-letter ID not present in the job map.
func (t *JobTracker) newJobID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		id := randomJobID()
		if _, exists := t.jobs[id]; !exists {
			return id
		}
	}
}

func randomJobID() string {
	b := make([]byte, 10)
	for i := range b {
		b[i] = byte('A' + rand.IntN(26))
	}
	return string(b)
}

func (t *JobTracker) handleLine(line Line) {
	ev, err := parseQueueJobLine(line.Text)
	if err != nil {
		t.dropped(line, err)
		return
	}
	if ev.skip {
		return
	}

	if ev.isEnd {
		t.mu.Lock()
		if t.synced || !t.running {
			t.mu.Unlock()
			return
		}
		t.synced = true
		n := len(t.jobs)
		h := t.inSyncHandler
		t.mu.Unlock()

		t.setSyncedMetric(true)
		t.log.Debug("In sync", "jobs", n)
		if h != nil {
			h(true)
		}
		return
	}

	t.apply(ev.goal)
}

func (t *JobTracker) apply(g Goal) {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	job, ok := t.jobs[g.JobID]
	if !ok {
		job = &Job{ID: g.JobID}
		t.jobs[g.JobID] = job
	}
	before := job.Status()
	job.upsert(g)
	after := job.Status()
	snapshot := job.clone()
	update, complete := t.jobUpdateHandler, t.jobCompleteHandler
	t.mu.Unlock()

	if update != nil {
		update(snapshot, g)
	}
	if after != before && snapshot.IsDone() {
		t.log.Debug("Job complete", "job", snapshot.ID, "status", after.String())
		if complete != nil {
			complete(snapshot, g)
		}
	}
}

func (t *JobTracker) handleState(connected bool, _ error) {
	if connected {
		return
	}
	t.mu.Lock()
	h := t.clearSyncLocked()
	t.mu.Unlock()
	if h != nil {
		h(false)
	}
}

// clearSyncLocked drops the synced flag and returns the handler to notify,
// or nil if nothing changed.
func (t *JobTracker) clearSyncLocked() func(bool) {
	if !t.synced {
		return nil
	}
	t.synced = false
	t.setSyncedMetric(false)
	return t.inSyncHandler
}
