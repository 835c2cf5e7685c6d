package arcl

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects handler calls in order across goroutines.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

func goal(id string, order int, s Status) Goal {
	t := GoalPickup
	if id[0] == 'D' {
		t = GoalDropoff
	}
	return Goal{ID: id, Order: order, GoalType: t, JobID: "J", Status: s}
}

func TestJobStatusRollup(t *testing.T) {
	tests := []struct {
		name  string
		goals []Goal
		want  Status
	}{
		{"empty", nil, StatusLoading},
		{"all completed", []Goal{goal("PICKUP1", 1, StatusCompleted), goal("DROPOFF2", 2, StatusCompleted)}, StatusCompleted},
		{"in progress", []Goal{
			goal("PICKUP1", 1, StatusCompleted),
			goal("PICKUP2", 2, StatusCompleted),
			goal("DROPOFF3", 3, StatusInProgress),
		}, StatusInProgress},
		{"cancelled", []Goal{goal("PICKUP1", 1, StatusCompleted), goal("DROPOFF2", 2, StatusCancelled)}, StatusCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := Job{ID: "J", Goals: tt.goals}
			assert.Equal(t, tt.want, j.Status())
		})
	}
}

func TestJobUpsertOrdering(t *testing.T) {
	var j Job
	j.upsert(goal("PICKUP3", 3, StatusPending))
	j.upsert(goal("PICKUP1", 1, StatusPending))
	j.upsert(goal("DROPOFF2", 2, StatusPending))

	orders := make([]int, 0, len(j.Goals))
	for _, g := range j.Goals {
		orders = append(orders, g.Order)
	}
	assert.Equal(t, []int{3, 2, 1}, orders)

	j.upsert(goal("DROPOFF2", 2, StatusInProgress))
	require.Len(t, j.Goals, 3)
	assert.Equal(t, StatusInProgress, j.Goals[1].Status)

	cur, ok := j.CurrentGoal()
	require.True(t, ok)
	assert.Equal(t, "PICKUP3", cur.ID)
}

func TestJobTrackerDump(t *testing.T) {
	fs := newFakeSession()
	jt := NewJobTracker(fs)

	rec := &recorder{}
	jt.SetJobCompleteHandler(func(job Job, g Goal) { rec.add("complete " + job.ID + " " + g.ID) })
	jt.SetInSyncHandler(func(synced bool) {
		if synced {
			rec.add("sync")
		}
	})

	require.NoError(t, jt.Start())
	defer jt.Stop()
	assert.Equal(t, []string{"queueShow"}, fs.written())
	assert.False(t, jt.IsSynced())

	fs.feed(job3Line, "EndQueueShow")

	assert.True(t, jt.IsSynced())
	assert.Equal(t, []string{"complete JOB3 PICKUP3", "sync"}, rec.list())

	jobs := jt.Jobs()
	require.Contains(t, jobs, "JOB3")
	assert.Equal(t, StatusCompleted, jobs["JOB3"].Status())

	// A second dump end does not re-fire in-sync, and an unchanged goal
	// does not re-fire completion.
	fs.feed(job3Line, "EndQueueShow")
	assert.Equal(t, []string{"complete JOB3 PICKUP3", "sync"}, rec.list())
}

func TestJobTrackerCompletionTransition(t *testing.T) {
	fs := newFakeSession()
	jt := NewJobTracker(fs)

	var completes int
	var updates int
	jt.SetJobCompleteHandler(func(Job, Goal) { completes++ })
	jt.SetJobUpdateHandler(func(Job, Goal) { updates++ })
	require.NoError(t, jt.Start())
	defer jt.Stop()

	fs.feed(
		`QueueUpdate: PICKUP1 JOBA 10 InProgress Driving Goal "a" "" None None None None 0`,
		`QueueUpdate: DROPOFF2 JOBA 10 Pending None Goal "b" "" None None None None 0`,
	)
	assert.Equal(t, 0, completes)

	fs.feed(`QueueUpdate: PICKUP1 JOBA 10 Completed None Goal "a" "" None None None None 0`)
	assert.Equal(t, 0, completes, "dropoff is still pending")

	fs.feed(`QueueUpdate: DROPOFF2 JOBA 10 Completed None Goal "b" "" None None None None 0`)
	assert.Equal(t, 1, completes)
	assert.Equal(t, 4, updates)

	job, ok := jt.Job("JOBA")
	require.True(t, ok)
	assert.Len(t, job.Goals, 2)
	assert.Equal(t, "DROPOFF2", job.Goals[0].ID)
}

func TestJobTrackerDropsMalformed(t *testing.T) {
	fs := newFakeSession()
	jt := NewJobTracker(fs)
	require.NoError(t, jt.Start())
	defer jt.Stop()

	fs.feed(`QueueShow: PICKUP3 JOB3 10 Completed`, `QueueShow: GOAL3 JOB3 10 Completed None Goal "1" "21" None None None None "" 0`)
	assert.Empty(t, jt.Jobs())

	fs.feed(job3Line)
	assert.Len(t, jt.Jobs(), 1)
}

func TestJobTrackerStartTwice(t *testing.T) {
	fs := newFakeSession()
	jt := NewJobTracker(fs)
	require.NoError(t, jt.Start())
	defer jt.Stop()
	assert.ErrorIs(t, jt.Start(), ErrAlreadyStarted)
}

func TestJobTrackerDisconnectClearsSync(t *testing.T) {
	fs := newFakeSession()
	jt := NewJobTracker(fs)

	var states []bool
	jt.SetInSyncHandler(func(synced bool) { states = append(states, synced) })
	require.NoError(t, jt.Start())
	defer jt.Stop()

	fs.feed("EndQueueShow")
	fs.PublishState(false, nil)

	assert.False(t, jt.IsSynced())
	assert.Equal(t, []bool{true, false}, states)
}

func TestJobTrackerQueueMulti(t *testing.T) {
	fs := newFakeSession()
	jt := NewJobTracker(fs)

	_, err := jt.QueueMulti(nil)
	assert.ErrorIs(t, err, ErrNoGoals)

	goals := []Goal{NewGoal("x", GoalPickup, 10), NewGoal("y", GoalDropoff, 20)}
	id, err := jt.QueueMulti(goals)
	require.NoError(t, err)
	assert.Regexp(t, `^[A-Z]{10}$`, id)
	assert.Equal(t, []string{"queueMulti 2 2 x pickup 10 y dropoff 20 " + id}, fs.written())

	fs.reset()
	goals[0].JobID = "MINE"
	id, err = jt.QueueMulti(goals)
	require.NoError(t, err)
	assert.Equal(t, "MINE", id)
	assert.Equal(t, []string{"queueMulti 2 2 x pickup 10 y dropoff 20 MINE"}, fs.written())
}

func TestJobTrackerQueueCommands(t *testing.T) {
	fs := newFakeSession()
	jt := NewJobTracker(fs)

	require.NoError(t, jt.QueuePickup("a", DefaultPriority, ""))
	require.NoError(t, jt.QueuePickupDropoff("a", "b", 1, 2, "J"))
	require.NoError(t, jt.QueueCancel("J"))
	assert.Equal(t, []string{
		"queuePickup a default",
		"queuePickupDropoff a b 1 2 J",
		"queueCancel jobid J",
	}, fs.written())
}

func TestJobTrackerOverTCP(t *testing.T) {
	ms := startMockServer(t, nil)
	c := dialMock(t, ms)

	jt := NewJobTracker(c)
	synced := make(chan struct{}, 1)
	jt.SetInSyncHandler(func(s bool) {
		if s {
			synced <- struct{}{}
		}
	})
	require.NoError(t, jt.Start())
	defer jt.Stop()

	select {
	case <-synced:
	case <-time.After(2 * time.Second):
		t.Fatal("job tracker did not sync")
	}
	job, ok := jt.Job("JOB3")
	require.True(t, ok)
	assert.True(t, job.IsDone())
}

func TestJobTrackerStoppedDuringDispatch(t *testing.T) {
	fs := newFakeSession()
	jt := NewJobTracker(fs)

	var states []bool
	jt.SetInSyncHandler(func(synced bool) { states = append(states, synced) })
	fs.Subscribe(CategoryQueueJob, func(l Line) {
		if l.Text == "EndQueueShow" {
			jt.Stop()
		}
	})
	require.NoError(t, jt.Start())

	fs.feed(job3Line, "EndQueueShow")
	assert.False(t, jt.IsSynced())
	assert.Empty(t, states)

	// A line already handed over before Stop returned changes nothing.
	jt.handleLine(Line{Text: "EndQueueShow", Category: CategoryQueueJob})
	jt.handleLine(Line{Text: `QueueUpdate: PICKUP1 JOBA 10 InProgress Driving Goal "a" "" None None None None 0`, Category: CategoryQueueJob})
	assert.False(t, jt.IsSynced())
	assert.NotContains(t, jt.Jobs(), "JOBA")
	assert.Empty(t, states)
}

func TestJobTrackerLogsJobCountAtSync(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	fs := newFakeSession()
	jt := NewJobTracker(fs, TrackerLogger(log))
	require.NoError(t, jt.Start())
	defer jt.Stop()

	fs.feed(job3Line, `QueueShow: PICKUP1 JOBA 10 Pending None Goal "a" "" None None None None "" 0`, "EndQueueShow")
	assert.Contains(t, buf.String(), `msg="In sync" component=arcl.jobs jobs=2`)
}
