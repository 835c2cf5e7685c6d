package arcl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRobotTrackerAvailability(t *testing.T) {
	fs := newFakeSession()
	rt := NewRobotTracker(fs)

	var states []bool
	rt.SetInSyncHandler(func(s bool) { states = append(states, s) })
	require.NoError(t, rt.Start())
	defer rt.Stop()

	assert.Equal(t, 1, fs.count("queueShowRobot"))

	fs.feed(
		`QueueRobot: "21" Available Available ""`,
		`QueueRobot: "22" InProgress Driving ""`,
		"EndQueueShowRobot",
	)

	assert.True(t, rt.IsSynced())
	assert.Equal(t, 1, rt.RobotsAvailable())
	assert.Equal(t, 1, rt.RobotsUnAvailable())
	assert.Equal(t, []bool{true}, states)

	robots := rt.Robots()
	require.Len(t, robots, 2)
	assert.Equal(t, SubStatusDriving, robots["22"].SubStatus)
}

func TestRobotTrackerUpdateInPlace(t *testing.T) {
	fs := newFakeSession()
	rt := NewRobotTracker(fs)

	var updates []RobotEntry
	rt.SetUpdateHandler(func(r RobotEntry) { updates = append(updates, r) })
	require.NoError(t, rt.Start())
	defer rt.Stop()

	fs.feed(`QueueRobot: "21" Available Available ""`, "EndQueueShowRobot")
	fs.feed(`QueueRobot: "21" InProgress Driving ""`)

	assert.True(t, rt.IsSynced(), "known robot keeps sync")
	assert.Equal(t, 0, rt.RobotsAvailable())
	assert.Len(t, updates, 2)
}

func TestRobotTrackerNewRobotAfterSync(t *testing.T) {
	fs := newFakeSession()
	rt := NewRobotTracker(fs)

	var states []bool
	rt.SetInSyncHandler(func(s bool) { states = append(states, s) })
	require.NoError(t, rt.Start())
	defer rt.Stop()

	fs.feed(`QueueRobot: "21" Available Available ""`, "EndQueueShowRobot")
	fs.feed(`QueueRobot: "23" Available Available ""`)
	assert.False(t, rt.IsSynced())

	fs.feed("EndQueueShowRobot")
	assert.True(t, rt.IsSynced())
	assert.Equal(t, []bool{true, false, true}, states)
	assert.Equal(t, 2, rt.RobotsAvailable())
}

func TestRobotTrackerWatchdog(t *testing.T) {
	fs := newFakeSession()
	rt := NewRobotTracker(fs)
	rt.interval = 10 * time.Millisecond

	require.NoError(t, rt.Start())

	require.Eventually(t, func() bool {
		return fs.count("queueShowRobot") >= 3
	}, time.Second, 5*time.Millisecond, "watchdog should re-request while not synced")

	fs.feed("EndQueueShowRobot")
	// Allow any tick already in flight to land.
	time.Sleep(30 * time.Millisecond)
	n := fs.count("queueShowRobot")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, fs.count("queueShowRobot"), "no requests once synced")

	rt.Stop()
	assert.False(t, rt.IsSynced())
}

func TestRobotTrackerOverTCP(t *testing.T) {
	ms := startMockServer(t, nil)
	c := dialMock(t, ms)

	rt := NewRobotTracker(c)
	require.NoError(t, rt.Start())
	defer rt.Stop()

	require.Eventually(t, rt.IsSynced, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, rt.RobotsAvailable())
	assert.Equal(t, 1, rt.RobotsUnAvailable())
}

func TestRobotTrackerStoppedDuringDispatch(t *testing.T) {
	fs := newFakeSession()
	rt := NewRobotTracker(fs)

	var states []bool
	rt.SetInSyncHandler(func(s bool) { states = append(states, s) })
	fs.Subscribe(CategoryQueueRobot, func(l Line) {
		if l.Text == "EndQueueShowRobot" {
			rt.Stop()
		}
	})
	require.NoError(t, rt.Start())

	fs.feed(`QueueRobot: "21" Available Available ""`, "EndQueueShowRobot")
	assert.False(t, rt.IsSynced())
	assert.Empty(t, states)

	rt.handleLine(Line{Text: `QueueRobot: "22" Available Available ""`, Category: CategoryQueueRobot})
	rt.handleLine(Line{Text: "EndQueueShowRobot", Category: CategoryQueueRobot})
	assert.False(t, rt.IsSynced())
	assert.NotContains(t, rt.Robots(), "22")
	assert.Empty(t, states)
}
