package arcl

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const statusLine = "Status: Stopped DockingState: Undocked ForcedState: Unforced ChargeState: Not StateOfCharge: 87.5 Location: 100 200 90 LocalizationScore: 0.9 Temperature: 31"

func TestParseStatusLine(t *testing.T) {
	now := time.Now()
	s, err := parseStatusLine(statusLine, now)
	require.NoError(t, err)

	assert.Equal(t, "Stopped", s.Status)
	assert.Equal(t, "Undocked", s.DockingState)
	assert.Equal(t, "Unforced", s.ForcedState)
	assert.Equal(t, "Not", s.ChargeState)
	assert.InDelta(t, 87.5, s.StateOfCharge, 1e-9)
	assert.Equal(t, Location{X: 100, Y: 200, Heading: 90}, s.Location)
	assert.InDelta(t, 0.9, s.LocalizationScore, 1e-9)
	assert.InDelta(t, 31, s.Temperature, 1e-9)
	assert.Equal(t, now, s.Timestamp)
}

func TestParseStatusLineVariants(t *testing.T) {
	s, err := parseStatusLine("Status: Driving to goal EStop Error: pressed StateOfCharge: 50", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "Driving to goal EStop Error: pressed", s.Status)
	assert.InDelta(t, 50, s.StateOfCharge, 1e-9)
	assert.Empty(t, s.DockingState)

	// Keys out of order.
	s, err = parseStatusLine("Status: Idle Temperature: 20 Location: 1 2 3", time.Now())
	require.NoError(t, err)
	assert.Equal(t, Location{X: 1, Y: 2, Heading: 3}, s.Location)

	_, err = parseStatusLine("Status: Idle StateOfCharge: full", time.Now())
	assert.Error(t, err)
	_, err = parseStatusLine("Status: Idle Location: 1 2", time.Now())
	assert.Error(t, err)
}

func TestParseRangeLine(t *testing.T) {
	r, err := parseRangeLine("RangeDeviceGetCurrent: Laser_1 3 100 10 0 200 20 0 300 30 0", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "Laser_1", r.DeviceName)
	assert.True(t, r.IsCurrent)
	assert.Equal(t, []RangePoint{{Range: 100, Angle: 10}, {Range: 200, Angle: 20}, {Range: 300, Angle: 30}}, r.Points)

	r, err = parseRangeLine("RangeDeviceGetCurrent: Laser_1 1 100 10 0", time.Now())
	require.NoError(t, err)
	assert.Equal(t, []RangePoint{{Range: 100, Angle: 10}}, r.Points)

	r, err = parseRangeLine("RangeDeviceGetCumulative: Laser_1 0", time.Now())
	require.NoError(t, err)
	assert.False(t, r.IsCurrent)
	assert.Empty(t, r.Points)

	_, err = parseRangeLine("RangeDeviceGetCurrent: Laser_1 2 x 10 0 200 20 0", time.Now())
	assert.Error(t, err)
}

func TestParseRangeLineCountMismatch(t *testing.T) {
	tests := []struct {
		line string
		kind ParseErrorKind
	}{
		{"RangeDeviceGetCurrent: Laser_1 2 100 10 0", ErrKindFieldCount},
		{"RangeDeviceGetCurrent: Laser_1 1 100 10 0 200 20 0", ErrKindFieldCount},
		{"RangeDeviceGetCurrent: Laser_1 1 100 10", ErrKindFieldCount},
		{"RangeDeviceGetCurrent: Laser_1", ErrKindFieldCount},
		{"RangeDeviceGetCurrent: Laser_1 many 100 10 0", ErrKindInvalidNumber},
		{"RangeDeviceGetCurrent: Laser_1 -1", ErrKindInvalidNumber},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			_, err := parseRangeLine(tt.line, time.Now())
			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.kind, pe.Kind)
		})
	}
}

func TestStatusPollerPolls(t *testing.T) {
	fs := newFakeSession()
	p := NewStatusPoller(fs)

	require.NoError(t, p.Start(10*time.Millisecond, []string{"Laser_1"}))
	assert.ErrorIs(t, p.Start(0, nil), ErrAlreadyStarted)
	assert.True(t, p.IsRunning())
	assert.Equal(t, []string{"Laser_1"}, p.Devices())

	require.Eventually(t, func() bool { return fs.count("onelinestatus") >= 2 }, time.Second, 5*time.Millisecond)
	p.Stop()
	assert.False(t, p.IsRunning())

	w := fs.written()
	require.GreaterOrEqual(t, len(w), 3)
	assert.Equal(t, []string{"onelinestatus", "rangeDeviceGetCurrent Laser_1", "rangeDeviceGetCumulative Laser_1"}, w[:3])

	n := len(fs.written())
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, fs.written(), n, "no polls after Stop")
}

func TestStatusPollerDelayedEdge(t *testing.T) {
	fs := newFakeSession()
	p := NewStatusPoller(fs)

	var mu sync.Mutex
	var edges []bool
	p.SetDelayedHandler(func(d bool) {
		mu.Lock()
		edges = append(edges, d)
		mu.Unlock()
	})
	got := func() []bool {
		mu.Lock()
		defer mu.Unlock()
		return append([]bool(nil), edges...)
	}

	require.NoError(t, p.Start(10*time.Millisecond, nil))
	defer p.Stop()

	// No replies: one delayed edge however many intervals pass.
	require.Eventually(t, p.IsDelayed, time.Second, 5*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, []bool{true}, got())

	// Reply to every poll until the delay clears.
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		tick := time.NewTicker(2 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				fs.feed(statusLine)
			}
		}
	}()
	require.Eventually(t, func() bool { return !p.IsDelayed() }, time.Second, 5*time.Millisecond)
	close(stop)
	<-done

	edgesSeen := got()
	require.GreaterOrEqual(t, len(edgesSeen), 2)
	assert.Equal(t, []bool{true, false}, edgesSeen[:2])
	assert.Equal(t, "Stopped", p.Snapshot().Status)
}

func TestStatusPollerRangeAndHandlers(t *testing.T) {
	fs := newFakeSession()
	p := NewStatusPoller(fs)

	var statuses, ranges int
	p.SetStatusHandler(func(StatusSnapshot) { statuses++ })
	p.SetRangeHandler(func(RangeReading) { ranges++ })

	require.NoError(t, p.Start(time.Hour, []string{"Laser_1"}))
	defer p.Stop()
	require.Eventually(t, func() bool { return fs.count("onelinestatus") == 1 }, time.Second, time.Millisecond)

	fs.feed(
		statusLine,
		"RangeDeviceGetCurrent: Laser_1 2 100 10 0 200 20 0",
		"RangeDeviceGetCumulative: Laser_1 0",
		"Status: Idle StateOfCharge: bad",
	)

	assert.Equal(t, 1, statuses)
	assert.Equal(t, 2, ranges)

	cur, ok := p.Range("Laser_1", true)
	require.True(t, ok)
	assert.Len(t, cur.Points, 2)
	_, ok = p.Range("Laser_1", false)
	assert.True(t, ok)
	_, ok = p.Range("Laser_2", true)
	assert.False(t, ok)

	assert.InDelta(t, 87.5, p.Snapshot().StateOfCharge, 1e-9)
	assert.Greater(t, p.Latency(), time.Duration(0))
}

func TestStatusPollerReconnectClearsDelay(t *testing.T) {
	fs := newFakeSession()
	p := NewStatusPoller(fs)

	var edges []bool
	var mu sync.Mutex
	p.SetDelayedHandler(func(d bool) {
		mu.Lock()
		edges = append(edges, d)
		mu.Unlock()
	})

	require.NoError(t, p.Start(5*time.Millisecond, nil))
	require.Eventually(t, p.IsDelayed, time.Second, 2*time.Millisecond)

	fs.PublishState(true, nil)

	mu.Lock()
	seen := append([]bool(nil), edges...)
	mu.Unlock()
	require.GreaterOrEqual(t, len(seen), 2)
	assert.Equal(t, []bool{true, false}, seen[:2])

	p.Stop()
	require.NoError(t, p.Start(time.Hour, nil))
	defer p.Stop()
	assert.False(t, p.IsDelayed(), "Start resets the delayed state")
}
