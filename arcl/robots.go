package arcl

import (
	"context"
	"sync"
	"time"
)

// RobotPollInterval is how often the robot tracker re-requests the robot
// queue while it is not synced.
const RobotPollInterval = time.Second

// RobotTracker mirrors the fleet's robot queue from queueShowRobot dumps.
type RobotTracker struct {
	trackerBase

	mu      sync.Mutex
	robots  map[string]RobotEntry
	synced  bool
	running bool

	interval      time.Duration
	cancelPoll    context.CancelFunc
	pollDone      chan struct{}
	inSyncHandler func(synced bool)
	updateHandler func(robot RobotEntry)
}

// NewRobotTracker creates a tracker on s. Call Start to begin.
func NewRobotTracker(s Session, opts ...TrackerOption) *RobotTracker {
	t := &RobotTracker{
		robots:   make(map[string]RobotEntry),
		interval: RobotPollInterval,
	}
	t.init("robots", s, opts)
	return t
}

// SetInSyncHandler sets the callback for sync state changes.
func (t *RobotTracker) SetInSyncHandler(h func(synced bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inSyncHandler = h
}

// SetUpdateHandler sets the callback fired for every robot line applied.
func (t *RobotTracker) SetUpdateHandler(h func(robot RobotEntry)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.updateHandler = h
}

// Start clears the robot map, subscribes and requests the robot queue. A
// watchdog repeats the request every RobotPollInterval until a dump
// completes, so a request lost by a slow session is retried.
func (t *RobotTracker) Start() error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	t.running = true
	t.synced = false
	t.robots = make(map[string]RobotEntry)
	t.mu.Unlock()

	t.subscribe(CategoryQueueRobot, t.handleLine)
	t.onState(t.handleState)

	if err := t.session.StartReceiving(); err != nil {
		t.Stop()
		return err
	}
	if err := t.request(); err != nil {
		t.Stop()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	t.mu.Lock()
	t.cancelPoll = cancel
	t.pollDone = done
	t.mu.Unlock()
	go t.watchdog(ctx, done)

	t.log.Info("Started")
	return nil
}

// Stop unsubscribes, stops the watchdog and waits for it to exit.
func (t *RobotTracker) Stop() {
	t.unsubscribeAll()

	t.mu.Lock()
	cancel, done := t.cancelPoll, t.pollDone
	t.cancelPoll, t.pollDone = nil, nil
	t.running = false
	h := t.clearSyncLocked()
	t.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if h != nil {
		h(false)
	}
}

// Refresh requests the robot queue again.
func (t *RobotTracker) Refresh() error {
	return t.request()
}

func (t *RobotTracker) request() error {
	return t.session.Write(NewQueueShowRobotCommand().Format())
}

func (t *RobotTracker) watchdog(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if t.IsSynced() {
				continue
			}
			if err := t.request(); err != nil {
				t.log.Debug("Robot queue request failed", "error", err)
			}
		}
	}
}

// IsSynced reports whether the map reflects a completed dump.
func (t *RobotTracker) IsSynced() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.synced
}

// Robots returns a snapshot keyed by robot name.
func (t *RobotTracker) Robots() map[string]RobotEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]RobotEntry, len(t.robots))
	for k, v := range t.robots {
		out[k] = v
	}
	return out
}

// RobotsAvailable counts robots whose status and substatus are both
// Available.
func (t *RobotTracker) RobotsAvailable() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, r := range t.robots {
		if r.IsAvailable() {
			n++
		}
	}
	return n
}

// RobotsUnAvailable counts the remaining robots.
func (t *RobotTracker) RobotsUnAvailable() int {
	t.mu.Lock()
	total := len(t.robots)
	t.mu.Unlock()
	return total - t.RobotsAvailable()
}

func (t *RobotTracker) handleLine(line Line) {
	ev, err := parseQueueRobotLine(line.Text)
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
		h := t.inSyncHandler
		t.mu.Unlock()

		t.setSyncedMetric(true)
		if h != nil {
			h(true)
		}
		return
	}

	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	_, known := t.robots[ev.robot.Name]
	t.robots[ev.robot.Name] = ev.robot
	var notify func(bool)
	if !known && t.synced {
		// A robot that was not in the last dump needs one more dump cycle.
		notify = t.clearSyncLocked()
	}
	update := t.updateHandler
	t.mu.Unlock()

	if update != nil {
		update(ev.robot)
	}
	if notify != nil {
		notify(false)
	}
}

func (t *RobotTracker) handleState(connected bool, _ error) {
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

func (t *RobotTracker) clearSyncLocked() func(bool) {
	if !t.synced {
		return nil
	}
	t.synced = false
	t.setSyncedMetric(false)
	return t.inSyncHandler
}
