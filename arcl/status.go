package arcl

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultStatusRate is the poll interval used when Start is given zero.
const DefaultStatusRate = 50 * time.Millisecond

// Location is a robot pose in map coordinates.
type Location struct {
	X       float64
	Y       float64
	Heading float64
}

// StatusSnapshot is one parsed onelinestatus reply. Each one replaces the
// previous snapshot wholesale.
type StatusSnapshot struct {
	Status            string // Free text, may include "Error:" tokens
	DockingState      string
	ForcedState       string
	ChargeState       string
	StateOfCharge     float64
	Location          Location
	LocalizationScore float64
	Temperature       float64
	Timestamp         time.Time
}

// parseStatusLine parses
//
//	Status: <free text> DockingState: <s> ForcedState: <s> ChargeState: <s>
//	  StateOfCharge: <f> Location: <x> <y> <heading> LocalizationScore: <f> Temperature: <f>
//
// Keys may be missing or reordered. The free text runs until the next key;
// tokens containing "Error" stay part of it.
func parseStatusLine(line string, received time.Time) (StatusSnapshot, error) {
	const cat = CategoryStatus

	f := strings.Fields(line)
	if len(f) == 0 || !strings.EqualFold(f[0], "Status:") {
		return StatusSnapshot{}, newParseError(ErrKindUnexpectedToken, cat, line, "want Status:")
	}

	s := StatusSnapshot{Timestamp: received}
	isKey := func(tok string) bool {
		return strings.HasSuffix(tok, ":") && !strings.Contains(tok, "Error")
	}
	// values collects the tokens after f[i] up to the next key.
	values := func(i int) []string {
		j := i + 1
		for j < len(f) && !isKey(f[j]) {
			j++
		}
		return f[i+1 : j]
	}
	num := func(key string, v []string) (float64, error) {
		if len(v) == 0 {
			return 0, nil
		}
		x, err := strconv.ParseFloat(v[0], 64)
		if err != nil {
			return 0, newParseError(ErrKindInvalidNumber, cat, line, key+" "+v[0])
		}
		return x, nil
	}

	var err error
	for i := 0; i < len(f); i++ {
		if !isKey(f[i]) {
			continue
		}
		v := values(i)
		switch f[i] {
		case "Status:":
			s.Status = strings.Join(v, " ")
		case "DockingState:":
			s.DockingState = strings.Join(v, " ")
		case "ForcedState:":
			s.ForcedState = strings.Join(v, " ")
		case "ChargeState:":
			s.ChargeState = strings.Join(v, " ")
		case "StateOfCharge:":
			if s.StateOfCharge, err = num("StateOfCharge", v); err != nil {
				return StatusSnapshot{}, err
			}
		case "LocalizationScore:":
			if s.LocalizationScore, err = num("LocalizationScore", v); err != nil {
				return StatusSnapshot{}, err
			}
		case "Temperature:":
			if s.Temperature, err = num("Temperature", v); err != nil {
				return StatusSnapshot{}, err
			}
		case "Location:":
			if len(v) < 3 {
				return StatusSnapshot{}, newFieldCountError(cat, line, "3 location", len(v))
			}
			var xyz [3]float64
			for k := range xyz {
				if xyz[k], err = strconv.ParseFloat(v[k], 64); err != nil {
					return StatusSnapshot{}, newParseError(ErrKindInvalidNumber, cat, line, "Location "+v[k])
				}
			}
			s.Location = Location{X: xyz[0], Y: xyz[1], Heading: xyz[2]}
		}
		i += len(v)
	}
	return s, nil
}

// RangePoint is one positional pair from a range device reading.
type RangePoint struct {
	Range float64
	Angle float64
}

// RangeReading is the latest reading of one range device.
type RangeReading struct {
	DeviceName string
	IsCurrent  bool
	Points     []RangePoint
	Timestamp  time.Time
}

// parseRangeLine parses
//
//	RangeDeviceGetCurrent: <name> <count> <a> <b> <c> <a> <b> <c> ...
//
// taking the first two of every triple. The line must carry exactly count
// triples.
func parseRangeLine(line string, received time.Time) (RangeReading, error) {
	f := strings.Fields(line)
	cat := Classify(line)
	if len(f) < 3 {
		return RangeReading{}, newFieldCountError(cat, line, "at least 3", len(f))
	}
	count, err := strconv.Atoi(f[2])
	if err != nil || count < 0 {
		return RangeReading{}, newParseError(ErrKindInvalidNumber, cat, line, f[2])
	}
	if want := 3 + 3*count; len(f) != want {
		return RangeReading{}, newFieldCountError(cat, line, strconv.Itoa(want), len(f))
	}
	r := RangeReading{
		DeviceName: f[1],
		IsCurrent:  cat == CategoryRangeDeviceCurrent,
		Points:     make([]RangePoint, 0, count),
		Timestamp:  received,
	}
	for i := 3; i+2 < len(f); i += 3 {
		a, err := strconv.ParseFloat(f[i], 64)
		if err != nil {
			return RangeReading{}, newParseError(ErrKindInvalidNumber, cat, line, f[i])
		}
		b, err := strconv.ParseFloat(f[i+1], 64)
		if err != nil {
			return RangeReading{}, newParseError(ErrKindInvalidNumber, cat, line, f[i+1])
		}
		r.Points = append(r.Points, RangePoint{Range: a, Angle: b})
	}
	return r, nil
}

// StatusPoller polls onelinestatus and range devices at a fixed rate and
// tracks whether status replies keep up. The delayed state is edge
// triggered: its handler fires only when it changes.
type StatusPoller struct {
	trackerBase

	mu       sync.Mutex
	rate     time.Duration
	devices  []string
	running  bool
	cancel   context.CancelFunc
	loopDone chan struct{}

	heartbeat bool
	delayed   bool
	pollSent  time.Time
	latency   time.Duration
	snapshot  StatusSnapshot
	current   map[string]RangeReading
	cumul     map[string]RangeReading

	statusHandler  func(s StatusSnapshot)
	rangeHandler   func(r RangeReading)
	delayedHandler func(delayed bool)
}

// NewStatusPoller creates a poller on s. Call Start to begin.
func NewStatusPoller(s Session, opts ...TrackerOption) *StatusPoller {
	p := &StatusPoller{
		current: make(map[string]RangeReading),
		cumul:   make(map[string]RangeReading),
	}
	p.init("status", s, opts)
	return p
}

// SetStatusHandler sets the callback for each parsed status line.
func (p *StatusPoller) SetStatusHandler(h func(s StatusSnapshot)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statusHandler = h
}

// SetRangeHandler sets the callback for each parsed range reading.
func (p *StatusPoller) SetRangeHandler(h func(r RangeReading)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rangeHandler = h
}

// SetDelayedHandler sets the callback for delayed state changes.
func (p *StatusPoller) SetDelayedHandler(h func(delayed bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delayedHandler = h
}

// Start subscribes and begins polling every rate. Each poll writes one
// onelinestatus, then rangeDeviceGetCurrent and rangeDeviceGetCumulative
// for each device.
func (p *StatusPoller) Start(rate time.Duration, devices []string) error {
	if rate <= 0 {
		rate = DefaultStatusRate
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.running = true
	p.rate = rate
	p.devices = slices.Clone(devices)
	p.delayed = false
	p.mu.Unlock()

	p.subscribe(CategoryStatus, p.handleStatus)
	p.subscribe(CategoryRangeDeviceCurrent, p.handleRange)
	p.subscribe(CategoryRangeDeviceCumulative, p.handleRange)
	p.onState(p.handleState)

	if err := p.session.StartReceiving(); err != nil {
		p.Stop()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.mu.Lock()
	p.cancel = cancel
	p.loopDone = done
	p.mu.Unlock()
	go p.loop(ctx, done)

	p.log.Info("Started", "rate", rate, "devices", devices)
	return nil
}

// Stop unsubscribes, stops the poll loop and waits for it to exit.
func (p *StatusPoller) Stop() {
	p.unsubscribeAll()

	p.mu.Lock()
	cancel, done := p.cancel, p.loopDone
	p.cancel, p.loopDone = nil, nil
	p.running = false
	p.devices = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (p *StatusPoller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	p.mu.Lock()
	rate := p.rate
	devices := p.devices
	p.mu.Unlock()

	timer := time.NewTimer(rate)
	defer timer.Stop()

	for {
		p.mu.Lock()
		p.heartbeat = false
		if !p.delayed {
			p.pollSent = time.Now()
		}
		p.mu.Unlock()

		p.poll(devices)

		timer.Reset(rate)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		p.mu.Lock()
		delayed := !p.heartbeat
		changed := delayed != p.delayed
		p.delayed = delayed
		h := p.delayedHandler
		p.mu.Unlock()

		if changed {
			p.metrics.setStatusDelayed(delayed)
			p.log.Debug("Status delay changed", "delayed", delayed)
			if h != nil {
				h(delayed)
			}
		}
	}
}

func (p *StatusPoller) poll(devices []string) {
	cmds := make([]Command, 0, 1+2*len(devices))
	cmds = append(cmds, NewOneLineStatusCommand())
	for _, d := range devices {
		cmds = append(cmds, NewRangeDeviceGetCurrentCommand(d))
	}
	for _, d := range devices {
		cmds = append(cmds, NewRangeDeviceGetCumulativeCommand(d))
	}
	for _, c := range cmds {
		if err := p.session.Write(c.Format()); err != nil {
			p.log.Debug("Poll write failed", "command", c.Verb, "error", err)
			return
		}
	}
}

// IsRunning reports whether the poll loop is active.
func (p *StatusPoller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// IsDelayed reports whether the last poll interval passed without a status
// line.
func (p *StatusPoller) IsDelayed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.delayed
}

// Latency is the time between the last poll and its status reply.
func (p *StatusPoller) Latency() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latency
}

// Snapshot returns the latest status.
func (p *StatusPoller) Snapshot() StatusSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot
}

// Range returns the latest reading for a device.
func (p *StatusPoller) Range(device string, current bool) (RangeReading, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m := p.cumul
	if current {
		m = p.current
	}
	r, ok := m[device]
	return r, ok
}

// Devices returns the polled range device names.
func (p *StatusPoller) Devices() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.devices)
}

func (p *StatusPoller) handleStatus(line Line) {
	s, err := parseStatusLine(line.Text, line.Received)
	if err != nil {
		p.dropped(line, err)
		return
	}

	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.heartbeat = true
	p.snapshot = s
	var latency time.Duration
	if !p.pollSent.IsZero() {
		latency = line.Received.Sub(p.pollSent)
		p.latency = latency
	}
	h := p.statusHandler
	p.mu.Unlock()

	if latency > 0 {
		p.metrics.observeStatusLatency(latency.Seconds())
	}
	if h != nil {
		h(s)
	}
}

func (p *StatusPoller) handleRange(line Line) {
	r, err := parseRangeLine(line.Text, line.Received)
	if err != nil {
		p.dropped(line, err)
		return
	}

	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	if r.IsCurrent {
		p.current[r.DeviceName] = r
	} else {
		p.cumul[r.DeviceName] = r
	}
	h := p.rangeHandler
	p.mu.Unlock()

	if h != nil {
		h(r)
	}
}

// handleState clears the delayed state on reconnect.
func (p *StatusPoller) handleState(connected bool, _ error) {
	if !connected {
		return
	}
	p.mu.Lock()
	was := p.delayed
	p.delayed = false
	p.pollSent = time.Time{}
	h := p.delayedHandler
	p.mu.Unlock()

	if was {
		p.metrics.setStatusDelayed(false)
		if h != nil {
			h(false)
		}
	}
}
