package arcl

import (
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ExtIOSettleDelay is how long the synchronizer waits after creating sets
// before dumping again to confirm them.
const ExtIOSettleDelay = 10 * time.Second

// ExtIOSpec is the desired shape of an IO set, in bits.
type ExtIOSpec struct {
	Inputs  int `yaml:"inputs" json:"inputs"`
	Outputs int `yaml:"outputs" json:"outputs"`
}

// ExtIOSet is a named group of external digital inputs and outputs. Byte 0
// of Inputs and Outputs is the least significant byte.
type ExtIOSet struct {
	Name    string
	Inputs  []byte
	Outputs []byte
	Pending bool // An input write has not been acknowledged yet
}

// InputCount is the input width in bits.
func (s ExtIOSet) InputCount() int { return len(s.Inputs) * 8 }

// OutputCount is the output width in bits.
func (s ExtIOSet) OutputCount() int { return len(s.Outputs) * 8 }

func (s ExtIOSet) HasInputs() bool  { return len(s.Inputs) > 0 }
func (s ExtIOSet) HasOutputs() bool { return len(s.Outputs) > 0 }

// IsDump reports whether both inputs and outputs are present.
func (s ExtIOSet) IsDump() bool { return s.HasInputs() && s.HasOutputs() }

// IsRemove reports whether neither inputs nor outputs are present.
func (s ExtIOSet) IsRemove() bool { return !s.HasInputs() && !s.HasOutputs() }

func (s ExtIOSet) clone() ExtIOSet {
	s.Inputs = slices.Clone(s.Inputs)
	s.Outputs = slices.Clone(s.Outputs)
	return s
}

// byteWidth is the number of bytes holding bits.
func byteWidth(bits int) int {
	return (bits + 7) / 8
}

// EncodeIOValue renders bytes (least significant first) as one hex token,
// most significant byte first: []byte{0x34, 0x12} -> "0x1234".
func EncodeIOValue(b []byte) string {
	if len(b) == 0 {
		return "0x00"
	}
	rev := slices.Clone(b)
	slices.Reverse(rev)
	return "0x" + strings.ToUpper(hex.EncodeToString(rev))
}

// DecodeIOValue parses a hex token with or without the 0x marker into
// width bytes, least significant first. A width of zero keeps the decoded
// length.
func DecodeIOValue(s string, width int) ([]byte, error) {
	digits := s
	if i := strings.IndexAny(digits, "xX"); i >= 0 {
		digits = digits[i+1:]
	}
	if digits == "" {
		return nil, fmt.Errorf("empty hex value %q", s)
	}
	if len(digits)%2 == 1 {
		digits = "0" + digits
	}
	b, err := hex.DecodeString(digits)
	if err != nil {
		return nil, err
	}
	slices.Reverse(b)
	if width <= 0 {
		return b, nil
	}
	return resize(b, width), nil
}

// resize pads with zero high bytes or drops high bytes to width.
func resize(b []byte, width int) []byte {
	out := make([]byte, width)
	copy(out, b)
	return out
}

type extIOKind int

const (
	extIOSkip extIOKind = iota
	extIODump
	extIOEnd
	extIOInput
	extIOOutput
	extIORemove
)

type extIOEvent struct {
	kind extIOKind
	set  ExtIOSet
}

// parseExtIOLine parses the external IO lines:
//
//	ExtIODump: <name> with <n> input(s), value = 0x<hex> and <m> output(s), value = 0x<hex>
//	EndExtIODump
//	extIOInputUpdate: input <name> updated with 0x<hex> from <as entered>
//	extIOOutputUpdate: output <name> updated with 0x<hex> from <as entered>
//	extIORemove: <name> removed
func parseExtIOLine(line string) (extIOEvent, error) {
	const cat = CategoryExtIO

	f := splitFields(line)
	if len(f) == 0 {
		return extIOEvent{}, nil
	}
	keyword := strings.TrimSuffix(f[0], ":")

	switch {
	case strings.EqualFold(keyword, "EndExtIODump"):
		return extIOEvent{kind: extIOEnd}, nil

	case strings.EqualFold(keyword, "ExtIODump"):
		if len(f) < 14 {
			return extIOEvent{}, newFieldCountError(cat, line, "14", len(f))
		}
		if !strings.HasPrefix(f[4], "input") || !strings.HasPrefix(f[10], "output") {
			return extIOEvent{}, newParseError(ErrKindUnexpectedToken, cat, line, "")
		}
		nIn, err := strconv.Atoi(f[3])
		if err != nil {
			return extIOEvent{}, newParseError(ErrKindInvalidNumber, cat, line, f[3])
		}
		nOut, err := strconv.Atoi(f[9])
		if err != nil {
			return extIOEvent{}, newParseError(ErrKindInvalidNumber, cat, line, f[9])
		}
		in, err := DecodeIOValue(f[7], byteWidth(nIn))
		if err != nil {
			return extIOEvent{}, newParseError(ErrKindInvalidHex, cat, line, f[7])
		}
		out, err := DecodeIOValue(f[13], byteWidth(nOut))
		if err != nil {
			return extIOEvent{}, newParseError(ErrKindInvalidHex, cat, line, f[13])
		}
		if nIn == 0 {
			in = nil
		}
		if nOut == 0 {
			out = nil
		}
		return extIOEvent{kind: extIODump, set: ExtIOSet{Name: f[1], Inputs: in, Outputs: out}}, nil

	case strings.EqualFold(keyword, "extIOInputUpdate"), strings.EqualFold(keyword, "extIOOutputUpdate"):
		isInput := strings.EqualFold(keyword, "extIOInputUpdate")
		if len(f) < 6 {
			return extIOEvent{}, newFieldCountError(cat, line, "at least 6", len(f))
		}
		want := "output"
		if isInput {
			want = "input"
		}
		if !strings.EqualFold(f[1], want) {
			return extIOEvent{}, newParseError(ErrKindUnexpectedToken, cat, line, "want "+want)
		}
		v, err := DecodeIOValue(f[5], 0)
		if err != nil {
			return extIOEvent{}, newParseError(ErrKindInvalidHex, cat, line, f[5])
		}
		if isInput {
			return extIOEvent{kind: extIOInput, set: ExtIOSet{Name: f[2], Inputs: v}}, nil
		}
		return extIOEvent{kind: extIOOutput, set: ExtIOSet{Name: f[2], Outputs: v}}, nil

	case strings.EqualFold(keyword, "extIORemove"):
		if len(f) < 3 || !strings.EqualFold(f[2], "removed") {
			return extIOEvent{}, newParseError(ErrKindUnexpectedToken, cat, line, "want removed")
		}
		return extIOEvent{kind: extIORemove, set: ExtIOSet{Name: f[1]}}, nil
	}

	// ExtIOAdd acknowledgements, command echoes and the like.
	return extIOEvent{kind: extIOSkip}, nil
}

// ExtIOSync reconciles the server's external IO sets with a desired
// configuration. It is synced once every desired set exists, no creation
// is in flight and no input write is awaiting acknowledgement.
type ExtIOSync struct {
	trackerBase

	mu        sync.Mutex
	desired   map[string]ExtIOSpec
	active    map[string]*ExtIOSet
	dumping   map[string]*ExtIOSet // Rows of the dump in progress, nil between dumps
	inProcess map[string]bool
	synced    bool
	writing   bool
	running   bool

	settle   time.Duration
	redump   *time.Timer
	redumpWG sync.WaitGroup

	inSyncHandler func(synced bool)
	updateHandler func(set ExtIOSet)
}

// NewExtIOSync creates a synchronizer for desired (name -> widths in bits).
func NewExtIOSync(s Session, desired map[string]ExtIOSpec, opts ...TrackerOption) *ExtIOSync {
	d := make(map[string]ExtIOSpec, len(desired))
	for k, v := range desired {
		d[k] = v
	}
	x := &ExtIOSync{
		desired:   d,
		active:    make(map[string]*ExtIOSet),
		inProcess: make(map[string]bool),
		settle:    ExtIOSettleDelay,
	}
	x.init("extio", s, opts)
	return x
}

// SetSettleDelay overrides ExtIOSettleDelay. Call before Start.
func (x *ExtIOSync) SetSettleDelay(d time.Duration) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.settle = d
}

// SetInSyncHandler sets the callback for sync state changes.
func (x *ExtIOSync) SetInSyncHandler(h func(synced bool)) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.inSyncHandler = h
}

// SetUpdateHandler sets the callback fired when a set is dumped or updated.
func (x *ExtIOSync) SetUpdateHandler(h func(set ExtIOSet)) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.updateHandler = h
}

// Start subscribes and requests a dump.
func (x *ExtIOSync) Start() error {
	x.mu.Lock()
	if x.running {
		x.mu.Unlock()
		return ErrAlreadyStarted
	}
	x.running = true
	x.synced = false
	x.resetLocked()
	x.mu.Unlock()

	x.subscribe(CategoryExtIO, x.handleLine)
	x.onState(x.handleState)

	if err := x.session.StartReceiving(); err != nil {
		x.Stop()
		return err
	}
	if err := x.dump(); err != nil {
		x.Stop()
		return err
	}
	x.log.Info("Started", "desired", len(x.desired))
	return nil
}

// Stop unsubscribes, cancels a scheduled re-dump and waits for one in
// flight to finish.
func (x *ExtIOSync) Stop() {
	x.unsubscribeAll()

	x.mu.Lock()
	x.running = false
	if x.redump != nil && x.redump.Stop() {
		x.redumpWG.Done()
	}
	x.redump = nil
	h := x.clearSyncLocked()
	x.mu.Unlock()

	x.redumpWG.Wait()
	if h != nil {
		h(false)
	}
}

// Refresh requests a dump.
func (x *ExtIOSync) Refresh() error {
	return x.dump()
}

func (x *ExtIOSync) dump() error {
	return x.session.Write(NewExtIODumpCommand().Format())
}

// IsSynced reports whether the sets match the desired configuration.
func (x *ExtIOSync) IsSynced() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.synced
}

// ActiveSets returns a snapshot of the server's sets keyed by name.
func (x *ExtIOSync) ActiveSets() map[string]ExtIOSet {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make(map[string]ExtIOSet, len(x.active))
	for k, v := range x.active {
		out[k] = v.clone()
	}
	return out
}

// DesiredSets returns the desired configuration.
func (x *ExtIOSync) DesiredSets() map[string]ExtIOSpec {
	out := make(map[string]ExtIOSpec, len(x.desired))
	for k, v := range x.desired {
		out[k] = v
	}
	return out
}

// WriteAllInputs assigns inputs[i] to the i-th active set in name order and
// writes one extIOInputUpdate per set. Each set keeps its width; the byte
// lands in the least significant position. The synchronizer is not synced
// again until every write is acknowledged. All writes are attempted; the
// joined write errors are returned.
func (x *ExtIOSync) WriteAllInputs(inputs []byte) error {
	x.mu.Lock()
	if !x.synced {
		x.mu.Unlock()
		return ErrNotSynced
	}
	if len(inputs) < len(x.active) {
		x.mu.Unlock()
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientInputs, len(inputs), len(x.active))
	}

	names := sortedNames(x.active)
	cmds := make([]Command, 0, len(names))
	for i, name := range names {
		set := x.active[name]
		width := max(len(set.Inputs), 1)
		v := make([]byte, width)
		v[0] = inputs[i]
		set.Inputs = v
		set.Pending = true
		cmds = append(cmds, NewExtIOInputUpdateCommand(name, v))
	}
	var h func(bool)
	if len(cmds) > 0 {
		h = x.clearSyncLocked()
		x.writing = true
	}
	x.mu.Unlock()

	if h != nil {
		h(false)
	}
	var errs []error
	for _, c := range cmds {
		if err := x.session.Write(c.Format()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WriteInputs writes one set's inputs. value is least significant byte
// first and is resized to the set's width.
func (x *ExtIOSync) WriteInputs(name string, value []byte) error {
	x.mu.Lock()
	set, ok := x.active[name]
	if !ok {
		x.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownSet, name)
	}
	width := len(set.Inputs)
	if width == 0 {
		width = max(len(value), 1)
	}
	v := resize(value, width)
	x.mu.Unlock()

	return x.session.Write(NewExtIOInputUpdateCommand(name, v).Format())
}

// WriteAllOutputs writes every active set's current outputs back to the
// server.
func (x *ExtIOSync) WriteAllOutputs() error {
	x.mu.Lock()
	if !x.synced {
		x.mu.Unlock()
		return ErrNotSynced
	}
	var cmds []Command
	for _, name := range sortedNames(x.active) {
		set := x.active[name]
		if set.HasOutputs() {
			cmds = append(cmds, NewExtIOOutputUpdateCommand(name, set.Outputs))
		}
	}
	x.mu.Unlock()

	var errs []error
	for _, c := range cmds {
		if err := x.session.Write(c.Format()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (x *ExtIOSync) handleLine(line Line) {
	ev, err := parseExtIOLine(line.Text)
	if err != nil {
		x.dropped(line, err)
		return
	}

	x.mu.Lock()
	running := x.running
	x.mu.Unlock()
	if !running {
		return
	}

	switch ev.kind {
	case extIODump:
		x.mu.Lock()
		set := ev.set
		if x.dumping == nil {
			x.dumping = make(map[string]*ExtIOSet)
		}
		// A dump does not acknowledge an input write.
		if old, ok := x.active[set.Name]; ok {
			set.Pending = old.Pending
		}
		x.dumping[set.Name] = &set
		snapshot := set.clone()
		h := x.updateHandler
		x.mu.Unlock()
		if h != nil {
			h(snapshot)
		}

	case extIOEnd:
		x.mu.Lock()
		x.active = x.dumping
		if x.active == nil {
			x.active = make(map[string]*ExtIOSet)
		}
		x.dumping = nil
		x.mu.Unlock()
		x.reconcile()

	case extIOInput, extIOOutput:
		x.applyUpdate(ev)

	case extIORemove:
		x.mu.Lock()
		delete(x.active, ev.set.Name)
		delete(x.dumping, ev.set.Name)
		_, wanted := x.desired[ev.set.Name]
		var h func(bool)
		if wanted {
			h = x.clearSyncLocked()
		}
		x.mu.Unlock()
		if h != nil {
			h(false)
		}
		if wanted {
			// Dump again so the set is recreated.
			if err := x.dump(); err != nil {
				x.log.Warn("Dump after remove failed", "set", ev.set.Name, "error", err)
			}
		}
	}
}

// reconcile runs at the end of a dump: desired sets missing from the
// active map are created and a re-dump is scheduled; otherwise the
// synchronizer is synced.
func (x *ExtIOSync) reconcile() {
	x.mu.Lock()
	if !x.running {
		x.mu.Unlock()
		return
	}
	var create []Command
	for _, name := range sortedNames(x.desired) {
		if _, ok := x.active[name]; ok {
			delete(x.inProcess, name)
			continue
		}
		x.inProcess[name] = true
		spec := x.desired[name]
		create = append(create, NewExtIOAddCommand(name, spec.Inputs, spec.Outputs))
	}

	if len(x.inProcess) > 0 {
		x.scheduleRedumpLocked()
		h := x.clearSyncLocked()
		x.mu.Unlock()

		if h != nil {
			h(false)
		}
		for _, c := range create {
			x.log.Info("Creating IO set", "command", c.Format())
			if err := x.session.Write(c.Format()); err != nil {
				x.log.Warn("Create IO set failed", "command", c.Format(), "error", err)
			}
		}
		return
	}

	var h func(bool)
	if !x.synced && !x.pendingLocked() {
		x.synced = true
		x.writing = false
		x.setSyncedMetric(true)
		h = x.inSyncHandler
	}
	x.mu.Unlock()

	if h != nil {
		h(true)
	}
}

func (x *ExtIOSync) scheduleRedumpLocked() {
	if x.redump != nil || !x.running {
		return
	}
	x.redumpWG.Add(1)
	x.redump = time.AfterFunc(x.settle, func() {
		defer x.redumpWG.Done()

		x.mu.Lock()
		x.redump = nil
		running := x.running
		x.mu.Unlock()

		if running {
			if err := x.dump(); err != nil {
				x.log.Warn("Re-dump failed", "error", err)
			}
		}
	})
}

func (x *ExtIOSync) applyUpdate(ev extIOEvent) {
	x.mu.Lock()
	set, ok := x.active[ev.set.Name]
	if !ok {
		x.mu.Unlock()
		return
	}
	applyIOEvent(set, ev)
	if row, ok := x.dumping[ev.set.Name]; ok {
		applyIOEvent(row, ev)
	}
	snapshot := set.clone()

	var inSync func(bool)
	if x.writing && !x.pendingLocked() && len(x.inProcess) == 0 {
		x.writing = false
		x.synced = true
		x.setSyncedMetric(true)
		inSync = x.inSyncHandler
	}
	update := x.updateHandler
	x.mu.Unlock()

	if update != nil {
		update(snapshot)
	}
	if inSync != nil {
		inSync(true)
	}
}

func applyIOEvent(set *ExtIOSet, ev extIOEvent) {
	if ev.kind == extIOInput {
		set.Inputs = resize(ev.set.Inputs, max(len(set.Inputs), len(ev.set.Inputs)))
		set.Pending = false
	} else {
		set.Outputs = resize(ev.set.Outputs, max(len(set.Outputs), len(ev.set.Outputs)))
	}
}

func (x *ExtIOSync) pendingLocked() bool {
	for _, s := range x.active {
		if s.Pending {
			return true
		}
	}
	return false
}

func (x *ExtIOSync) handleState(connected bool, _ error) {
	if connected {
		return
	}
	x.mu.Lock()
	h := x.clearSyncLocked()
	x.resetLocked()
	x.mu.Unlock()
	if h != nil {
		h(false)
	}
}

// resetLocked forgets what the server reported so the next dump is judged
// on its own rows.
func (x *ExtIOSync) resetLocked() {
	x.active = make(map[string]*ExtIOSet)
	x.dumping = nil
	clear(x.inProcess)
}

func (x *ExtIOSync) clearSyncLocked() func(bool) {
	x.writing = false
	if !x.synced {
		return nil
	}
	x.synced = false
	x.setSyncedMetric(false)
	return x.inSyncHandler
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}
