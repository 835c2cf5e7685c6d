package arcl

import (
	"strconv"
	"strings"
	"sync"
)

// ConfigEntry is one row of a config section.
type ConfigEntry struct {
	Name  string
	Value string
	Other string // Trailing free text
}

type configEvent struct {
	entry ConfigEntry
	isEnd bool
}

// parseConfigLine parses
//
//	GetConfigSectionValue: <name> <value> [other...]
//	EndOfGetConfigSectionValues
func parseConfigLine(line string) (configEvent, error) {
	if hasPrefixFold(line, "endof") {
		return configEvent{isEnd: true}, nil
	}
	f := strings.Fields(line)
	if len(f) < 3 {
		return configEvent{}, newFieldCountError(CategoryConfigSection, line, "at least 3", len(f))
	}
	return configEvent{entry: ConfigEntry{
		Name:  f[1],
		Value: f[2],
		Other: strings.Join(f[3:], " "),
	}}, nil
}

// ConfigReader fetches config sections. One fetch is in flight at a time;
// a new request before the previous one ends retargets the incoming rows.
type ConfigReader struct {
	trackerBase

	mu       sync.Mutex
	sections map[string][]ConfigEntry
	synced   map[string]bool
	target   string
	running  bool

	inSyncHandler func(section string)
}

// NewConfigReader creates a reader on s. Call Start to begin.
func NewConfigReader(s Session, opts ...TrackerOption) *ConfigReader {
	r := &ConfigReader{
		sections: make(map[string][]ConfigEntry),
		synced:   make(map[string]bool),
	}
	r.init("config", s, opts)
	return r
}

// SetInSyncHandler sets the callback fired when a section is complete.
func (r *ConfigReader) SetInSyncHandler(h func(section string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inSyncHandler = h
}

// Start subscribes to config section lines.
func (r *ConfigReader) Start() error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	r.running = true
	r.mu.Unlock()

	r.subscribe(CategoryConfigSection, r.handleLine)
	if err := r.session.StartReceiving(); err != nil {
		r.Stop()
		return err
	}
	return nil
}

// Stop unsubscribes. Fetched sections are kept.
func (r *ConfigReader) Stop() {
	r.unsubscribeAll()
	r.mu.Lock()
	r.running = false
	r.target = ""
	r.mu.Unlock()
}

// GetConfigSectionValues clears the named section and requests it.
func (r *ConfigReader) GetConfigSectionValues(section string) error {
	r.mu.Lock()
	r.sections[section] = nil
	r.synced[section] = false
	r.target = section
	r.mu.Unlock()

	return r.session.Write(NewGetConfigSectionValuesCommand(section).Format())
}

// IsSynced reports whether the named section has been fully received.
func (r *ConfigReader) IsSynced(section string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.synced[section]
}

// Section returns a copy of the named section's rows.
func (r *ConfigReader) Section(section string) ([]ConfigEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows, ok := r.sections[section]
	if !ok {
		return nil, false
	}
	out := make([]ConfigEntry, len(rows))
	copy(out, rows)
	return out, true
}

func (r *ConfigReader) handleLine(line Line) {
	ev, err := parseConfigLine(line.Text)
	if err != nil {
		r.dropped(line, err)
		return
	}

	r.mu.Lock()
	target := r.target
	if target == "" || !r.running {
		r.mu.Unlock()
		return
	}
	if !ev.isEnd {
		r.sections[target] = append(r.sections[target], ev.entry)
		r.mu.Unlock()
		return
	}
	r.synced[target] = true
	r.target = ""
	n := len(r.sections[target])
	h := r.inSyncHandler
	r.mu.Unlock()

	r.log.Debug("Section received", "section", target, "rows", n)
	if h != nil {
		h(target)
	}
}

// RobotShape is the robot footprint from the RobotPhysical section.
type RobotShape struct {
	Radius            float64
	Width             float64
	LengthFront       float64
	LengthRear        float64
	MaxNumberOfLasers int
	HeightToCenter    float64
}

// DefaultHeightToCenter is used when the section does not carry it.
const DefaultHeightToCenter = 203.272

// DecodeRobotShape reads a RobotShape from section rows. Unknown rows are
// ignored; a malformed number is an error.
func DecodeRobotShape(entries []ConfigEntry) (RobotShape, error) {
	s := RobotShape{HeightToCenter: DefaultHeightToCenter}
	fields := []struct {
		key string
		dst *float64
	}{
		{"Radius", &s.Radius},
		{"Width", &s.Width},
		{"LengthFront", &s.LengthFront},
		{"LengthRear", &s.LengthRear},
	}
	for _, e := range entries {
		for _, f := range fields {
			if strings.Contains(e.Name, f.key) {
				v, err := parseConfigFloat(e)
				if err != nil {
					return RobotShape{}, err
				}
				*f.dst = v
			}
		}
		if strings.Contains(e.Name, "MaxNumberOfLasers") {
			n, err := strconv.Atoi(e.Value)
			if err != nil {
				return RobotShape{}, newParseError(ErrKindInvalidNumber, CategoryConfigSection, e.Name+" "+e.Value, "")
			}
			s.MaxNumberOfLasers = n
		}
	}
	return s, nil
}

// PathPlanning holds the path planning clearances and tolerances.
type PathPlanning struct {
	FrontClearance           float64
	SlowSpeed                float64
	SideClearanceAtSlowSpeed float64
	FrontPaddingAtSlowSpeed  float64
	FastSpeed                float64
	SideClearanceAtFastSpeed float64
	FrontPaddingAtFastSpeed  float64
	PlanFreeSpace            float64
	GoalDistanceTolerance    float64
	GoalAngleTolerance       float64
}

// DecodePathPlanning reads PathPlanning from section rows, matching row
// names by prefix.
func DecodePathPlanning(entries []ConfigEntry) (PathPlanning, error) {
	var p PathPlanning
	fields := []struct {
		prefix string
		dst    *float64
	}{
		{"FrontClearance", &p.FrontClearance},
		{"SlowSpeed", &p.SlowSpeed},
		{"SideClearanceAtSlowSpeed", &p.SideClearanceAtSlowSpeed},
		{"FrontPaddingAtSlowSpeed", &p.FrontPaddingAtSlowSpeed},
		{"FastSpeed", &p.FastSpeed},
		{"SideClearanceAtFastSpeed", &p.SideClearanceAtFastSpeed},
		{"FrontPaddingAtFastSpeed", &p.FrontPaddingAtFastSpeed},
		{"PlanFreeSpace", &p.PlanFreeSpace},
		{"GoalDistanceTol", &p.GoalDistanceTolerance},
		{"GoalAngleTol", &p.GoalAngleTolerance},
	}
	for _, e := range entries {
		for _, f := range fields {
			if strings.HasPrefix(e.Name, f.prefix) {
				v, err := parseConfigFloat(e)
				if err != nil {
					return PathPlanning{}, err
				}
				*f.dst = v
			}
		}
	}
	return p, nil
}

func parseConfigFloat(e ConfigEntry) (float64, error) {
	v, err := strconv.ParseFloat(e.Value, 64)
	if err != nil {
		return 0, newParseError(ErrKindInvalidNumber, CategoryConfigSection, e.Name+" "+e.Value, "")
	}
	return v, nil
}
