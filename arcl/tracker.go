package arcl

import (
	"io"
	"log/slog"
	"sync"
)

// TrackerOption configures a tracker.
type TrackerOption func(*trackerBase)

// TrackerLogger overrides the logger a tracker inherits from its session.
func TrackerLogger(l *slog.Logger) TrackerOption {
	return func(t *trackerBase) {
		if l != nil {
			t.log = l.With("component", "arcl."+t.name)
		}
	}
}

// TrackerMetrics overrides the metrics sink a tracker inherits from its
// session.
func TrackerMetrics(m *Metrics) TrackerOption {
	return func(t *trackerBase) { t.metrics = m }
}

// trackerBase carries what every tracker shares: the session, logging,
// metrics and its bus subscriptions.
type trackerBase struct {
	name    string
	session Session
	log     *slog.Logger
	metrics *Metrics

	subMu sync.Mutex
	subs  []*Subscription
}

// init wires the base to s. Trackers call it from their constructors.
func (t *trackerBase) init(name string, s Session, opts []TrackerOption) {
	t.name = name
	t.session = s

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if ls, ok := s.(interface{ Logger() *slog.Logger }); ok && ls.Logger() != nil {
		logger = ls.Logger()
	}
	t.log = logger.With("component", "arcl."+name)
	if ms, ok := s.(interface{ Metrics() *Metrics }); ok {
		t.metrics = ms.Metrics()
	}

	for _, opt := range opts {
		opt(t)
	}
}

// subscribe registers for one category and tracks the subscription.
func (t *trackerBase) subscribe(c Category, h LineHandler) {
	sub := t.session.Subscribe(c, h)
	t.subMu.Lock()
	t.subs = append(t.subs, sub)
	t.subMu.Unlock()
}

func (t *trackerBase) onState(h StateHandler) {
	sub := t.session.OnStateChange(h)
	t.subMu.Lock()
	t.subs = append(t.subs, sub)
	t.subMu.Unlock()
}

func (t *trackerBase) unsubscribeAll() {
	t.subMu.Lock()
	subs := t.subs
	t.subs = nil
	t.subMu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
}

// dropped logs and counts a line that failed field-level parsing.
func (t *trackerBase) dropped(line Line, err error) {
	t.metrics.parseFailed(line.Category)
	t.log.Debug("Dropped malformed line", "category", line.Category.String(), "line", line.Text, "error", err)
}

func (t *trackerBase) setSyncedMetric(v bool) {
	t.metrics.setSynced(t.name, v)
}
