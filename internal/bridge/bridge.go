// Package bridge republishes classified ARCL lines onto NATS subjects so
// other services can consume a robot session without holding an ARCL
// connection of their own.
//
// Every line becomes one JSON Envelope published to
// "<prefix>.<category>", for example "arcl.queue_job" or "arcl.raw".
// Session state changes go to "<prefix>.state".
package bridge

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/ZeroxCorbin/ARCLStream/arcl"
)

// StateSubject is appended to the prefix for connection state events.
const StateSubject = "state"

// Publisher sends one message. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Source is the session side of the bridge. *arcl.Conn satisfies it.
type Source interface {
	SubscribeAll(handler arcl.LineHandler) *arcl.Subscription
	OnStateChange(handler arcl.StateHandler) *arcl.Subscription
	SessionID() string
}

// Envelope is the JSON body of a line message.
type Envelope struct {
	ID       string    `json:"id"`
	Session  string    `json:"session"`
	Category string    `json:"category"`
	Text     string    `json:"text"`
	Received time.Time `json:"received"`
}

// StateEvent is the JSON body of a state message.
type StateEvent struct {
	ID        string    `json:"id"`
	Session   string    `json:"session"`
	Connected bool      `json:"connected"`
	Error     string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

// Options configures a Bridge.
type Options struct {
	// Prefix is the subject prefix. Defaults to "arcl".
	Prefix string

	// Categories restricts which lines are forwarded. Empty forwards all.
	Categories []arcl.Category

	Logger *slog.Logger
}

// Bridge forwards lines from a Source to a Publisher.
type Bridge struct {
	source Source
	pub    Publisher
	prefix string
	allow  map[arcl.Category]bool
	log    *slog.Logger

	mu   sync.Mutex
	subs []*arcl.Subscription

	published atomic.Uint64
	failed    atomic.Uint64
}

// New creates a bridge. Call Start to begin forwarding.
func New(source Source, pub Publisher, opts Options) *Bridge {
	b := &Bridge{
		source: source,
		pub:    pub,
		prefix: opts.Prefix,
		log:    opts.Logger,
	}
	if b.prefix == "" {
		b.prefix = "arcl"
	}
	if b.log == nil {
		b.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	b.log = b.log.With("component", "bridge")
	if len(opts.Categories) > 0 {
		b.allow = make(map[arcl.Category]bool, len(opts.Categories))
		for _, c := range opts.Categories {
			b.allow[c] = true
		}
	}
	return b
}

// Subject returns the subject lines of category c are published on.
func (b *Bridge) Subject(c arcl.Category) string {
	return b.prefix + "." + c.String()
}

// Start subscribes to the source. Calling it twice is a no-op.
func (b *Bridge) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs != nil {
		return
	}
	b.subs = []*arcl.Subscription{
		b.source.SubscribeAll(b.forwardLine),
		b.source.OnStateChange(b.forwardState),
	}
	b.log.Info("bridge started", "prefix", b.prefix)
}

// Stop unsubscribes from the source. The publisher is left open.
func (b *Bridge) Stop() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
	if subs != nil {
		b.log.Info("bridge stopped", "published", b.published.Load(), "failed", b.failed.Load())
	}
}

// Published is the number of messages sent successfully.
func (b *Bridge) Published() uint64 { return b.published.Load() }

// Failed is the number of messages the publisher rejected.
func (b *Bridge) Failed() uint64 { return b.failed.Load() }

func (b *Bridge) forwardLine(line arcl.Line) {
	if b.allow != nil && !b.allow[line.Category] {
		return
	}
	b.publish(b.Subject(line.Category), Envelope{
		ID:       uuid.NewString(),
		Session:  b.source.SessionID(),
		Category: line.Category.String(),
		Text:     line.Text,
		Received: line.Received,
	})
}

func (b *Bridge) forwardState(connected bool, err error) {
	ev := StateEvent{
		ID:        uuid.NewString(),
		Session:   b.source.SessionID(),
		Connected: connected,
		Time:      time.Now(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	b.publish(b.prefix+"."+StateSubject, ev)
}

func (b *Bridge) publish(subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		b.failed.Add(1)
		b.log.Error("encode failed", "subject", subject, "error", err)
		return
	}
	if err := b.pub.Publish(subject, data); err != nil {
		b.failed.Add(1)
		b.log.Warn("publish failed", "subject", subject, "error", err)
		return
	}
	b.published.Add(1)
}

// ConnectNATS dials the NATS server at url. Disconnects and reconnects are
// logged. maxReconnects of -1 retries forever.
func ConnectNATS(url, name string, maxReconnects int, log *slog.Logger) (*nats.Conn, error) {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	log = log.With("component", "nats")

	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			log.Info("connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	log.Info("connected", "url", nc.ConnectedUrl())
	return nc, nil
}
