package arcl

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Dialer opens the TCP connection. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Session is the part of a connection the trackers use: a serialized write
// path, typed line subscriptions and the receive loop.
type Session interface {
	Write(line string) error
	Subscribe(category Category, handler LineHandler) *Subscription
	OnStateChange(handler StateHandler) *Subscription
	StartReceiving() error
}

// Option configures a Conn.
type Option func(*options)

type options struct {
	logger        *slog.Logger
	metrics       *Metrics
	dialer        Dialer
	dialTimeout   time.Duration
	socketTimeout time.Duration
	readTimeout   time.Duration
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics sink. nil disables metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithDialer replaces the TCP dialer.
func WithDialer(d Dialer) Option {
	return func(o *options) {
		if d != nil {
			o.dialer = d
		}
	}
}

// WithDialTimeout overrides DialTimeout.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) { o.dialTimeout = d }
}

// WithSocketTimeout overrides SocketTimeout.
func WithSocketTimeout(d time.Duration) Option {
	return func(o *options) { o.socketTimeout = d }
}

// WithReadTimeout overrides ReadTimeout.
func WithReadTimeout(d time.Duration) Option {
	return func(o *options) { o.readTimeout = d }
}

// Conn is a logged-in ARCL session over TCP.
//
// Writes are serialized under one lock so concurrent writers never
// interleave partial commands. Received lines are classified and fanned out
// through the connection's Bus on a single receive goroutine.
//
// Thread Safety:
// Conn is safe for concurrent use from multiple goroutines.
type Conn struct {
	addr ConnectionString
	opts options
	log  *slog.Logger
	bus  *Bus

	mu          sync.Mutex
	conn        net.Conn
	reader      *bufio.Reader
	isConnected bool
	sessionID   string

	// Cancellation for the receive goroutine
	cancelReader context.CancelFunc
	readerDone   chan struct{}

	writeMu sync.Mutex
}

// NewConn creates an unconnected session for addr.
func NewConn(addr ConnectionString, opts ...Option) *Conn {
	o := options{
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		dialer:        &net.Dialer{},
		dialTimeout:   DialTimeout,
		socketTimeout: SocketTimeout,
		readTimeout:   ReadTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Conn{
		addr: addr,
		opts: o,
		log:  o.logger.With("component", "arcl.conn", "addr", addr.Address()),
		bus:  NewBus(),
	}
}

// Dial parses a "<ip>:<port>:<password>" connection string, connects and
// logs in.
func Dial(ctx context.Context, connectionString string, opts ...Option) (*Conn, error) {
	addr, err := ParseConnectionString(connectionString)
	if err != nil {
		return nil, err
	}
	c := NewConn(addr, opts...)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Address returns the connection string the session was created with.
func (c *Conn) Address() ConnectionString {
	return c.addr
}

// Logger returns the session logger.
func (c *Conn) Logger() *slog.Logger {
	return c.log
}

// Metrics returns the session metrics sink, which may be nil.
func (c *Conn) Metrics() *Metrics {
	return c.opts.metrics
}

// SessionID identifies the current login. It changes on every Connect and
// is empty while disconnected.
func (c *Conn) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// IsConnected returns true while the session is logged in.
func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isConnected
}

// IsReceiving returns true while the receive loop is running.
func (c *Conn) IsReceiving() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelReader != nil
}

// Connect dials the server and performs the login exchange: the banner is
// discarded, the password is sent, and the command list is read until a
// line ending in LoginTerminator. It fails with a *ConnectionError wrapping
// ErrAuthenticationFailed if the server rejects the password or closes the
// exchange, or ErrTimeout
// if the terminator does not arrive within the read timeout.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.isConnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.dialTimeout)
	defer cancel()

	conn, err := c.opts.dialer.DialContext(dialCtx, "tcp", c.addr.Address())
	if err != nil {
		return NewConnectionError("failed to connect", err)
	}
	reader := bufio.NewReaderSize(conn, 4096)

	if err := c.login(ctx, conn, reader); err != nil {
		conn.Close()
		c.log.Warn("Login failed", "error", err)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.reader = reader
	c.isConnected = true
	c.sessionID = uuid.NewString()
	id := c.sessionID
	c.mu.Unlock()

	c.opts.metrics.setConnected(true)
	c.log.Info("Connected", "session", id)
	c.bus.PublishState(true, nil)
	return nil
}

func (c *Conn) login(ctx context.Context, conn net.Conn, reader *bufio.Reader) error {
	// The password prompt may not be newline terminated, so a banner
	// timeout is not an error.
	_ = conn.SetReadDeadline(time.Now().Add(BannerTimeout))
	if _, err := reader.ReadString('\n'); err != nil && !isTimeout(err) {
		return NewConnectionError("failed to read banner", err)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(c.opts.socketTimeout))
	if _, err := io.WriteString(conn, c.addr.Password+LineTerminator); err != nil {
		return NewConnectionError("failed to send password", err)
	}

	deadline := time.Now().Add(c.opts.readTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	for {
		line, err := reader.ReadString('\n')
		text := strings.TrimRight(line, "\r\n")
		switch {
		case strings.HasSuffix(text, LoginTerminator):
			return nil
		case strings.Contains(text, LoginRejected):
			return NewConnectionError("login", ErrAuthenticationFailed)
		case err != nil && isTimeout(err):
			return NewConnectionError("login", ErrTimeout)
		case err != nil:
			return NewConnectionError("login", ErrAuthenticationFailed)
		}
	}
}

// readUntil reads lines until one ends with terminator and returns
// everything read, terminator included.
func readUntil(reader *bufio.Reader, terminator string) (string, error) {
	var sb strings.Builder
	for {
		line, err := reader.ReadString('\n')
		sb.WriteString(line)
		if strings.HasSuffix(strings.TrimRight(line, "\r\n"), terminator) {
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), err
		}
	}
}

// ReadUntil performs a blocking read of lines until one ends with
// terminator, bounded by the read timeout. It is only valid while the
// receive loop is stopped.
func (c *Conn) ReadUntil(terminator string) (string, error) {
	c.mu.Lock()
	if !c.isConnected {
		c.mu.Unlock()
		return "", ErrNotConnected
	}
	if c.cancelReader != nil {
		c.mu.Unlock()
		return "", errors.New("receive loop is running")
	}
	conn, reader := c.conn, c.reader
	c.mu.Unlock()

	_ = conn.SetReadDeadline(time.Now().Add(c.opts.readTimeout))
	defer conn.SetReadDeadline(time.Time{})

	text, err := readUntil(reader, terminator)
	if err != nil {
		if isTimeout(err) {
			return text, ErrTimeout
		}
		return text, &IOError{Op: "read", Cause: err}
	}
	return text, nil
}

// Write sends one command line. The line terminator is appended; any
// trailing CR/LF in line is dropped first so the record is framed once.
func (c *Conn) Write(line string) error {
	c.mu.Lock()
	if !c.isConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.Unlock()

	record := strings.TrimRight(line, "\r\n") + LineTerminator

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.opts.socketTimeout))
	_, err := io.WriteString(conn, record)
	c.writeMu.Unlock()

	c.opts.metrics.written(err)
	if err != nil {
		c.log.Warn("Write failed", "command", verbOf(line), "error", err)
		return &IOError{Op: "write", Cause: err}
	}
	c.log.Debug("Wrote", "command", strings.TrimRight(line, "\r\n"))
	return nil
}

// Send writes a formatted command.
func (c *Conn) Send(cmd Command) error {
	return c.Write(cmd.Format())
}

// Subscribe registers handler for lines of one category.
func (c *Conn) Subscribe(category Category, handler LineHandler) *Subscription {
	return c.bus.Subscribe(category, handler)
}

// SubscribeAll registers handler for every received line.
func (c *Conn) SubscribeAll(handler LineHandler) *Subscription {
	return c.bus.SubscribeAll(handler)
}

// OnStateChange registers handler for connect/disconnect notifications.
func (c *Conn) OnStateChange(handler StateHandler) *Subscription {
	return c.bus.OnStateChange(handler)
}

// StartReceiving starts the receive loop. Calling it while the loop is
// running is a no-op.
func (c *Conn) StartReceiving() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isConnected {
		return ErrNotConnected
	}
	if c.cancelReader != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancelReader = cancel
	c.readerDone = make(chan struct{})
	go c.readerLoop(ctx, c.conn, c.reader, c.readerDone)

	c.log.Info("Receive loop started")
	return nil
}

// StopReceiving stops the receive loop and waits for it to exit, so no
// handler runs after it returns. Calling it when stopped is a no-op.
// It must not be called from a LineHandler.
func (c *Conn) StopReceiving() {
	c.mu.Lock()
	cancel, done := c.cancelReader, c.readerDone
	c.cancelReader = nil
	c.readerDone = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	c.log.Info("Receive loop stopped")
}

// Close stops the receive loop and closes the socket. It is safe to call
// more than once.
func (c *Conn) Close() error {
	c.StopReceiving()

	c.mu.Lock()
	if !c.isConnected {
		c.mu.Unlock()
		return nil
	}
	c.isConnected = false
	conn := c.conn
	c.conn = nil
	c.reader = nil
	c.sessionID = ""
	c.mu.Unlock()

	err := conn.Close()
	c.opts.metrics.setConnected(false)
	c.log.Info("Disconnected")
	c.bus.PublishState(false, nil)
	return err
}

// readerLoop reads until cancelled or the socket fails. Short read
// deadlines let it observe cancellation; partial data read before a
// deadline is kept until its line completes.
func (c *Conn) readerLoop(ctx context.Context, conn net.Conn, reader *bufio.Reader, done chan struct{}) {
	defer close(done)

	var pending strings.Builder
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(c.opts.socketTimeout))
		chunk, err := reader.ReadString('\n')
		pending.WriteString(chunk)

		if err != nil {
			if isTimeout(err) {
				if pending.Len() >= MaxLineLength {
					c.emit(pending.String())
					pending.Reset()
				}
				continue
			}
			if ctx.Err() != nil {
				return
			}
			if pending.Len() > 0 {
				c.emit(pending.String())
			}
			c.handleDisconnect(err)
			return
		}

		c.emit(pending.String())
		pending.Reset()
	}
}

// emit splits a completed record into lines and dispatches each.
func (c *Conn) emit(record string) {
	for _, text := range splitLines(record) {
		line := c.bus.Dispatch(text)
		c.opts.metrics.lineReceived(line.Category)
	}
}

// handleDisconnect handles an unexpected disconnection on the receive
// goroutine.
func (c *Conn) handleDisconnect(err error) {
	c.mu.Lock()
	if !c.isConnected {
		c.mu.Unlock()
		return
	}
	c.isConnected = false
	conn := c.conn
	cancel := c.cancelReader
	c.conn = nil
	c.reader = nil
	c.sessionID = ""
	c.cancelReader = nil
	c.readerDone = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	conn.Close()
	c.opts.metrics.setConnected(false)
	c.log.Warn("Connection lost", "error", err)
	c.bus.PublishState(false, &IOError{Op: "read", Cause: err})
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func verbOf(line string) string {
	if i := strings.IndexByte(line, ' '); i >= 0 {
		return line[:i]
	}
	return strings.TrimRight(line, "\r\n")
}
