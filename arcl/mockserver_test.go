package arcl

import (
	"bufio"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testPassword = "adept"

// mockServer is an in-test ARCL server on a loopback TCP port. It sends the
// password prompt, checks the password, sends a command list ending in
// "End of commands", then answers each command line with handler's reply.
type mockServer struct {
	listener net.Listener
	password string

	// handler returns the text to send back for one command (lines
	// terminated by \r\n). nil uses defaultMockHandler.
	handler func(cmd string) string

	mu          sync.Mutex
	connections []net.Conn
	received    []string

	wg sync.WaitGroup
}

func startMockServer(t *testing.T, handler func(cmd string) string) *mockServer {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	if handler == nil {
		handler = defaultMockHandler
	}
	ms := &mockServer{listener: listener, password: testPassword, handler: handler}

	ms.wg.Add(1)
	go ms.acceptLoop()

	t.Cleanup(ms.stop)
	return ms
}

// connectionString returns "<ip>:<port>:<password>" for this server.
func (ms *mockServer) connectionString() string {
	addr := ms.listener.Addr().(*net.TCPAddr)
	return GenerateConnectionString(addr.IP.String(), addr.Port, ms.password)
}

func (ms *mockServer) acceptLoop() {
	defer ms.wg.Done()
	for {
		conn, err := ms.listener.Accept()
		if err != nil {
			return
		}
		ms.mu.Lock()
		ms.connections = append(ms.connections, conn)
		ms.mu.Unlock()

		ms.wg.Add(1)
		go ms.handleConnection(conn)
	}
}

func (ms *mockServer) handleConnection(conn net.Conn) {
	defer ms.wg.Done()

	io.WriteString(conn, "Enter password:\r\n")

	r := bufio.NewReader(conn)
	pw, err := r.ReadString('\n')
	if err != nil || strings.TrimRight(pw, "\r\n") != ms.password {
		conn.Close()
		return
	}
	io.WriteString(conn, "Welcome to the server.\r\nYou can now type commands.\r\nqueueShow\r\nextIODump\r\nEnd of commands\r\n")

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimRight(line, "\r\n")
		ms.mu.Lock()
		ms.received = append(ms.received, cmd)
		ms.mu.Unlock()

		if reply := ms.handler(cmd); reply != "" {
			io.WriteString(conn, reply)
		}
	}
}

// broadcast sends raw text to every connected client.
func (ms *mockServer) broadcast(text string) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, c := range ms.connections {
		io.WriteString(c, text)
	}
}

// dropClients closes every client connection from the server side.
func (ms *mockServer) dropClients() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, c := range ms.connections {
		c.Close()
	}
	ms.connections = nil
}

// commands returns the command lines received so far.
func (ms *mockServer) commands() []string {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	out := make([]string, len(ms.received))
	copy(out, ms.received)
	return out
}

func (ms *mockServer) stop() {
	ms.listener.Close()
	ms.dropClients()
	ms.wg.Wait()
}

func defaultMockHandler(cmd string) string {
	switch strings.ToLower(cmd) {
	case "queueshowrobot":
		return "QueueRobot: \"21\" Available Available \"\"\r\n" +
			"QueueRobot: \"22\" InProgress Driving \"\"\r\n" +
			"EndQueueShowRobot\r\n"
	case "queueshow":
		return "QueueShow: PICKUP3 JOB3 10 Completed None Goal \"1\" \"21\" 11/14/2012 11:49:23 11/14/2012 11:49:23 \"\" 0\r\n" +
			"EndQueueShow\r\n"
	case "onelinestatus":
		return "Status: Stopped DockingState: Undocked ForcedState: Unforced ChargeState: Not StateOfCharge: 87.5 Location: 100 200 90 LocalizationScore: 0.9 Temperature: 31\r\n"
	default:
		return ""
	}
}

// dialMock connects a Conn to ms with short timeouts.
func dialMock(t *testing.T, ms *mockServer, opts ...Option) *Conn {
	t.Helper()
	opts = append([]Option{WithSocketTimeout(50 * time.Millisecond), WithReadTimeout(2 * time.Second)}, opts...)
	c, err := Dial(t.Context(), ms.connectionString(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// fakeSession feeds lines straight into a Bus and records writes.
type fakeSession struct {
	*Bus

	mu       sync.Mutex
	writes   []string
	writeErr error
}

func newFakeSession() *fakeSession {
	return &fakeSession{Bus: NewBus()}
}

func (f *fakeSession) Write(line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, line)
	return nil
}

func (f *fakeSession) StartReceiving() error { return nil }

// feed dispatches each line as if it was received.
func (f *fakeSession) feed(lines ...string) {
	for _, l := range lines {
		f.Dispatch(l)
	}
}

func (f *fakeSession) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.writes))
	copy(out, f.writes)
	return out
}

// count returns how many writes equal line.
func (f *fakeSession) count(line string) int {
	n := 0
	for _, w := range f.written() {
		if w == line {
			n++
		}
	}
	return n
}

func (f *fakeSession) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = nil
}
