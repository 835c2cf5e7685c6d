package main

// =============================================================================
// mockserver_test.go - Mock ARCL Server for CLI Tests
// =============================================================================
//
// A loopback TCP server that speaks enough ARCL for the subcommands to run:
// password prompt, command list ending in "End of commands", and canned
// replies to the dumps the trackers request. Tests can replace the replies
// and push unsolicited lines.
//
// =============================================================================

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

const testPassword = "adept"

type mockServer struct {
	listener net.Listener
	password string
	handler  func(cmd string) string

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

func (ms *mockServer) connectionString() string {
	return ms.listener.Addr().String() + ":" + ms.password
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
	io.WriteString(conn, "Welcome to the server.\r\nqueueShow\r\nEnd of commands\r\n")

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

func (ms *mockServer) broadcast(text string) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, c := range ms.connections {
		io.WriteString(c, text)
	}
}

func (ms *mockServer) dropClients() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, c := range ms.connections {
		c.Close()
	}
	ms.connections = nil
}

func (ms *mockServer) commands() []string {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	out := make([]string, len(ms.received))
	copy(out, ms.received)
	return out
}

func (ms *mockServer) sawCommand(cmd string) bool {
	for _, c := range ms.commands() {
		if c == cmd {
			return true
		}
	}
	return false
}

func (ms *mockServer) stop() {
	ms.listener.Close()
	ms.dropClients()
	ms.wg.Wait()
}

func defaultMockHandler(cmd string) string {
	lower := strings.ToLower(cmd)
	switch {
	case lower == "queueshowrobot":
		return "QueueRobot: \"21\" Available Available \"\"\r\n" +
			"QueueRobot: \"22\" InProgress Driving \"\"\r\n" +
			"EndQueueShowRobot\r\n"
	case lower == "queueshow":
		return "QueueShow: PICKUP3 JOB3 10 Completed None Goal \"1\" \"21\" 11/14/2012 11:49:23 11/14/2012 11:49:23 \"\" 0\r\n" +
			"EndQueueShow\r\n"
	case lower == "extiodump":
		return "ExtIODump: Cell1 with 8 input(s), value = 0x05 and 8 output(s), value = 0x00\r\n" +
			"EndExtIODump\r\n"
	case lower == "onelinestatus":
		return "Status: Stopped DockingState: Undocked ForcedState: Unforced ChargeState: Not StateOfCharge: 87.5 Location: 100 200 90 LocalizationScore: 0.9 Temperature: 31\r\n"
	case strings.HasPrefix(lower, "getconfigsectionvalues"):
		return "GetConfigSectionValue: Radius 250\r\n" +
			"GetConfigSectionValue: Width 500\r\n" +
			"EndOfGetConfigSectionValues\r\n"
	case strings.HasPrefix(lower, "say "):
		return "Saying " + strings.TrimPrefix(cmd, "say ") + "\r\n"
	default:
		return ""
	}
}

// syncBuffer is a bytes.Buffer safe for concurrent writers and readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
