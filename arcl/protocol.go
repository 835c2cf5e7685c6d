package arcl

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Protocol constants.
const (
	// LineTerminator is appended to every command written to the server.
	LineTerminator = "\r\n"

	// LoginTerminator is the text that ends the command list the server
	// sends after a successful password.
	LoginTerminator = "End of commands"

	// LoginRejected is what the server answers to a wrong password while
	// keeping the socket open.
	LoginRejected = "Unknown command"

	// MaxLineLength bounds a single received line. Longer lines are split.
	MaxLineLength = 64 * 1024

	// DialTimeout is the default timeout for establishing the TCP connection.
	DialTimeout = 3 * time.Second

	// SocketTimeout is the socket-level send/receive timeout. The receive
	// loop uses it as its read deadline so it can observe cancellation.
	SocketTimeout = 500 * time.Millisecond

	// ReadTimeout bounds blocking reads such as the login exchange.
	ReadTimeout = 45 * time.Second

	// BannerTimeout is how long Connect waits for the banner line before
	// sending the password anyway. Some controllers do not terminate the
	// password prompt with a newline.
	BannerTimeout = SocketTimeout
)

// ConnectionString identifies an ARCL endpoint and its password.
// The textual form is "<ip>:<port>:<password>" with exactly two colons.
type ConnectionString struct {
	Host     string
	Port     int
	Password string
}

// ParseConnectionString parses "<ip>:<port>:<password>".
func ParseConnectionString(s string) (ConnectionString, error) {
	if !ValidateConnectionString(s) {
		return ConnectionString{}, fmt.Errorf("%w: %q", ErrInvalidConnectionString, redact(s))
	}
	parts := strings.Split(s, ":")
	port, _ := strconv.Atoi(parts[1])
	return ConnectionString{Host: parts[0], Port: port, Password: parts[2]}, nil
}

// ValidateConnectionString reports whether s has exactly two colons, an IP
// address, a numeric port and a non-empty password.
func ValidateConnectionString(s string) bool {
	if strings.Count(s, ":") != 2 {
		return false
	}
	parts := strings.Split(s, ":")
	if net.ParseIP(parts[0]) == nil {
		return false
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil || port <= 0 || port > 65535 {
		return false
	}
	return parts[2] != ""
}

// GenerateConnectionString builds the textual connection string.
func GenerateConnectionString(ip string, port int, password string) string {
	return ip + ":" + strconv.Itoa(port) + ":" + password
}

// String returns the textual connection string, including the password.
func (c ConnectionString) String() string {
	return GenerateConnectionString(c.Host, c.Port, c.Password)
}

// Address returns the dialable host:port.
func (c ConnectionString) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// redact hides the password part of a connection string for error text.
func redact(s string) string {
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return s
	}
	return s[:i+1] + "***"
}
