package arcl

import (
	"errors"
	"fmt"
)

// Sentinel errors for the ARCL client.
var (
	// ErrTimeout indicates a blocking read exceeded its deadline.
	ErrTimeout = errors.New("read timed out")

	// ErrAuthenticationFailed indicates the server closed the login exchange
	// without sending the command list terminator.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrNotConnected indicates an operation was attempted without a connection.
	ErrNotConnected = errors.New("not connected")

	// ErrAlreadyConnected indicates connect was called while already connected.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrInvalidConnectionString indicates a malformed "<ip>:<port>:<password>".
	ErrInvalidConnectionString = errors.New("invalid connection string")

	// ErrNotSynced indicates a tracker operation requires a completed dump.
	ErrNotSynced = errors.New("not synced")

	// ErrInsufficientInputs indicates fewer input bytes than active IO sets.
	ErrInsufficientInputs = errors.New("insufficient input values")

	// ErrNoGoals indicates a queue request was made with an empty goal list.
	ErrNoGoals = errors.New("no goals")

	// ErrAlreadyStarted indicates Start was called on a running tracker.
	ErrAlreadyStarted = errors.New("already started")

	// ErrUnknownSet indicates an IO set name is not among the active sets.
	ErrUnknownSet = errors.New("unknown io set")
)

// ParseError is a line that matched a category but failed field-level
// parsing. Trackers log and drop these; they never reach subscribers.
type ParseError struct {
	Kind     ParseErrorKind
	Category Category
	Line     string // The offending line
	Message  string // Additional context
}

// ParseErrorKind categorizes parsing errors.
type ParseErrorKind int

const (
	// ErrKindFieldCount indicates the wrong number of fields.
	ErrKindFieldCount ParseErrorKind = iota
	// ErrKindInvalidID indicates a goal ID without a PICKUP/DROPOFF prefix
	// and numeric suffix.
	ErrKindInvalidID
	// ErrKindInvalidStatus indicates a status outside the closed enumeration.
	ErrKindInvalidStatus
	// ErrKindInvalidSubStatus indicates a substatus outside the closed enumeration.
	ErrKindInvalidSubStatus
	// ErrKindInvalidNumber indicates a numeric field failed to parse.
	ErrKindInvalidNumber
	// ErrKindInvalidDate indicates a date/time pair failed to parse.
	ErrKindInvalidDate
	// ErrKindInvalidHex indicates a malformed hexadecimal IO value.
	ErrKindInvalidHex
	// ErrKindUnexpectedToken indicates a keyword was missing from its position.
	ErrKindUnexpectedToken
)

// String returns a short name for the kind.
func (k ParseErrorKind) String() string {
	switch k {
	case ErrKindFieldCount:
		return "field count"
	case ErrKindInvalidID:
		return "invalid id"
	case ErrKindInvalidStatus:
		return "invalid status"
	case ErrKindInvalidSubStatus:
		return "invalid substatus"
	case ErrKindInvalidNumber:
		return "invalid number"
	case ErrKindInvalidDate:
		return "invalid date"
	case ErrKindInvalidHex:
		return "invalid hex"
	case ErrKindUnexpectedToken:
		return "unexpected token"
	default:
		return "parse error"
	}
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %s in %q", e.Category, e.Kind, e.Message, e.Line)
	}
	return fmt.Sprintf("%s: %s in %q", e.Category, e.Kind, e.Line)
}

func newParseError(kind ParseErrorKind, cat Category, line, msg string) error {
	return &ParseError{Kind: kind, Category: cat, Line: line, Message: msg}
}

func newFieldCountError(cat Category, line string, want string, got int) error {
	return &ParseError{
		Kind:     ErrKindFieldCount,
		Category: cat,
		Line:     line,
		Message:  fmt.Sprintf("want %s fields, got %d", want, got),
	}
}

// ConnectionError represents a dial or login failure. It is fatal to the
// session.
type ConnectionError struct {
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("connection failed: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("connection failed: %s", e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// NewConnectionError creates a new connection error.
func NewConnectionError(message string, cause error) error {
	return &ConnectionError{Message: message, Cause: cause}
}

// IOError represents a socket write or read failure on an open session.
type IOError struct {
	Op    string
	Cause error
}

// Error implements the error interface.
func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *IOError) Unwrap() error {
	return e.Cause
}
