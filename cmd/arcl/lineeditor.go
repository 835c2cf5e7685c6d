// =============================================================================
// lineeditor.go - Line Editor with Dual-Mode Operation
// =============================================================================
//
// The shell reads commands through a LineEditor that picks its input method
// from the environment:
//
//   - Interactive mode: ergochat/readline with Emacs keybindings, persistent
//     history and Ctrl-R search.
//   - Non-interactive mode: bufio.Scanner over piped input, with the prompt
//     printed by hand. Emacs comint and scripts land here.
//
// ARCL servers push lines at any time, so the editor also owns the output
// side. Output() returns a writer that is safe to call from the receive
// goroutine while a prompt is waiting; readline redraws the prompt and the
// partial input after each write.
//
// =============================================================================

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ergochat/readline"
	"golang.org/x/term"
)

const (
	// historyFileName is the history file in the user's home directory.
	historyFileName = ".arcl_history"

	// historySize is the maximum number of history entries to retain.
	historySize = 500
)

// LineEditor wraps line editing with dual-mode operation.
type LineEditor struct {
	interactive bool

	// rl is nil in non-interactive mode.
	rl *readline.Instance

	// scanner is nil in interactive mode.
	scanner *bufio.Scanner

	out *lockedWriter
}

// lockedWriter serializes writes from the shell and the receive goroutine.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}

// NewLineEditor creates a LineEditor reading from in and writing to out.
//
// Interactive mode needs in to be a terminal and INSIDE_EMACS to be unset;
// Emacs provides its own line editing.
func NewLineEditor(in io.Reader, out io.Writer) *LineEditor {
	f, isFile := in.(*os.File)
	isInteractive := isFile && term.IsTerminal(int(f.Fd())) &&
		os.Getenv("INSIDE_EMACS") == ""

	if !isInteractive {
		return &LineEditor{
			scanner: bufio.NewScanner(in),
			out:     &lockedWriter{w: out},
		}
	}

	rl, err := readline.NewFromConfig(&readline.Config{
		HistoryFile:  filepath.Join(homeDir(), historyFileName),
		HistoryLimit: historySize,

		// Empty lines stay out of history; GetLine saves the rest.
		DisableAutoSaveHistory: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: readline init failed (%v), using basic input\n", err)
		return &LineEditor{
			scanner: bufio.NewScanner(in),
			out:     &lockedWriter{w: out},
		}
	}

	return &LineEditor{
		interactive: true,
		rl:          rl,
		out:         &lockedWriter{w: rl},
	}
}

// GetLine reads one line after showing prompt. It returns io.EOF on Ctrl-D,
// Ctrl-C or when piped input is exhausted.
func (le *LineEditor) GetLine(prompt string) (string, error) {
	if le.interactive {
		return le.getInteractiveLine(prompt)
	}
	return le.getNonInteractiveLine(prompt)
}

func (le *LineEditor) getInteractiveLine(prompt string) (string, error) {
	le.rl.SetPrompt(prompt)

	line, err := le.rl.Readline()
	if err != nil {
		if err == readline.ErrInterrupt {
			return "", io.EOF
		}
		return "", err
	}

	if trimmed := strings.TrimSpace(line); trimmed != "" {
		le.rl.SaveToHistory(trimmed)
	}
	return line, nil
}

func (le *LineEditor) getNonInteractiveLine(prompt string) (string, error) {
	// comint matches on the prompt to find where input begins.
	fmt.Fprint(le.out, prompt)

	if !le.scanner.Scan() {
		if err := le.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return le.scanner.Text(), nil
}

// Output returns the writer for everything the shell prints.
func (le *LineEditor) Output() io.Writer {
	return le.out
}

// Close saves history and releases the terminal. It is safe to call more
// than once.
func (le *LineEditor) Close() {
	if le.rl != nil {
		le.rl.Close()
		le.rl = nil
	}
}

// IsInteractive reports whether full line editing is active.
func (le *LineEditor) IsInteractive() bool {
	return le.interactive
}
