package main

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ZeroxCorbin/ARCLStream/arcl"
)

// Terminal colors (ANSI 256).
var (
	colorPrimary = lipgloss.Color("12")  // Blue
	colorInfo    = lipgloss.Color("14")  // Cyan
	colorSuccess = lipgloss.Color("10")  // Green
	colorWarning = lipgloss.Color("11")  // Yellow
	colorError   = lipgloss.Color("9")   // Red
	colorMuted   = lipgloss.Color("240") // Gray
)

// styles renders shell output. The zero value (plain) renders text as-is.
type styles struct {
	plain bool

	header   lipgloss.Style
	ok       lipgloss.Style
	warn     lipgloss.Style
	err      lipgloss.Style
	muted    lipgloss.Style
	category map[arcl.Category]lipgloss.Style
}

func newStyles(color bool) *styles {
	if !color {
		return &styles{plain: true}
	}
	tag := func(c lipgloss.Color) lipgloss.Style { return lipgloss.NewStyle().Foreground(c) }
	return &styles{
		header: lipgloss.NewStyle().Bold(true).Foreground(colorPrimary),
		ok:     tag(colorSuccess),
		warn:   tag(colorWarning),
		err:    tag(colorError).Bold(true),
		muted:  tag(colorMuted),
		category: map[arcl.Category]lipgloss.Style{
			arcl.CategoryQueueJob:              tag(colorPrimary),
			arcl.CategoryQueueRobot:            tag(colorInfo),
			arcl.CategoryExtIO:                 tag(colorWarning),
			arcl.CategoryConfigSection:         tag(colorSuccess),
			arcl.CategoryStatus:                tag(colorMuted),
			arcl.CategoryRangeDeviceCurrent:    tag(colorMuted),
			arcl.CategoryRangeDeviceCumulative: tag(colorMuted),
		},
	}
}

func (s *styles) render(st lipgloss.Style, text string) string {
	if s.plain {
		return text
	}
	return st.Render(text)
}

// line formats one received line as "[category] text".
func (s *styles) line(l arcl.Line) string {
	tag := "[" + l.Category.String() + "]"
	if st, ok := s.category[l.Category]; ok {
		tag = s.render(st, tag)
	} else {
		tag = s.render(s.muted, tag)
	}
	text := l.Text
	if strings.Contains(text, "Error") {
		text = s.render(s.err, text)
	}
	return tag + " " + text
}

// synced renders a tracker's sync flag.
func (s *styles) synced(v bool) string {
	if v {
		return s.render(s.ok, "synced")
	}
	return s.render(s.warn, "not synced")
}

// table writes rows under a bold header with padded columns.
func (s *styles) table(w io.Writer, header []string, rows [][]string) {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = len(h)
	}
	for _, r := range rows {
		for i, cell := range r {
			widths[i] = max(widths[i], len(cell))
		}
	}

	pad := func(cells []string) string {
		parts := make([]string, len(cells))
		for i, c := range cells {
			parts[i] = fmt.Sprintf("%-*s", widths[i], c)
		}
		return strings.TrimRight(strings.Join(parts, "  "), " ")
	}

	fmt.Fprintln(w, s.render(s.header, pad(header)))
	for _, r := range rows {
		fmt.Fprintln(w, pad(r))
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
