package arcl

import (
	"strings"
	"time"
)

// Category is the typed event channel a received line is routed to.
type Category int

const (
	// CategoryNone lines are published to raw observers only.
	CategoryNone Category = iota
	CategoryQueueRobot
	CategoryQueueJob
	CategoryExtIO
	CategoryConfigSection
	CategoryStatus
	CategoryRangeDeviceCurrent
	CategoryRangeDeviceCumulative
)

// Categories lists every typed category in classification precedence.
var Categories = []Category{
	CategoryQueueRobot,
	CategoryQueueJob,
	CategoryExtIO,
	CategoryConfigSection,
	CategoryStatus,
	CategoryRangeDeviceCurrent,
	CategoryRangeDeviceCumulative,
}

func (c Category) String() string {
	switch c {
	case CategoryQueueRobot:
		return "queue_robot"
	case CategoryQueueJob:
		return "queue_job"
	case CategoryExtIO:
		return "extio"
	case CategoryConfigSection:
		return "config_section"
	case CategoryStatus:
		return "status"
	case CategoryRangeDeviceCurrent:
		return "range_device_current"
	case CategoryRangeDeviceCumulative:
		return "range_device_cumulative"
	default:
		return "raw"
	}
}

// ParseCategory is the inverse of Category.String. "raw" yields CategoryNone.
func ParseCategory(name string) (Category, bool) {
	if name == CategoryNone.String() {
		return CategoryNone, true
	}
	for _, c := range Categories {
		if c.String() == name {
			return c, true
		}
	}
	return CategoryNone, false
}

// Line is one received protocol line and its classification.
type Line struct {
	Text     string
	Category Category
	Received time.Time
}

// Classify routes a single newline-split line by case-insensitive
// prefix/content match. Unrecognized lines return CategoryNone; Classify
// never fails.
func Classify(line string) Category {
	lower := strings.ToLower(line)

	if strings.HasPrefix(lower, "queue") || strings.HasPrefix(lower, "endqueue") {
		if strings.Contains(lower, "robot") {
			return CategoryQueueRobot
		}
		return CategoryQueueJob
	}

	if strings.HasPrefix(lower, "extio") || strings.HasPrefix(lower, "endextio") ||
		strings.Contains(lower, "extiooutputupdate") || strings.Contains(lower, "extioinputupdate") {
		return CategoryExtIO
	}

	if strings.HasPrefix(lower, "getconfigsection") || strings.HasPrefix(lower, "endofgetconfigsection") {
		return CategoryConfigSection
	}

	switch {
	case strings.HasPrefix(lower, "status:"):
		return CategoryStatus
	case strings.HasPrefix(lower, "rangedevicegetcurrent:"):
		return CategoryRangeDeviceCurrent
	case strings.HasPrefix(lower, "rangedevicegetcumulative:"):
		return CategoryRangeDeviceCumulative
	}

	return CategoryNone
}

// splitFields splits on runs of whitespace, keeping double-quoted tokens
// intact with the quotes removed. An empty quoted token ("") is kept as an
// empty field.
func splitFields(s string) []string {
	var (
		fields  []string
		cur     strings.Builder
		inQuote bool
		inField bool
	)
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
			inField = true
		case !inQuote && (r == ' ' || r == '\t' || r == '\r' || r == '\n'):
			if inField {
				fields = append(fields, cur.String())
				cur.Reset()
				inField = false
			}
		default:
			cur.WriteRune(r)
			inField = true
		}
	}
	if inField {
		fields = append(fields, cur.String())
	}
	return fields
}

// hasPrefixFold is a case-insensitive strings.HasPrefix.
func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// splitLines breaks a received chunk into non-empty lines on CR and LF.
func splitLines(chunk string) []string {
	return strings.FieldsFunc(chunk, func(r rune) bool { return r == '\r' || r == '\n' })
}
