// Package lineproto parses the text line protocol spoken by external
// analysis workers on their standard output.
//
// A worker interleaves free-text log lines with marker lines:
//
//	[PROGRESS] 42.5          progress percent, 0-100
//	[FETCHED] 120            named counter (kind-specific)
//	{"rows": 9000, ...}      whole-line JSON document = final result
//
// Parsing is pure and never fails: anything that is not a recognized
// marker or a complete JSON document becomes a plain log line event.
package lineproto

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// EventType identifies what a parsed line means.
type EventType string

const (
	// EventProgress carries a progress percentage (0-100).
	EventProgress EventType = "progress"

	// EventCounter carries a named integer counter update.
	EventCounter EventType = "counter"

	// EventLog carries a raw log line.
	EventLog EventType = "log"

	// EventFinalResult carries the worker's final structured payload.
	EventFinalResult EventType = "final_result"
)

// Event is one structured event produced from a worker output line.
type Event struct {
	Type EventType

	// Percent is set for EventProgress.
	Percent float64

	// Counter and Value are set for EventCounter.
	Counter string
	Value   int64

	// Text is set for EventLog.
	Text string

	// Document is set for EventFinalResult.
	Document map[string]any
}

// ProgressMarker is the fixed marker every worker uses for progress lines.
const ProgressMarker = "PROGRESS"

var markerRe = regexp.MustCompile(`^\[([A-Z][A-Z0-9_]*)\]\s*(.*)$`)

// Parser maps worker output lines to events. Which counter markers are
// recognized is data supplied per job kind; the parsing logic itself is
// shared by all kinds.
type Parser struct {
	counters map[string]struct{}
}

// NewParser returns a parser that recognizes the given counter marker
// names in addition to the fixed PROGRESS marker.
func NewParser(counterNames []string) *Parser {
	counters := make(map[string]struct{}, len(counterNames))
	for _, name := range counterNames {
		counters[strings.ToUpper(name)] = struct{}{}
	}
	return &Parser{counters: counters}
}

// Parse maps one output line to zero or more events. It never returns an
// error: unrecognized lines become log events, and marker lines whose
// numeric payload does not parse are dropped entirely.
func (p *Parser) Parse(line string) []Event {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}

	if doc, ok := parseFinalDocument(trimmed); ok {
		return []Event{{Type: EventFinalResult, Document: doc}}
	}

	if m := markerRe.FindStringSubmatch(trimmed); m != nil {
		name, payload := m[1], strings.TrimSpace(m[2])

		if name == ProgressMarker {
			percent, err := strconv.ParseFloat(payload, 64)
			if err != nil {
				return nil
			}
			return []Event{{Type: EventProgress, Percent: clampPercent(percent)}}
		}

		if _, known := p.counters[name]; known {
			value, err := strconv.ParseInt(payload, 10, 64)
			if err != nil {
				return nil
			}
			return []Event{{Type: EventCounter, Counter: name, Value: value}}
		}
	}

	return []Event{{Type: EventLog, Text: line}}
}

// parseFinalDocument reports whether the line is syntactically a complete
// JSON object, the shape workers use for their final result payload.
func parseFinalDocument(line string) (map[string]any, bool) {
	if !strings.HasPrefix(line, "{") || !strings.HasSuffix(line, "}") {
		return nil, false
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(line), &doc); err != nil {
		return nil, false
	}
	return doc, true
}

func clampPercent(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
