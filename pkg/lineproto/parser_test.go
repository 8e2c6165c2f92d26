package lineproto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse_ProgressMarker(t *testing.T) {
	p := NewParser(nil)

	events := p.Parse("[PROGRESS] 42.5")

	require.Len(t, events, 1)
	require.Equal(t, EventProgress, events[0].Type)
	require.InDelta(t, 42.5, events[0].Percent, 0.001)
}

func TestParse_ProgressClampedToRange(t *testing.T) {
	p := NewParser(nil)

	tests := []struct {
		line string
		want float64
	}{
		{"[PROGRESS] -5", 0},
		{"[PROGRESS] 0", 0},
		{"[PROGRESS] 100", 100},
		{"[PROGRESS] 250.0", 100},
	}
	for _, tt := range tests {
		events := p.Parse(tt.line)
		require.Len(t, events, 1, "line %q", tt.line)
		require.InDelta(t, tt.want, events[0].Percent, 0.001, "line %q", tt.line)
	}
}

func TestParse_ProgressWithBadNumberIsDropped(t *testing.T) {
	p := NewParser(nil)

	events := p.Parse("[PROGRESS] lots")

	require.Empty(t, events)
}

func TestParse_KnownCounterMarker(t *testing.T) {
	p := NewParser([]string{"FETCHED", "ANALYZED"})

	events := p.Parse("[FETCHED] 120")

	require.Len(t, events, 1)
	require.Equal(t, EventCounter, events[0].Type)
	require.Equal(t, "FETCHED", events[0].Counter)
	require.Equal(t, int64(120), events[0].Value)
}

func TestParse_CounterNamesAreCaseInsensitiveAtConfigTime(t *testing.T) {
	p := NewParser([]string{"fetched"})

	events := p.Parse("[FETCHED] 7")

	require.Len(t, events, 1)
	require.Equal(t, EventCounter, events[0].Type)
}

func TestParse_UnknownMarkerBecomesLogLine(t *testing.T) {
	p := NewParser([]string{"FETCHED"})

	events := p.Parse("[WHATEVER] 99")

	require.Len(t, events, 1)
	require.Equal(t, EventLog, events[0].Type)
	require.Equal(t, "[WHATEVER] 99", events[0].Text)
}

func TestParse_CounterWithNonIntegerIsDropped(t *testing.T) {
	p := NewParser([]string{"FETCHED"})

	require.Empty(t, p.Parse("[FETCHED] 12.5"))
	require.Empty(t, p.Parse("[FETCHED] twelve"))
}

func TestParse_FinalResultDocument(t *testing.T) {
	p := NewParser(nil)

	events := p.Parse(`{"progress_percent":100,"rows":9000}`)

	require.Len(t, events, 1)
	require.Equal(t, EventFinalResult, events[0].Type)
	require.Equal(t, float64(100), events[0].Document["progress_percent"])
	require.Equal(t, float64(9000), events[0].Document["rows"])
}

func TestParse_MalformedJSONBecomesLogLine(t *testing.T) {
	p := NewParser(nil)

	events := p.Parse(`{"unterminated": `)

	require.Len(t, events, 1)
	require.Equal(t, EventLog, events[0].Type)
}

func TestParse_PlainTextBecomesLogLine(t *testing.T) {
	p := NewParser(nil)

	events := p.Parse("collecting KOSPI daily prices...")

	require.Len(t, events, 1)
	require.Equal(t, EventLog, events[0].Type)
	require.Equal(t, "collecting KOSPI daily prices...", events[0].Text)
}

func TestParse_EmptyAndWhitespaceLinesProduceNothing(t *testing.T) {
	p := NewParser(nil)

	require.Empty(t, p.Parse(""))
	require.Empty(t, p.Parse("   \t"))
}
