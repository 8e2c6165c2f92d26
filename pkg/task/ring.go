package task

import "time"

// LogLine is one captured line of worker output.
type LogLine struct {
	Seq  uint64    `json:"seq"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// logRing is a fixed-capacity ring buffer of log lines. When full, the
// oldest entry is dropped. Sequence numbers keep increasing across
// evictions so readers can detect dropped lines.
type logRing struct {
	buf   []LogLine
	start int
	count int
	seq   uint64
}

func newLogRing(capacity int) *logRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &logRing{buf: make([]LogLine, capacity)}
}

func (r *logRing) append(text string, at time.Time) {
	r.seq++
	line := LogLine{Seq: r.seq, Text: text, At: at}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = line
		r.count++
		return
	}
	// Full: overwrite the oldest slot and advance the start.
	r.buf[r.start] = line
	r.start = (r.start + 1) % len(r.buf)
}

// lines returns the buffered lines oldest first.
func (r *logRing) lines() []LogLine {
	out := make([]LogLine, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}
