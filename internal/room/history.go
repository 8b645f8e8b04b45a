package room

// DefaultHistorySize is the number of lines each room keeps for replay.
const DefaultHistorySize = 10

// History is a fixed-capacity ring of pre-formatted chat lines. Once full,
// every Append overwrites the oldest entry.
type History struct {
	lines []string
	head  int
	count int
}

// NewHistory creates an empty ring holding at most capacity lines.
// A non-positive capacity falls back to DefaultHistorySize.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{lines: make([]string, capacity)}
}

// Append writes line at the head and advances it.
func (h *History) Append(line string) {
	h.lines[h.head] = line
	h.head = (h.head + 1) % len(h.lines)
	if h.count < len(h.lines) {
		h.count++
	}
}

// Snapshot returns the stored lines, oldest first.
func (h *History) Snapshot() []string {
	out := make([]string, 0, h.count)
	start := (h.head - h.count + len(h.lines)) % len(h.lines)
	for i := 0; i < h.count; i++ {
		out = append(out, h.lines[(start+i)%len(h.lines)])
	}
	return out
}

// Len reports how many lines are stored.
func (h *History) Len() int {
	return h.count
}

// Cap reports the ring capacity.
func (h *History) Cap() int {
	return len(h.lines)
}

// Reset drops every stored line.
func (h *History) Reset() {
	for i := range h.lines {
		h.lines[i] = ""
	}
	h.head = 0
	h.count = 0
}
