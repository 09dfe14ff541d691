package events

import "strings"

// StreamAccumulator collects streamed completion chunks. It is the single
// place partial text lives during a turn; only its final String() value is
// ever turned into a ledger entry.
type StreamAccumulator struct {
	sb     strings.Builder
	chunks int
}

func NewStreamAccumulator() *StreamAccumulator {
	return &StreamAccumulator{}
}

func (a *StreamAccumulator) Add(delta string) {
	a.sb.WriteString(delta)
	a.chunks++
}

func (a *StreamAccumulator) String() string {
	return a.sb.String()
}

func (a *StreamAccumulator) Chunks() int {
	return a.chunks
}

func (a *StreamAccumulator) Len() int {
	return a.sb.Len()
}
