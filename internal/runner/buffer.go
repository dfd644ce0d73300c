package runner

import (
	"strings"
	"sync"
)

// outputBuffer retains the most recent output of a process, up to max bytes.
type outputBuffer struct {
	mu  sync.Mutex
	sb  strings.Builder
	max int
}

func newOutputBuffer(max int) *outputBuffer {
	return &outputBuffer{max: max}
}

func (b *outputBuffer) Append(s string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sb.WriteString(s)
	if b.sb.Len() > b.max {
		tail := b.sb.String()[b.sb.Len()-b.max:]
		b.sb.Reset()
		b.sb.WriteString(tail)
	}
}

func (b *outputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.String()
}
