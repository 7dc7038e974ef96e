package logbuf

import (
	"sort"
	"strings"
	"sync"
)

// Subsystem buffer names.
const (
	Control  = "control"
	Protocol = "protocol"
	General  = "general"
)

// Buffer is an append-only list of log lines. Once it holds more than max
// lines the oldest trim lines are dropped.
type Buffer struct {
	mu    sync.Mutex
	lines []string
	max   int
	trim  int
}

func NewBuffer(maxLines, trim int) *Buffer {
	if maxLines <= 0 {
		maxLines = 5000
	}
	if trim <= 0 || trim > maxLines {
		trim = maxLines
	}
	return &Buffer{max: maxLines, trim: trim}
}

func (b *Buffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
	if len(b.lines) > b.max {
		b.lines = append(b.lines[:0:0], b.lines[b.trim:]...)
	}
}

// Tail returns a copy of the last n lines (all lines when n <= 0).
func (b *Buffer) Tail(n int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	start := 0
	if n > 0 && len(b.lines) > n {
		start = len(b.lines) - n
	}
	out := make([]string, len(b.lines)-start)
	copy(out, b.lines[start:])
	return out
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

// Set groups the per-subsystem buffers.
type Set struct {
	buffers map[string]*Buffer
}

func NewSet(maxLines, trim int) *Set {
	return &Set{buffers: map[string]*Buffer{
		Control:  NewBuffer(maxLines, trim),
		Protocol: NewBuffer(maxLines, trim),
		General:  NewBuffer(maxLines, trim),
	}}
}

func (s *Set) Get(name string) (*Buffer, bool) {
	b, ok := s.buffers[name]
	return b, ok
}

// Names lists the subsystem names in sorted order.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.buffers))
	for n := range s.buffers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// route picks the buffer for a zap logger name such as "gateway.protocol".
func (s *Set) route(loggerName string) *Buffer {
	segs := strings.Split(loggerName, ".")
	for i := len(segs) - 1; i >= 0; i-- {
		if b, ok := s.buffers[segs[i]]; ok {
			return b
		}
	}
	return s.buffers[General]
}
