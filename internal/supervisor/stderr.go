package supervisor

import (
	"bufio"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// StderrTailSize is how much of the app-server's stderr is retained.
const StderrTailSize = 64 * 1024

// RingBuffer keeps the most recent bytes written to it.
type RingBuffer struct {
	mu   sync.Mutex
	data []byte
	size int
	head int
	full bool
}

// NewRingBuffer creates a buffer holding at most size bytes.
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{data: make([]byte, size), size: size}
}

// Write appends p, overwriting the oldest bytes once full.
func (b *RingBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	if n >= b.size {
		copy(b.data, p[n-b.size:])
		b.head = 0
		b.full = true
		return n, nil
	}
	for len(p) > 0 {
		c := copy(b.data[b.head:], p)
		p = p[c:]
		b.head += c
		if b.head == b.size {
			b.head = 0
			b.full = true
		}
	}
	return n, nil
}

// Bytes returns a copy of the retained bytes, oldest first.
func (b *RingBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.full {
		out := make([]byte, b.head)
		copy(out, b.data[:b.head])
		return out
	}
	out := make([]byte, b.size)
	n := copy(out, b.data[b.head:])
	copy(out[n:], b.data[:b.head])
	return out
}

func (b *RingBuffer) String() string { return string(b.Bytes()) }

// pumpStderr logs each stderr line and keeps the tail. stderr is never
// parsed as protocol.
func pumpStderr(r io.Reader, tail *RingBuffer, logger *zap.Logger) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), StderrTailSize)
	for sc.Scan() {
		line := sc.Bytes()
		_, _ = tail.Write(line)
		_, _ = tail.Write([]byte{'\n'})
		logger.Info(string(line))
	}
	if err := sc.Err(); err != nil {
		logger.Debug("stderr read ended", zap.Error(err))
		// drain so the child never blocks writing to a full pipe
		_, _ = io.Copy(tail, r)
	}
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
