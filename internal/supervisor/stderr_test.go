package supervisor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRingBuffer(t *testing.T) {
	tests := []struct {
		name   string
		size   int
		writes []string
		want   string
	}{
		{"empty", 8, nil, ""},
		{"under capacity", 8, []string{"abc", "de"}, "abcde"},
		{"exactly full", 4, []string{"ab", "cd"}, "abcd"},
		{"wraps", 4, []string{"abc", "def"}, "cdef"},
		{"single oversized write", 4, []string{"0123456789"}, "6789"},
		{"many small writes", 5, []string{"a", "b", "c", "d", "e", "f", "g"}, "cdefg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewRingBuffer(tt.size)
			for _, w := range tt.writes {
				n, err := b.Write([]byte(w))
				assert.NoError(t, err)
				assert.Equal(t, len(w), n)
			}
			assert.Equal(t, tt.want, b.String())
		})
	}
}

func TestPumpStderrLogsLines(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	tail := NewRingBuffer(1024)

	pumpStderr(strings.NewReader("first\nsecond\npartial"), tail, zap.New(core))

	assert.Equal(t, "first\nsecond\npartial\n", tail.String())
	entries := logs.AllUntimed()
	if assert.Len(t, entries, 3) {
		assert.Equal(t, "first", entries[0].Message)
		assert.Equal(t, "partial", entries[2].Message)
	}
}

func TestLastLine(t *testing.T) {
	assert.Equal(t, "c", lastLine("a\nb\nc\n"))
	assert.Equal(t, "only", lastLine("only"))
	assert.Equal(t, "", lastLine(""))
}
