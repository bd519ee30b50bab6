package id

import (
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUnique(t *testing.T) {
	gen := NewGenerator()

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		s := gen.GenerateString()
		assert.Len(t, s, 26)
		assert.False(t, seen[s], "duplicate id %s", s)
		seen[s] = true
	}
}

func TestTypedIDs(t *testing.T) {
	tests := []struct {
		name   string
		id     string
		prefix string
	}{
		{"surface", NewSurfaceID().String(), SurfacePrefix},
		{"subscription", NewSubscriptionID().String(), SubscriptionPrefix},
		{"request", NewRequestID().String(), RequestPrefix},
		{"span", NewSpanID().String(), SpanPrefix},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.True(t, strings.HasPrefix(tt.id, tt.prefix+"_"), tt.id)

			parts := strings.SplitN(tt.id, "_", 2)
			assert.True(t, IsValid(parts[1]))

			_, err := Parse(tt.id)
			assert.NoError(t, err)
		})
	}
}

func TestTimestamp(t *testing.T) {
	before := time.Now().Add(-time.Second)
	ts, err := Timestamp(NewSurfaceID().String())
	require.NoError(t, err)
	assert.True(t, ts.After(before))

	_, err = Timestamp("srf_not-a-ulid")
	assert.Error(t, err)
}

func TestMonotonicOrdering(t *testing.T) {
	gen := NewGenerator()

	ids := make([]string, 100)
	for i := range ids {
		ids[i] = gen.GenerateString()
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	assert.Equal(t, ids, sorted)
}

func TestConcurrentGeneration(t *testing.T) {
	const workers, per = 8, 200

	var mu sync.Mutex
	seen := make(map[SurfaceID]bool, workers*per)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < per; i++ {
				sid := NewSurfaceID()
				mu.Lock()
				seen[sid] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*per)
}

func TestNewCallID(t *testing.T) {
	a, b := NewCallID(), NewCallID()
	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	assert.NoError(t, err)
}

func BenchmarkGenerateWithPrefix(b *testing.B) {
	gen := NewGenerator()
	for i := 0; i < b.N; i++ {
		_ = gen.GenerateWithPrefix(SurfacePrefix)
	}
}
