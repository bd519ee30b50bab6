package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateID(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		valid bool
	}{
		{"numeric rpc id", "7", true},
		{"thread id", "thr_01J9ZK2QW8", true},
		{"uuid", "0199a7c1-6d5b-7f20-9e43-0c1d2b3a4f5e", true},
		{"dotted", "req.12:3", true},
		{"empty", "", false},
		{"space", "a b", false},
		{"slash", "../etc", false},
		{"null byte", "a\x00b", false},
		{"too long", strings.Repeat("a", MaxIDLength+1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateID(tt.id, "requestId")
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), "requestId")
		})
	}
}

func TestValidateRequestID(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		valid bool
	}{
		{"numeric", "7", true},
		{"quoted string", `"7"`, true},
		{"slash", `"tools/run:1"`, true},
		{"spaces", `"a b"`, true},
		{"empty", "", false},
		{"too long", strings.Repeat("a", MaxRequestIDLength+1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRequestID(tt.id, "requestId")
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestValidateString(t *testing.T) {
	assert.NoError(t, ValidateString("", "name", 1, 10, false))
	assert.ErrorIs(t, ValidateString("", "name", 1, 10, true), ErrInvalid)
	assert.ErrorIs(t, ValidateString("ab", "name", 3, 10, true), ErrInvalid)
	assert.NoError(t, ValidateString("héllo", "name", 1, 5, true), "length counts runes")
}

func TestValidateParams(t *testing.T) {
	assert.NoError(t, ValidateParams(nil))
	assert.NoError(t, ValidateParams([]byte(`{"threadId":"thr_1","input":[{"type":"text","text":"hi"}]}`)))

	assert.ErrorIs(t, ValidateParams([]byte(`{"threadId":`)), ErrInvalid)

	deep := strings.Repeat("[", MaxParamsDepth+2) + strings.Repeat("]", MaxParamsDepth+2)
	assert.ErrorIs(t, ValidateParams([]byte(deep)), ErrInvalid)

	big := make([]byte, MaxParamsSize+1)
	assert.ErrorIs(t, ValidateParams(big), ErrInvalid)
}

func TestValidateJSONDepth(t *testing.T) {
	v := map[string]any{"a": []any{map[string]any{"b": 1}}}
	assert.NoError(t, ValidateJSONDepth(v, 3))
	assert.Error(t, ValidateJSONDepth(v, 2))
}
