package preferences

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "agentshell", "preferences.toml"), nil)
	require.NoError(t, err)
	return s
}

func TestDefaultsWhenMissing(t *testing.T) {
	s := openTemp(t)

	assert.Equal(t, "", s.BinaryPath())
	assert.True(t, s.Bool(KeyNotifyCrash))
	_, ok := s.Get("nothing.here")
	assert.False(t, ok)
	_, err := os.Stat(s.Path())
	assert.True(t, os.IsNotExist(err), "nothing written until Set")
}

func TestSetPersistsAsNestedTOML(t *testing.T) {
	s := openTemp(t)
	require.NoError(t, s.Set(KeyBinaryPath, "/opt/codex/bin/codex"))
	require.NoError(t, s.Set(KeyNotifyApprovals, false))

	raw, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Contains(t, string(raw), "[appServer]")
	assert.Contains(t, string(raw), "binaryPath = '/opt/codex/bin/codex'")

	reopened, err := Open(s.Path(), nil)
	require.NoError(t, err)
	assert.Equal(t, "/opt/codex/bin/codex", reopened.BinaryPath())
	assert.False(t, reopened.Bool(KeyNotifyApprovals))
}

func TestReadsHandWrittenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preferences.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[appServer]
binaryPath = "/usr/local/bin/codex"

[ui]
theme = "dark"
fontSize = 14
`), 0o644))

	s, err := Open(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/bin/codex", s.BinaryPath())
	assert.Equal(t, "dark", s.String("ui.theme"))
	v, ok := s.Get("ui.fontSize")
	require.True(t, ok)
	assert.Equal(t, int64(14), v)

	_, ok = s.Get("ui")
	assert.False(t, ok, "tables are not values")
}

func TestSetValidation(t *testing.T) {
	s := openTemp(t)

	tests := []struct {
		name  string
		key   string
		value any
		want  error
	}{
		{"empty key", "", "x", ErrInvalidKey},
		{"empty segment", "a..b", "x", ErrInvalidKey},
		{"known key wrong type", KeyBinaryPath, true, ErrTypeMismatch},
		{"bool key given string", KeyNotifyCrash, "yes", ErrTypeMismatch},
		{"unsupported type", "ui.layout", []any{1, 2}, ErrTypeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, s.Set(tt.key, tt.value), tt.want)
		})
	}
}

func TestJSONNumbersNormalize(t *testing.T) {
	s := openTemp(t)
	require.NoError(t, s.Set("ui.fontSize", float64(13)))
	require.NoError(t, s.Set("ui.scale", 1.25))

	v, _ := s.Get("ui.fontSize")
	assert.Equal(t, int64(13), v)
	v, _ = s.Get("ui.scale")
	assert.Equal(t, 1.25, v)
}

func TestTableValueConflicts(t *testing.T) {
	s := openTemp(t)
	require.NoError(t, s.Set("ui.theme", "light"))
	assert.ErrorIs(t, s.Set("ui.theme.variant", "x"), ErrInvalidKey)
	assert.ErrorIs(t, s.Set("ui", "x"), ErrInvalidKey)
}

func TestDeleteRevertsToDefault(t *testing.T) {
	s := openTemp(t)
	require.NoError(t, s.Set(KeyNotifyCrash, false))
	require.NoError(t, s.Delete(KeyNotifyCrash))
	assert.True(t, s.Bool(KeyNotifyCrash))
	assert.NoError(t, s.Delete("never.set"))

	reopened, err := Open(s.Path(), nil)
	require.NoError(t, err)
	assert.True(t, reopened.Bool(KeyNotifyCrash))
}

func TestAllMergesDefaults(t *testing.T) {
	s := openTemp(t)
	require.NoError(t, s.Set("ui.theme", "light"))
	require.NoError(t, s.Set(KeyBinaryPath, "/bin/codex"))

	all := s.All()
	keys := make([]string, 0, len(all))
	byKey := make(map[string]Setting)
	for _, st := range all {
		keys = append(keys, st.Key)
		byKey[st.Key] = st
	}
	assert.Equal(t, []string{KeyAutoStart, KeyBinaryPath, KeyNotifyApprovals, KeyNotifyCrash, "ui.theme"}, keys)
	assert.Equal(t, "/bin/codex", byKey[KeyBinaryPath].Value)
	assert.Equal(t, "", byKey[KeyBinaryPath].Default)
	assert.Equal(t, true, byKey[KeyAutoStart].Value)
	assert.Equal(t, "light", byKey["ui.theme"].Value)
}

func TestCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preferences.toml")
	require.NoError(t, os.WriteFile(path, []byte("[appServer\nbinaryPath = "), 0o644))
	_, err := Open(path, nil)
	assert.Error(t, err)
}

func TestYAMLFileByExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preferences.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
appServer:
  binaryPath: /usr/local/bin/codex
ui:
  fontSize: 14
`), 0o644))

	s, err := Open(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/bin/codex", s.BinaryPath())
	v, ok := s.Get("ui.fontSize")
	require.True(t, ok)
	assert.Equal(t, int64(14), v)

	require.NoError(t, s.Set(KeyAutoStart, false))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "autoStart: false")
	assert.NotContains(t, string(raw), "[appServer]")

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	assert.False(t, reopened.Bool(KeyAutoStart))
	assert.Equal(t, "/usr/local/bin/codex", reopened.BinaryPath())
}

func TestFormatFor(t *testing.T) {
	assert.Equal(t, "yaml", formatFor("/a/prefs.yml").name)
	assert.Equal(t, "yaml", formatFor("/a/prefs.YAML").name)
	assert.Equal(t, "toml", formatFor("/a/prefs.toml").name)
	assert.Equal(t, "toml", formatFor("/a/prefs").name)
}
