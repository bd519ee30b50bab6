package preferences

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Well-known keys
const (
	KeyBinaryPath      = "appServer.binaryPath"
	KeyAutoStart       = "appServer.autoStart"
	KeyNotifyApprovals = "tray.notifyOnApproval"
	KeyNotifyCrash     = "tray.notifyOnCrash"
)

var (
	// ErrInvalidKey is returned for empty or malformed dotted keys.
	ErrInvalidKey = errors.New("invalid preference key")

	// ErrTypeMismatch is returned when a value does not match a known key's type.
	ErrTypeMismatch = errors.New("preference type mismatch")
)

// Setting describes a known preference.
type Setting struct {
	Key         string `json:"key"`
	Value       any    `json:"value"`
	Default     any    `json:"default"`
	Description string `json:"description"`
}

var defaults = map[string]Setting{
	KeyBinaryPath:      {Key: KeyBinaryPath, Default: "", Description: "Path to the app-server executable; empty means search"},
	KeyAutoStart:       {Key: KeyAutoStart, Default: true, Description: "Start the app-server when the shell starts"},
	KeyNotifyApprovals: {Key: KeyNotifyApprovals, Default: true, Description: "Show a tray notice when an approval is waiting"},
	KeyNotifyCrash:     {Key: KeyNotifyCrash, Default: true, Description: "Show a tray notice when the app-server crashes"},
}

// Store is a file-backed key-value store. Dotted keys map to nested
// tables, so appServer.binaryPath is written as
//
//	[appServer]
//	binaryPath = "/usr/local/bin/codex"
//
// in TOML, or as a nested mapping when the file ends in .yaml or .yml.
type Store struct {
	path   string
	format format
	logger *zap.Logger

	mu   sync.RWMutex
	data map[string]any
}

// Open loads the store at path. A missing file yields an empty store that
// is created on first Set.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{path: path, format: formatFor(path), logger: logger, data: make(map[string]any)}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read preferences: %w", err)
	}
	if err := s.format.unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("parse preferences %s: %w", path, err)
	}
	if s.data == nil {
		s.data = make(map[string]any)
	}
	normalizeTree(s.data)
	return s, nil
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// Get returns the stored value for key, or its default.
func (s *Store) Get(key string) (any, bool) {
	parts, err := splitKey(key)
	if err != nil {
		return nil, false
	}
	s.mu.RLock()
	v, ok := lookup(s.data, parts)
	s.mu.RUnlock()
	if ok {
		return v, true
	}
	if d, ok := defaults[key]; ok {
		return d.Default, true
	}
	return nil, false
}

// String returns key as a string, or "".
func (s *Store) String(key string) string {
	v, _ := s.Get(key)
	str, _ := v.(string)
	return str
}

// Bool returns key as a bool, or false.
func (s *Store) Bool(key string) bool {
	v, _ := s.Get(key)
	b, _ := v.(bool)
	return b
}

// BinaryPath returns the preferred app-server path, or "".
func (s *Store) BinaryPath() string {
	return s.String(KeyBinaryPath)
}

// Set stores value under key and writes the file.
func (s *Store) Set(key string, value any) error {
	parts, err := splitKey(key)
	if err != nil {
		return err
	}
	value, err = normalize(key, value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := insert(s.data, parts, value); err != nil {
		return err
	}
	return s.saveLocked()
}

// Delete removes key, reverting it to its default.
func (s *Store) Delete(key string) error {
	parts, err := splitKey(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !remove(s.data, parts) {
		return nil
	}
	return s.saveLocked()
}

// All returns every known and stored preference, sorted by key.
func (s *Store) All() []Setting {
	flat := make(map[string]any)
	s.mu.RLock()
	flatten("", s.data, flat)
	s.mu.RUnlock()

	out := make([]Setting, 0, len(flat)+len(defaults))
	for key, d := range defaults {
		if v, ok := flat[key]; ok {
			d.Value = v
			delete(flat, key)
		} else {
			d.Value = d.Default
		}
		out = append(out, d)
	}
	for key, v := range flat {
		out = append(out, Setting{Key: key, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (s *Store) saveLocked() error {
	raw, err := s.format.marshal(s.data)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create preferences dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".preferences-*"+s.format.ext)
	if err != nil {
		return fmt.Errorf("write preferences: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write preferences: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write preferences: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write preferences: %w", err)
	}
	s.logger.Debug("preferences saved",
		zap.String("path", s.path),
		zap.String("format", s.format.name),
	)
	return nil
}

func splitKey(key string) ([]string, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	parts := strings.Split(key, ".")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return parts, nil
}

// normalize checks value against the default's type for known keys and
// accepts scalars for unknown ones. JSON numbers arrive as float64;
// integral ones are stored as int64 to round-trip through TOML cleanly.
func normalize(key string, value any) (any, error) {
	if f, ok := value.(float64); ok && f == float64(int64(f)) {
		value = int64(f)
	}
	if d, ok := defaults[key]; ok {
		if fmt.Sprintf("%T", d.Default) != fmt.Sprintf("%T", value) {
			return nil, fmt.Errorf("%w: %s wants %T, got %T", ErrTypeMismatch, key, d.Default, value)
		}
		return value, nil
	}
	switch value.(type) {
	case string, bool, int64, float64:
		return value, nil
	}
	return nil, fmt.Errorf("%w: %s: unsupported value type %T", ErrTypeMismatch, key, value)
}

func lookup(m map[string]any, parts []string) (any, bool) {
	for i, p := range parts {
		v, ok := m[p]
		if !ok {
			return nil, false
		}
		if i == len(parts)-1 {
			if _, isTable := v.(map[string]any); isTable {
				return nil, false
			}
			return v, true
		}
		next, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		m = next
	}
	return nil, false
}

func insert(m map[string]any, parts []string, value any) error {
	for _, p := range parts[:len(parts)-1] {
		next, ok := m[p]
		if !ok {
			t := make(map[string]any)
			m[p] = t
			m = t
			continue
		}
		t, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: %s is a value, not a table", ErrInvalidKey, p)
		}
		m = t
	}
	last := parts[len(parts)-1]
	if _, isTable := m[last].(map[string]any); isTable {
		return fmt.Errorf("%w: %s is a table", ErrInvalidKey, last)
	}
	m[last] = value
	return nil
}

func remove(m map[string]any, parts []string) bool {
	if len(parts) == 1 {
		if _, ok := m[parts[0]]; !ok {
			return false
		}
		delete(m, parts[0])
		return true
	}
	next, ok := m[parts[0]].(map[string]any)
	if !ok {
		return false
	}
	removed := remove(next, parts[1:])
	if removed && len(next) == 0 {
		delete(m, parts[0])
	}
	return removed
}

func flatten(prefix string, m map[string]any, out map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if t, ok := v.(map[string]any); ok {
			flatten(key, t, out)
			continue
		}
		out[key] = v
	}
}
