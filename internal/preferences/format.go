package preferences

import (
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// format is the on-disk encoding of a preferences file.
type format struct {
	name      string
	ext       string
	marshal   func(any) ([]byte, error)
	unmarshal func([]byte, any) error
}

var (
	tomlFormat = format{name: "toml", ext: ".toml", marshal: toml.Marshal, unmarshal: toml.Unmarshal}
	yamlFormat = format{name: "yaml", ext: ".yaml", marshal: yaml.Marshal, unmarshal: yaml.Unmarshal}
)

// formatFor picks the encoding from the file extension. Anything that is
// not .yaml or .yml is TOML.
func formatFor(path string) format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yamlFormat
	}
	return tomlFormat
}

// normalizeTree converts decoded integers to int64 so values read from
// either format compare the same way.
func normalizeTree(m map[string]any) {
	for k, v := range m {
		switch t := v.(type) {
		case map[string]any:
			normalizeTree(t)
		case uint64:
			if t <= 1<<63-1 {
				m[k] = int64(t)
			}
		case int:
			m[k] = int64(t)
		}
	}
}
