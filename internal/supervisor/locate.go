package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultSearchPaths are directories checked when the binary is not on
// PATH. GUI launches often get a minimal PATH that misses version managers.
var DefaultSearchPaths = []string{
	"~/.nvm/versions/node/*/bin",
	"~/.volta/bin",
	"~/.local/bin",
	"~/.cargo/bin",
	"/opt/homebrew/bin",
	"/usr/local/bin",
}

// Locator finds the app-server executable.
type Locator struct {
	// Binary is an explicit path; it wins over everything else.
	Binary string
	// Name is looked up on PATH and in SearchPaths.
	Name string
	// Override returns a user preference path, or "".
	Override func() string
	// SearchPaths are directory globs; "~" expands to the home directory.
	SearchPaths []string

	lookPath func(string) (string, error)
	home     func() (string, error)
}

// Locate resolves the executable path. Order: Binary, Override, PATH,
// then SearchPaths in order. Within one glob the lexically last match
// wins so newer versioned installs are preferred.
func (l *Locator) Locate() (string, error) {
	if l.Binary != "" {
		return checkExecutable(l.Binary)
	}
	if l.Override != nil {
		if p := strings.TrimSpace(l.Override()); p != "" {
			return checkExecutable(p)
		}
	}
	if l.Name == "" {
		return "", ErrBinaryNotFound
	}

	lookPath := l.lookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	if p, err := lookPath(l.Name); err == nil {
		return p, nil
	}

	home := l.home
	if home == nil {
		home = os.UserHomeDir
	}
	for _, dir := range l.SearchPaths {
		pattern, ok := expandHome(dir, home)
		if !ok {
			continue
		}
		matches, err := doublestar.FilepathGlob(filepath.Join(pattern, l.Name))
		if err != nil {
			continue
		}
		sort.Sort(sort.Reverse(sort.StringSlice(matches)))
		for _, m := range matches {
			if p, err := checkExecutable(m); err == nil {
				return p, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %q not on PATH or in %d search paths", ErrBinaryNotFound, l.Name, len(l.SearchPaths))
}

func expandHome(p string, home func() (string, error)) (string, bool) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, true
	}
	h, err := home()
	if err != nil || h == "" {
		return "", false
	}
	return filepath.Join(h, strings.TrimPrefix(p, "~")), true
}

func checkExecutable(p string) (string, error) {
	info, err := os.Stat(p)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBinaryNotFound, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s is not a regular file", ErrBinaryNotFound, p)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o111 == 0 {
		return "", fmt.Errorf("%w: %s is not executable", ErrBinaryNotFound, p)
	}
	return p, nil
}
