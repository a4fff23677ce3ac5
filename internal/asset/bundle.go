package asset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrUnknownAsset is returned when a bundled asset name does not resolve.
var ErrUnknownAsset = errors.New("asset: unknown bundled asset")

var bundleExtensions = []string{"", ".png", ".webp", ".jpg", ".jpeg"}

// Bundle resolves named overlay images shipped alongside the service.
type Bundle struct {
	dir string
}

// NewBundle returns a Bundle rooted at dir.
func NewBundle(dir string) *Bundle {
	return &Bundle{dir: dir}
}

// Resolve returns the path of the bundled asset called name. The name may
// omit its image extension. Names containing path separators are rejected.
func (b *Bundle) Resolve(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || b.dir == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrUnknownAsset, name)
	}
	for _, ext := range bundleExtensions {
		p := filepath.Join(b.dir, name+ext)
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAsset, name)
}

// List returns the bundled asset names without extensions, sorted.
func (b *Bundle) List() ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("asset: list bundle: %w", err)
	}
	seen := make(map[string]bool)
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		n := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names, nil
}
