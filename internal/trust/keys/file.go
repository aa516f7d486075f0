package keys

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"cis/pkg/platform/sentinel"
)

// fileExtensions are tried in order for a key name.
var fileExtensions = []string{".pem", ".jwk", ".json"}

// FileProvider reads keys from <dir>/<name>{.pem,.jwk,.json}.
type FileProvider struct {
	dir string
}

// NewFileProvider constructs a provider rooted at dir.
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{dir: dir}
}

// Key implements Provider.
func (p *FileProvider) Key(_ context.Context, name string) (*Material, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, fmt.Errorf("key %q: %w: invalid name", name, ErrMalformed)
	}
	for _, ext := range fileExtensions {
		data, err := os.ReadFile(filepath.Join(p.dir, name+ext))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read key %s: %w: %w", name, sentinel.ErrUnavailable, err)
		}
		return Parse(name, data)
	}
	return nil, fmt.Errorf("key %s in %s: %w", name, p.dir, sentinel.ErrNotFound)
}
