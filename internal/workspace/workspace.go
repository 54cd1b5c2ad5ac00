// Package workspace provides per-request scratch directories.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const pattern = "req-*"

// Scope is a temporary directory owned by one request. Release removes it and everything
// inside; it is safe to call more than once.
type Scope struct {
	dir  string
	once sync.Once
	err  error
}

// Acquire creates a fresh directory under root, creating root if needed.
func Acquire(root string) (*Scope, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	dir, err := os.MkdirTemp(root, pattern)
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Scope{dir: dir}, nil
}

// Dir is the scope's directory.
func (s *Scope) Dir() string {
	return s.dir
}

// Path joins name onto the scope's directory. Directory components of name are dropped.
func (s *Scope) Path(name string) string {
	return filepath.Join(s.dir, filepath.Base(name))
}

// Release removes the directory and everything in it. Later calls return the first result.
func (s *Scope) Release() error {
	s.once.Do(func() {
		if err := os.RemoveAll(s.dir); err != nil {
			s.err = fmt.Errorf("release workspace %s: %w", s.dir, err)
		}
	})
	return s.err
}
