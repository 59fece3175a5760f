package vcs

import (
	"errors"
	"fmt"
	"io/fs"
	"sync"
)

// Baseline records the on-disk state of paths just before a batch writes
// them. Git backends use it so that revert returns a file to its pre-batch
// bytes rather than to HEAD: uncommitted edits survive, and a file that
// existed but was never committed is not deleted.
type Baseline struct {
	mu    sync.Mutex
	saved map[string][]byte // nil value: absent before the batch
}

// Capture replaces the record with the current content of paths. read
// must return an error wrapping fs.ErrNotExist for missing files.
func (b *Baseline) Capture(paths []string, read func(p string) ([]byte, error)) error {
	saved := make(map[string][]byte, len(paths))
	for _, p := range paths {
		data, err := read(p)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			saved[p] = nil
		case err != nil:
			return fmt.Errorf("vcs: capture %s: %w", p, err)
		case data == nil:
			saved[p] = []byte{}
		default:
			saved[p] = data
		}
	}
	b.mu.Lock()
	b.saved = saved
	b.mu.Unlock()
	return nil
}

// Lookup returns the pre-batch bytes of p. existed is false when p was
// absent; known is false when p was never captured.
func (b *Baseline) Lookup(p string) (data []byte, existed, known bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, known = b.saved[p]
	return data, data != nil, known
}
