package vcs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/starford/sddbundle/internal/checksum"
	"github.com/starford/sddbundle/internal/storage"
)

// Snapshot is an in-process Reverter. It records the bytes of each path
// when Snapshot is called; paths that did not exist then count as untracked.
type Snapshot struct {
	store storage.Provider

	mu    sync.Mutex
	saved map[string][]byte // nil value: absent at snapshot time
}

// NewSnapshot creates a snapshot reverter over store.
func NewSnapshot(store storage.Provider) *Snapshot {
	return &Snapshot{store: store, saved: make(map[string][]byte)}
}

// Snapshot captures the current content of paths, replacing any earlier capture.
func (s *Snapshot) Snapshot(_ context.Context, paths []string) error {
	saved := make(map[string][]byte, len(paths))
	for _, p := range paths {
		ok, err := s.store.Exists(p)
		if err != nil {
			return fmt.Errorf("vcs: snapshot %s: %w", p, err)
		}
		if !ok {
			saved[p] = nil
			continue
		}
		data, err := s.store.Read(p)
		if err != nil {
			return fmt.Errorf("vcs: snapshot %s: %w", p, err)
		}
		saved[p] = data
	}
	s.mu.Lock()
	s.saved = saved
	s.mu.Unlock()
	return nil
}

func (s *Snapshot) lookup(p string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.saved[p]
	if !ok {
		return nil, fmt.Errorf("vcs: %s: %w", p, ErrNotSnapshotted)
	}
	return data, nil
}

// ListChangedFiles reports each path's status relative to the snapshot.
func (s *Snapshot) ListChangedFiles(_ context.Context, paths []string) ([]FileStatus, error) {
	out := make([]FileStatus, 0, len(paths))
	for _, p := range paths {
		saved, err := s.lookup(p)
		if err != nil {
			return nil, err
		}
		st := FileStatus{Path: p, Tracked: saved != nil}
		cur, err := s.store.Read(p)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			st.Modified = saved != nil
		case err != nil:
			return nil, fmt.Errorf("vcs: status %s: %w", p, err)
		default:
			st.Modified = saved == nil || checksum.Sum(cur) != checksum.Sum(saved)
		}
		out = append(out, st)
	}
	return out, nil
}

// RestoreTracked writes back the captured content of paths.
func (s *Snapshot) RestoreTracked(_ context.Context, paths []string) error {
	for _, p := range paths {
		saved, err := s.lookup(p)
		if err != nil {
			return err
		}
		if saved == nil {
			return fmt.Errorf("vcs: restore %s: not tracked", p)
		}
		if err := s.store.Write(p, saved); err != nil {
			return err
		}
	}
	return nil
}

// DeleteUntracked removes paths that were absent at snapshot time.
func (s *Snapshot) DeleteUntracked(_ context.Context, paths []string) error {
	for _, p := range paths {
		ok, err := s.store.Exists(p)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := s.store.Delete(p); err != nil {
			return err
		}
	}
	return nil
}
