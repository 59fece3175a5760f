// Package vcs provides the revert capability used by the commit protocol:
// list which touched files are tracked, restore tracked files to their
// last committed (or snapshotted) content and delete untracked ones.
//
// Backends register themselves with Register. The in-process snapshot
// backend is always available:
//
//	r, err := vcs.New(ctx, vcs.BackendSnapshot, store)
//	...
//	err = vcs.Revert(ctx, r, modifiedFiles)
package vcs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/starford/sddbundle/internal/storage"
)

// Backend names.
const (
	BackendSnapshot = "snapshot"
	BackendGit      = "git"
	BackendGoGit    = "go-git"
)

var (
	// ErrNotInVCS is returned when the bundle is not inside a repository.
	ErrNotInVCS = errors.New("not in a VCS repository")
	// ErrVCSNotAvailable is returned when the git binary is missing.
	ErrVCSNotAvailable = errors.New("VCS binary not available")
	// ErrNotSnapshotted is returned when reverting a path that was never captured.
	ErrNotSnapshotted = errors.New("path not snapshotted")
	// ErrUnknownBackend is returned by New for unregistered backends.
	ErrUnknownBackend = errors.New("unknown VCS backend")
)

// FileStatus describes one touched path relative to the bundle root.
type FileStatus struct {
	Path     string `json:"path"`
	Tracked  bool   `json:"tracked"`
	Modified bool   `json:"modified"`
}

// Reverter restores touched files after a failed batch.
type Reverter interface {
	ListChangedFiles(ctx context.Context, paths []string) ([]FileStatus, error)
	RestoreTracked(ctx context.Context, paths []string) error
	DeleteUntracked(ctx context.Context, paths []string) error
}

// Snapshotter is implemented by reverters that must capture state before
// files are written.
type Snapshotter interface {
	Snapshot(ctx context.Context, paths []string) error
}

// Revert restores tracked paths and deletes untracked ones.
func Revert(ctx context.Context, r Reverter, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	statuses, err := r.ListChangedFiles(ctx, paths)
	if err != nil {
		return fmt.Errorf("vcs: list changed files: %w", err)
	}
	var tracked, untracked []string
	for _, s := range statuses {
		if s.Tracked {
			tracked = append(tracked, s.Path)
		} else {
			untracked = append(untracked, s.Path)
		}
	}
	sort.Strings(tracked)
	sort.Strings(untracked)
	if len(tracked) > 0 {
		if err := r.RestoreTracked(ctx, tracked); err != nil {
			return fmt.Errorf("vcs: restore tracked: %w", err)
		}
	}
	if len(untracked) > 0 {
		if err := r.DeleteUntracked(ctx, untracked); err != nil {
			return fmt.Errorf("vcs: delete untracked: %w", err)
		}
	}
	return nil
}

// Constructor opens a backend for the bundle rooted at bundleRoot.
type Constructor func(ctx context.Context, bundleRoot string) (Reverter, error)

var (
	registry      = make(map[string]Constructor)
	registryMutex sync.RWMutex
)

// Register registers a backend constructor. It is called from init
// functions of the backend packages.
func Register(name string, c Constructor) {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	if c == nil {
		panic(fmt.Sprintf("vcs: Register constructor is nil for %s", name))
	}
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("vcs: Register called twice for %s", name))
	}
	registry[name] = c
}

// IsRegistered reports whether a backend is available.
func IsRegistered(name string) bool {
	if name == BackendSnapshot {
		return true
	}
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, ok := registry[name]
	return ok
}

// New opens the named backend for store's root.
func New(ctx context.Context, name string, store storage.Provider) (Reverter, error) {
	if name == "" || name == BackendSnapshot {
		return NewSnapshot(store), nil
	}
	registryMutex.RLock()
	c, ok := registry[name]
	registryMutex.RUnlock()
	if !ok {
		return nil, fmt.Errorf("vcs: %q: %w", name, ErrUnknownBackend)
	}
	return c(ctx, store.Root())
}
