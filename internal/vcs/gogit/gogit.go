// Package gogit is a vcs.Reverter backed by go-git, restoring tracked
// files from the HEAD commit without a git binary. Paths captured with
// Snapshot are restored to their pre-batch bytes when those differ from
// HEAD.
package gogit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/starford/sddbundle/internal/vcs"
)

var _ vcs.Snapshotter = (*Repo)(nil)

func init() {
	vcs.Register(vcs.BackendGoGit, func(_ context.Context, bundleRoot string) (vcs.Reverter, error) {
		return Open(bundleRoot)
	})
}

// Repo wraps a go-git repository containing the bundle.
type Repo struct {
	repo       *git.Repository
	worktree   string // absolute, symlinks resolved
	bundleRoot string // absolute, symlinks resolved

	base vcs.Baseline
}

// Open opens the repository containing bundleRoot.
func Open(bundleRoot string) (*Repo, error) {
	abs, err := resolve(bundleRoot)
	if err != nil {
		return nil, fmt.Errorf("gogit: %w", err)
	}
	repo, err := git.PlainOpenWithOptions(abs, &git.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("gogit: %s: %w", abs, vcs.ErrNotInVCS)
	}
	if err != nil {
		return nil, fmt.Errorf("gogit: opening repository: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("gogit: worktree: %w", err)
	}
	root, err := resolve(wt.Filesystem.Root())
	if err != nil {
		return nil, fmt.Errorf("gogit: %w", err)
	}
	return &Repo{repo: repo, worktree: root, bundleRoot: abs}, nil
}

func resolve(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

// repoPath converts a bundle-relative path to a worktree-relative one.
func (r *Repo) repoPath(p string) (string, error) {
	rel, err := filepath.Rel(r.worktree, filepath.Join(r.bundleRoot, filepath.FromSlash(p)))
	if err != nil {
		return "", fmt.Errorf("gogit: %s: %w", p, err)
	}
	return filepath.ToSlash(rel), nil
}

func (r *Repo) diskPath(p string) string {
	return filepath.Join(r.bundleRoot, filepath.FromSlash(p))
}

// headTree returns the tree of HEAD, or nil for a repository without commits.
func (r *Repo) headTree() (*object.Tree, error) {
	head, err := r.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("gogit: getting HEAD reference: %w", err)
	}
	commit, err := r.repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("gogit: HEAD commit: %w", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("gogit: HEAD tree: %w", err)
	}
	return tree, nil
}

// headFile returns the HEAD version of a bundle path, or nil if untracked.
func (r *Repo) headFile(tree *object.Tree, p string) (*object.File, error) {
	if tree == nil {
		return nil, nil
	}
	rel, err := r.repoPath(p)
	if err != nil {
		return nil, err
	}
	f, err := tree.File(rel)
	if errors.Is(err, object.ErrFileNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("gogit: %s: %w", p, err)
	}
	return f, nil
}

// Snapshot records the pre-batch content of paths.
func (r *Repo) Snapshot(_ context.Context, paths []string) error {
	return r.base.Capture(paths, func(p string) ([]byte, error) {
		return os.ReadFile(r.diskPath(p))
	})
}

// ListChangedFiles compares each path with its snapshot, or with its HEAD
// version when it was not captured. Tracked means the file must be
// restored rather than deleted.
func (r *Repo) ListChangedFiles(_ context.Context, paths []string) ([]vcs.FileStatus, error) {
	tree, err := r.headTree()
	if err != nil {
		return nil, err
	}
	out := make([]vcs.FileStatus, 0, len(paths))
	for _, p := range paths {
		if saved, existed, known := r.base.Lookup(p); known {
			st, err := r.statusAgainst(p, saved, existed)
			if err != nil {
				return nil, err
			}
			out = append(out, st)
			continue
		}
		f, err := r.headFile(tree, p)
		if err != nil {
			return nil, err
		}
		st := vcs.FileStatus{Path: p, Tracked: f != nil, Modified: true}
		if f != nil {
			disk, err := os.ReadFile(r.diskPath(p))
			switch {
			case errors.Is(err, fs.ErrNotExist):
			case err != nil:
				return nil, fmt.Errorf("gogit: %s: %w", p, err)
			default:
				committed, err := f.Contents()
				if err != nil {
					return nil, fmt.Errorf("gogit: %s: %w", p, err)
				}
				st.Modified = committed != string(disk)
			}
		}
		out = append(out, st)
	}
	return out, nil
}

func (r *Repo) statusAgainst(p string, saved []byte, existed bool) (vcs.FileStatus, error) {
	st := vcs.FileStatus{Path: p, Tracked: existed}
	cur, err := os.ReadFile(r.diskPath(p))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		st.Modified = existed
	case err != nil:
		return st, fmt.Errorf("gogit: %s: %w", p, err)
	default:
		st.Modified = !existed || !bytes.Equal(cur, saved)
	}
	return st, nil
}

// RestoreTracked writes paths back to disk: the snapshot bytes when the
// path was captured, else the HEAD content.
func (r *Repo) RestoreTracked(_ context.Context, paths []string) error {
	tree, err := r.headTree()
	if err != nil {
		return err
	}
	for _, p := range paths {
		f, err := r.headFile(tree, p)
		if err != nil {
			return err
		}
		mode := os.FileMode(0o644)
		var committed []byte
		if f != nil {
			contents, err := f.Contents()
			if err != nil {
				return fmt.Errorf("gogit: %s: %w", p, err)
			}
			committed = []byte(contents)
			if m, err := f.Mode.ToOSFileMode(); err == nil {
				mode = m.Perm()
			}
		}

		content := committed
		if saved, existed, known := r.base.Lookup(p); known && existed {
			content = saved
		} else if f == nil {
			return fmt.Errorf("gogit: restore %s: not tracked", p)
		}

		dst := r.diskPath(p)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("gogit: %w", err)
		}
		if err := os.WriteFile(dst, content, mode); err != nil {
			return fmt.Errorf("gogit: restore %s: %w", p, err)
		}
	}
	return nil
}

// DeleteUntracked removes paths from the work tree. Paths that existed
// at snapshot time are never deleted.
func (r *Repo) DeleteUntracked(_ context.Context, paths []string) error {
	for _, p := range paths {
		if _, existed, known := r.base.Lookup(p); known && existed {
			return fmt.Errorf("gogit: delete %s: file existed before the batch", p)
		}
		if err := os.Remove(r.diskPath(p)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("gogit: delete %s: %w", p, err)
		}
	}
	return nil
}
