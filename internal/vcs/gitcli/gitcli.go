// Package gitcli is a vcs.Reverter that shells out to the git binary.
// Paths captured with Snapshot are restored to their pre-batch bytes;
// git checkout is used when those match HEAD.
package gitcli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/starford/sddbundle/internal/vcs"
)

var _ vcs.Snapshotter = (*Git)(nil)

func init() {
	vcs.Register(vcs.BackendGit, func(ctx context.Context, bundleRoot string) (vcs.Reverter, error) {
		return New(ctx, bundleRoot)
	})
}

// Git runs git commands with the bundle root as working directory, so
// bundle-relative paths are valid pathspecs.
type Git struct {
	bundleRoot string
	repoRoot   string

	base vcs.Baseline
}

// New verifies that bundleRoot is inside a git work tree.
func New(ctx context.Context, bundleRoot string) (*Git, error) {
	abs, err := filepath.Abs(bundleRoot)
	if err != nil {
		return nil, fmt.Errorf("gitcli: %w", err)
	}
	g := &Git{bundleRoot: abs}
	out, err := g.exec(ctx, "rev-parse", "--show-toplevel")
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, vcs.ErrVCSNotAvailable
		}
		return nil, fmt.Errorf("gitcli: %s: %w", abs, vcs.ErrNotInVCS)
	}
	g.repoRoot = strings.TrimSpace(string(out))
	return g, nil
}

// RepoRoot returns the repository top-level directory.
func (g *Git) RepoRoot() string { return g.repoRoot }

func (g *Git) exec(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.bundleRoot
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return out, fmt.Errorf("git %s failed: %w\n%s", strings.Join(args, " "), err, stderr.String())
	}
	return out, nil
}

func (g *Git) hasHead(ctx context.Context) bool {
	_, err := g.exec(ctx, "rev-parse", "--verify", "-q", "HEAD")
	return err == nil
}

func splitZ(out []byte) map[string]bool {
	set := make(map[string]bool)
	for _, p := range strings.Split(string(out), "\x00") {
		if p != "" {
			set[p] = true
		}
	}
	return set
}

func (g *Git) diskPath(p string) string {
	return filepath.Join(g.bundleRoot, filepath.FromSlash(p))
}

// headContent returns the HEAD version of a bundle path.
func (g *Git) headContent(ctx context.Context, p string) ([]byte, bool) {
	out, err := g.exec(ctx, "show", "HEAD:./"+p)
	if err != nil {
		return nil, false
	}
	return out, true
}

// Snapshot records the pre-batch content of paths.
func (g *Git) Snapshot(_ context.Context, paths []string) error {
	return g.base.Capture(paths, func(p string) ([]byte, error) {
		return os.ReadFile(g.diskPath(p))
	})
}

// ListChangedFiles reports, for captured paths, whether they existed before
// the batch and differ from that state. Other paths are compared with HEAD.
func (g *Git) ListChangedFiles(ctx context.Context, paths []string) ([]vcs.FileStatus, error) {
	var rest []string
	captured := make(map[string]vcs.FileStatus)
	for _, p := range paths {
		saved, existed, known := g.base.Lookup(p)
		if !known {
			rest = append(rest, p)
			continue
		}
		st := vcs.FileStatus{Path: p, Tracked: existed}
		cur, err := os.ReadFile(g.diskPath(p))
		switch {
		case errors.Is(err, fs.ErrNotExist):
			st.Modified = existed
		case err != nil:
			return nil, fmt.Errorf("gitcli: %s: %w", p, err)
		default:
			st.Modified = !existed || !bytes.Equal(cur, saved)
		}
		captured[p] = st
	}

	fromHead, err := g.headStatus(ctx, rest)
	if err != nil {
		return nil, err
	}
	out := make([]vcs.FileStatus, 0, len(paths))
	for _, p := range paths {
		if st, ok := captured[p]; ok {
			out = append(out, st)
		} else {
			out = append(out, fromHead[p])
		}
	}
	return out, nil
}

// headStatus reports which paths exist in HEAD and which differ from it.
func (g *Git) headStatus(ctx context.Context, paths []string) (map[string]vcs.FileStatus, error) {
	out := make(map[string]vcs.FileStatus, len(paths))
	if len(paths) == 0 {
		return out, nil
	}
	if !g.hasHead(ctx) {
		for _, p := range paths {
			out[p] = vcs.FileStatus{Path: p, Modified: true}
		}
		return out, nil
	}
	args := append([]string{"ls-tree", "-r", "--name-only", "-z", "HEAD", "--"}, paths...)
	lsOut, err := g.exec(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("gitcli: %w", err)
	}
	tracked := splitZ(lsOut)

	args = append([]string{"diff", "--name-only", "-z", "--relative", "HEAD", "--"}, paths...)
	diffOut, err := g.exec(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("gitcli: %w", err)
	}
	modified := splitZ(diffOut)

	for _, p := range paths {
		st := vcs.FileStatus{Path: p, Tracked: tracked[p], Modified: modified[p]}
		if !st.Tracked {
			st.Modified = true
		}
		out[p] = st
	}
	return out, nil
}

// RestoreTracked returns paths to their pre-batch content. Paths that were
// not captured, or whose captured content equals HEAD, are checked out
// from HEAD.
func (g *Git) RestoreTracked(ctx context.Context, paths []string) error {
	var checkout []string
	for _, p := range paths {
		saved, existed, known := g.base.Lookup(p)
		if !known || !existed {
			checkout = append(checkout, p)
			continue
		}
		if head, ok := g.headContent(ctx, p); ok && bytes.Equal(head, saved) {
			checkout = append(checkout, p)
			continue
		}
		dst := g.diskPath(p)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("gitcli: %w", err)
		}
		if err := os.WriteFile(dst, saved, 0o644); err != nil {
			return fmt.Errorf("gitcli: restore %s: %w", p, err)
		}
	}
	if len(checkout) == 0 {
		return nil
	}
	args := append([]string{"checkout", "HEAD", "--"}, checkout...)
	if _, err := g.exec(ctx, args...); err != nil {
		return fmt.Errorf("gitcli: %w", err)
	}
	return nil
}

// DeleteUntracked removes paths from the work tree. Paths that existed
// at snapshot time are never deleted.
func (g *Git) DeleteUntracked(_ context.Context, paths []string) error {
	for _, p := range paths {
		if _, existed, known := g.base.Lookup(p); known && existed {
			return fmt.Errorf("gitcli: delete %s: file existed before the batch", p)
		}
		err := os.Remove(g.diskPath(p))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("gitcli: delete %s: %w", p, err)
		}
	}
	return nil
}
