package gogit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/sddbundle/internal/vcs"
)

// initRepo creates a repository whose bundle lives in a subdirectory,
// with one committed file.
func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	bundle := filepath.Join(dir, "spec")
	require.NoError(t, os.MkdirAll(filepath.Join(bundle, "bundle"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bundle, "bundle", "a.yaml"), []byte("a: 1\n"), 0o644))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("spec/bundle/a.yaml")
	require.NoError(t, err)
	_, err = wt.Commit("init", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return bundle
}

func TestOpen_NotInRepo(t *testing.T) {
	_, err := Open(t.TempDir())
	assert.True(t, errors.Is(err, vcs.ErrNotInVCS), "err = %v", err)
}

func TestListChangedFiles(t *testing.T) {
	bundle := initRepo(t)
	r, err := Open(bundle)
	require.NoError(t, err)
	ctx := context.Background()

	st, err := r.ListChangedFiles(ctx, []string{"bundle/a.yaml"})
	require.NoError(t, err)
	assert.Equal(t, []vcs.FileStatus{{Path: "bundle/a.yaml", Tracked: true, Modified: false}}, st)

	require.NoError(t, os.WriteFile(filepath.Join(bundle, "bundle", "a.yaml"), []byte("a: 2\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(bundle, "bundle", "new.yaml"), []byte("n: 1\n"), 0o644))

	st, err = r.ListChangedFiles(ctx, []string{"bundle/a.yaml", "bundle/new.yaml"})
	require.NoError(t, err)
	assert.Equal(t, []vcs.FileStatus{
		{Path: "bundle/a.yaml", Tracked: true, Modified: true},
		{Path: "bundle/new.yaml", Tracked: false, Modified: true},
	}, st)
}

func TestRevert(t *testing.T) {
	bundle := initRepo(t)
	r, err := Open(bundle)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, os.Remove(filepath.Join(bundle, "bundle", "a.yaml")))
	require.NoError(t, os.WriteFile(filepath.Join(bundle, "bundle", "new.yaml"), []byte("n: 1\n"), 0o644))

	require.NoError(t, vcs.Revert(ctx, r, []string{"bundle/a.yaml", "bundle/new.yaml"}))

	data, err := os.ReadFile(filepath.Join(bundle, "bundle", "a.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "a: 1\n", string(data))
	_, err = os.Stat(filepath.Join(bundle, "bundle", "new.yaml"))
	assert.True(t, os.IsNotExist(err))
}

func TestRevert_KeepsUncommittedWork(t *testing.T) {
	bundle := initRepo(t)
	r, err := Open(bundle)
	require.NoError(t, err)
	ctx := context.Background()

	file := func(name string) string { return filepath.Join(bundle, "bundle", name) }
	require.NoError(t, os.WriteFile(file("wip.yaml"), []byte("id: WIP-1\n"), 0o644))
	require.NoError(t, os.WriteFile(file("a.yaml"), []byte("a: edited\n"), 0o644))

	paths := []string{"bundle/a.yaml", "bundle/new.yaml", "bundle/wip.yaml"}
	require.NoError(t, r.Snapshot(ctx, paths))

	require.NoError(t, os.WriteFile(file("wip.yaml"), []byte("id: WIP-1\ntitle: batch\n"), 0o644))
	require.NoError(t, os.WriteFile(file("a.yaml"), []byte("a: batch\n"), 0o644))
	require.NoError(t, os.WriteFile(file("new.yaml"), []byte("n: 1\n"), 0o644))

	st, err := r.ListChangedFiles(ctx, paths)
	require.NoError(t, err)
	assert.Equal(t, []vcs.FileStatus{
		{Path: "bundle/a.yaml", Tracked: true, Modified: true},
		{Path: "bundle/new.yaml", Tracked: false, Modified: true},
		{Path: "bundle/wip.yaml", Tracked: true, Modified: true},
	}, st)

	require.NoError(t, vcs.Revert(ctx, r, paths))

	data, err := os.ReadFile(file("wip.yaml"))
	require.NoError(t, err, "uncommitted file must survive revert")
	assert.Equal(t, "id: WIP-1\n", string(data))
	data, err = os.ReadFile(file("a.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "a: edited\n", string(data), "uncommitted edit must survive revert")
	_, err = os.Stat(file("new.yaml"))
	assert.True(t, os.IsNotExist(err))
}

func TestRevert_CleanTrackedFileFromHead(t *testing.T) {
	bundle := initRepo(t)
	r, err := Open(bundle)
	require.NoError(t, err)
	ctx := context.Background()

	paths := []string{"bundle/a.yaml"}
	require.NoError(t, r.Snapshot(ctx, paths))
	require.NoError(t, os.Remove(filepath.Join(bundle, "bundle", "a.yaml")))

	require.NoError(t, vcs.Revert(ctx, r, paths))
	data, err := os.ReadFile(filepath.Join(bundle, "bundle", "a.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "a: 1\n", string(data))
}
