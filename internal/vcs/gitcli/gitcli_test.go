package gitcli

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/sddbundle/internal/vcs"
)

func run(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com")
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
}

func initRepo(t *testing.T) (repo, bundle string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	repo = t.TempDir()
	bundle = filepath.Join(repo, "spec")
	require.NoError(t, os.MkdirAll(filepath.Join(bundle, "bundle"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bundle, "bundle", "a.yaml"), []byte("a: 1\n"), 0o644))
	run(t, repo, "init", "-q")
	run(t, repo, "add", ".")
	run(t, repo, "commit", "-q", "-m", "init")
	return repo, bundle
}

func TestNew_NotInRepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	_, err := New(context.Background(), t.TempDir())
	assert.True(t, errors.Is(err, vcs.ErrNotInVCS), "err = %v", err)
}

func TestRevert(t *testing.T) {
	_, bundle := initRepo(t)
	ctx := context.Background()
	g, err := New(ctx, bundle)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(bundle, "bundle", "a.yaml"), []byte("a: 2\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(bundle, "bundle", "b.yaml"), []byte("b: 1\n"), 0o644))

	paths := []string{"bundle/a.yaml", "bundle/b.yaml"}
	st, err := g.ListChangedFiles(ctx, paths)
	require.NoError(t, err)
	assert.Equal(t, []vcs.FileStatus{
		{Path: "bundle/a.yaml", Tracked: true, Modified: true},
		{Path: "bundle/b.yaml", Tracked: false, Modified: true},
	}, st)

	require.NoError(t, vcs.Revert(ctx, g, paths))

	data, err := os.ReadFile(filepath.Join(bundle, "bundle", "a.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "a: 1\n", string(data))
	_, err = os.Stat(filepath.Join(bundle, "bundle", "b.yaml"))
	assert.True(t, os.IsNotExist(err))
}

func TestRevert_KeepsUncommittedWork(t *testing.T) {
	_, bundle := initRepo(t)
	ctx := context.Background()
	g, err := New(ctx, bundle)
	require.NoError(t, err)

	file := func(name string) string { return filepath.Join(bundle, "bundle", name) }
	require.NoError(t, os.WriteFile(file("wip.yaml"), []byte("id: WIP-1\n"), 0o644))
	require.NoError(t, os.WriteFile(file("a.yaml"), []byte("a: edited\n"), 0o644))

	paths := []string{"bundle/a.yaml", "bundle/new.yaml", "bundle/wip.yaml"}
	require.NoError(t, g.Snapshot(ctx, paths))

	require.NoError(t, os.WriteFile(file("wip.yaml"), []byte("id: WIP-1\ntitle: batch\n"), 0o644))
	require.NoError(t, os.WriteFile(file("a.yaml"), []byte("a: batch\n"), 0o644))
	require.NoError(t, os.WriteFile(file("new.yaml"), []byte("n: 1\n"), 0o644))

	require.NoError(t, vcs.Revert(ctx, g, paths))

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
	_, bundle := initRepo(t)
	ctx := context.Background()
	g, err := New(ctx, bundle)
	require.NoError(t, err)

	paths := []string{"bundle/a.yaml"}
	require.NoError(t, g.Snapshot(ctx, paths))
	require.NoError(t, os.WriteFile(filepath.Join(bundle, "bundle", "a.yaml"), []byte("a: batch\n"), 0o644))

	require.NoError(t, vcs.Revert(ctx, g, paths))
	data, err := os.ReadFile(filepath.Join(bundle, "bundle", "a.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "a: 1\n", string(data))
}
