package vcs

import (
	"context"
	"errors"
	"testing"

	"github.com/starford/sddbundle/internal/storage"
)

func TestSnapshotRevert(t *testing.T) {
	store, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	ctx := context.Background()
	_ = store.Write("a.yaml", []byte("a: 1\n"))
	_ = store.Write("gone.yaml", []byte("g: 1\n"))

	r, err := New(ctx, BackendSnapshot, store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	paths := []string{"a.yaml", "gone.yaml", "new.yaml"}
	if err := r.(Snapshotter).Snapshot(ctx, paths); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	_ = store.Write("a.yaml", []byte("a: 2\n"))
	_ = store.Delete("gone.yaml")
	_ = store.Write("new.yaml", []byte("n: 1\n"))

	st, err := r.ListChangedFiles(ctx, paths)
	if err != nil {
		t.Fatalf("ListChangedFiles: %v", err)
	}
	want := []FileStatus{
		{Path: "a.yaml", Tracked: true, Modified: true},
		{Path: "gone.yaml", Tracked: true, Modified: true},
		{Path: "new.yaml", Tracked: false, Modified: true},
	}
	for i := range want {
		if st[i] != want[i] {
			t.Errorf("status[%d] = %+v, want %+v", i, st[i], want[i])
		}
	}

	if err := Revert(ctx, r, paths); err != nil {
		t.Fatalf("Revert: %v", err)
	}
	if got, _ := store.Read("a.yaml"); string(got) != "a: 1\n" {
		t.Errorf("a.yaml = %q", got)
	}
	if got, _ := store.Read("gone.yaml"); string(got) != "g: 1\n" {
		t.Errorf("gone.yaml = %q", got)
	}
	if ok, _ := store.Exists("new.yaml"); ok {
		t.Error("new.yaml should be deleted")
	}
}

func TestSnapshot_UnknownPath(t *testing.T) {
	store, _ := storage.NewFS(t.TempDir())
	s := NewSnapshot(store)
	_, err := s.ListChangedFiles(context.Background(), []string{"x.yaml"})
	if !errors.Is(err, ErrNotSnapshotted) {
		t.Errorf("err = %v, want ErrNotSnapshotted", err)
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	store, _ := storage.NewFS(t.TempDir())
	if _, err := New(context.Background(), "svn", store); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("err = %v, want ErrUnknownBackend", err)
	}
	if !IsRegistered(BackendSnapshot) {
		t.Error("snapshot backend should always be available")
	}
}
