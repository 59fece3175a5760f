package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func tempBundle(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	s, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return s
}

func TestWriteAndRead(t *testing.T) {
	s := tempBundle(t)
	content := []byte("id: FEAT-001\ntitle: Login\n")
	if err := s.Write("bundle/features/FEAT-001.yaml", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("bundle/features/FEAT-001.yaml")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestExists(t *testing.T) {
	s := tempBundle(t)
	_ = s.Write("a.yaml", []byte("id: A\n"))

	ok, err := s.Exists("a.yaml")
	if err != nil || !ok {
		t.Fatalf("Exists(a.yaml) = %v, %v", ok, err)
	}
	ok, err = s.Exists("missing.yaml")
	if err != nil || ok {
		t.Errorf("Exists(missing.yaml) = %v, %v", ok, err)
	}
}

func TestDelete(t *testing.T) {
	s := tempBundle(t)
	_ = s.Write("del.yaml", []byte("id: X\n"))
	if err := s.Delete("del.yaml"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read("del.yaml"); err == nil {
		t.Error("expected error reading deleted file")
	}
}

func TestGlob(t *testing.T) {
	s := tempBundle(t)
	_ = s.Write("bundle/reqs/REQ-002.yaml", []byte("b"))
	_ = s.Write("bundle/reqs/REQ-001.yaml", []byte("a"))
	_ = s.Write("bundle/reqs/nested/REQ-003.yaml", []byte("c"))
	_ = s.Write("bundle/reqs/readme.txt", []byte("not yaml"))

	items, err := s.Glob("bundle/reqs", "*.yaml")
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	want := []string{"bundle/reqs/REQ-001.yaml", "bundle/reqs/REQ-002.yaml"}
	if len(items) != len(want) {
		t.Fatalf("items = %v, want %v", items, want)
	}
	for i := range want {
		if items[i] != want[i] {
			t.Errorf("items[%d] = %q, want %q", i, items[i], want[i])
		}
	}

	deep, err := s.Glob("bundle/reqs", "**/*.yaml")
	if err != nil {
		t.Fatalf("Glob deep: %v", err)
	}
	if len(deep) != 3 {
		t.Errorf("deep = %v, want 3 entries", deep)
	}
}

func TestGlob_MissingDir(t *testing.T) {
	s := tempBundle(t)
	_, err := s.Glob("bundle/nothing", "*.yaml")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("err = %v, want fs.ErrNotExist", err)
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempBundle(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.yaml",
		"/etc/shadow",
	}
	for _, p := range cases {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
	}
	if _, err := s.Glob("..", "*"); err == nil {
		t.Error("expected error for glob outside root")
	}
}

func TestAtomicWriteNoLeftovers(t *testing.T) {
	s := tempBundle(t)
	_ = s.Write("atomic.yaml", []byte("v: 1\n"))
	if err := s.Write("atomic.yaml", []byte("v: 2\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read("atomic.yaml")
	if string(got) != "v: 2\n" {
		t.Errorf("expected updated content, got %q", got)
	}
	matches, _ := filepath.Glob(filepath.Join(s.root, tmpPrefix+"*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS(filepath.Join(t.TempDir(), "does-not-exist"))
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "sdd-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	_, err := NewFS(f.Name())
	if err == nil {
		t.Error("expected error when root is a file")
	}
}
