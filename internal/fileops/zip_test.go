package fileops

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	apperrors "filelocker/internal/errors"
)

// makeTree creates files (relative path -> content) and empty dirs under root.
func makeTree(t *testing.T, root string, files map[string]string, emptyDirs ...string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
	for _, d := range emptyDirs {
		if err := os.MkdirAll(filepath.Join(root, filepath.FromSlash(d)), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
}

func TestCreateFromDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	src := filepath.Join(tmpDir, "src")
	makeTree(t, src, map[string]string{
		"a.txt":       "alpha",
		"sub/b.txt":   "bravo",
		"sub/c/d.bin": "delta",
	}, "empty")

	archive := filepath.Join(tmpDir, "out.zip")
	size, err := CreateFromDirectory(context.Background(), src, archive, ArchiveOptions{})
	if err != nil {
		t.Fatalf("CreateFromDirectory failed: %v", err)
	}
	if size != 15 {
		t.Errorf("content size = %d; want 15", size)
	}

	r, err := zip.OpenReader(archive)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer r.Close()

	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
		if f.Method != zip.Store {
			t.Errorf("%s: method = %d; want Store", f.Name, f.Method)
		}
	}
	sort.Strings(names)

	want := []string{"a.txt", "empty/", "sub/", "sub/b.txt", "sub/c/", "sub/c/d.bin"}
	if len(names) != len(want) {
		t.Fatalf("entries = %v; want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("entry %d = %q; want %q", i, names[i], want[i])
		}
	}
}

func TestCreateFromDirectoryNotADirectory(t *testing.T) {
	tmpDir := t.TempDir()
	file := filepath.Join(tmpDir, "plain.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := CreateFromDirectory(context.Background(), file, filepath.Join(tmpDir, "out.zip"), ArchiveOptions{})
	if !errors.Is(err, apperrors.ErrArchive) {
		t.Errorf("err = %v; want ErrArchive", err)
	}

	_, err = CreateFromDirectory(context.Background(), filepath.Join(tmpDir, "missing"), filepath.Join(tmpDir, "out.zip"), ArchiveOptions{})
	if !apperrors.IsNotFound(err) {
		t.Errorf("err = %v; want not found", err)
	}
}

func TestCreateFromDirectoryCancellation(t *testing.T) {
	tmpDir := t.TempDir()
	src := filepath.Join(tmpDir, "src")
	makeTree(t, src, map[string]string{"a.txt": "alpha"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	archive := filepath.Join(tmpDir, "out.zip")
	_, err := CreateFromDirectory(ctx, src, archive, ArchiveOptions{})
	if !apperrors.IsCancelled(err) {
		t.Errorf("err = %v; want cancelled", err)
	}
	if _, err := os.Stat(archive); !os.IsNotExist(err) {
		t.Error("partial archive should be removed on cancellation")
	}
}

func TestCreateFromDirectoryProgress(t *testing.T) {
	tmpDir := t.TempDir()
	src := filepath.Join(tmpDir, "src")
	makeTree(t, src, map[string]string{"a.txt": "alpha", "b.txt": "bravo"})

	var calls int
	var last float32
	var statuses int
	opts := ArchiveOptions{
		Progress: func(p float32, _ string) { calls++; last = p },
		Status:   func(string) { statuses++ },
	}
	if _, err := CreateFromDirectory(context.Background(), src, filepath.Join(tmpDir, "out.zip"), opts); err != nil {
		t.Fatal(err)
	}
	if calls != 2 || statuses != 2 {
		t.Errorf("progress calls = %d, status calls = %d; want 2 each", calls, statuses)
	}
	if last != 1 {
		t.Errorf("final progress = %v; want 1", last)
	}
}

func TestDirectoryRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	src := filepath.Join(tmpDir, "src")
	files := map[string]string{
		"one.txt":           "first file",
		"nested/two.txt":    "second file",
		"nested/deep/three": string(make([]byte, 100000)),
	}
	makeTree(t, src, files, "nested/empty")

	archive := filepath.Join(tmpDir, "tree.zip")
	if _, err := CreateFromDirectory(context.Background(), src, archive, ArchiveOptions{}); err != nil {
		t.Fatal(err)
	}

	dest := filepath.Join(tmpDir, "restored")
	if err := ExtractToDirectory(context.Background(), archive, dest, false, ArchiveOptions{}); err != nil {
		t.Fatalf("ExtractToDirectory failed: %v", err)
	}

	for rel, want := range files {
		got, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(rel)))
		if err != nil {
			t.Errorf("read %s: %v", rel, err)
			continue
		}
		if string(got) != want {
			t.Errorf("%s: content mismatch", rel)
		}
	}
	if info, err := os.Stat(filepath.Join(dest, "nested", "empty")); err != nil || !info.IsDir() {
		t.Errorf("empty directory not restored: %v", err)
	}
}
