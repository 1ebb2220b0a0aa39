package storage

import (
	"context"
	"errors"
	"testing"
)

func TestBlobImplementations(t *testing.T) {
	var _ Blobs = (*FS)(nil)
	var _ Blobs = (*Memory)(nil)
}

func TestFSRoundTrip(t *testing.T) {
	fs, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	ctx := context.Background()

	path, err := fs.Save(ctx, "d-1", "contract.pdf", []byte("pdf-bytes"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := fs.Load(ctx, path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(got) != "pdf-bytes" {
		t.Fatalf("unexpected content %q", got)
	}

	if err := fs.Delete(ctx, path); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := fs.Load(ctx, path); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestFSRejectsTraversal(t *testing.T) {
	fs, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	// Clean strips the traversal; the stored name must stay inside root.
	path, err := fs.Save(context.Background(), "d-1", "../../etc/passwd", []byte("x"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if path != "d-1/passwd" {
		t.Fatalf("expected sanitized path, got %q", path)
	}
	if _, err := fs.Load(context.Background(), "../outside"); err == nil {
		t.Fatalf("expected error for path escaping root")
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"contract.pdf":        "contract.pdf",
		"my file (1).pdf":     "my_file__1_.pdf",
		"..":                  "document.pdf",
		"":                    "document.pdf",
		"/tmp/../evil/x.pdf":  "x.pdf",
		"weird\x00name.pdf":   "weird_name.pdf",
	}
	for in, want := range cases {
		if got := sanitizeFilename(in); got != want {
			t.Fatalf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMemoryBlobs(t *testing.T) {
	m := NewMemoryBlobs()
	ctx := context.Background()

	path, err := m.Save(ctx, "d-1", "a.pdf", []byte("data"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := m.Load(ctx, path)
	if err != nil || string(got) != "data" {
		t.Fatalf("Load: %v %q", err, got)
	}

	// Loaded bytes are a copy; mutating them must not affect the store.
	got[0] = 'X'
	again, _ := m.Load(ctx, path)
	if string(again) != "data" {
		t.Fatalf("stored blob mutated through returned slice")
	}

	if err := m.Delete(ctx, path); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := m.Load(ctx, path); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
