package wal

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteAtomicReplacesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "positions.json")

	if err := WriteAtomic(path, []byte("first"), 0600); err != nil {
		t.Fatalf("unexpected first write error: %v", err)
	}
	if err := WriteAtomic(path, []byte("second"), 0600); err != nil {
		t.Fatalf("unexpected second write error: %v", err)
	}

	data, err := Read(path)
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if string(data) != "second" {
		t.Fatalf("unexpected content: got %q want %q", data, "second")
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("unexpected readdir error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected temporary files to be cleaned up, got %d entries", len(entries))
	}
}

func TestEmptyPathIsRejected(t *testing.T) {
	if err := WriteAtomic("", nil, 0600); err == nil {
		t.Fatalf("expected error for empty write path")
	}
	if _, err := Read(""); err == nil {
		t.Fatalf("expected error for empty read path")
	}
}
