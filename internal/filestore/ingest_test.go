package filestore

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("zip.Create(%q) error: %v", name, err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("zip write(%q) error: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("zip.Close() error: %v", err)
	}
	return buf.Bytes()
}

func TestIngestArchiveStoresAllowedEntriesAndSkipsIgnored(t *testing.T) {
	s := newTestStore(t)
	archive := buildZip(t, map[string]string{
		"src/main.py":        "print(1)",
		"__MACOSX/._main.py": "junk",
		".DS_Store":          "junk",
		"notes.txt":          "not allowed",
	})

	summary, err := s.IngestArchive(context.Background(), "sess-1", archive, "user-1")
	if err != nil {
		t.Fatalf("IngestArchive() error: %v", err)
	}
	if summary.Succeeded != 1 {
		t.Errorf("Succeeded = %d, want 1", summary.Succeeded)
	}
	if summary.Failed != 1 {
		t.Errorf("Failed = %d, want 1 (notes.txt: disallowed extension)", summary.Failed)
	}

	content, _, err := s.GetFile(context.Background(), "sess-1", "src/main.py")
	if err != nil {
		t.Fatalf("GetFile() error: %v", err)
	}
	if string(content) != "print(1)" {
		t.Errorf("content = %q, want %q", content, "print(1)")
	}

	if _, _, err := s.GetFile(context.Background(), "sess-1", "notes.txt"); err == nil {
		t.Error("notes.txt should not have been ingested (disallowed extension)")
	}

	var notesEntry *IngestEntry
	for i := range summary.Entries {
		if summary.Entries[i].Path == "notes.txt" {
			notesEntry = &summary.Entries[i]
		}
	}
	if notesEntry == nil {
		t.Fatal("expected an entry for notes.txt")
	}
	if !notesEntry.Failed || notesEntry.Skipped {
		t.Errorf("notes.txt entry = %+v, want Failed=true Skipped=false", notesEntry)
	}
}

func TestIngestArchiveRejectsInvalidZip(t *testing.T) {
	s := newTestStore(t)
	_, err := s.IngestArchive(context.Background(), "sess-1", []byte("not a zip"), "user-1")
	if err == nil {
		t.Fatal("expected error for invalid zip archive")
	}
}
