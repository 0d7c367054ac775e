// Package filestore implements the Session-Scoped File Store (spec.md §4.3):
// durable per-session file content and hierarchy, with archive ingestion.
// Grounded on the teacher's internal/attachment package (content hashing,
// size/type validation, upload handling) generalized from Discord-style chat
// attachments to a full per-session source file repository.
package filestore

import "time"

// FileRecord is the durable record of one file's content and metadata,
// spec.md §3.4.
type FileRecord struct {
	SessionID        string
	FilePath         string
	FileName         string
	FileType         string
	ParentFolderPath string
	Content          []byte
	MimeType         string
	FileSize         int64
	ContentHash      string
	UploadedByUserID string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	IsCompressed     bool
}

// Meta is FileRecord without the content bytes, returned by listing
// operations that only need metadata.
type Meta struct {
	SessionID        string
	FilePath         string
	FileName         string
	FileType         string
	ParentFolderPath string
	MimeType         string
	FileSize         int64
	ContentHash      string
	UploadedByUserID string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	IsCompressed     bool
}

// PutOptions carries optional behavior for PutFile.
type PutOptions struct {
	// CompressThreshold overrides the default compression threshold for this
	// call; zero means use the store's configured default.
	CompressThreshold int64
}

// NodeKind distinguishes folder and file entries in a Hierarchy tree.
type NodeKind string

const (
	KindFolder NodeKind = "folder"
	KindFile   NodeKind = "file"
)

// Node is one entry in a session's file hierarchy tree (spec.md §4.3
// GetHierarchy): folders are synthetic, derived purely from file paths.
type Node struct {
	Name     string
	Path     string
	Kind     NodeKind
	Meta     *Meta // nil for folders
	Children []*Node
}

// IngestEntry reports the outcome of ingesting one archive entry.
type IngestEntry struct {
	Path    string
	Skipped bool
	Reason  string // set when Skipped or on failure
	Failed  bool
}

// IngestSummary is the terminal result of IngestArchive.
type IngestSummary struct {
	Succeeded int
	Failed    int
	Entries   []IngestEntry
}

// Stats summarizes a session's file store usage.
type Stats struct {
	FileCount  int
	TotalBytes int64
}
