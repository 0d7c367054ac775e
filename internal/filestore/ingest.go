package filestore

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
)

// zipBombMultiple caps total decompressed bytes at this multiple of the
// compressed archive size, per spec.md §4.3 "recommended 10x archive size".
const zipBombMultiple = 10

// IngestArchive enumerates a zip archive's entries, skipping system files per
// the ignore policy, and stores each allowed entry as a file. Ingestion
// failures are reported per-entry; partial success is normal (spec.md
// §4.3).
func (s *Store) IngestArchive(ctx context.Context, sessionID string, archiveBytes []byte, uploaderUserID string) (IngestSummary, error) {
	reader, err := zip.NewReader(bytes.NewReader(archiveBytes), int64(len(archiveBytes)))
	if err != nil {
		return IngestSummary{}, fmt.Errorf("%w: not a valid zip archive", ErrValidation)
	}

	maxDecompressed := int64(len(archiveBytes)) * zipBombMultiple
	var totalDecompressed int64
	summary := IngestSummary{}

	for _, entry := range reader.File {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		if entry.FileInfo().IsDir() {
			continue
		}
		if ShouldIgnore(entry.Name) {
			summary.Entries = append(summary.Entries, IngestEntry{Path: entry.Name, Skipped: true, Reason: "ignored system file"})
			continue
		}

		normalized, err := NormalizePath(entry.Name)
		if err != nil {
			summary.Failed++
			summary.Entries = append(summary.Entries, IngestEntry{Path: entry.Name, Failed: true, Reason: err.Error()})
			continue
		}
		ext := Extension(normalized)
		if !ExtensionAllowed(ext, s.allowedExt) {
			summary.Failed++
			summary.Entries = append(summary.Entries, IngestEntry{Path: normalized, Failed: true, Reason: ErrUnsupportedMediaType.Error()})
			continue
		}

		totalDecompressed += int64(entry.UncompressedSize64)
		if totalDecompressed > maxDecompressed || int64(entry.UncompressedSize64) > s.maxUploadBytes {
			summary.Failed++
			summary.Entries = append(summary.Entries, IngestEntry{Path: normalized, Failed: true, Reason: "exceeds decompressed size limit"})
			continue
		}

		content, err := readZipEntry(entry)
		if err != nil {
			summary.Failed++
			summary.Entries = append(summary.Entries, IngestEntry{Path: normalized, Failed: true, Reason: err.Error()})
			continue
		}

		if _, err := s.PutFile(ctx, sessionID, normalized, content, sniffMimeType(ext), uploaderUserID, PutOptions{}); err != nil {
			summary.Failed++
			summary.Entries = append(summary.Entries, IngestEntry{Path: normalized, Failed: true, Reason: err.Error()})
			continue
		}

		summary.Succeeded++
		summary.Entries = append(summary.Entries, IngestEntry{Path: normalized})
	}

	return summary, nil
}

func readZipEntry(entry *zip.File) ([]byte, error) {
	rc, err := entry.Open()
	if err != nil {
		return nil, fmt.Errorf("open archive entry: %w", err)
	}
	defer rc.Close()

	// LimitReader backstops UncompressedSize64 lying about the entry's true
	// size; the running totalDecompressed check in IngestArchive is the
	// primary zip-bomb guard.
	limited := io.LimitReader(rc, int64(entry.UncompressedSize64)+1)
	content, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read archive entry: %w", err)
	}
	return content, nil
}
