package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
)

// DefaultMaxUploadBytes is the per-upload size cap, spec.md §4.3 (50 MiB).
const DefaultMaxUploadBytes int64 = 50 * 1024 * 1024

// DefaultCompressThreshold is the size above which PutFile compresses
// content, spec.md §4.3 (64 KiB).
const DefaultCompressThreshold int64 = 64 * 1024

// DefaultAllowedExt is the upload extension allowlist, spec.md §4.3.
var DefaultAllowedExt = []string{".js", ".java", ".py", ".zip"}

// Store implements the File Store (spec.md §4.3) atop a Repository.
type Store struct {
	repo              Repository
	log               zerolog.Logger
	maxUploadBytes    int64
	compressThreshold int64
	allowedExt        []string
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
}

func New(repo Repository, logger zerolog.Logger, maxUploadBytes, compressThreshold int64, allowedExt []string) (*Store, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Store{
		repo:              repo,
		log:               logger,
		maxUploadBytes:    maxUploadBytes,
		compressThreshold: compressThreshold,
		allowedExt:        allowedExt,
		encoder:           encoder,
		decoder:           decoder,
	}, nil
}

// PutFile upserts file content by (sessionId, filePath), computing the
// content hash and optionally compressing content above the configured
// threshold, per spec.md §4.3.
func (s *Store) PutFile(ctx context.Context, sessionID, filePath string, content []byte, mimeType, uploaderUserID string, opts PutOptions) (Meta, error) {
	normalized, err := NormalizePath(filePath)
	if err != nil {
		return Meta{}, err
	}
	ext := Extension(normalized)
	if ext != ".zip" && !ExtensionAllowed(ext, s.allowedExt) {
		return Meta{}, fmt.Errorf("%w: %s", ErrUnsupportedMediaType, ext)
	}
	if int64(len(content)) > s.maxUploadBytes {
		return Meta{}, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrTooLarge, len(content), s.maxUploadBytes)
	}

	threshold := s.compressThreshold
	if opts.CompressThreshold > 0 {
		threshold = opts.CompressThreshold
	}

	hash := sha256.Sum256(content)
	stored := content
	compressed := false
	if int64(len(content)) > threshold {
		stored = s.encoder.EncodeAll(content, nil)
		compressed = true
	}

	now := time.Now().UTC()
	record := FileRecord{
		SessionID:        sessionID,
		FilePath:         normalized,
		FileName:         FileName(normalized),
		FileType:         ext,
		ParentFolderPath: ParentFolderPath(normalized),
		Content:          stored,
		MimeType:         mimeType,
		FileSize:         int64(len(content)),
		ContentHash:      hex.EncodeToString(hash[:]),
		UploadedByUserID: uploaderUserID,
		CreatedAt:        now,
		UpdatedAt:        now,
		IsCompressed:     compressed,
	}

	if err := s.repo.Put(ctx, record); err != nil {
		return Meta{}, err
	}
	return toMeta(record), nil
}

func toMeta(f FileRecord) Meta {
	return Meta{
		SessionID:        f.SessionID,
		FilePath:         f.FilePath,
		FileName:         f.FileName,
		FileType:         f.FileType,
		ParentFolderPath: f.ParentFolderPath,
		MimeType:         f.MimeType,
		FileSize:         f.FileSize,
		ContentHash:      f.ContentHash,
		UploadedByUserID: f.UploadedByUserID,
		CreatedAt:        f.CreatedAt,
		UpdatedAt:        f.UpdatedAt,
		IsCompressed:     f.IsCompressed,
	}
}

// GetFile returns a file's decompressed content and metadata.
func (s *Store) GetFile(ctx context.Context, sessionID, filePath string) ([]byte, Meta, error) {
	normalized, err := NormalizePath(filePath)
	if err != nil {
		return nil, Meta{}, err
	}
	record, err := s.repo.Get(ctx, sessionID, normalized)
	if err != nil {
		return nil, Meta{}, err
	}

	content := record.Content
	if record.IsCompressed {
		content, err = s.decoder.DecodeAll(record.Content, nil)
		if err != nil {
			return nil, Meta{}, fmt.Errorf("decompress file content: %w", err)
		}
	}
	return content, toMeta(record), nil
}

// GetText is a convenience wrapper for callers (the Room Registry) that only
// need a file's content as text, per spec.md §4.4's room-creation load.
func (s *Store) GetText(ctx context.Context, sessionID, filePath string) (string, error) {
	content, _, err := s.GetFile(ctx, sessionID, filePath)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

func (s *Store) ListSessionFiles(ctx context.Context, sessionID string) ([]Meta, error) {
	return s.repo.List(ctx, sessionID)
}

func (s *Store) GetHierarchy(ctx context.Context, sessionID string) ([]*Node, error) {
	files, err := s.repo.List(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return BuildHierarchy(files), nil
}

func (s *Store) DeleteFile(ctx context.Context, sessionID, filePath string) (bool, error) {
	normalized, err := NormalizePath(filePath)
	if err != nil {
		return false, err
	}
	return s.repo.Delete(ctx, sessionID, normalized)
}

func (s *Store) Stats(ctx context.Context, sessionID string) (Stats, error) {
	return s.repo.Stats(ctx, sessionID)
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	return s.repo.DeleteSession(ctx, sessionID)
}

// sniffMimeType is a minimal content-type guess used when an upload does not
// specify one, falling back to a generic octet-stream. The File Store does
// not need full MIME sniffing: its allowed extensions are a closed, known
// set (spec.md §4.3).
func sniffMimeType(ext string) string {
	switch ext {
	case ".js":
		return "application/javascript"
	case ".py":
		return "text/x-python"
	case ".java":
		return "text/x-java-source"
	case ".zip":
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}
