package filestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Repository is the durable store backing the File Store.
type Repository interface {
	Put(ctx context.Context, f FileRecord) error
	Get(ctx context.Context, sessionID, filePath string) (FileRecord, error)
	List(ctx context.Context, sessionID string) ([]Meta, error)
	Delete(ctx context.Context, sessionID, filePath string) (bool, error)
	Stats(ctx context.Context, sessionID string) (Stats, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// PGRepository implements Repository using PostgreSQL, grounded on the
// teacher's internal/attachment/repository.go query/scan shape.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

const fileColumns = `session_id, file_path, file_name, file_type, parent_folder_path,
	content, mime_type, file_size, content_hash, uploaded_by_user_id,
	created_at, updated_at, is_compressed`

const metaColumns = `session_id, file_path, file_name, file_type, parent_folder_path,
	mime_type, file_size, content_hash, uploaded_by_user_id,
	created_at, updated_at, is_compressed`

// Put upserts a file by (sessionId, filePath); the unique index on those
// columns makes this atomic per spec.md §4.3.
func (r *PGRepository) Put(ctx context.Context, f FileRecord) error {
	_, err := r.db.Exec(ctx, `
INSERT INTO files (session_id, file_path, file_name, file_type, parent_folder_path,
	content, mime_type, file_size, content_hash, uploaded_by_user_id, created_at, updated_at, is_compressed)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (session_id, file_path) DO UPDATE SET
	content = EXCLUDED.content,
	mime_type = EXCLUDED.mime_type,
	file_size = EXCLUDED.file_size,
	content_hash = EXCLUDED.content_hash,
	uploaded_by_user_id = EXCLUDED.uploaded_by_user_id,
	updated_at = EXCLUDED.updated_at,
	is_compressed = EXCLUDED.is_compressed`,
		f.SessionID, f.FilePath, f.FileName, f.FileType, nullableString(f.ParentFolderPath),
		f.Content, f.MimeType, f.FileSize, f.ContentHash, f.UploadedByUserID, f.CreatedAt, f.UpdatedAt, f.IsCompressed)
	if err != nil {
		return fmt.Errorf("put file: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (r *PGRepository) Get(ctx context.Context, sessionID, filePath string) (FileRecord, error) {
	row := r.db.QueryRow(ctx, `SELECT `+fileColumns+` FROM files WHERE session_id = $1 AND file_path = $2`, sessionID, filePath)

	var f FileRecord
	var parent *string
	if err := row.Scan(
		&f.SessionID, &f.FilePath, &f.FileName, &f.FileType, &parent,
		&f.Content, &f.MimeType, &f.FileSize, &f.ContentHash, &f.UploadedByUserID,
		&f.CreatedAt, &f.UpdatedAt, &f.IsCompressed,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FileRecord{}, ErrNotFound
		}
		return FileRecord{}, fmt.Errorf("get file: %w", err)
	}
	if parent != nil {
		f.ParentFolderPath = *parent
	}
	return f, nil
}

func (r *PGRepository) List(ctx context.Context, sessionID string) ([]Meta, error) {
	rows, err := r.db.Query(ctx, `SELECT `+metaColumns+` FROM files WHERE session_id = $1 ORDER BY file_path`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var out []Meta
	for rows.Next() {
		var m Meta
		var parent *string
		if err := rows.Scan(
			&m.SessionID, &m.FilePath, &m.FileName, &m.FileType, &parent,
			&m.MimeType, &m.FileSize, &m.ContentHash, &m.UploadedByUserID,
			&m.CreatedAt, &m.UpdatedAt, &m.IsCompressed,
		); err != nil {
			return nil, fmt.Errorf("scan file meta: %w", err)
		}
		if parent != nil {
			m.ParentFolderPath = *parent
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PGRepository) Delete(ctx context.Context, sessionID, filePath string) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM files WHERE session_id = $1 AND file_path = $2`, sessionID, filePath)
	if err != nil {
		return false, fmt.Errorf("delete file: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PGRepository) Stats(ctx context.Context, sessionID string) (Stats, error) {
	var s Stats
	err := r.db.QueryRow(ctx, `SELECT count(*), COALESCE(sum(file_size), 0) FROM files WHERE session_id = $1`, sessionID).
		Scan(&s.FileCount, &s.TotalBytes)
	if err != nil {
		return Stats{}, fmt.Errorf("file stats: %w", err)
	}
	return s, nil
}

func (r *PGRepository) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM files WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("delete session files: %w", err)
	}
	return nil
}
