package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/codecollab/hub/internal/postgres"
)

// Repository is the durable store backing the Session & Participant
// Service. PGRepository is the only production implementation; the
// interface exists so service tests can substitute an in-memory fake.
type Repository interface {
	InsertSession(ctx context.Context, s Session, owner Participant) error
	GetSession(ctx context.Context, sessionID string) (Session, error)
	UpdateSession(ctx context.Context, sessionID string, patch UpdatePatch) (Session, error)
	SoftDeleteSession(ctx context.Context, sessionID string) error
	ListSessionsForUser(ctx context.Context, userID string, filter ListFilter) ([]SessionView, error)

	GetParticipant(ctx context.Context, sessionID, userID string) (Participant, error)
	ListParticipants(ctx context.Context, sessionID string) ([]Participant, error)
	CountActiveParticipants(ctx context.Context, sessionID string) (int, error)
	UpsertParticipant(ctx context.Context, p Participant) (Participant, bool, error) // bool = created
	UpdateParticipant(ctx context.Context, sessionID, userID string, mutate func(*Participant)) (Participant, error)
}

// PGRepository implements Repository using PostgreSQL, grounded on the
// teacher's internal/member/repository.go query/scan shape.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

const sessionColumns = `session_id, name, description, creator_user_id, status,
	max_participants, allow_self_invite, allow_role_requests, allowed_domains,
	created_at, updated_at`

func scanSession(row pgx.Row) (Session, error) {
	var s Session
	var allowedDomains []string
	if err := row.Scan(
		&s.SessionID, &s.Name, &s.Description, &s.CreatorUserID, &s.Status,
		&s.Settings.MaxParticipants, &s.Settings.AllowSelfInvite, &s.Settings.AllowRoleRequests, &allowedDomains,
		&s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return Session{}, err
	}
	s.Settings.AllowedDomains = allowedDomains
	return s, nil
}

func (r *PGRepository) InsertSession(ctx context.Context, s Session, owner Participant) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
INSERT INTO sessions (session_id, name, description, creator_user_id, status,
	max_participants, allow_self_invite, allow_role_requests, allowed_domains, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			s.SessionID, s.Name, s.Description, s.CreatorUserID, s.Status,
			s.Settings.MaxParticipants, s.Settings.AllowSelfInvite, s.Settings.AllowRoleRequests, s.Settings.AllowedDomains,
			s.CreatedAt, s.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}

		_, err = tx.Exec(ctx, `
INSERT INTO participants (session_id, user_id, role, status, invited_by_user_id, invited_at, joined_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			owner.SessionID, owner.UserID, owner.Role, owner.Status, owner.InvitedByUserID, owner.InvitedAt, owner.JoinedAt)
		if err != nil {
			return fmt.Errorf("insert owner participant: %w", err)
		}
		return nil
	})
}

func (r *PGRepository) GetSession(ctx context.Context, sessionID string) (Session, error) {
	row := r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = $1`, sessionID)
	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

func (r *PGRepository) UpdateSession(ctx context.Context, sessionID string, patch UpdatePatch) (Session, error) {
	row := r.db.QueryRow(ctx, `
UPDATE sessions SET
	name = COALESCE($2, name),
	description = COALESCE($3, description),
	max_participants = COALESCE($4, max_participants),
	allow_self_invite = COALESCE($5, allow_self_invite),
	allow_role_requests = COALESCE($6, allow_role_requests),
	allowed_domains = COALESCE($7, allowed_domains),
	updated_at = now()
WHERE session_id = $1
RETURNING `+sessionColumns,
		sessionID, patch.Name, patch.Description,
		settingsIntPtr(patch), settingsBoolPtr(patch, true), settingsBoolPtr(patch, false), settingsDomainsPtr(patch),
	)
	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("update session: %w", err)
	}
	return s, nil
}

// settingsIntPtr/settingsBoolPtr/settingsDomainsPtr extract the optional
// Settings sub-fields from an UpdatePatch so the nullable-COALESCE update
// above can leave untouched fields alone.
func settingsIntPtr(p UpdatePatch) *int {
	if p.Settings == nil {
		return nil
	}
	v := p.Settings.MaxParticipants
	return &v
}

func settingsBoolPtr(p UpdatePatch, selfInvite bool) *bool {
	if p.Settings == nil {
		return nil
	}
	v := p.Settings.AllowRoleRequests
	if selfInvite {
		v = p.Settings.AllowSelfInvite
	}
	return &v
}

func settingsDomainsPtr(p UpdatePatch) []string {
	if p.Settings == nil {
		return nil
	}
	return p.Settings.AllowedDomains
}

func (r *PGRepository) SoftDeleteSession(ctx context.Context, sessionID string) error {
	tag, err := r.db.Exec(ctx, `UPDATE sessions SET status = 'deleted', updated_at = now() WHERE session_id = $1 AND status != 'deleted'`, sessionID)
	if err != nil {
		return fmt.Errorf("soft delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) ListSessionsForUser(ctx context.Context, userID string, filter ListFilter) ([]SessionView, error) {
	var where string
	switch filter {
	case FilterCreated:
		where = `WHERE s.creator_user_id = $1 AND s.status != 'deleted'`
	case FilterShared:
		where = `WHERE s.creator_user_id != $1 AND p.user_id = $1 AND p.status = 'active' AND s.status != 'deleted'`
	default:
		where = `WHERE p.user_id = $1 AND p.status = 'active' AND s.status != 'deleted'`
	}

	rows, err := r.db.Query(ctx, `
SELECT `+sessionPrefixed("s")+`, p.role
FROM sessions s
LEFT JOIN participants p ON p.session_id = s.session_id AND p.user_id = $1
`+where+`
ORDER BY s.updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions for user: %w", err)
	}
	defer rows.Close()

	var out []SessionView
	for rows.Next() {
		var s Session
		var allowedDomains []string
		var role *Role
		if err := rows.Scan(
			&s.SessionID, &s.Name, &s.Description, &s.CreatorUserID, &s.Status,
			&s.Settings.MaxParticipants, &s.Settings.AllowSelfInvite, &s.Settings.AllowRoleRequests, &allowedDomains,
			&s.CreatedAt, &s.UpdatedAt, &role,
		); err != nil {
			return nil, fmt.Errorf("scan session view: %w", err)
		}
		s.Settings.AllowedDomains = allowedDomains
		view := SessionView{Session: s}
		if role != nil {
			view.Role = *role
		} else {
			view.Role = RoleOwner
		}
		out = append(out, view)
	}
	return out, rows.Err()
}

func sessionPrefixed(alias string) string {
	return alias + `.session_id, ` + alias + `.name, ` + alias + `.description, ` + alias + `.creator_user_id, ` + alias + `.status,
	` + alias + `.max_participants, ` + alias + `.allow_self_invite, ` + alias + `.allow_role_requests, ` + alias + `.allowed_domains,
	` + alias + `.created_at, ` + alias + `.updated_at`
}

const participantColumns = `session_id, user_id, role, status, invited_by_user_id, invited_at, joined_at, left_at, last_active_at`

func scanParticipant(row pgx.Row) (Participant, error) {
	var p Participant
	if err := row.Scan(
		&p.SessionID, &p.UserID, &p.Role, &p.Status, &p.InvitedByUserID,
		&p.InvitedAt, &p.JoinedAt, &p.LeftAt, &p.LastActiveAt,
	); err != nil {
		return Participant{}, err
	}
	return p, nil
}

func (r *PGRepository) GetParticipant(ctx context.Context, sessionID, userID string) (Participant, error) {
	row := r.db.QueryRow(ctx, `SELECT `+participantColumns+` FROM participants WHERE session_id = $1 AND user_id = $2`, sessionID, userID)
	p, err := scanParticipant(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Participant{}, ErrTargetNotParticipant
	}
	if err != nil {
		return Participant{}, fmt.Errorf("get participant: %w", err)
	}
	return p, nil
}

func (r *PGRepository) ListParticipants(ctx context.Context, sessionID string) ([]Participant, error) {
	rows, err := r.db.Query(ctx, `SELECT `+participantColumns+` FROM participants WHERE session_id = $1 ORDER BY invited_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var out []Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PGRepository) CountActiveParticipants(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT count(*) FROM participants WHERE session_id = $1 AND status = 'active'`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active participants: %w", err)
	}
	return n, nil
}

// UpsertParticipant inserts a participant row or, if one already exists for
// (sessionId, userId), leaves it untouched and returns the existing row. This
// is the serialization point spec.md §4.2 requires: "concurrent invites
// produce exactly one active row".
func (r *PGRepository) UpsertParticipant(ctx context.Context, p Participant) (Participant, bool, error) {
	row := r.db.QueryRow(ctx, `
INSERT INTO participants (session_id, user_id, role, status, invited_by_user_id, invited_at, joined_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (session_id, user_id) DO UPDATE SET session_id = participants.session_id
RETURNING `+participantColumns+`, (xmax = 0) AS inserted`,
		p.SessionID, p.UserID, p.Role, p.Status, p.InvitedByUserID, p.InvitedAt, p.JoinedAt)

	var out Participant
	var created bool
	if err := row.Scan(
		&out.SessionID, &out.UserID, &out.Role, &out.Status, &out.InvitedByUserID,
		&out.InvitedAt, &out.JoinedAt, &out.LeftAt, &out.LastActiveAt, &created,
	); err != nil {
		return Participant{}, false, fmt.Errorf("upsert participant: %w", err)
	}
	return out, created, nil
}

// UpdateParticipant loads the current row, applies mutate, and writes it
// back inside a transaction so role/status transitions are check-then-set
// atomically per spec.md §4.2's per-(sessionId,userId) serialization rule.
func (r *PGRepository) UpdateParticipant(ctx context.Context, sessionID, userID string, mutate func(*Participant)) (Participant, error) {
	var result Participant
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+participantColumns+` FROM participants WHERE session_id = $1 AND user_id = $2 FOR UPDATE`, sessionID, userID)
		p, err := scanParticipant(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTargetNotParticipant
		}
		if err != nil {
			return fmt.Errorf("load participant for update: %w", err)
		}

		mutate(&p)

		if err := tx.QueryRow(ctx, `
UPDATE participants SET role = $3, status = $4, joined_at = $5, left_at = $6, last_active_at = $7
WHERE session_id = $1 AND user_id = $2
RETURNING `+participantColumns,
			sessionID, userID, p.Role, p.Status, p.JoinedAt, p.LeftAt, p.LastActiveAt,
		).Scan(
			&result.SessionID, &result.UserID, &result.Role, &result.Status, &result.InvitedByUserID,
			&result.InvitedAt, &result.JoinedAt, &result.LeftAt, &result.LastActiveAt,
		); err != nil {
			return fmt.Errorf("write participant update: %w", err)
		}
		return nil
	})
	if err != nil {
		return Participant{}, err
	}
	return result, nil
}
