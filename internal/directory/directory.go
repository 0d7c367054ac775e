// Package directory mirrors the identity provider's principals into a local
// table keyed by userId, so the Session & Participant Service can resolve an
// invitee's email to a userId (spec.md §4.2 InviteParticipant) without the
// core owning identity itself (spec.md §4.1: the Auth Gate only verifies
// credentials an external IdP issued). Grounded on the teacher's
// internal/user PGRepository scan/upsert shape, trimmed to the three claims
// the Auth Gate actually produces: sub, email, display name.
package directory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/codecollab/hub/internal/auth"
)

// PGDirectory implements session.UserLookup and the principal-mirroring
// side of the Auth Gate.
type PGDirectory struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

func New(db *pgxpool.Pool, logger zerolog.Logger) *PGDirectory {
	return &PGDirectory{db: db, log: logger}
}

// Observe upserts the principal's claims, refreshing lastSeenAt. Called
// from the Auth Gate on every authenticated request; failures are logged
// but never fail the request, since a stale directory entry only degrades
// invite-by-email, not the request itself.
func (d *PGDirectory) Observe(ctx context.Context, p auth.Principal) {
	_, err := d.db.Exec(ctx, `
INSERT INTO known_users (user_id, email, display_name, last_seen_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id) DO UPDATE SET
	email = EXCLUDED.email,
	display_name = EXCLUDED.display_name,
	last_seen_at = EXCLUDED.last_seen_at`,
		p.UserID, p.Email, p.DisplayName, time.Now().UTC())
	if err != nil {
		d.log.Warn().Err(err).Str("userId", p.UserID).Msg("directory observe failed")
	}
}

// LookupByEmail implements session.UserLookup.
func (d *PGDirectory) LookupByEmail(ctx context.Context, email string) (string, bool, error) {
	var userID string
	err := d.db.QueryRow(ctx, `SELECT user_id FROM known_users WHERE lower(email) = lower($1)`, strings.TrimSpace(email)).Scan(&userID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("lookup user by email: %w", err)
	}
	return userID, true, nil
}
