package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/codecollab/hub/internal/auth"
)

// UserLookup resolves an invitee's email to a userId. The core does not own
// identity; it only consumes principals and must ask something external
// (e.g. the IdP's user directory) to turn an email into a userId before it
// can record an invitation.
type UserLookup interface {
	LookupByEmail(ctx context.Context, email string) (userID string, ok bool, err error)
}

// Service implements the Session & Participant Service (spec.md §4.2). It is
// grounded on the shape of the teacher's internal/member service (CRUD plus
// a permission-matrix authorize path) generalized from guild/channel/member
// to session/participant.
type Service struct {
	repo   Repository
	users  UserLookup
	cache  *authorizeCache
	log    zerolog.Logger
	policy *bluemonday.Policy
}

func New(repo Repository, users UserLookup, rdb *redis.Client, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		users:  users,
		cache:  newAuthorizeCache(rdb),
		log:    logger,
		policy: bluemonday.StrictPolicy(),
	}
}

const defaultMaxParticipants = 20

// CreateSession creates a new Session with the principal as owner.
func (s *Service) CreateSession(ctx context.Context, p auth.Principal, name, description string, settings *Settings) (Session, error) {
	name = strings.TrimSpace(s.policy.Sanitize(name))
	description = strings.TrimSpace(s.policy.Sanitize(description))
	if name == "" || len(name) > 200 {
		return Session{}, fmt.Errorf("%w: name must be 1-200 characters", ErrValidation)
	}
	if len(description) > 2000 {
		return Session{}, fmt.Errorf("%w: description must be at most 2000 characters", ErrValidation)
	}

	effective := Settings{MaxParticipants: defaultMaxParticipants}
	if settings != nil {
		effective = *settings
		if effective.MaxParticipants < 1 {
			return Session{}, fmt.Errorf("%w: maxParticipants must be at least 1", ErrValidation)
		}
	}

	now := time.Now().UTC()
	sess := Session{
		SessionID:     uuid.NewString(),
		Name:          name,
		Description:   description,
		CreatorUserID: p.UserID,
		Status:        "active",
		Settings:      effective,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	owner := Participant{
		SessionID:       sess.SessionID,
		UserID:          p.UserID,
		Role:            RoleOwner,
		Status:          StatusActive,
		InvitedByUserID: p.UserID,
		InvitedAt:       &now,
		JoinedAt:        &now,
	}

	if err := s.repo.InsertSession(ctx, sess, owner); err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

func (s *Service) ListUserSessions(ctx context.Context, p auth.Principal, filter ListFilter) ([]SessionView, error) {
	return s.repo.ListSessionsForUser(ctx, p.UserID, filter)
}

// GetSession returns a session the principal may at least view.
func (s *Service) GetSession(ctx context.Context, p auth.Principal, sessionID string) (Session, error) {
	if _, err := s.requireRole(ctx, p, sessionID, RoleViewer); err != nil {
		return Session{}, err
	}
	return s.repo.GetSession(ctx, sessionID)
}

// ListParticipants returns a session's participant roster, spec.md §4.2
// ("Session with participant roster (see access rules)"), served as its own
// operation rather than nested on Session so callers can refresh the
// roster without re-fetching the session itself.
func (s *Service) ListParticipants(ctx context.Context, p auth.Principal, sessionID string) ([]Participant, error) {
	if _, err := s.requireRole(ctx, p, sessionID, RoleViewer); err != nil {
		return nil, err
	}
	return s.repo.ListParticipants(ctx, sessionID)
}

// UpdateSession applies patch; only an owner may touch Settings, any
// admin-or-above may touch name/description, per the role matrix in
// spec.md §4.2.
func (s *Service) UpdateSession(ctx context.Context, p auth.Principal, sessionID string, patch UpdatePatch) (Session, error) {
	role, err := s.requireRole(ctx, p, sessionID, RoleAdmin)
	if err != nil {
		return Session{}, err
	}
	if patch.Settings != nil && role != RoleOwner {
		return Session{}, fmt.Errorf("%w: only the owner may change settings", ErrForbidden)
	}
	if patch.Name != nil {
		trimmed := strings.TrimSpace(s.policy.Sanitize(*patch.Name))
		if trimmed == "" || len(trimmed) > 200 {
			return Session{}, fmt.Errorf("%w: name must be 1-200 characters", ErrValidation)
		}
		patch.Name = &trimmed
	}
	if patch.Description != nil {
		trimmed := strings.TrimSpace(s.policy.Sanitize(*patch.Description))
		if len(trimmed) > 2000 {
			return Session{}, fmt.Errorf("%w: description must be at most 2000 characters", ErrValidation)
		}
		patch.Description = &trimmed
	}
	if patch.Settings != nil && patch.Settings.MaxParticipants < 1 {
		return Session{}, fmt.Errorf("%w: maxParticipants must be at least 1", ErrValidation)
	}

	return s.repo.UpdateSession(ctx, sessionID, patch)
}

// DeleteSession soft-deletes a session; only the owner may do this.
func (s *Service) DeleteSession(ctx context.Context, p auth.Principal, sessionID string) error {
	if _, err := s.requireRole(ctx, p, sessionID, RoleOwner); err != nil {
		return err
	}
	if err := s.repo.SoftDeleteSession(ctx, sessionID); err != nil {
		return err
	}
	s.cache.invalidate(ctx, sessionID, "")
	return nil
}

// InviteParticipant invites inviteeEmail with the given role. Idempotent:
// inviting an already-active participant returns their current row without
// error.
func (s *Service) InviteParticipant(ctx context.Context, p auth.Principal, sessionID, inviteeEmail string, role Role) (Participant, error) {
	actorRole, err := s.requireRole(ctx, p, sessionID, RoleAdmin)
	if err != nil {
		return Participant{}, err
	}
	if !role.valid() {
		return Participant{}, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}
	if role == RoleOwner {
		return Participant{}, ErrOwnerAssignmentForbidden
	}
	if actorRole == RoleAdmin && role == RoleAdmin {
		return Participant{}, ErrForbidden
	}

	normalized, _, err := auth.ValidateEmail(inviteeEmail)
	if err != nil {
		return Participant{}, fmt.Errorf("%w: invalid email", ErrValidation)
	}
	if strings.EqualFold(normalized, p.Email) {
		return Participant{}, ErrSelfInvite
	}

	inviteeID, ok, err := s.users.LookupByEmail(ctx, normalized)
	if err != nil {
		return Participant{}, fmt.Errorf("lookup invitee: %w", err)
	}
	if !ok {
		return Participant{}, fmt.Errorf("%w: no account with that email", ErrValidation)
	}

	if existing, err := s.repo.GetParticipant(ctx, sessionID, inviteeID); err == nil && existing.Status == StatusActive {
		return existing, nil // idempotent ack
	}

	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return Participant{}, err
	}
	active, err := s.repo.CountActiveParticipants(ctx, sessionID)
	if err != nil {
		return Participant{}, err
	}
	if active >= sess.Settings.MaxParticipants {
		return Participant{}, ErrCapacityReached
	}

	now := time.Now().UTC()
	participant, _, err := s.repo.UpsertParticipant(ctx, Participant{
		SessionID:       sessionID,
		UserID:          inviteeID,
		Role:            role,
		Status:          StatusInvited,
		InvitedByUserID: p.UserID,
		InvitedAt:       &now,
	})
	return participant, err
}

// AcceptInvitation accepts a pending invite, or self-invites per
// settings.allowSelfInvite when no invite exists. Idempotent when already
// active.
func (s *Service) AcceptInvitation(ctx context.Context, p auth.Principal, sessionID string) (Participant, error) {
	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return Participant{}, err
	}

	existing, err := s.repo.GetParticipant(ctx, sessionID, p.UserID)
	switch {
	case err == nil && existing.Status == StatusActive:
		return existing, nil // idempotent ack
	case err == nil && existing.Status == StatusInvited:
		return s.activateParticipant(ctx, sessionID, p.UserID)
	case err == nil && existing.Status == StatusLeft:
		return s.activateParticipant(ctx, sessionID, p.UserID)
	}

	if !sess.Settings.AllowSelfInvite {
		return Participant{}, ErrNotInvited
	}
	if !domainAllowed(p.Email, sess.Settings.AllowedDomains) {
		return Participant{}, ErrDomainNotAllowed
	}

	active, err := s.repo.CountActiveParticipants(ctx, sessionID)
	if err != nil {
		return Participant{}, err
	}
	if active >= sess.Settings.MaxParticipants {
		return Participant{}, ErrCapacityReached
	}

	now := time.Now().UTC()
	participant, _, err := s.repo.UpsertParticipant(ctx, Participant{
		SessionID: sessionID,
		UserID:    p.UserID,
		Role:      RoleViewer,
		Status:    StatusActive,
		InvitedAt: &now,
		JoinedAt:  &now,
	})
	return participant, err
}

func (s *Service) activateParticipant(ctx context.Context, sessionID, userID string) (Participant, error) {
	return s.repo.UpdateParticipant(ctx, sessionID, userID, func(p *Participant) {
		now := time.Now().UTC()
		p.Status = StatusActive
		p.JoinedAt = &now
	})
}

func domainAllowed(email string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	_, domain, err := auth.ValidateEmail(email)
	if err != nil {
		return false
	}
	for _, d := range allowed {
		if strings.EqualFold(d, domain) {
			return true
		}
	}
	return false
}

// RequestRole lets a participant self-request editor/viewer when
// settings.allowRoleRequests is set (spec.md §4.2).
func (s *Service) RequestRole(ctx context.Context, p auth.Principal, sessionID string, requested Role) (Participant, error) {
	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return Participant{}, err
	}
	if !sess.Settings.AllowRoleRequests {
		return Participant{}, ErrForbidden
	}
	if requested != RoleViewer && requested != RoleEditor {
		return Participant{}, ErrRoleAssignmentForbidden
	}
	return s.repo.UpdateParticipant(ctx, sessionID, p.UserID, func(participant *Participant) {
		participant.Role = requested
	})
}

// LeaveSession removes the principal's own active membership. The owner
// must transfer ownership first.
func (s *Service) LeaveSession(ctx context.Context, p auth.Principal, sessionID string) error {
	participant, err := s.repo.GetParticipant(ctx, sessionID, p.UserID)
	if err != nil {
		return err
	}
	if participant.Status != StatusActive {
		return ErrTargetNotParticipant
	}
	if participant.Role == RoleOwner {
		return ErrOwnerMustTransferFirst
	}

	_, err = s.repo.UpdateParticipant(ctx, sessionID, p.UserID, func(participant *Participant) {
		now := time.Now().UTC()
		participant.Status = StatusLeft
		participant.LeftAt = &now
	})
	if err != nil {
		return err
	}
	s.cache.invalidate(ctx, sessionID, p.UserID)
	return nil
}

// TransferOwnership promotes newOwnerUserID to owner and demotes the current
// owner to admin, atomically.
func (s *Service) TransferOwnership(ctx context.Context, p auth.Principal, sessionID, newOwnerUserID string) error {
	if _, err := s.requireRole(ctx, p, sessionID, RoleOwner); err != nil {
		return err
	}
	target, err := s.repo.GetParticipant(ctx, sessionID, newOwnerUserID)
	if err != nil {
		return ErrTargetNotParticipant
	}
	if target.Status != StatusActive {
		return ErrTargetNotParticipant
	}

	if _, err := s.repo.UpdateParticipant(ctx, sessionID, newOwnerUserID, func(participant *Participant) {
		participant.Role = RoleOwner
	}); err != nil {
		return fmt.Errorf("promote new owner: %w", err)
	}
	if _, err := s.repo.UpdateParticipant(ctx, sessionID, p.UserID, func(participant *Participant) {
		participant.Role = RoleAdmin
	}); err != nil {
		return fmt.Errorf("demote previous owner: %w", err)
	}

	s.cache.invalidate(ctx, sessionID, newOwnerUserID)
	s.cache.invalidate(ctx, sessionID, p.UserID)
	return nil
}

// UpdateParticipantRole changes a target participant's role per the role
// matrix: owner may assign any non-owner role; admin may only assign
// editor/viewer to a target currently editor/viewer.
func (s *Service) UpdateParticipantRole(ctx context.Context, p auth.Principal, sessionID, targetUserID string, newRole Role) error {
	actorRole, err := s.requireRole(ctx, p, sessionID, RoleAdmin)
	if err != nil {
		return err
	}
	if !newRole.valid() || newRole == RoleOwner {
		return ErrRoleAssignmentForbidden
	}

	target, err := s.repo.GetParticipant(ctx, sessionID, targetUserID)
	if err != nil {
		return ErrTargetNotParticipant
	}

	if actorRole == RoleAdmin {
		if newRole != RoleEditor && newRole != RoleViewer {
			return ErrRoleAssignmentForbidden
		}
		if target.Role != RoleEditor && target.Role != RoleViewer {
			return ErrRoleAssignmentForbidden
		}
	}

	if _, err := s.repo.UpdateParticipant(ctx, sessionID, targetUserID, func(participant *Participant) {
		participant.Role = newRole
	}); err != nil {
		return err
	}
	s.cache.invalidate(ctx, sessionID, targetUserID)
	return nil
}

// RemoveParticipant removes a participant. Owners can never be removed.
func (s *Service) RemoveParticipant(ctx context.Context, p auth.Principal, sessionID, targetUserID string) error {
	actorRole, err := s.requireRole(ctx, p, sessionID, RoleAdmin)
	if err != nil {
		return err
	}

	target, err := s.repo.GetParticipant(ctx, sessionID, targetUserID)
	if err != nil {
		return ErrTargetNotParticipant
	}
	if target.Status != StatusActive {
		return ErrTargetNotParticipant
	}
	if target.Role == RoleOwner {
		return ErrCannotRemoveOwner
	}
	if actorRole == RoleAdmin && target.Role == RoleAdmin {
		return ErrForbidden
	}

	if _, err := s.repo.UpdateParticipant(ctx, sessionID, targetUserID, func(participant *Participant) {
		now := time.Now().UTC()
		participant.Status = StatusRemoved
		participant.LeftAt = &now
	}); err != nil {
		return err
	}
	s.cache.invalidate(ctx, sessionID, targetUserID)
	return nil
}

// Authorize is the single source of truth for "can principal act as
// requiredRole in sessionId", consulted by every REST handler and the
// Transport layer's room-admission check. Decisions are cached for
// authorizeCacheTTL per spec.md §5.
func (s *Service) Authorize(ctx context.Context, p auth.Principal, sessionID string, requiredRole Role) (Decision, error) {
	if cached, ok := s.cache.get(ctx, sessionID, p.UserID); ok {
		cached.Allow = cached.EffectiveRole != "" && cached.EffectiveRole.atLeast(requiredRole)
		return cached, nil
	}

	participant, err := s.repo.GetParticipant(ctx, sessionID, p.UserID)
	if err != nil || participant.Status != StatusActive {
		decision := Decision{Allow: false}
		s.cache.set(ctx, sessionID, p.UserID, decision)
		return decision, nil
	}

	decision := Decision{
		Allow:         participant.Role.atLeast(requiredRole),
		EffectiveRole: participant.Role,
	}
	s.cache.set(ctx, sessionID, p.UserID, decision)
	return decision, nil
}

// requireRole authorizes p for sessionId and returns ErrForbidden if the
// effective role does not meet required; used internally by the operations
// above, read-only ones included.
func (s *Service) requireRole(ctx context.Context, p auth.Principal, sessionID string, required Role) (Role, error) {
	decision, err := s.Authorize(ctx, p, sessionID, required)
	if err != nil {
		return "", err
	}
	if !decision.Allow {
		return "", ErrForbidden
	}
	return decision.EffectiveRole, nil
}
