package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/codecollab/hub/internal/apierr"
	"github.com/codecollab/hub/internal/auth"
	"github.com/codecollab/hub/internal/httputil"
	"github.com/codecollab/hub/internal/session"
)

// SessionHandler serves the session & participant endpoints of spec.md §6.1.
type SessionHandler struct {
	sessions *session.Service
	log      zerolog.Logger
}

func NewSessionHandler(sessions *session.Service, logger zerolog.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, log: logger}
}

type createSessionRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Settings    *session.Settings `json:"settings,omitempty"`
}

// Create handles POST /api/sessions.
func (h *SessionHandler) Create(c fiber.Ctx) error {
	var body createSessionRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierr.ValidationError, "invalid request body")
	}

	sess, err := h.sessions.CreateSession(c, auth.Authenticated(c), body.Name, body.Description, body.Settings)
	if err != nil {
		return h.mapError(c, err)
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, sess)
}

// List handles GET /api/sessions?filter=all|created|shared.
func (h *SessionHandler) List(c fiber.Ctx) error {
	filter := session.ListFilter(c.Query("filter", string(session.FilterAll)))
	views, err := h.sessions.ListUserSessions(c, auth.Authenticated(c), filter)
	if err != nil {
		return h.mapError(c, err)
	}
	return httputil.Success(c, views)
}

// Get handles GET /api/sessions/{sessionId}.
func (h *SessionHandler) Get(c fiber.Ctx) error {
	sess, err := h.sessions.GetSession(c, auth.Authenticated(c), c.Params("sessionId"))
	if err != nil {
		return h.mapError(c, err)
	}
	return httputil.Success(c, sess)
}

// Participants handles GET /api/sessions/{sessionId}/participants.
func (h *SessionHandler) Participants(c fiber.Ctx) error {
	participants, err := h.sessions.ListParticipants(c, auth.Authenticated(c), c.Params("sessionId"))
	if err != nil {
		return h.mapError(c, err)
	}
	return httputil.Success(c, participants)
}

type updateSessionRequest struct {
	Name        *string           `json:"name"`
	Description *string           `json:"description"`
	Settings    *session.Settings `json:"settings,omitempty"`
}

// Update handles PATCH /api/sessions/{sessionId}.
func (h *SessionHandler) Update(c fiber.Ctx) error {
	var body updateSessionRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierr.ValidationError, "invalid request body")
	}

	sess, err := h.sessions.UpdateSession(c, auth.Authenticated(c), c.Params("sessionId"), session.UpdatePatch{
		Name:        body.Name,
		Description: body.Description,
		Settings:    body.Settings,
	})
	if err != nil {
		return h.mapError(c, err)
	}
	return httputil.Success(c, sess)
}

// Delete handles DELETE /api/sessions/{sessionId}.
func (h *SessionHandler) Delete(c fiber.Ctx) error {
	if err := h.sessions.DeleteSession(c, auth.Authenticated(c), c.Params("sessionId")); err != nil {
		return h.mapError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type inviteRequest struct {
	Email string       `json:"email"`
	Role  session.Role `json:"role"`
}

// Invite handles POST /api/sessions/{sessionId}/participants.
func (h *SessionHandler) Invite(c fiber.Ctx) error {
	var body inviteRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierr.ValidationError, "invalid request body")
	}

	participant, err := h.sessions.InviteParticipant(c, auth.Authenticated(c), c.Params("sessionId"), body.Email, body.Role)
	if err != nil {
		return h.mapError(c, err)
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, participant)
}

// Join handles PUT /api/sessions/{sessionId}/join.
func (h *SessionHandler) Join(c fiber.Ctx) error {
	participant, err := h.sessions.AcceptInvitation(c, auth.Authenticated(c), c.Params("sessionId"))
	if err != nil {
		return h.mapError(c, err)
	}
	return httputil.Success(c, participant)
}

// Leave handles DELETE /api/sessions/{sessionId}/leave.
func (h *SessionHandler) Leave(c fiber.Ctx) error {
	if err := h.sessions.LeaveSession(c, auth.Authenticated(c), c.Params("sessionId")); err != nil {
		return h.mapError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type transferOwnershipRequest struct {
	NewOwnerUserID string `json:"newOwnerUserId"`
}

// TransferOwnership handles PUT /api/sessions/{sessionId}/transfer-ownership.
func (h *SessionHandler) TransferOwnership(c fiber.Ctx) error {
	var body transferOwnershipRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierr.ValidationError, "invalid request body")
	}

	if err := h.sessions.TransferOwnership(c, auth.Authenticated(c), c.Params("sessionId"), body.NewOwnerUserID); err != nil {
		return h.mapError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type updateRoleRequest struct {
	Role session.Role `json:"role"`
}

// UpdateParticipantRole handles PATCH /api/sessions/{sessionId}/participants/{userId}.
func (h *SessionHandler) UpdateParticipantRole(c fiber.Ctx) error {
	var body updateRoleRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierr.ValidationError, "invalid request body")
	}

	if err := h.sessions.UpdateParticipantRole(c, auth.Authenticated(c), c.Params("sessionId"), c.Params("userId"), body.Role); err != nil {
		return h.mapError(c, err)
	}
	return c.SendStatus(fiber.StatusOK)
}

// RemoveParticipant handles DELETE /api/sessions/{sessionId}/participants/{userId}.
func (h *SessionHandler) RemoveParticipant(c fiber.Ctx) error {
	if err := h.sessions.RemoveParticipant(c, auth.Authenticated(c), c.Params("sessionId"), c.Params("userId")); err != nil {
		return h.mapError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// mapError converts session-layer sentinel errors to the apierr.Code taxonomy,
// per spec.md §7.
func (h *SessionHandler) mapError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return httputil.Fail(c, apierr.NotFound, "session not found")
	case errors.Is(err, session.ErrForbidden):
		return httputil.Fail(c, apierr.Forbidden, "not permitted")
	case errors.Is(err, session.ErrValidation):
		return httputil.Fail(c, apierr.ValidationError, err.Error())
	case errors.Is(err, session.ErrCapacityReached):
		return httputil.Fail(c, apierr.CapacityReached, "session is at capacity")
	case errors.Is(err, session.ErrDomainNotAllowed):
		return httputil.Fail(c, apierr.DomainNotAllowed, "email domain not allowed")
	case errors.Is(err, session.ErrOwnerAssignmentForbidden):
		return httputil.Fail(c, apierr.OwnerAssignmentForbidden, "cannot invite a participant as owner")
	case errors.Is(err, session.ErrSelfInvite):
		return httputil.Fail(c, apierr.SelfInvite, "cannot invite yourself")
	case errors.Is(err, session.ErrNotInvited):
		return httputil.Fail(c, apierr.NotInvited, "no pending invitation")
	case errors.Is(err, session.ErrOwnerMustTransferFirst):
		return httputil.Fail(c, apierr.OwnerMustTransferFirst, "owner must transfer ownership before leaving")
	case errors.Is(err, session.ErrTargetNotParticipant):
		return httputil.Fail(c, apierr.TargetNotParticipant, "target user is not a participant")
	case errors.Is(err, session.ErrRoleAssignmentForbidden):
		return httputil.Fail(c, apierr.RoleAssignmentForbidden, "role assignment not permitted")
	case errors.Is(err, session.ErrCannotRemoveOwner):
		return httputil.Fail(c, apierr.CannotRemoveOwner, "cannot remove the session owner")
	default:
		h.log.Error().Err(err).Str("handler", "session").Msg("unhandled session service error")
		return httputil.Fail(c, apierr.Internal, "an internal error occurred")
	}
}
