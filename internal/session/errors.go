package session

import "errors"

// Sentinel errors mapped to apierr.Code by the API layer. Named after the
// spec's stable error kinds (§7) rather than store-level causes.
var (
	ErrNotFound                 = errors.New("session not found")
	ErrForbidden                = errors.New("not permitted")
	ErrValidation               = errors.New("validation failed")
	ErrCapacityReached          = errors.New("session is at capacity")
	ErrDomainNotAllowed         = errors.New("email domain not allowed")
	ErrOwnerAssignmentForbidden = errors.New("cannot invite a participant as owner")
	ErrSelfInvite               = errors.New("cannot invite yourself")
	ErrNotInvited               = errors.New("no pending invitation")
	ErrOwnerMustTransferFirst   = errors.New("owner must transfer ownership before leaving")
	ErrTargetNotParticipant     = errors.New("target user is not a participant")
	ErrRoleAssignmentForbidden  = errors.New("role assignment not permitted")
	ErrCannotRemoveOwner        = errors.New("cannot remove the session owner")
)
