// Package session implements the Session & Participant Service: the
// authoritative store of sessions, roles, and membership transitions, and the
// single source of truth for authorization (spec.md §4.2). It is grounded on
// the teacher's internal/member + internal/role + internal/permission
// packages, generalized from a Discord-style guild/member/role model to
// spec.md §3.2/§3.3's Session/Participant model.
package session

import "time"

// Role is a Participant's permission level within a Session.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

func (r Role) valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleEditor, RoleViewer:
		return true
	}
	return false
}

// rank orders roles from least to most privileged, used for "effective role
// meets required role" checks in Authorize.
func (r Role) rank() int {
	switch r {
	case RoleViewer:
		return 1
	case RoleEditor:
		return 2
	case RoleAdmin:
		return 3
	case RoleOwner:
		return 4
	default:
		return 0
	}
}

// atLeast reports whether r meets or exceeds the required role.
func (r Role) atLeast(required Role) bool {
	return r.rank() >= required.rank()
}

// Status is a Participant's membership lifecycle state.
type Status string

const (
	StatusInvited Status = "invited"
	StatusActive  Status = "active"
	StatusLeft    Status = "left"
	StatusRemoved Status = "removed"
)

// Settings controls self-service invite and role-request behavior for a
// Session, per spec.md §4.2 "Self-invite / role requests".
type Settings struct {
	MaxParticipants   int      `json:"maxParticipants"`
	AllowSelfInvite   bool     `json:"allowSelfInvite"`
	AllowRoleRequests bool     `json:"allowRoleRequests"`
	AllowedDomains    []string `json:"allowedDomains"`
}

// Session is the durable record of a collaborative workspace, spec.md §3.2.
type Session struct {
	SessionID     string
	Name          string
	Description   string
	CreatorUserID string
	Status        string // "active" | "deleted"
	Settings      Settings
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Participant is the durable membership record linking a user to a Session,
// spec.md §3.3.
type Participant struct {
	SessionID       string
	UserID          string
	Role            Role
	Status          Status
	InvitedByUserID string
	InvitedAt       *time.Time
	JoinedAt        *time.Time
	LeftAt          *time.Time
	LastActiveAt    *time.Time
}

// Decision is the result of an Authorize call.
type Decision struct {
	Allow         bool
	EffectiveRole Role
}

// ListFilter selects which sessions ListUserSessions returns.
type ListFilter string

const (
	FilterAll     ListFilter = "all"
	FilterCreated ListFilter = "created"
	FilterShared  ListFilter = "shared"
)

// UpdatePatch carries optional fields for UpdateSession; nil fields are left
// unchanged.
type UpdatePatch struct {
	Name        *string
	Description *string
	Settings    *Settings
}

// SessionView pairs a Session with the requesting principal's role in it,
// returned by ListUserSessions.
type SessionView struct {
	Session Session
	Role    Role
}
