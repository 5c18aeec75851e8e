package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Role represents an authorisation tier in the system.
type Role string

const (
	// RoleOperator may view device state but not change it.
	RoleOperator Role = "operator"

	// RoleDeveloper has full control: commands, schedule edits, raw
	// publishes and connection management.
	RoleDeveloper Role = "developer"
)

// ValidRoles is the set of valid roles.
var ValidRoles = []Role{RoleOperator, RoleDeveloper}

// roleAliases maps the dashboard's historical role names.
var roleAliases = map[string]Role{
	"operador": RoleOperator,
	"dev":      RoleDeveloper,
}

// ParseRole converts a role name, including legacy aliases, to a Role.
func ParseRole(s string) (Role, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, r := range ValidRoles {
		if name == string(r) {
			return r, nil
		}
	}
	if r, ok := roleAliases[name]; ok {
		return r, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

// Principal is an authenticated caller.
type Principal interface {
	// Name identifies the caller in audit records.
	Name() string

	// CurrentRole returns the caller's role at the moment of the call.
	CurrentRole() Role
}

// StaticPrincipal is a caller whose role never changes.
type StaticPrincipal struct {
	Subject string
	Role    Role
}

// Name returns the subject.
func (p StaticPrincipal) Name() string { return p.Subject }

// CurrentRole returns the fixed role.
func (p StaticPrincipal) CurrentRole() Role { return p.Role }

// Session is a caller whose role can be changed while it is in use.
type Session struct {
	subject string
	mu      sync.RWMutex
	role    Role
}

// NewSession creates a session for subject holding role.
func NewSession(subject string, role Role) *Session {
	return &Session{subject: subject, role: role}
}

// Name returns the session subject.
func (s *Session) Name() string { return s.subject }

// CurrentRole returns the role as of now.
func (s *Session) CurrentRole() Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

// SetRole changes the session's role. The next Authorize call sees it.
func (s *Session) SetRole(role Role) {
	s.mu.Lock()
	s.role = role
	s.mu.Unlock()
}

// Sentinel errors for auth operations.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrForbidden    = errors.New("insufficient permissions")
	ErrUnknownRole  = errors.New("unknown role")
)
