package auth

import "fmt"

// Logger defines the logging interface used by the Gate.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Gate checks a principal's permission immediately before an action.
type Gate struct {
	logger Logger
}

// NewGate creates a gate. A nil logger discards denials.
func NewGate(logger Logger) *Gate {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Gate{logger: logger}
}

// Authorize returns nil if p currently holds perm, or an error wrapping
// ErrForbidden. The role is read from p on every call.
func (g *Gate) Authorize(p Principal, perm Permission) error {
	if p == nil {
		return fmt.Errorf("%w: no principal", ErrForbidden)
	}
	role := p.CurrentRole()
	if HasPermission(role, perm) {
		return nil
	}
	g.logger.Warn("authorization denied", "principal", p.Name(), "role", role, "permission", perm)
	return fmt.Errorf("%w: role %q lacks %s", ErrForbidden, role, perm)
}
