package auth

import "context"

type Role string

const (
	RoleStudent  Role = "student"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleOperator, RoleAdmin:
		return true
	}
	return false
}

// Session is the authenticated identity handed to every booking flow.
type Session struct {
	UserID string
	Email  string
	Role   Role
}

func SessionFromClaims(c *Claims) *Session {
	return &Session{UserID: c.Subject, Email: c.Email, Role: c.Role}
}

// Authenticated reports whether s carries a usable identity. A nil session is
// not authenticated.
func (s *Session) Authenticated() bool {
	return s != nil && s.UserID != ""
}

// CanOperate reports whether s may scan and check guests in or out.
func (s *Session) CanOperate() bool {
	return s.Authenticated() && (s.Role == RoleOperator || s.Role == RoleAdmin)
}

type sessionKey struct{}

func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom returns the session attached by the auth middleware, or nil.
func SessionFrom(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey{}).(*Session)
	return s
}
