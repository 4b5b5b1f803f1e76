package auth

import "context"

type contextKey string

const contextKeySession contextKey = "auth.session"

// WithSession stores the request session in context.
func WithSession(ctx context.Context, session Session) context.Context {
	return context.WithValue(ctx, contextKeySession, session)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) (Session, bool) {
	if ctx == nil {
		return Session{}, false
	}
	session, ok := ctx.Value(contextKeySession).(Session)
	return session, ok
}

// RoleFromContext extracts role from context.
func RoleFromContext(ctx context.Context) Role {
	session, _ := SessionFromContext(ctx)
	return session.Role
}

// SubjectFromContext extracts subject from context.
func SubjectFromContext(ctx context.Context) string {
	session, _ := SessionFromContext(ctx)
	return session.Subject
}

// CondoIDFromContext extracts the session condo from context.
func CondoIDFromContext(ctx context.Context) string {
	session, _ := SessionFromContext(ctx)
	return session.CondoID
}
