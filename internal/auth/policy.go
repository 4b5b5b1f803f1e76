package auth

import (
	"net/http"
	"strings"
)

// Policy determines required roles by request.
type Policy struct {
	ExemptPaths    map[string]struct{}
	ExemptPrefixes []string
}

// NewDefaultPolicy builds a default policy with exemptions.
func NewDefaultPolicy(exemptPaths []string, exemptPrefixes []string) Policy {
	set := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		set[path] = struct{}{}
	}
	return Policy{ExemptPaths: set, ExemptPrefixes: exemptPrefixes}
}

// IsExempt returns true when a request should skip auth/RBAC.
func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil {
		return true
	}
	if _, ok := p.ExemptPaths[r.URL.Path]; ok {
		return true
	}
	for _, prefix := range p.ExemptPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// RequiredRole resolves required role for the request.
// Condo and unit scoping is checked by the handlers on top of the role.
func (p Policy) RequiredRole(r *http.Request) (Role, bool) {
	if r == nil {
		return "", false
	}
	path := r.URL.Path
	method := r.Method

	switch {
	case path == "/api/v1/condos":
		return RoleSuperAdmin, true
	case strings.HasPrefix(path, "/api/v1/condos/"):
		switch {
		case strings.HasSuffix(path, "/history/rebuild"):
			return RoleAdmin, true
		case strings.HasSuffix(path, "/units") && method == http.MethodPost:
			return RoleAdmin, true
		case strings.HasSuffix(path, "/units"):
			return RoleOwner, true
		}
		return RoleAnalyst, true
	case strings.HasPrefix(path, "/api/v1/units/"):
		if strings.HasSuffix(path, "/active") {
			return RoleAdmin, true
		}
		return RoleOwner, true
	case path == "/api/v1/readings":
		return RoleEditor, true
	case strings.HasPrefix(path, "/api/v1/readings/"):
		if method == http.MethodGet {
			return RoleAnalyst, true
		}
		return RoleEditor, true
	case path == "/api/v1/invitations/verify":
		return "", false
	case strings.HasPrefix(path, "/api/v1/invitations/") && strings.HasSuffix(path, "/complete"):
		return "", false
	case path == "/api/v1/invitations", strings.HasPrefix(path, "/api/v1/invitations/"):
		return RoleAdmin, true
	}

	if strings.HasPrefix(path, "/api/") {
		if method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions {
			return RoleAnalyst, true
		}
		return RoleAdmin, true
	}
	return "", false
}
