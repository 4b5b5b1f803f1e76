package auth

// Session is the authenticated caller of one request.
// Owners are scoped to a unit, every other role below superadmin to a condo.
type Session struct {
	Subject string `json:"sub"`
	Role    Role   `json:"role"`
	CondoID string `json:"condo_id,omitempty"`
	UnitID  string `json:"unit_id,omitempty"`
}

// SessionFromClaims builds a session from validated claims.
func SessionFromClaims(claims *Claims) Session {
	if claims == nil {
		return Session{}
	}
	role, _ := NormalizeRole(claims.Role)
	return Session{
		Subject: claims.Subject,
		Role:    role,
		CondoID: claims.CondoID,
		UnitID:  claims.UnitID,
	}
}

// Authenticated reports whether the session carries a valid role.
func (s Session) Authenticated() bool {
	return roleRank(s.Role) > 0
}

// HasRole reports whether the session role satisfies required.
func (s Session) HasRole(required Role) bool {
	return s.Authenticated() && RoleAtLeast(s.Role, required)
}

// CanAccessCondo reports whether the session may read or act on a condo.
func (s Session) CanAccessCondo(condoID string) bool {
	if !s.Authenticated() || condoID == "" {
		return false
	}
	if s.Role == RoleSuperAdmin {
		return true
	}
	return s.CondoID == condoID
}

// CanAccessUnit reports whether the session may read a unit of condoID.
func (s Session) CanAccessUnit(condoID, unitID string) bool {
	if !s.CanAccessCondo(condoID) || unitID == "" {
		return false
	}
	if s.Role == RoleOwner {
		return s.UnitID == unitID
	}
	return true
}
