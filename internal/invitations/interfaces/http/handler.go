package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"condo-water/internal/audit"
	"condo-water/internal/auth"
	invapp "condo-water/internal/invitations/application"
	invitations "condo-water/internal/invitations/domain"
)

const (
	invitationsPath  = "/api/v1/invitations"
	invitationPrefix = "/api/v1/invitations/"
	verifyPath       = "/api/v1/invitations/verify"
	defaultTokenTTL  = 24 * time.Hour
)

// Handler provides invitation endpoints. Verify and complete run without a session.
type Handler struct {
	service     *invapp.Service
	secret      []byte
	tokenTTL    time.Duration
	auditLogger audit.Logger
	logger      *zap.Logger
}

// NewHandler constructs a handler. secret signs the session token issued on completion.
func NewHandler(service *invapp.Service, secret []byte, tokenTTL time.Duration, auditLogger audit.Logger, logger *zap.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("invitation handler: nil service")
	}
	if len(secret) == 0 {
		return nil, errors.New("invitation handler: empty jwt secret")
	}
	if tokenTTL <= 0 {
		tokenTTL = defaultTokenTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, secret: secret, tokenTTL: tokenTTL, auditLogger: auditLogger, logger: logger}, nil
}

type invitationView struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Role      string     `json:"role"`
	CondoID   string     `json:"condo_id"`
	UnitID    string     `json:"unit_id,omitempty"`
	Status    string     `json:"status"`
	CreatedBy string     `json:"created_by"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	Completed *time.Time `json:"completed_at,omitempty"`
}

func newInvitationView(inv *invitations.Invitation) invitationView {
	return invitationView{
		ID:        inv.ID,
		Email:     inv.Email,
		Role:      string(inv.Role),
		CondoID:   inv.CondoID,
		UnitID:    inv.UnitID,
		Status:    string(inv.Status),
		CreatedBy: inv.CreatedBy,
		CreatedAt: inv.CreatedAt,
		ExpiresAt: inv.ExpiresAt,
		Completed: inv.CompletedAt,
	}
}

// ServeHTTP handles /api/v1/invitations and its verify, cancel and complete actions.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case path == invitationsPath:
		switch r.Method {
		case http.MethodPost:
			h.handleCreate(w, r)
		case http.MethodGet:
			h.handleList(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case path == verifyPath:
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleVerify(w, r)
	case strings.HasPrefix(path, invitationPrefix):
		parts := strings.Split(strings.TrimPrefix(path, invitationPrefix), "/")
		if len(parts) != 2 || parts[0] == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		switch parts[1] {
		case "cancel":
			h.handleCancel(w, r, parts[0])
		case "complete":
			h.handleComplete(w, r, parts[0])
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email   string `json:"email"`
		Role    string `json:"role"`
		CondoID string `json:"condo_id"`
		UnitID  string `json:"unit_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	session, _ := auth.SessionFromContext(r.Context())
	result, err := h.service.Create(r.Context(), session, invapp.CreateInput{
		Email:   req.Email,
		Role:    auth.Role(req.Role),
		CondoID: req.CondoID,
		UnitID:  req.UnitID,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	inv := result.Invitation
	writeJSON(w, http.StatusCreated, map[string]any{
		"invitation": newInvitationView(inv),
		"delivered":  result.Delivered,
	})
	h.logAudit(r, inv.CondoID, inv.ID, "invitation.create", map[string]any{
		"email":     inv.Email,
		"role":      inv.Role,
		"delivered": result.Delivered,
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	condoID := strings.TrimSpace(r.URL.Query().Get("condo_id"))
	if condoID == "" {
		condoID = auth.CondoIDFromContext(r.Context())
	}
	if condoID == "" {
		http.Error(w, "condo_id is required", http.StatusBadRequest)
		return
	}
	session, _ := auth.SessionFromContext(r.Context())
	list, err := h.service.ListPending(r.Context(), session, condoID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	views := make([]invitationView, 0, len(list))
	for i := range list {
		views = append(views, newInvitationView(&list[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	inv, err := h.service.Verify(r.Context(), req.Token)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newInvitationView(inv))
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request, id string) {
	session, _ := auth.SessionFromContext(r.Context())
	inv, err := h.service.Cancel(r.Context(), session, id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newInvitationView(inv))
	h.logAudit(r, inv.CondoID, inv.ID, "invitation.cancel", nil)
}

// handleComplete redeems the token of invitation id for user_id and returns
// a session token carrying the invited role.
func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		Token  string `json:"token"`
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	inv, err := h.service.Verify(r.Context(), req.Token)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if inv.ID != id {
		http.Error(w, invitations.ErrNotFound.Error(), http.StatusNotFound)
		return
	}
	inv, err = h.service.Complete(r.Context(), id, req.UserID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	session := auth.Session{Subject: inv.CompletedBy, Role: inv.Role, CondoID: inv.CondoID, UnitID: inv.UnitID}
	token, err := auth.SignJWT(session, h.secret, h.tokenTTL)
	if err != nil {
		h.logger.Error("sign session token failed", zap.String("invitation_id", inv.ID), zap.Error(err))
		http.Error(w, "token issue failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"invitation": newInvitationView(inv),
		"token":      token,
		"expires_in": int(h.tokenTTL.Seconds()),
	})
	r = r.WithContext(auth.WithSession(r.Context(), session))
	h.logAudit(r, inv.CondoID, inv.ID, "invitation.complete", map[string]any{"role": inv.Role})
}

func (h *Handler) logAudit(r *http.Request, condoID, resourceID, action string, meta map[string]any) {
	if h.auditLogger == nil {
		return
	}
	var payload json.RawMessage
	if meta != nil {
		payload, _ = json.Marshal(meta)
	}
	if err := h.auditLogger.Log(r.Context(), audit.Entry{
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: "invitation",
		ResourceID:   resourceID,
		CondoID:      condoID,
		Metadata:     payload,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	}); err != nil {
		h.logger.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}

func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, invitations.ErrForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, invitations.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, invitations.ErrInvalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, invitations.ErrNotPending), errors.Is(err, invitations.ErrExpired), errors.Is(err, invitations.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
