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
	mdapp "condo-water/internal/masterdata/application"
	masterdata "condo-water/internal/masterdata/domain"
)

const (
	condosPath  = "/api/v1/condos"
	condoPrefix = "/api/v1/condos/"
	unitPrefix  = "/api/v1/units/"
)

// Handler provides condo and unit registration endpoints.
type Handler struct {
	service     *mdapp.Service
	scope       *auth.ScopeChecker
	auditLogger audit.Logger
	logger      *zap.Logger
}

// NewHandler constructs a handler.
func NewHandler(service *mdapp.Service, scope *auth.ScopeChecker, auditLogger audit.Logger, logger *zap.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("masterdata handler: nil service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, scope: scope, auditLogger: auditLogger, logger: logger}, nil
}

type condoView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type unitView struct {
	ID       string `json:"id"`
	CondoID  string `json:"condo_id"`
	Label    string `json:"label"`
	IsActive bool   `json:"is_active"`
}

func newUnitView(u masterdata.Unit) unitView {
	return unitView{ID: u.ID, CondoID: u.CondoID, Label: u.Label, IsActive: u.IsActive}
}

// ServeHTTP handles /api/v1/condos, /api/v1/condos/{id}/units and /api/v1/units/{id}/active.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case path == condosPath:
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleCreateCondo(w, r)
	case strings.HasPrefix(path, condoPrefix) && strings.HasSuffix(path, "/units"):
		condoID := strings.TrimSuffix(strings.TrimPrefix(path, condoPrefix), "/units")
		if condoID == "" || strings.Contains(condoID, "/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch r.Method {
		case http.MethodGet:
			h.handleListUnits(w, r, condoID)
		case http.MethodPost:
			h.handleCreateUnit(w, r, condoID)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case strings.HasPrefix(path, unitPrefix) && strings.HasSuffix(path, "/active"):
		unitID := strings.TrimSuffix(strings.TrimPrefix(path, unitPrefix), "/active")
		if unitID == "" || strings.Contains(unitID, "/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleSetActive(w, r, unitID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleCreateCondo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	condo, err := h.service.RegisterCondo(r.Context(), req.ID, req.Name, req.Address)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, condoView{ID: condo.ID, Name: condo.Name, Address: condo.Address, CreatedAt: condo.CreatedAt})
	h.logAudit(r, condo.ID, "condo", condo.ID, "condo.create", map[string]any{"name": condo.Name})
}

func (h *Handler) handleListUnits(w http.ResponseWriter, r *http.Request, condoID string) {
	if err := h.scope.EnsureCondo(r.Context(), condoID); err != nil {
		auth.RespondScopeError(w, err)
		return
	}
	if _, err := h.service.GetCondo(r.Context(), condoID); err != nil {
		respondServiceError(w, err)
		return
	}
	units, err := h.service.ListUnits(r.Context(), condoID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	views := make([]unitView, 0, len(units))
	for _, unit := range units {
		views = append(views, newUnitView(unit))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleCreateUnit(w http.ResponseWriter, r *http.Request, condoID string) {
	if err := h.scope.EnsureCondo(r.Context(), condoID); err != nil {
		auth.RespondScopeError(w, err)
		return
	}
	var req struct {
		ID    string `json:"id"`
		Label string `json:"label"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	unit, err := h.service.RegisterUnit(r.Context(), condoID, req.ID, req.Label)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newUnitView(*unit))
	h.logAudit(r, condoID, "unit", unit.ID, "unit.create", map[string]any{"label": unit.Label})
}

func (h *Handler) handleSetActive(w http.ResponseWriter, r *http.Request, unitID string) {
	if _, err := h.scope.EnsureUnit(r.Context(), unitID); err != nil {
		auth.RespondScopeError(w, err)
		return
	}
	var req struct {
		Active *bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Active == nil {
		http.Error(w, "active is required", http.StatusBadRequest)
		return
	}
	unit, err := h.service.SetUnitActive(r.Context(), unitID, *req.Active)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newUnitView(*unit))
	h.logAudit(r, unit.CondoID, "unit", unit.ID, "unit.active.set", map[string]any{"active": unit.IsActive})
}

func (h *Handler) logAudit(r *http.Request, condoID, resourceType, resourceID, action string, meta map[string]any) {
	if h.auditLogger == nil {
		return
	}
	payload, _ := json.Marshal(meta)
	if err := h.auditLogger.Log(r.Context(), audit.Entry{
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: resourceType,
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
	case errors.Is(err, masterdata.ErrCondoNotFound), errors.Is(err, masterdata.ErrUnitNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, masterdata.ErrInvalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
