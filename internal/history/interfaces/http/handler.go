package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"condo-water/internal/audit"
	"condo-water/internal/auth"
	historyapp "condo-water/internal/history/application"
	history "condo-water/internal/history/domain"
)

const apiPrefix = "/api/v1/"

// Handler provides unit and condo history endpoints.
type Handler struct {
	query       *historyapp.QueryService
	rebuilder   *historyapp.Rebuilder
	scope       *auth.ScopeChecker
	auditLogger audit.Logger
	logger      *zap.Logger
}

// NewHandler constructs a handler. rebuilder, scope and auditLogger may be nil.
func NewHandler(query *historyapp.QueryService, rebuilder *historyapp.Rebuilder, scope *auth.ScopeChecker, auditLogger audit.Logger, logger *zap.Logger) (*Handler, error) {
	if query == nil {
		return nil, errors.New("history handler: nil query service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{query: query, rebuilder: rebuilder, scope: scope, auditLogger: auditLogger, logger: logger}, nil
}

// ServeHTTP handles /api/v1/units/{id}/{history,stats} and
// /api/v1/condos/{id}/{history,stats,history/rebuild}.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, apiPrefix) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, apiPrefix), "/")
	if len(parts) < 3 || parts[1] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	kind, id, rest := parts[0], parts[1], strings.Join(parts[2:], "/")

	switch {
	case kind == "units" && rest == "history" && r.Method == http.MethodGet:
		h.handleUnitHistory(w, r, id)
	case kind == "units" && rest == "stats" && r.Method == http.MethodGet:
		h.handleUnitStats(w, r, id)
	case kind == "condos" && rest == "history" && r.Method == http.MethodGet:
		h.handleCondoHistory(w, r, id)
	case kind == "condos" && rest == "stats" && r.Method == http.MethodGet:
		h.handleCondoStats(w, r, id)
	case kind == "condos" && rest == "history/rebuild" && r.Method == http.MethodPost:
		h.handleRebuild(w, r, id)
	case rest == "history" || rest == "stats" || rest == "history/rebuild":
		w.WriteHeader(http.StatusMethodNotAllowed)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleUnitHistory(w http.ResponseWriter, r *http.Request, unitID string) {
	if _, err := h.scope.EnsureUnit(r.Context(), unitID); err != nil {
		auth.RespondScopeError(w, err)
		return
	}
	entries, err := h.query.GetUnitHistory(r.Context(), unitID)
	if err != nil {
		respondQueryError(w, err)
		return
	}
	if entries == nil {
		entries = []history.UnitEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleUnitStats(w http.ResponseWriter, r *http.Request, unitID string) {
	if _, err := h.scope.EnsureUnit(r.Context(), unitID); err != nil {
		auth.RespondScopeError(w, err)
		return
	}
	stats, err := h.query.GetUnitStats(r.Context(), unitID)
	if err != nil {
		respondQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleCondoHistory(w http.ResponseWriter, r *http.Request, condoID string) {
	if err := h.scope.EnsureCondo(r.Context(), condoID); err != nil {
		auth.RespondScopeError(w, err)
		return
	}
	entries, err := h.query.GetCondoHistory(r.Context(), condoID)
	if err != nil {
		respondQueryError(w, err)
		return
	}
	if entries == nil {
		entries = []history.CondoEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleCondoStats(w http.ResponseWriter, r *http.Request, condoID string) {
	if err := h.scope.EnsureCondo(r.Context(), condoID); err != nil {
		auth.RespondScopeError(w, err)
		return
	}
	stats, err := h.query.GetCondoStats(r.Context(), condoID)
	if err != nil {
		respondQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleRebuild(w http.ResponseWriter, r *http.Request, condoID string) {
	if h.rebuilder == nil {
		w.WriteHeader(http.StatusNotImplemented)
		return
	}
	if err := h.scope.EnsureCondo(r.Context(), condoID); err != nil {
		auth.RespondScopeError(w, err)
		return
	}
	result, err := h.rebuilder.RebuildCondo(r.Context(), condoID)
	if err != nil {
		h.logger.Error("history rebuild failed", zap.String("condo_id", condoID), zap.Error(err))
		respondQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
	h.logAudit(r, condoID, "history.rebuild", map[string]any{
		"readings":     result.Readings,
		"unit_entries": result.UnitEntries,
	})
}

func (h *Handler) logAudit(r *http.Request, condoID, action string, meta map[string]any) {
	if h.auditLogger == nil {
		return
	}
	payload, _ := json.Marshal(meta)
	if err := h.auditLogger.Log(r.Context(), audit.Entry{
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: "condo",
		ResourceID:   condoID,
		CondoID:      condoID,
		Metadata:     payload,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	}); err != nil {
		h.logger.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}

func respondQueryError(w http.ResponseWriter, err error) {
	if errors.Is(err, history.ErrNoHistory) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
