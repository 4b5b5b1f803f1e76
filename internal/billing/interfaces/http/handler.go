package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"condo-water/internal/audit"
	"condo-water/internal/auth"
	billingapp "condo-water/internal/billing/application"
	billing "condo-water/internal/billing/domain"
	billingexport "condo-water/internal/billing/interfaces"
	"condo-water/internal/observability/metrics"
)

const (
	readingsPath   = "/api/v1/readings"
	readingsPrefix = "/api/v1/readings/"
)

// Handler provides meter reading HTTP endpoints.
type Handler struct {
	service     *billingapp.LifecycleService
	scope       *auth.ScopeChecker
	auditLogger audit.Logger
	logger      *zap.Logger
}

// NewHandler constructs a handler. scope and auditLogger may be nil.
func NewHandler(service *billingapp.LifecycleService, scope *auth.ScopeChecker, auditLogger audit.Logger, logger *zap.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("readings handler: nil service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, scope: scope, auditLogger: auditLogger, logger: logger}, nil
}

// ServeHTTP handles /api/v1/readings and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == readingsPath:
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleCreate(w, r)
	case strings.HasPrefix(r.URL.Path, readingsPrefix):
		h.handleByID(w, r, strings.TrimPrefix(r.URL.Path, readingsPrefix))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleByID(w http.ResponseWriter, r *http.Request, rest string) {
	parts := strings.Split(rest, "/")
	id := parts[0]
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.handleGet(w, r, id)
	case len(parts) == 3 && parts[1] == "units" && parts[2] != "" && r.Method == http.MethodPut:
		h.handleSubmit(w, r, id, parts[2])
	case len(parts) == 2 && parts[1] == "close" && r.Method == http.MethodPost:
		h.handleClose(w, r, id)
	case len(parts) == 2 && parts[1] == "export.pdf" && r.Method == http.MethodGet:
		h.handleExport(w, r, id, "pdf")
	case len(parts) == 2 && parts[1] == "export.xlsx" && r.Method == http.MethodGet:
		h.handleExport(w, r, id, "xlsx")
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type createRequest struct {
	CondoID      string                     `json:"condo_id"`
	Date         string                     `json:"date"`
	UnitReadings map[string]json.RawMessage `json:"unit_readings"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := h.ensureCondo(r, req.CondoID); err != nil {
		auth.RespondScopeError(w, err)
		return
	}

	verr := billing.NewValidationError()
	date, err := billing.ParseDate(req.Date)
	if err != nil {
		verr.Add("", "date", err.Error())
	}
	values := make(map[string]string, len(req.UnitReadings))
	for unitID, raw := range req.UnitReadings {
		text, err := rawValue(raw)
		if err != nil {
			verr.Add(unitID, "reading", err.Error())
			continue
		}
		values[unitID] = text
	}
	if err := verr.OrNil(); err != nil {
		respondServiceError(w, err)
		return
	}

	id, err := h.service.CreatePeriod(r.Context(), billingapp.CreatePeriodInput{
		CondoID:      req.CondoID,
		Date:         date,
		UnitReadings: values,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"reading_id": id})
	h.logAudit(r, req.CondoID, id, "reading.create", map[string]any{
		"date":  req.Date,
		"units": len(values),
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	reading, ok := h.loadScoped(w, r, id)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newReadingView(reading))
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request, id, unitID string) {
	if _, ok := h.loadScoped(w, r, id); !ok {
		return
	}
	var req struct {
		Reading json.RawMessage `json:"reading"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	value, err := rawValue(req.Reading)
	if err != nil {
		respondServiceError(w, billing.NewValidationError(billing.FieldError{UnitID: unitID, Field: "reading", Reason: err.Error()}))
		return
	}
	reading, err := h.service.SubmitUnitReading(r.Context(), id, unitID, value)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newReadingView(reading))
	h.logAudit(r, reading.CondoID(), id, "reading.submit", map[string]any{
		"unit_id": unitID,
		"reading": value,
	})
}

type closeRequest struct {
	TotalReading json.RawMessage `json:"total_reading"`
	TotalCost    json.RawMessage `json:"total_cost"`
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := h.loadScoped(w, r, id); !ok {
		return
	}
	var req closeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	verr := billing.NewValidationError()
	totalReading := parseAmount(verr, "totalReading", req.TotalReading)
	totalCost := parseAmount(verr, "totalCost", req.TotalCost)
	if err := verr.OrNil(); err != nil {
		respondServiceError(w, err)
		return
	}

	result, err := h.service.ClosePeriod(r.Context(), billingapp.ClosePeriodInput{
		ReadingID:    id,
		TotalReading: totalReading,
		TotalCost:    totalCost,
	})
	if err != nil {
		if billing.IsRetryable(err) {
			h.logger.Warn("close conflict", zap.String("reading_id", id), zap.Error(err))
		}
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newCloseView(result))
	h.logAudit(r, result.Summary.CondoID, id, "reading.close", map[string]any{
		"total_reading": totalReading.String(),
		"total_cost":    totalCost.String(),
		"units":         result.Summary.UnitCount,
	})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request, id, format string) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveExport(format, result, time.Since(start))
	}()

	reading, ok := h.loadScoped(w, r, id)
	if !ok {
		result = metrics.ResultError
		return
	}
	var (
		data        []byte
		err         error
		contentType string
	)
	switch format {
	case "pdf":
		data, err = billingexport.BuildReadingPDF(reading)
		contentType = "application/pdf"
	default:
		data, err = billingexport.BuildReadingXLSX(reading)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	if err != nil {
		result = metrics.ResultError
		if errors.Is(err, billing.ErrPrecondition) {
			respondServiceError(w, err)
			return
		}
		h.logger.Error("export failed", zap.String("reading_id", id), zap.String("format", format), zap.Error(err))
		http.Error(w, "export "+format+" error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "reading-"+id+"."+format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
	h.logAudit(r, reading.CondoID(), id, "reading.export", map[string]any{"format": format})
}

// loadScoped loads a reading and checks the session may access its condo.
// It writes the error response and returns false on failure.
func (h *Handler) loadScoped(w http.ResponseWriter, r *http.Request, id string) (*billing.MeterReading, bool) {
	reading, err := h.service.GetReading(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return nil, false
	}
	if err := h.ensureCondo(r, reading.CondoID()); err != nil {
		auth.RespondScopeError(w, err)
		return nil, false
	}
	return reading, true
}

func (h *Handler) ensureCondo(r *http.Request, condoID string) error {
	return h.scope.EnsureCondo(r.Context(), condoID)
}

func (h *Handler) logAudit(r *http.Request, condoID, readingID, action string, meta map[string]any) {
	if h.auditLogger == nil {
		return
	}
	payload, _ := json.Marshal(meta)
	if err := h.auditLogger.Log(r.Context(), audit.Entry{
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: "reading",
		ResourceID:   readingID,
		CondoID:      condoID,
		Metadata:     payload,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	}); err != nil {
		h.logger.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}

// rawValue accepts a meter value sent as a JSON string or number.
func rawValue(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", billing.ErrValueNotNumeric
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", billing.ErrValueNotNumeric
	}
	return n.String(), nil
}

func parseAmount(verr *billing.ValidationError, field string, raw json.RawMessage) decimal.Decimal {
	text, err := rawValue(raw)
	if err != nil {
		verr.Add("", field, err.Error())
		return decimal.Zero
	}
	value, err := billing.ParseReadingValue(text)
	if err != nil {
		verr.Add("", field, err.Error())
		return decimal.Zero
	}
	return value
}

func respondServiceError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var verr *billing.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": verr.Fields,
		})
		return
	}
	if errors.Is(err, billing.ErrReadingNotFound) || errors.Is(err, billing.ErrUnknownCondo) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
		return
	}
	var perr *billing.PreconditionError
	if errors.As(err, &perr) {
		body := map[string]any{"error": perr.Error()}
		if len(perr.MissingUnits) > 0 {
			body["missing_units"] = perr.MissingUnits
		}
		writeJSON(w, http.StatusConflict, body)
		return
	}
	if errors.Is(err, billing.ErrPersistence) {
		if billing.IsRetryable(err) {
			writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "retryable": true})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "retryable": false})
		return
	}
	if errors.Is(err, auth.ErrForbidden) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
