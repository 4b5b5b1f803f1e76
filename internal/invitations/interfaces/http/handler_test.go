package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"condo-water/internal/audit"
	"condo-water/internal/auth"
	"condo-water/internal/docstore/memory"
	invapp "condo-water/internal/invitations/application"
	invitations "condo-water/internal/invitations/domain"
	invitationstore "condo-water/internal/invitations/infrastructure/docstore"
)

var secret = []byte("test-secret")

type nopMailer struct{}

func (nopMailer) SendInvitation(context.Context, invitations.Mail) error { return nil }

func newTestHandler(t *testing.T) (*Handler, *audit.Repository) {
	t.Helper()
	store := memory.NewStore()
	repo, err := invitationstore.NewRepository(store)
	require.NoError(t, err)
	svc, err := invapp.NewService(repo, nopMailer{}, "https://app.example.com")
	require.NoError(t, err)
	auditRepo := audit.NewRepository(store)
	h, err := NewHandler(svc, secret, 0, auditRepo, nil)
	require.NoError(t, err)
	return h, auditRepo
}

func call(h http.Handler, method, path, body string, session *auth.Session) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if session != nil {
		req = req.WithContext(auth.WithSession(req.Context(), *session))
	}
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

type createResponse struct {
	Invitation invitationView `json:"invitation"`
	Delivered  bool           `json:"delivered"`
}

func TestHandler_InvitationLifecycle(t *testing.T) {
	h, auditRepo := newTestHandler(t)
	admin := &auth.Session{Subject: "adm", Role: auth.RoleAdmin, CondoID: "c-1"}

	resp := call(h, http.MethodPost, "/api/v1/invitations", `{"email":"owner@example.com","role":"owner","condo_id":"c-1","unit_id":"101"}`, admin)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	var created createResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.True(t, created.Delivered)
	assert.Equal(t, "pending", created.Invitation.Status)
	assert.NotContains(t, resp.Body.String(), `"token"`)

	resp = call(h, http.MethodGet, "/api/v1/invitations?condo_id=c-1", "", admin)
	require.Equal(t, http.StatusOK, resp.Code)
	var list []invitationView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)

	// The token only travels by mail; read it from the service for the test.
	inv, err := h.service.ListPending(context.Background(), *admin, "c-1")
	require.NoError(t, err)
	token := inv[0].Token

	resp = call(h, http.MethodPost, "/api/v1/invitations/verify", `{"token":"`+token+`"}`, nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = call(h, http.MethodPost, "/api/v1/invitations/other-id/complete", `{"token":"`+token+`","user_id":"u-1"}`, nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = call(h, http.MethodPost, "/api/v1/invitations/"+created.Invitation.ID+"/complete", `{"token":"`+token+`","user_id":"u-1"}`, nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var completed struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&completed))
	claims, err := auth.ParseJWT(completed.Token, secret)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.Subject)
	assert.Equal(t, "owner", claims.Role)
	assert.Equal(t, "101", claims.UnitID)

	resp = call(h, http.MethodPost, "/api/v1/invitations/"+created.Invitation.ID+"/complete", `{"token":"`+token+`","user_id":"u-2"}`, nil)
	assert.Equal(t, http.StatusConflict, resp.Code)

	entries, err := auditRepo.ListByResource(context.Background(), "invitation", created.Invitation.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "invitation.create", entries[0].Action)
	assert.Equal(t, "invitation.complete", entries[1].Action)
	assert.Equal(t, "u-1", entries[1].Actor)
}

func TestHandler_ErrorMapping(t *testing.T) {
	h, _ := newTestHandler(t)
	admin := &auth.Session{Subject: "adm", Role: auth.RoleAdmin, CondoID: "c-1"}

	resp := call(h, http.MethodPost, "/api/v1/invitations", `{"email":"x@example.com","role":"admin","condo_id":"c-1"}`, admin)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = call(h, http.MethodPost, "/api/v1/invitations", `{"email":"bad","role":"analyst","condo_id":"c-1"}`, admin)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = call(h, http.MethodPost, "/api/v1/invitations/verify", `{"token":"nope"}`, nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = call(h, http.MethodPost, "/api/v1/invitations/missing/cancel", "", admin)
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = call(h, http.MethodPost, "/api/v1/invitations", `{"email":"y@example.com","role":"editor","condo_id":"c-1"}`, admin)
	require.Equal(t, http.StatusCreated, resp.Code)
	var created createResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))

	path := "/api/v1/invitations/" + created.Invitation.ID + "/cancel"
	assert.Equal(t, http.StatusOK, call(h, http.MethodPost, path, "", admin).Code)
	assert.Equal(t, http.StatusConflict, call(h, http.MethodPost, path, "", admin).Code)

	assert.Equal(t, http.StatusBadRequest, call(h, http.MethodGet, "/api/v1/invitations", "", &auth.Session{Subject: "r", Role: auth.RoleSuperAdmin}).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, call(h, http.MethodDelete, "/api/v1/invitations", "", admin).Code)
}
