// ABOUTME: Tests for the HTTP API routes, auth wiring and error mapping
// ABOUTME: Drives the full handler stack through httptest with a real store behind it

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/ordertrack/internal/auth"
	"github.com/2389/ordertrack/internal/model"
	"github.com/2389/ordertrack/internal/modules/orders"
	"github.com/2389/ordertrack/internal/modules/processes"
	"github.com/2389/ordertrack/internal/modules/users"
	"github.com/2389/ordertrack/internal/seed"
	"github.com/2389/ordertrack/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	verifier := auth.NewJWTVerifier([]byte("test-secret-at-least-32-characters"))

	s := store.New(seed.Empty(), nil, logger)
	require.NoError(t, orders.Register(s, logger))
	require.NoError(t, users.New(verifier, time.Hour, logger).Register(s))
	require.NoError(t, processes.Register(s, logger))

	return New(s, verifier, "127.0.0.1:0", logger), s
}

// loginAs registers an account through the store and returns a bearer token
// for it. Role defaults to member when empty.
func loginAs(t *testing.T, s *store.Store, srv *Server, name, role string) string {
	t.Helper()

	_, err := s.Dispatch(context.Background(), users.ActionRegister, users.Credentials{
		Name:     name,
		Password: "hunter2!",
		Role:     role,
	})
	require.NoError(t, err)

	rec := doJSON(srv, http.MethodPost, "/api/login", "", users.Credentials{
		Name:     name,
		Password: "hunter2!",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var session SessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&session))
	require.NotEmpty(t, session.Token)
	return session.Token
}

func doJSON(srv *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		encoded, _ := json.Marshal(body)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(srv, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestServer_RegisterStripsPasswordHash(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(srv, http.MethodPost, "/api/register", "", users.Credentials{
		Name:     "alice",
		Password: "hunter2!",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "alice", body["name"])
	assert.Equal(t, "member", body["role"])
	assert.NotContains(t, body, "password_hash")
}

func TestServer_RegisterIgnoresClientRole(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(srv, http.MethodPost, "/api/register", "", users.Credentials{
		Name:     "mallory",
		Password: "hunter2!",
		Role:     "admin",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "member", body["role"])
}

func TestServer_RegisterDuplicateName(t *testing.T) {
	srv, _ := newTestServer(t)

	creds := users.Credentials{Name: "alice", Password: "hunter2!"}
	require.Equal(t, http.StatusCreated, doJSON(srv, http.MethodPost, "/api/register", "", creds).Code)
	assert.Equal(t, http.StatusConflict, doJSON(srv, http.MethodPost, "/api/register", "", creds).Code)
}

func TestServer_LoginWrongPassword(t *testing.T) {
	srv, _ := newTestServer(t)

	require.Equal(t, http.StatusCreated, doJSON(srv, http.MethodPost, "/api/register", "",
		users.Credentials{Name: "alice", Password: "hunter2!"}).Code)

	rec := doJSON(srv, http.MethodPost, "/api/login", "",
		users.Credentials{Name: "alice", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "bad credentials")
}

func TestServer_OrdersRequireAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, doJSON(srv, http.MethodGet, "/api/orders", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, doJSON(srv, http.MethodGet, "/api/orders", "garbage-token", nil).Code)
}

func TestServer_OrderLifecycle(t *testing.T) {
	srv, s := newTestServer(t)
	token := loginAs(t, s, srv, "alice", "")

	// Create
	rec := doJSON(srv, http.MethodPost, "/api/orders", token, orders.CreateRequest{
		Customer: "ACME Corp",
		Notes:    "**rush** delivery",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created model.Order
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	require.NotEmpty(t, created.ID)
	assert.Equal(t, model.StatusReceived, created.Status)

	// List
	rec = doJSON(srv, http.MethodGet, "/api/orders", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Orders []model.Order `json:"orders"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	assert.Len(t, list.Orders, 1)

	// Detail renders markdown notes
	rec = doJSON(srv, http.MethodGet, "/api/orders/"+created.ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail OrderDetailResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&detail))
	assert.Contains(t, detail.NotesHTML, "<strong>rush</strong>")

	// Advance status
	rec = doJSON(srv, http.MethodPatch, "/api/orders/"+created.ID+"/status", token,
		map[string]string{"status": model.StatusInProgress})
	require.Equal(t, http.StatusOK, rec.Code)

	// Backwards transition is rejected
	rec = doJSON(srv, http.MethodPatch, "/api/orders/"+created.ID+"/status", token,
		map[string]string{"status": model.StatusReceived})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Delete, then the detail route 404s
	assert.Equal(t, http.StatusNoContent,
		doJSON(srv, http.MethodDelete, "/api/orders/"+created.ID, token, nil).Code)
	assert.Equal(t, http.StatusNotFound,
		doJSON(srv, http.MethodGet, "/api/orders/"+created.ID, token, nil).Code)
}

func TestServer_OrderValidation(t *testing.T) {
	srv, s := newTestServer(t)
	token := loginAs(t, s, srv, "alice", "")

	rec := doJSON(srv, http.MethodPost, "/api/orders", token, orders.CreateRequest{Customer: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(srv, http.MethodGet, "/api/orders/no-such-order", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ProcessAdvance(t *testing.T) {
	srv, s := newTestServer(t)
	token := loginAs(t, s, srv, "alice", "")

	rec := doJSON(srv, http.MethodPost, "/api/processes", token, processes.CreateRequest{
		Name:  "fulfillment",
		Steps: []string{"pick", "pack"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var p model.Process
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))

	advance := "/api/processes/" + p.ID + "/advance"
	require.Equal(t, http.StatusOK, doJSON(srv, http.MethodPost, advance, token, nil).Code)
	require.Equal(t, http.StatusOK, doJSON(srv, http.MethodPost, advance, token, nil).Code)

	// Past the last step
	rec = doJSON(srv, http.MethodPost, advance, token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "complete")
}

func TestServer_ProcessWithoutSteps(t *testing.T) {
	srv, s := newTestServer(t)
	token := loginAs(t, s, srv, "alice", "")

	rec := doJSON(srv, http.MethodPost, "/api/processes", token, processes.CreateRequest{Name: "empty"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Stats(t *testing.T) {
	srv, s := newTestServer(t)
	token := loginAs(t, s, srv, "alice", "")

	rec := doJSON(srv, http.MethodPost, "/api/orders", token, orders.CreateRequest{Customer: "ACME"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(srv, http.MethodGet, "/api/stats", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats processes.Stats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, 1, stats.Orders)
	assert.Equal(t, 1, stats.Users)
	assert.Equal(t, 1, stats.OrdersByStatus[model.StatusReceived])
}

func TestServer_HistoryRequiresAdmin(t *testing.T) {
	srv, s := newTestServer(t)

	memberToken := loginAs(t, s, srv, "alice", "")
	assert.Equal(t, http.StatusForbidden,
		doJSON(srv, http.MethodGet, "/api/history", memberToken, nil).Code)

	adminToken := loginAs(t, s, srv, "root", "admin")
	rec := doJSON(srv, http.MethodGet, "/api/history", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		History []HistoryEntryResponse `json:"history"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.NotEmpty(t, body.History)

	// Both logins committed SET_CURRENT_USER
	var names []string
	for _, e := range body.History {
		names = append(names, e.Name)
	}
	assert.Contains(t, names, users.MutationSetCurrentUser)
}

func TestServer_StateDumpStripsPasswordHashes(t *testing.T) {
	srv, s := newTestServer(t)

	memberToken := loginAs(t, s, srv, "alice", "")
	assert.Equal(t, http.StatusForbidden,
		doJSON(srv, http.MethodGet, "/api/state", memberToken, nil).Code)

	adminToken := loginAs(t, s, srv, "root", "admin")
	rec := doJSON(srv, http.MethodGet, "/api/state", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `"alice"`)
	assert.NotContains(t, body, "password_hash")
	assert.NotContains(t, body, "$2a$") // bcrypt prefix
}

func TestServer_MethodNotAllowed(t *testing.T) {
	srv, s := newTestServer(t)
	token := loginAs(t, s, srv, "alice", "")

	assert.Equal(t, http.StatusMethodNotAllowed,
		doJSON(srv, http.MethodDelete, "/api/orders", token, nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed,
		doJSON(srv, http.MethodGet, "/api/register", "", nil).Code)
}

func TestServer_InvalidJSONBody(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/register", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
