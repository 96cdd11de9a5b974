// ABOUTME: JSON API handlers mapping HTTP requests onto store dispatches and getters
// ABOUTME: Includes markdown rendering of order notes on the detail endpoint

package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/2389/ordertrack/internal/model"
	"github.com/2389/ordertrack/internal/modules/orders"
	"github.com/2389/ordertrack/internal/modules/processes"
	"github.com/2389/ordertrack/internal/modules/users"
	"github.com/2389/ordertrack/internal/store"
)

// UserResponse is the JSON shape of a user; the password hash never leaves
// the server.
type UserResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionResponse is the JSON response for POST /api/login.
type SessionResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

// OrderDetailResponse is the JSON response for GET /api/orders/{id}. Notes
// are rendered from markdown to HTML for the UI.
type OrderDetailResponse struct {
	model.Order
	NotesHTML string         `json:"notes_html,omitempty"`
	Process   *model.Process `json:"process,omitempty"`
}

// HistoryEntryResponse is one entry of GET /api/history.
type HistoryEntryResponse struct {
	Name      string    `json:"name"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

func userResponse(u model.User) UserResponse {
	return UserResponse{ID: u.ID, Name: u.Name, Role: u.Role, CreatedAt: u.CreatedAt}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var creds users.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	// Role is not client-assignable
	creds.Role = ""

	result, err := s.store.Dispatch(r.Context(), users.ActionRegister, creds)
	if err != nil {
		s.sendActionError(w, err)
		return
	}

	s.sendJSON(w, http.StatusCreated, userResponse(result.(model.User)))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var creds users.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := s.store.Dispatch(r.Context(), users.ActionLogin, creds)
	if err != nil {
		s.sendActionError(w, err)
		return
	}

	session := result.(users.Session)
	s.sendJSON(w, http.StatusOK, SessionResponse{
		Token: session.Token,
		User:  userResponse(session.User),
	})
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		v, err := s.store.Get(orders.GetterOrders)
		if err != nil {
			s.sendActionError(w, err)
			return
		}
		list, _ := v.([]model.Order)
		s.sendJSON(w, http.StatusOK, map[string]any{"orders": list})

	case http.MethodPost:
		var req orders.CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		result, err := s.store.Dispatch(r.Context(), orders.ActionCreate, req)
		if err != nil {
			s.sendActionError(w, err)
			return
		}
		s.sendJSON(w, http.StatusCreated, result)

	default:
		s.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleOrderRoutes dispatches /api/orders/{id} and /api/orders/{id}/status.
func (s *Server) handleOrderRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/orders/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		s.handleOrderByID(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "status":
		s.handleOrderStatus(w, r, parts[0])
	default:
		s.sendJSONError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleOrderByID(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		v, err := s.store.Get(orders.GetterOrderByID)
		if err != nil {
			s.sendActionError(w, err)
			return
		}
		order := v.(func(string) *model.Order)(id)
		if order == nil {
			s.sendJSONError(w, http.StatusNotFound, "order not found")
			return
		}

		detail := OrderDetailResponse{Order: *order}
		if order.Notes != "" {
			detail.NotesHTML = s.renderMarkdown(order.Notes)
		}
		if order.ProcessID != "" {
			if pv, err := s.store.Get(processes.GetterProcessByID); err == nil {
				detail.Process = pv.(func(string) *model.Process)(order.ProcessID)
			}
		}
		s.sendJSON(w, http.StatusOK, detail)

	case http.MethodDelete:
		if _, err := s.store.Dispatch(r.Context(), orders.ActionDelete, id); err != nil {
			s.sendActionError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		s.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleOrderStatus(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPatch {
		s.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := s.store.Dispatch(r.Context(), orders.ActionUpdateStatus, orders.StatusRequest{
		ID:     id,
		Status: body.Status,
	})
	if err != nil {
		s.sendActionError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, result)
}

func (s *Server) handleProcesses(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		v, err := s.store.Get(processes.GetterProcesses)
		if err != nil {
			s.sendActionError(w, err)
			return
		}
		list, _ := v.([]model.Process)
		s.sendJSON(w, http.StatusOK, map[string]any{"processes": list})

	case http.MethodPost:
		var req processes.CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		result, err := s.store.Dispatch(r.Context(), processes.ActionCreate, req)
		if err != nil {
			s.sendActionError(w, err)
			return
		}
		s.sendJSON(w, http.StatusCreated, result)

	default:
		s.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleProcessRoutes dispatches /api/processes/{id}/advance.
func (s *Server) handleProcessRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/processes/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	if len(parts) != 2 || parts[1] != "advance" {
		s.sendJSONError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodPost {
		s.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	result, err := s.store.Dispatch(r.Context(), processes.ActionAdvance, parts[0])
	if err != nil {
		s.sendActionError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, result)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	v, err := s.store.Get(processes.GetterStats)
	if err != nil {
		s.sendActionError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, v)
}

// handleState dumps the current state record for admin inspection. User
// entries are reduced to their public shape first.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	state := s.store.Snapshot()
	for key, value := range state {
		switch v := value.(type) {
		case []model.User:
			public := make([]UserResponse, len(v))
			for i, u := range v {
				public[i] = userResponse(u)
			}
			state[key] = public
		case model.User:
			state[key] = userResponse(v)
		}
	}
	s.sendJSON(w, http.StatusOK, map[string]any{"state": state})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	history := s.store.History()
	entries := make([]HistoryEntryResponse, len(history))
	for i, e := range history {
		entries[i] = HistoryEntryResponse{
			Name:      e.Name,
			Payload:   e.Payload,
			Timestamp: e.Timestamp,
		}
	}
	s.sendJSON(w, http.StatusOK, map[string]any{"history": entries})
}

// renderMarkdown converts order notes to HTML. A rendering failure falls
// back to the raw text rather than failing the request.
func (s *Server) renderMarkdown(text string) string {
	var buf bytes.Buffer
	if err := s.markdown.Convert([]byte(text), &buf); err != nil {
		s.logger.Error("rendering markdown failed", "error", err)
		return text
	}
	return buf.String()
}

// sendJSON writes a JSON response with the given status.
func (s *Server) sendJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("encoding response failed", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// sendActionError maps module and store errors onto HTTP statuses.
func (s *Server) sendActionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orders.ErrOrderNotFound),
		errors.Is(err, processes.ErrProcessNotFound),
		errors.Is(err, users.ErrUserNotFound):
		s.sendJSONError(w, http.StatusNotFound, err.Error())

	case errors.Is(err, orders.ErrInvalidTransition),
		errors.Is(err, orders.ErrEmptyCustomer),
		errors.Is(err, orders.ErrInvalidPayload),
		errors.Is(err, processes.ErrNoSteps),
		errors.Is(err, processes.ErrProcessComplete),
		errors.Is(err, processes.ErrInvalidPayload),
		errors.Is(err, users.ErrInvalidPayload):
		s.sendJSONError(w, http.StatusBadRequest, err.Error())

	case errors.Is(err, users.ErrNameTaken):
		s.sendJSONError(w, http.StatusConflict, err.Error())

	case errors.Is(err, users.ErrBadCredentials):
		s.sendJSONError(w, http.StatusUnauthorized, "bad credentials")

	case errors.Is(err, store.ErrUnknownAction),
		errors.Is(err, store.ErrUnknownMutation),
		errors.Is(err, store.ErrUnknownGetter):
		s.logger.Error("store registry lookup failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")

	default:
		s.logger.Error("request failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}
