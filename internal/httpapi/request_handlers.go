package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"campusvault.org/internal/audit"
	"campusvault.org/internal/requests"
)

type listRequestsResponse struct {
	Items []requests.Request `json:"items"`
}

func (a *API) handleRequestsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listRequests(w, r)
	case http.MethodPost:
		a.createRequest(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRequestSubtree(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/requests/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "request not found")
		return
	}

	if id, ok := strings.CutSuffix(path, "/support"); ok {
		a.supportRequest(w, r, strings.TrimSuffix(id, "/"))
		return
	}
	if id, ok := strings.CutSuffix(path, "/fulfill"); ok {
		a.fulfillRequest(w, r, strings.TrimSuffix(id, "/"))
		return
	}
	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "request not found")
		return
	}

	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := requireUser(w, r); !ok {
		return
	}
	req, err := a.requests.Get(r.Context(), path)
	if err != nil {
		handleRequestsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// listRequests defaults to open requests, most supported first. status=all
// includes fulfilled history.
func (a *API) listRequests(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}

	status := requests.StatusOpen
	switch raw := strings.TrimSpace(r.URL.Query().Get("status")); raw {
	case "", string(requests.StatusOpen):
	case string(requests.StatusFulfilled):
		status = requests.StatusFulfilled
	case "all":
		status = ""
	default:
		writeError(w, r, http.StatusBadRequest, "status must be open, fulfilled or all")
		return
	}

	items, err := a.requests.List(r.Context(), status)
	if err != nil {
		handleRequestsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listRequestsResponse{Items: items})
}

func (a *API) createRequest(w http.ResponseWriter, r *http.Request) {
	user, ok := requireEligibleUser(w, r)
	if !ok {
		return
	}

	var draft requests.Draft
	if err := decodeJSON(w, r, &draft); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	req, err := a.requests.Create(r.Context(), draft, *user)
	if err != nil {
		handleRequestsError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "request.create", map[string]any{
		"request_id": req.ID,
		"subject":    req.Subject,
	})
	w.Header().Set("Location", "/v1/requests/"+req.ID)
	writeJSON(w, http.StatusCreated, req)
}

func (a *API) supportRequest(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := requireEligibleUser(w, r); !ok {
		return
	}

	req, err := a.requests.Support(r.Context(), id)
	if err != nil {
		handleRequestsError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "request.support", map[string]any{
		"request_id":    req.ID,
		"request_count": req.RequestCount,
	})
	writeJSON(w, http.StatusOK, req)
}

func (a *API) fulfillRequest(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	req, err := a.requests.Fulfill(r.Context(), id, user.ID)
	if err != nil {
		handleRequestsError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "request.fulfill", map[string]any{
		"request_id": req.ID,
	})
	writeJSON(w, http.StatusOK, req)
}

func handleRequestsError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, requests.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, requests.ErrAlreadyFulfilled):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, requests.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, requests.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
