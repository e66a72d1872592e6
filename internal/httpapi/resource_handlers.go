package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"campusvault.org/internal/audit"
	"campusvault.org/internal/identity"
	"campusvault.org/internal/library"
	"campusvault.org/internal/obs"
	"campusvault.org/internal/stream"
)

type resourceResponse struct {
	Resource library.Resource       `json:"resource"`
	Access   library.AccessDecision `json:"access"`
}

type listResourcesResponse struct {
	Items []library.Resource `json:"items"`
}

type shareRequest struct {
	Email string `json:"email"`
}

type reviewRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

func (a *API) handleResourcesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listResources(w, r)
	case http.MethodPost:
		a.createResource(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleResourceSubtree(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/resources/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if id, ok := strings.CutSuffix(path, "/share"); ok {
		a.shareResource(w, r, strings.TrimSuffix(id, "/"), true)
		return
	}
	if id, ok := strings.CutSuffix(path, "/unshare"); ok {
		a.shareResource(w, r, strings.TrimSuffix(id, "/"), false)
		return
	}
	if id, ok := strings.CutSuffix(path, "/download"); ok {
		a.downloadResource(w, r, strings.TrimSuffix(id, "/"))
		return
	}
	if id, ok := strings.CutSuffix(path, "/reviews"); ok {
		a.handleResourceReviews(w, r, strings.TrimSuffix(id, "/"))
		return
	}

	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getResource(w, r, path)
	case http.MethodDelete:
		a.deleteResource(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) listResources(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := library.Filter{
		Query:      strings.TrimSpace(q.Get("q")),
		Subject:    strings.TrimSpace(q.Get("subject")),
		Department: strings.TrimSpace(q.Get("department")),
		Sort:       library.SortOption(q.Get("sort")),
	}
	if raw := strings.TrimSpace(q.Get("semester")); raw != "" {
		sem, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "semester must be an integer")
			return
		}
		filter.Semester = sem
	}
	if raw := strings.TrimSpace(q.Get("visibility")); raw != "" {
		filter.Visibility = library.Visibility(raw)
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 500 {
			writeError(w, r, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		filter.Limit = limit
	}

	items, err := a.library.ListResources(r.Context(), filter)
	if err != nil {
		handleLibraryError(w, r, err)
		return
	}

	// Listings only show what the caller would be permitted to open.
	requester, _ := identity.UserFromContext(r.Context())
	visible := make([]library.Resource, 0, len(items))
	for _, res := range items {
		if library.EvaluateAccess(res, requester).Allowed {
			visible = append(visible, res)
		}
	}

	writeJSON(w, http.StatusOK, listResourcesResponse{Items: visible})
}

func (a *API) createResource(w http.ResponseWriter, r *http.Request) {
	user, ok := requireEligibleUser(w, r)
	if !ok {
		return
	}

	var draft library.ResourceDraft
	if err := decodeJSON(w, r, &draft); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	res, err := a.library.CreateResource(r.Context(), draft, *user)
	if err != nil {
		handleLibraryError(w, r, err)
		return
	}

	if a.stream != nil {
		a.stream.Publish(stream.ActivityEvent{
			Kind:        stream.KindResourceUploaded,
			ResourceID:  res.ID,
			Title:       res.Title,
			Subject:     res.Subject,
			Institution: res.OwnerInstitution,
		})
	}
	_ = audit.LogEvent(r.Context(), "resource.create", map[string]any{
		"resource_id": res.ID,
		"visibility":  string(res.Visibility),
		"restricted":  res.RestrictedToInstitution != "",
	})

	w.Header().Set("Location", "/v1/resources/"+res.ID)
	writeJSON(w, http.StatusCreated, res)
}

func (a *API) getResource(w http.ResponseWriter, r *http.Request, id string) {
	res, err := a.library.GetResource(r.Context(), id)
	if err != nil {
		handleLibraryError(w, r, err)
		return
	}

	requester, _ := identity.UserFromContext(r.Context())
	decision := library.EvaluateAccess(res, requester)
	if !decision.Allowed {
		obs.ObserveAccessDenied(library.DenialLabel(decision))
		writeError(w, r, http.StatusForbidden, decision.Reason)
		return
	}
	writeJSON(w, http.StatusOK, resourceResponse{Resource: res, Access: decision})
}

func (a *API) deleteResource(w http.ResponseWriter, r *http.Request, id string) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := a.library.DeleteResource(r.Context(), id, user.ID); err != nil {
		handleLibraryError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "resource.delete", map[string]any{
		"resource_id": id,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) shareResource(w http.ResponseWriter, r *http.Request, id string, add bool) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req shareRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var (
		res library.Resource
		err error
	)
	event := "resource.unshare"
	if add {
		event = "resource.share"
		res, err = a.library.Share(r.Context(), id, user.ID, req.Email)
	} else {
		res, err = a.library.Unshare(r.Context(), id, user.ID, req.Email)
	}
	if err != nil {
		handleLibraryError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), event, map[string]any{
		"resource_id": id,
	})
	writeJSON(w, http.StatusOK, res)
}

func (a *API) downloadResource(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	res, err := a.library.GetResource(r.Context(), id)
	if err != nil {
		handleLibraryError(w, r, err)
		return
	}
	requester, _ := identity.UserFromContext(r.Context())
	decision := library.EvaluateAccess(res, requester)
	if !decision.Allowed {
		obs.ObserveAccessDenied(library.DenialLabel(decision))
		writeError(w, r, http.StatusForbidden, decision.Reason)
		return
	}

	res, err = a.library.RecordDownload(r.Context(), id)
	if err != nil {
		handleLibraryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"file_url":  res.FileURL,
		"file_type": res.FileType,
		"downloads": res.Downloads,
	})
}

func (a *API) handleResourceReviews(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		a.listReviews(w, r, id)
	case http.MethodPost:
		a.submitReview(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) listReviews(w http.ResponseWriter, r *http.Request, id string) {
	res, err := a.library.GetResource(r.Context(), id)
	if err != nil {
		handleLibraryError(w, r, err)
		return
	}
	requester, _ := identity.UserFromContext(r.Context())
	decision := library.EvaluateAccess(res, requester)
	if !decision.Allowed {
		obs.ObserveAccessDenied(library.DenialLabel(decision))
		writeError(w, r, http.StatusForbidden, decision.Reason)
		return
	}

	reviews, err := a.library.ListReviews(r.Context(), id)
	if err != nil {
		handleLibraryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": reviews})
}

func (a *API) submitReview(w http.ResponseWriter, r *http.Request, id string) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	res, err := a.library.GetResource(r.Context(), id)
	if err != nil {
		handleLibraryError(w, r, err)
		return
	}
	decision := library.EvaluateAccess(res, user)
	if !decision.Allowed {
		obs.ObserveAccessDenied(library.DenialLabel(decision))
		writeError(w, r, http.StatusForbidden, decision.Reason)
		return
	}

	var req reviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	rev, err := a.library.SubmitReview(r.Context(), id, *user, req.Rating, req.Comment)
	if err != nil {
		handleLibraryError(w, r, err)
		return
	}
	obs.ObserveReviewSubmitted()
	obs.ObserveRecompute()

	updated, err := a.library.GetResource(r.Context(), id)
	if err != nil {
		handleLibraryError(w, r, err)
		return
	}

	if a.stream != nil {
		a.stream.Publish(stream.ActivityEvent{
			Kind:          stream.KindReviewSubmitted,
			ResourceID:    id,
			Title:         updated.Title,
			Rating:        rev.Rating,
			AverageRating: updated.AverageRating,
			TotalRatings:  updated.TotalRatings,
		})
	}
	_ = audit.LogEvent(r.Context(), "review.submit", map[string]any{
		"resource_id": id,
		"review_id":   rev.ID,
		"rating":      rev.Rating,
	})

	writeJSON(w, http.StatusCreated, map[string]any{
		"review": rev,
		"summary": library.Summary{
			AverageRating: updated.AverageRating,
			TotalRatings:  updated.TotalRatings,
		},
	})
}

func (a *API) handleReviewResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/reviews/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "review not found")
		return
	}

	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodPut:
		var req reviewRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		rev, err := a.library.EditReview(r.Context(), id, user.ID, req.Rating, req.Comment)
		if err != nil {
			handleLibraryError(w, r, err)
			return
		}
		obs.ObserveRecompute()
		// EditReview already recomputed and persisted the summary; a plain
		// read is enough to report it back.
		updated, err := a.library.GetResource(r.Context(), rev.ResourceID)
		if err != nil {
			handleLibraryError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "review.edit", map[string]any{
			"review_id": id,
			"rating":    rev.Rating,
		})
		writeJSON(w, http.StatusOK, map[string]any{
			"review": rev,
			"summary": library.Summary{
				AverageRating: updated.AverageRating,
				TotalRatings:  updated.TotalRatings,
			},
		})

	case http.MethodDelete:
		rev, sum, err := a.library.DeleteReview(r.Context(), id, user.ID)
		if err != nil {
			handleLibraryError(w, r, err)
			return
		}
		obs.ObserveRecompute()
		if a.stream != nil {
			event := stream.ActivityEvent{
				Kind:          stream.KindReviewDeleted,
				ResourceID:    rev.ResourceID,
				AverageRating: sum.AverageRating,
				TotalRatings:  sum.TotalRatings,
			}
			if res, err := a.library.GetResource(r.Context(), rev.ResourceID); err == nil {
				event.Title = res.Title
			}
			a.stream.Publish(event)
		}
		_ = audit.LogEvent(r.Context(), "review.delete", map[string]any{
			"review_id":   id,
			"resource_id": rev.ResourceID,
		})
		writeJSON(w, http.StatusOK, map[string]any{"summary": sum})

	default:
		methodNotAllowed(w, r, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) handleFacets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	facets, err := a.library.Facets(r.Context())
	if err != nil {
		handleLibraryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, facets)
}
