package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	mw "github.com/scoreforge/scoreforge/internal/api/middleware"
	"github.com/scoreforge/scoreforge/internal/api/response"
	"github.com/scoreforge/scoreforge/internal/apperr"
)

type submitRequest struct {
	Username string   `json:"username"`
	Value    *float64 `json:"value"`
}

func (s submitRequest) validate() error {
	if s.Value == nil {
		return fmt.Errorf("%w: value is required", apperr.ErrInvalidArgument)
	}
	return nil
}

// NewSubmitScoreHandler returns an http.HandlerFunc for POST /projects/{projectID}/scores.
func NewSubmitScoreHandler(svc Submitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := mw.GetAPIKey(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "AUTH_FAILURE", "Missing X-API-Key header")
			return
		}
		projectID, err := projectIDParam(r, "projectID")
		if err != nil {
			response.Failure(w, r, err)
			return
		}

		var req submitRequest
		if err := decodeJSON(w, r, &req); err != nil {
			response.Failure(w, r, err)
			return
		}
		if err := req.validate(); err != nil {
			response.Failure(w, r, err)
			return
		}

		res, err := svc.HandleSubmit(r.Context(), projectID, key, req.Username, *req.Value)
		if err != nil {
			response.Failure(w, r, err)
			return
		}
		response.JSON(w, res)
	}
}

// NewLegacySubmitHandler returns an http.HandlerFunc for POST /scores/submit,
// where the project is implied by the key.
func NewLegacySubmitHandler(svc Submitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := mw.GetAPIKey(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "AUTH_FAILURE", "Missing X-API-Key header")
			return
		}

		var req submitRequest
		if err := decodeJSON(w, r, &req); err != nil {
			response.Failure(w, r, err)
			return
		}
		if err := req.validate(); err != nil {
			response.Failure(w, r, err)
			return
		}

		res, err := svc.HandleSubmitByKey(r.Context(), key, req.Username, *req.Value)
		if err != nil {
			response.Failure(w, r, err)
			return
		}
		response.JSON(w, res)
	}
}

// NewLeaderboardHandler returns an http.HandlerFunc for
// GET /scores/leaderboard/{projectID}?limit=N.
func NewLeaderboardHandler(svc Leaderboard, defaultLimit int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID, err := projectIDParam(r, "projectID")
		if err != nil {
			response.Failure(w, r, err)
			return
		}

		limit := defaultLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, err = strconv.Atoi(raw)
			if err != nil {
				response.Failure(w, r, fmt.Errorf("%w: limit must be a positive integer", apperr.ErrInvalidArgument))
				return
			}
		}

		entries, err := svc.TopN(r.Context(), projectID, limit)
		if err != nil {
			response.Failure(w, r, err)
			return
		}
		response.JSON(w, entries)
	}
}

// NewPlayerRankHandler returns an http.HandlerFunc for
// GET /scores/leaderboard/{projectID}/players/{username}.
func NewPlayerRankHandler(svc Leaderboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID, err := projectIDParam(r, "projectID")
		if err != nil {
			response.Failure(w, r, err)
			return
		}

		standing, err := svc.Rank(r.Context(), projectID, chi.URLParam(r, "username"))
		if err != nil {
			response.Failure(w, r, err)
			return
		}
		response.JSON(w, standing)
	}
}

// NewPlayerScoreHandler returns an http.HandlerFunc for
// GET /projects/{projectID}/scores/{username}.
func NewPlayerScoreHandler(projects Projects, scores Scores) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := ownedProject(w, r, projects)
		if !ok {
			return
		}

		entry, err := scores.Best(r.Context(), p.ID, chi.URLParam(r, "username"))
		if err != nil {
			response.Failure(w, r, err)
			return
		}
		response.JSON(w, entry)
	}
}
