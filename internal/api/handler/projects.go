package handler

import (
	"net/http"

	mw "github.com/scoreforge/scoreforge/internal/api/middleware"
	"github.com/scoreforge/scoreforge/internal/api/response"
	"github.com/scoreforge/scoreforge/internal/project"
	"github.com/scoreforge/scoreforge/pkg/models"
)

// NewCreateProjectHandler returns an http.HandlerFunc for POST /projects.
func NewCreateProjectHandler(svc Projects) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := mw.GetOwnerID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "AUTH_FAILURE", "Missing session")
			return
		}

		var req struct {
			Name       string            `json:"name"`
			ScoreOrder models.ScoreOrder `json:"score_order"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			response.Failure(w, r, err)
			return
		}

		p, err := svc.Create(r.Context(), project.CreateParams{
			OwnerID:    owner,
			Name:       req.Name,
			ScoreOrder: req.ScoreOrder,
		})
		if err != nil {
			response.Failure(w, r, err)
			return
		}
		response.Created(w, p)
	}
}

// NewListProjectsHandler returns an http.HandlerFunc for GET /projects.
func NewListProjectsHandler(svc Projects) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := mw.GetOwnerID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "AUTH_FAILURE", "Missing session")
			return
		}

		projects, err := svc.List(r.Context(), owner)
		if err != nil {
			response.Failure(w, r, err)
			return
		}
		response.JSON(w, projects)
	}
}

// NewGetProjectHandler returns an http.HandlerFunc for GET /projects/{projectID}.
func NewGetProjectHandler(svc Projects) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := ownedProject(w, r, svc)
		if !ok {
			return
		}
		response.JSON(w, p)
	}
}

// NewDeleteProjectHandler returns an http.HandlerFunc for DELETE /projects/{projectID}.
func NewDeleteProjectHandler(svc Projects) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := mw.GetOwnerID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "AUTH_FAILURE", "Missing session")
			return
		}
		id, err := projectIDParam(r, "projectID")
		if err != nil {
			response.Failure(w, r, err)
			return
		}

		if err := svc.Delete(r.Context(), id, owner); err != nil {
			response.Failure(w, r, err)
			return
		}
		response.NoContent(w)
	}
}

// ownedProject resolves {projectID} for the session owner, writing the error
// response itself when it fails.
func ownedProject(w http.ResponseWriter, r *http.Request, svc Projects) (*models.Project, bool) {
	owner, ok := mw.GetOwnerID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "AUTH_FAILURE", "Missing session")
		return nil, false
	}
	id, err := projectIDParam(r, "projectID")
	if err != nil {
		response.Failure(w, r, err)
		return nil, false
	}

	p, err := svc.GetOwned(r.Context(), id, owner)
	if err != nil {
		response.Failure(w, r, err)
		return nil, false
	}
	return p, true
}
