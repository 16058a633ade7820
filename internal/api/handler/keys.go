package handler

import (
	"net/http"

	"github.com/scoreforge/scoreforge/internal/api/response"
)

// NewIssueKeyHandler returns an http.HandlerFunc for POST /projects/{projectID}/keys.
// The plaintext key appears in this response and nowhere else.
func NewIssueKeyHandler(projects Projects, keys Keys) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := ownedProject(w, r, projects)
		if !ok {
			return
		}

		secret, err := keys.Issue(r.Context(), p.ID)
		if err != nil {
			response.Failure(w, r, err)
			return
		}
		response.Created(w, secret)
	}
}

// NewRotateKeyHandler returns an http.HandlerFunc for POST /projects/{projectID}/keys/rotate.
func NewRotateKeyHandler(projects Projects, keys Keys) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := ownedProject(w, r, projects)
		if !ok {
			return
		}

		secret, err := keys.Rotate(r.Context(), p.ID)
		if err != nil {
			response.Failure(w, r, err)
			return
		}
		response.Created(w, secret)
	}
}

// NewRevokeKeyHandler returns an http.HandlerFunc for DELETE /projects/{projectID}/keys.
func NewRevokeKeyHandler(projects Projects, keys Keys) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := ownedProject(w, r, projects)
		if !ok {
			return
		}

		if err := keys.Revoke(r.Context(), p.ID); err != nil {
			response.Failure(w, r, err)
			return
		}
		response.NoContent(w)
	}
}

// NewDescribeKeyHandler returns an http.HandlerFunc for GET /projects/{projectID}/keys.
func NewDescribeKeyHandler(projects Projects, keys Keys) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := ownedProject(w, r, projects)
		if !ok {
			return
		}

		key, err := keys.Describe(r.Context(), p.ID)
		if err != nil {
			response.Failure(w, r, err)
			return
		}
		response.JSON(w, key)
	}
}
