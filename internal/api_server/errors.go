package apiserver

import (
	"net/http"

	api "github.com/claboran/orchestrator-worker-poc/api/v1alpha1"
	"github.com/go-chi/render"
)

// renderError writes the api error model for failures raised outside the job
// handlers: parameter binding, body decoding and response encoding.
func renderError(status int) func(w http.ResponseWriter, r *http.Request, err error) {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		render.Status(r, status)
		render.JSON(w, r, api.Error{Message: err.Error()})
	}
}
