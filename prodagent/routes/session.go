package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"prodagent/prodagent/controllers"
	"prodagent/prodagent/middlewares"
)

// SessionRoutes resolves the session id of a product for the calling device.
func SessionRoutes(ctrl *controllers.SessionController) chi.Router {
	r := chi.NewRouter()

	r.Get("/{model_id}", handleJSON(func(r *http.Request) (any, int, error) {
		resp, err := ctrl.Get(r.Context(), middlewares.DeviceID(r.Context()), chi.URLParam(r, "model_id"))
		return resp, http.StatusOK, err
	}))

	r.Post("/{model_id}/reset", handleJSON(func(r *http.Request) (any, int, error) {
		resp, err := ctrl.Reset(r.Context(), middlewares.DeviceID(r.Context()), chi.URLParam(r, "model_id"))
		return resp, http.StatusOK, err
	}))

	return r
}
