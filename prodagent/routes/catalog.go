package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"prodagent/prodagent/controllers"
)

// CatalogRoutes registers the read-only catalog endpoints on r.
func CatalogRoutes(r chi.Router, ctrl *controllers.CatalogController) {
	r.Get("/products", handleJSON(func(r *http.Request) (any, int, error) {
		resp, err := ctrl.Products(r.Context(), r.URL.Query().Get("category"))
		return resp, http.StatusOK, err
	}))

	r.Get("/model/{model_id}", handleJSON(func(r *http.Request) (any, int, error) {
		resp, err := ctrl.Model(r.Context(), chi.URLParam(r, "model_id"))
		return resp, http.StatusOK, err
	}))
}
