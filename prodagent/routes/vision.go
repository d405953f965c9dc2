package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"prodagent/prodagent/config"
	"prodagent/prodagent/controllers"
	"prodagent/prodagent/utils/apperr"
	httputils "prodagent/prodagent/utils/http"
	"prodagent/prodagent/utils/types"
)

// VisionRoutes registers the room analysis endpoints on r.
func VisionRoutes(r chi.Router, ctrl *controllers.VisionController, cfg config.Config) {
	// POST /analyze-room : multipart "file" plus optional "model_id"
	r.Post("/analyze-room", func(w http.ResponseWriter, r *http.Request) {
		if !isMultipart(r) {
			httputils.WriteError(w, r, apperr.Validation("routes.AnalyzeRoom", "Upload a photo of the room as multipart form data."))
			return
		}
		uploads, err := readUploads(w, r, cfg, "file", "image")
		if err != nil {
			httputils.WriteError(w, r, err)
			return
		}
		if len(uploads) == 0 {
			httputils.WriteError(w, r, apperr.Validation("routes.AnalyzeRoom", "Upload a photo of the room."))
			return
		}
		if len(uploads) > 1 {
			httputils.WriteError(w, r, apperr.Validation("routes.AnalyzeRoom", "Upload one photo at a time."))
			return
		}
		resp, err := ctrl.AnalyzeRoom(r.Context(), uploads[0], r.FormValue("model_id"))
		if err != nil {
			httputils.WriteError(w, r, err)
			return
		}
		httputils.WriteJSON(w, http.StatusOK, resp)
	})

	r.Post("/color-match", func(w http.ResponseWriter, r *http.Request) {
		var req types.ColorMatchRequest
		if err := httputils.DecodeJSON(w, r, &req); err != nil {
			httputils.WriteError(w, r, err)
			return
		}
		resp, err := ctrl.ColorMatch(r.Context(), req)
		if err != nil {
			httputils.WriteError(w, r, err)
			return
		}
		httputils.WriteJSON(w, http.StatusOK, resp)
	})

	r.Post("/assess-fit", func(w http.ResponseWriter, r *http.Request) {
		var req types.AssessFitRequest
		if err := httputils.DecodeJSON(w, r, &req); err != nil {
			httputils.WriteError(w, r, err)
			return
		}
		resp, err := ctrl.AssessFit(r.Context(), req)
		if err != nil {
			httputils.WriteError(w, r, err)
			return
		}
		httputils.WriteJSON(w, http.StatusOK, resp)
	})
}
