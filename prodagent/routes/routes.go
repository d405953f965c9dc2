package routes

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"prodagent/prodagent/config"
	"prodagent/prodagent/controllers"
	"prodagent/prodagent/middlewares"
	"prodagent/prodagent/services/vision"
	"prodagent/prodagent/utils/apperr"
	httputils "prodagent/prodagent/utils/http"
)

type Controllers struct {
	Chat    *controllers.ChatController
	Session *controllers.SessionController
	Catalog *controllers.CatalogController
	Vision  *controllers.VisionController
	Health  *controllers.HealthController
}

// NewRouter builds the HTTP surface. Chat and vision calls are rate limited
// per device.
func NewRouter(cfg config.Config, c Controllers) http.Handler {
	limiter := middlewares.NewRateLimiter(cfg.RateLimitPerMinute)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middlewares.TraceMiddleware)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewares.CORSMiddleware(cfg.FrontendURL))
	r.Use(middlewares.DeviceMiddleware(strings.HasPrefix(cfg.FrontendURL, "https://")))
	r.Use(middlewares.AuthMiddleware(cfg.JWTSecret))

	r.Get("/", c.Health.HealthCheck)
	r.Mount("/health", HealthRoutes(c.Health))
	r.Mount("/session", SessionRoutes(c.Session))

	// websocket turns outlive the request timeout
	r.With(limiter.Middleware).Get("/chat/ws", chatSocket(c.Chat, cfg))

	r.Group(func(gr chi.Router) {
		gr.Use(middleware.Timeout(60 * time.Second))
		CatalogRoutes(gr, c.Catalog)
		gr.Group(func(limited chi.Router) {
			limited.Use(limiter.Middleware)
			limited.Mount("/chat", ChatRoutes(c.Chat, cfg))
			VisionRoutes(limited, c.Vision, cfg)
		})
	})
	return r
}

// generic wrapper to reduce boilerplate
func handleJSON(handler func(r *http.Request) (any, int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, status, err := handler(r)
		if err != nil {
			httputils.WriteError(w, r, err)
			return
		}
		httputils.WriteJSON(w, status, res)
	}
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

// readUploads parses a multipart body and returns the files sent under any of
// fields. Size and type checks happen in vision.Validate; a MaxImageBytes of
// zero or less means no size limit, as it does there.
func readUploads(w http.ResponseWriter, r *http.Request, cfg config.Config, fields ...string) ([]vision.Upload, error) {
	if cfg.MaxImageBytes > 0 {
		maxBody := cfg.MaxImageBytes*int64(max(cfg.MaxImages, 1)+1) + 1<<20
		r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, apperr.Validation("routes.readUploads", "The upload is too large.")
		}
		return nil, apperr.New(apperr.KindValidation, "routes.readUploads", "The upload could not be read.", err)
	}
	var uploads []vision.Upload
	for _, field := range fields {
		for _, fh := range r.MultipartForm.File[field] {
			data, err := readPart(fh, cfg.MaxImageBytes)
			if err != nil {
				return nil, apperr.New(apperr.KindValidation, "routes.readUploads", "The upload could not be read.", err)
			}
			uploads = append(uploads, vision.Upload{Filename: fh.Filename, Data: data})
		}
	}
	return uploads, nil
}

// readPart reads at most limit+1 bytes so oversized files are still reported
// as oversized. A limit of zero or less reads the whole part.
func readPart(fh *multipart.FileHeader, limit int64) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if limit <= 0 {
		return io.ReadAll(f)
	}
	return io.ReadAll(io.LimitReader(f, limit+1))
}
