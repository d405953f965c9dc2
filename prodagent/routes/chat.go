package routes

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"prodagent/prodagent/config"
	"prodagent/prodagent/controllers"
	"prodagent/prodagent/middlewares"
	"prodagent/prodagent/services/vision"
	"prodagent/prodagent/utils/apperr"
	httputils "prodagent/prodagent/utils/http"
	"prodagent/prodagent/utils/logging"
	"prodagent/prodagent/utils/types"
)

func ChatRoutes(ctrl *controllers.ChatController, cfg config.Config) chi.Router {
	r := chi.NewRouter()

	// POST /chat : JSON, or multipart with images[]
	r.Post("/", func(w http.ResponseWriter, r *http.Request) {
		req, uploads, err := parseChatRequest(w, r, cfg)
		if err != nil {
			httputils.WriteError(w, r, err)
			return
		}
		req.UserID = middlewares.UserID(r.Context())
		resp, err := ctrl.Chat(r.Context(), req, uploads)
		if err != nil && resp == nil {
			httputils.WriteError(w, r, err)
			return
		}
		status := http.StatusOK
		if err != nil {
			// the body still carries the apology
			status = apperr.HTTPStatus(apperr.KindOf(err))
		}
		httputils.WriteJSON(w, status, resp)
	})

	r.Post("/mode", func(w http.ResponseWriter, r *http.Request) {
		var req types.ModeSwitchRequest
		if err := httputils.DecodeJSON(w, r, &req); err != nil {
			httputils.WriteError(w, r, err)
			return
		}
		resp, err := ctrl.SwitchMode(r.Context(), req)
		if err != nil {
			httputils.WriteError(w, r, err)
			return
		}
		httputils.WriteJSON(w, http.StatusOK, resp)
	})

	r.Post("/error-code", func(w http.ResponseWriter, r *http.Request) {
		var req types.ErrorCodeRequest
		if err := httputils.DecodeJSON(w, r, &req); err != nil {
			httputils.WriteError(w, r, err)
			return
		}
		resp, err := ctrl.ErrorCode(r.Context(), req)
		if err != nil && resp == nil {
			httputils.WriteError(w, r, err)
			return
		}
		status := http.StatusOK
		if err != nil {
			status = apperr.HTTPStatus(apperr.KindOf(err))
		}
		httputils.WriteJSON(w, status, resp)
	})

	r.Post("/recommend", func(w http.ResponseWriter, r *http.Request) {
		var req types.RecommendRequest
		if err := httputils.DecodeJSON(w, r, &req); err != nil {
			httputils.WriteError(w, r, err)
			return
		}
		resp, err := ctrl.Recommend(r.Context(), req)
		if err != nil {
			httputils.WriteError(w, r, err)
			return
		}
		httputils.WriteJSON(w, http.StatusOK, resp)
	})

	// never an error: an unknown or unreachable session is an empty list
	r.Get("/history/{session_id}", func(w http.ResponseWriter, r *http.Request) {
		httputils.WriteJSON(w, http.StatusOK, ctrl.History(r.Context(), chi.URLParam(r, "session_id")))
	})

	r.Get("/conversations", handleJSON(func(r *http.Request) (any, int, error) {
		q := r.URL.Query()
		convs, err := ctrl.Conversations(r.Context(), middlewares.UserID(r.Context()), q.Get("model_id"), q.Get("mode"))
		if convs == nil {
			convs = []types.ConversationSummary{}
		}
		return map[string]any{"conversations": convs}, http.StatusOK, err
	}))

	return r
}

func parseChatRequest(w http.ResponseWriter, r *http.Request, cfg config.Config) (types.ChatRequest, []vision.Upload, error) {
	var req types.ChatRequest
	if !isMultipart(r) {
		err := httputils.DecodeJSON(w, r, &req)
		return req, nil, err
	}
	uploads, err := readUploads(w, r, cfg, "images", "image", "file")
	if err != nil {
		return req, nil, err
	}
	req.Message = r.FormValue("message")
	req.ModelID = r.FormValue("model_id")
	req.Mode = r.FormValue("mode")
	req.SessionID = r.FormValue("session_id")
	req.ConversationID = r.FormValue("conversation_id")
	req.Language = r.FormValue("language")
	return req, uploads, nil
}

type socketRequest struct {
	Token       string            `json:"token,omitempty"`
	ChatRequest types.ChatRequest `json:"chat_request"`
}

type socketFrame struct {
	Type     string              `json:"type"`
	Content  string              `json:"content,omitempty"`
	Response *types.ChatResponse `json:"response,omitempty"`
	Error    string              `json:"error,omitempty"`
	Kind     string              `json:"kind,omitempty"`
}

// chatSocket streams one chat turn. The first frame carries the request and
// an optional token; chunks follow as "chunk" frames and the turn ends with a
// "done" or "error" frame.
func chatSocket(ctrl *controllers.ChatController, cfg config.Config) http.HandlerFunc {
	origins := originPatterns(cfg.FrontendURL)
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: origins})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusInternalError, "internal error")

		ctx := r.Context()
		var input socketRequest
		if err := wsjson.Read(ctx, conn, &input); err != nil {
			writeFrame(ctx, conn, errorFrame(apperr.Validation("routes.chatSocket", "The request is not valid JSON.")))
			conn.Close(websocket.StatusUnsupportedData, "invalid request")
			return
		}

		req := input.ChatRequest
		req.UserID = middlewares.UserID(ctx)
		if input.Token != "" && cfg.JWTSecret != "" {
			userID, err := middlewares.ParseToken(cfg.JWTSecret, input.Token)
			if err != nil {
				writeFrame(ctx, conn, socketFrame{Type: "error", Error: "Your sign-in has expired. Please sign in again.", Kind: string(apperr.KindValidation)})
				conn.Close(websocket.StatusPolicyViolation, "invalid token")
				return
			}
			req.UserID = userID
		}

		ch, done := ctrl.ChatStream(ctx, req)
		for chunk := range ch {
			if err := writeFrame(ctx, conn, socketFrame{Type: "chunk", Content: chunk}); err != nil {
				return
			}
		}
		result := <-done
		final := socketFrame{Type: "done", Response: result.Response}
		if result.Err != nil {
			final = errorFrame(result.Err)
			final.Response = result.Response
		}
		writeFrame(ctx, conn, final)
		conn.Close(websocket.StatusNormalClosure, "")
	}
}

func errorFrame(err error) socketFrame {
	return socketFrame{Type: "error", Error: apperr.UserMessage(err), Kind: string(apperr.KindOf(err))}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, f socketFrame) error {
	err := wsjson.Write(ctx, conn, f)
	if err != nil {
		logging.RequestLogger.Info("websocket write failed", zap.String("type", f.Type), zap.Error(err))
	}
	return err
}

// originPatterns turns the configured frontend URLs into host patterns for
// the websocket origin check.
func originPatterns(frontends string) []string {
	var out []string
	for _, raw := range strings.Split(frontends, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			out = append(out, u.Host)
		}
	}
	return out
}
