package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"livequiz-service/internal/auth"
	"livequiz-service/internal/broadcast"
	"livequiz-service/internal/domain"
	"livequiz-service/internal/engine"
)

const (
	deviceCookieName = "live_device_id"
	playerCookieName = "live_player_token"
	hostCookieName   = "live_host_token"

	deviceCookieMaxAge = 60 * 60 * 24 * 30
	playerCookieMaxAge = 60 * 60 * 6
	hostCookieMaxAge   = 60 * 60 * 12
)

// Handler wires the engine into HTTP and websocket endpoints.
type Handler struct {
	engine   *engine.Engine
	tokens   *auth.TokenManager
	hub      *broadcast.Hub
	baseURL  string
	upgrader websocket.Upgrader
}

func NewHandler(eng *engine.Engine, tokens *auth.TokenManager, hub *broadcast.Hub, baseURL string) *Handler {
	return &Handler{
		engine:  eng,
		tokens:  tokens,
		hub:     hub,
		baseURL: baseURL,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Router builds the route table.
func (h *Handler) Router() *httprouter.Router {
	router := httprouter.New()

	router.HandlerFunc(http.MethodGet, "/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	router.POST("/live/sessions", h.createSession)
	router.POST("/live/host/:pin/start", h.hostOnly(h.start))
	router.POST("/live/host/:pin/next", h.hostOnly(h.next))
	router.POST("/live/host/:pin/reveal", h.hostOnly(h.reveal))
	router.POST("/live/host/:pin/finish", h.hostOnly(h.finish))
	router.POST("/live/host/:pin/lock", h.hostOnly(h.lock))

	router.POST("/live/join/:pin", h.join)
	router.GET("/live/state/:pin", h.state)
	router.GET("/live/qr/:pin", h.qr)

	router.GET("/ws/live/:pin/lobby", h.lobbyWS)
	router.GET("/ws/live/:pin/play", h.playWS)

	return router
}

type okResponse struct {
	OK bool `json:"ok"`
}

type errorResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps the engine's sentinel errors onto the error taxonomy:
// referential errors are 404, the lock gate is 403, state errors are 409
// no-ops, bad tokens are 401.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrExamNotFound),
		errors.Is(err, domain.ErrQuestionNotFound),
		errors.Is(err, domain.ErrOptionNotFound),
		errors.Is(err, domain.ErrParticipantNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrSessionLocked):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrEmptyNickname):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrStaleTransition),
		errors.Is(err, domain.ErrNoMoreQuestions),
		errors.Is(err, domain.ErrPinTaken):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrInvalidToken):
		status = http.StatusUnauthorized
	}
	writeJSON(w, status, errorResponse{OK: false, Message: err.Error()})
}

// hostOnly verifies the host token for the pin before any state is touched.
func (h *Handler) hostOnly(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		pin := ps.ByName("pin")
		token := ""
		if cookie, err := r.Cookie(hostCookieName); err == nil {
			token = cookie.Value
		}
		if token == "" {
			token = bearerToken(r)
		}
		if token == "" {
			writeError(w, domain.ErrInvalidToken)
			return
		}
		if err := h.tokens.VerifyHostToken(token, pin); err != nil {
			writeError(w, domain.ErrInvalidToken)
			return
		}
		next(w, r, ps)
	}
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}
