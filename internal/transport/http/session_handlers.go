package http

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/julienschmidt/httprouter"
	qrcode "github.com/skip2/go-qrcode"
)

const qrSize = 256

type createSessionRequest struct {
	ExamID string `json:"exam_id"`
}

type createSessionResponse struct {
	OK        bool   `json:"ok"`
	Pin       string `json:"pin"`
	State     string `json:"state"`
	HostToken string `json:"host_token"`
	JoinURL   string `json:"join_url"`
	QRURL     string `json:"qr_url"`
}

// createSession allocates a session and hands the caller the host
// credential. Only this response ever carries the host token.
func (h *Handler) createSession(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ExamID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{OK: false, Message: "exam_id is required"})
		return
	}

	session, err := h.engine.CreateSession(r.Context(), req.ExamID)
	if err != nil {
		writeError(w, err)
		return
	}

	hostToken, err := h.tokens.MintHostToken(session.Pin)
	if err != nil {
		writeError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     hostCookieName,
		Value:    hostToken,
		Path:     "/",
		MaxAge:   hostCookieMaxAge,
		SameSite: http.SameSiteLaxMode,
	})

	log.Printf("session %s created for exam %s", session.Pin, session.ExamID)
	writeJSON(w, http.StatusCreated, createSessionResponse{
		OK:        true,
		Pin:       session.Pin,
		State:     string(session.State),
		HostToken: hostToken,
		JoinURL:   h.joinURL(session.Pin),
		QRURL:     h.baseURL + "/live/qr/" + session.Pin,
	})
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if _, err := h.engine.Start(r.Context(), ps.ByName("pin")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *Handler) next(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if _, err := h.engine.Advance(r.Context(), ps.ByName("pin")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *Handler) reveal(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if _, err := h.engine.Reveal(r.Context(), ps.ByName("pin")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *Handler) finish(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if _, err := h.engine.Finish(r.Context(), ps.ByName("pin")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

type lockRequest struct {
	Locked bool `json:"locked"`
}

func (h *Handler) lock(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req lockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{OK: false, Message: "invalid body"})
		return
	}
	if _, err := h.engine.SetLocked(r.Context(), ps.ByName("pin"), req.Locked); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// state is the pull-side read path for late joiners and reconnecting
// clients; it serves the same persisted deadline the push path announced.
func (h *Handler) state(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	view, err := h.engine.State(r.Context(), ps.ByName("pin"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// qr renders the join link as a PNG for the host lobby screen.
func (h *Handler) qr(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	pin := ps.ByName("pin")
	if _, err := h.engine.Session(r.Context(), pin); err != nil {
		writeError(w, err)
		return
	}
	png, err := qrcode.Encode(h.joinURL(pin), qrcode.Medium, qrSize)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

func (h *Handler) joinURL(pin string) string {
	return h.baseURL + "/live/join/" + pin + "/"
}
