package http

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	"livequiz-service/internal/engine"
)

type joinRequest struct {
	Nickname  string `json:"nickname"`
	AvatarKey string `json:"avatar_key"`
}

type joinResponse struct {
	OK            bool   `json:"ok"`
	ParticipantID int64  `json:"participant_id"`
	Nickname      string `json:"nickname"`
	AvatarKey     string `json:"avatar_key"`
	Redirect      string `json:"redirect"`
}

// join registers an anonymous participant. The device cookie recognizes a
// returning device so a rejoin updates the existing participant instead of
// creating a duplicate; the participant token cookie is the credential the
// play channel trusts.
func (h *Handler) join(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	pin := ps.ByName("pin")

	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{OK: false, Message: "invalid body"})
		return
	}

	deviceID := ""
	if cookie, err := r.Cookie(deviceCookieName); err == nil && cookie.Value != "" {
		deviceID = cookie.Value
	} else {
		deviceID = uuid.New().String()
	}

	participant, err := h.engine.Join(r.Context(), pin, req.Nickname, req.AvatarKey, deviceID)
	if err != nil {
		writeError(w, err)
		return
	}

	token, err := h.tokens.MintPlayerToken(pin, participant.ID, deviceID)
	if err != nil {
		writeError(w, err)
		return
	}

	// Always refresh the device cookie so it stays stable across rejoins.
	http.SetCookie(w, &http.Cookie{
		Name:     deviceCookieName,
		Value:    deviceID,
		Path:     "/",
		MaxAge:   deviceCookieMaxAge,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   playerCookieMaxAge,
		SameSite: http.SameSiteLaxMode,
	})

	session, err := h.engine.Session(r.Context(), pin)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, joinResponse{
		OK:            true,
		ParticipantID: participant.ID,
		Nickname:      participant.Nickname,
		AvatarKey:     participant.AvatarKey,
		Redirect:      engine.Redirect(session),
	})
}
