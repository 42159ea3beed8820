package http

import (
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"livequiz-service/internal/broadcast"
	"livequiz-service/internal/domain"
)

// inboundMessage is the client->server play-channel shape. Unknown types
// produce an error event; the connection stays open.
type inboundMessage struct {
	Type       string `json:"type"`
	QuestionID int64  `json:"question_id"`
	OptionID   int64  `json:"option_id"`
	AnswerMs   int    `json:"answer_ms"`
}

// lobbyWS streams roster snapshots to host-side lobby views. The first
// frame is the current roster so a late-opening view is not blank.
func (h *Handler) lobbyWS(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	pin := ps.ByName("pin")
	if _, err := h.engine.Session(r.Context(), pin); err != nil {
		writeError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	initial, err := h.engine.LobbyState(r.Context(), pin)
	if err != nil {
		_ = conn.WriteJSON(domain.NewErrorEvent(err.Error()))
		return
	}

	updates, cancel := h.hub.Subscribe(pin, broadcast.Lobby)
	defer cancel()

	send := make(chan domain.Event, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go writer(conn, send, writerDone)
	go forwardUpdates(updates, send, closeSignals, updatesDone)

	send <- initial

	// Lobby clients only listen; drain until they disconnect.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

// playWS is the gameplay channel: it pushes question/reveal/finish events
// and accepts answer submissions attributed by the participant token.
func (h *Handler) playWS(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	pin := ps.ByName("pin")
	if _, err := h.engine.Session(r.Context(), pin); err != nil {
		writeError(w, err)
		return
	}

	// The token rides on the upgrade request; it is re-verified per answer
	// because it may expire mid-connection.
	rawToken := ""
	if cookie, err := r.Cookie(playerCookieName); err == nil {
		rawToken = cookie.Value
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	updates, cancel := h.hub.Subscribe(pin, broadcast.Play)
	defer cancel()

	send := make(chan domain.Event, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go writer(conn, send, writerDone)
	go forwardUpdates(updates, send, closeSignals, updatesDone)

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if inbound.Type != "answer" {
			send <- domain.NewErrorEvent("unsupported message type")
			continue
		}

		// A bad or expired token is not fatal: the participant can rejoin
		// and retry on the same connection.
		if rawToken == "" {
			send <- domain.NewErrorEvent("no token")
			continue
		}
		claims, err := h.tokens.VerifyPlayerToken(rawToken, pin)
		if err != nil {
			send <- domain.NewErrorEvent("invalid token")
			continue
		}

		result, err := h.engine.SubmitAnswer(r.Context(), pin, claims.ParticipantID, claims.DeviceID, domain.AnswerSubmission{
			QuestionID: inbound.QuestionID,
			OptionID:   inbound.OptionID,
			AnswerMs:   inbound.AnswerMs,
		})
		if err != nil {
			send <- domain.NewErrorEvent(submitErrorMessage(err))
			continue
		}
		send <- domain.NewAnswerSavedEvent(result)
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

// writer serializes all frames onto the connection; gorilla allows only one
// concurrent writer.
func writer(conn *websocket.Conn, send <-chan domain.Event, done chan<- struct{}) {
	defer close(done)
	for ev := range send {
		if err := conn.WriteJSON(ev); err != nil {
			log.Printf("ws write error: %v", err)
			return
		}
	}
}

// forwardUpdates moves hub events onto the connection's send channel until
// the reader signals shutdown.
func forwardUpdates(updates <-chan domain.Event, send chan<- domain.Event, closeSignals <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			select {
			case send <- update:
			case <-closeSignals:
				return
			}
		case <-closeSignals:
			return
		}
	}
}

func submitErrorMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return "session not found"
	case errors.Is(err, domain.ErrParticipantNotFound):
		return "participant not found"
	case errors.Is(err, domain.ErrQuestionNotFound):
		return "question not found"
	case errors.Is(err, domain.ErrOptionNotFound):
		return "option not found"
	default:
		return "answer not accepted"
	}
}
