package domain

// Event is a server-pushed message on a roster or gameplay channel. Each
// variant carries its own wire type tag; delivery is at-least-once, so
// clients must treat receipt as idempotent.
type Event interface {
	EventKind() string
}

const (
	KindLobbyState        = "lobby_state"
	KindQuestionPublished = "question_published"
	KindAnswerProgress    = "answer_progress"
	KindReveal            = "reveal"
	KindFinished          = "finished"
	KindAnswerSaved       = "answer_saved"
	KindError             = "error"
)

// LobbyStateEvent is the roster snapshot pushed after every join.
type LobbyStateEvent struct {
	Type    string          `json:"type"`
	Count   int             `json:"count"`
	Players []PlayerSummary `json:"players"`
}

func NewLobbyStateEvent(count int, players []PlayerSummary) LobbyStateEvent {
	return LobbyStateEvent{Type: KindLobbyState, Count: count, Players: players}
}

func (LobbyStateEvent) EventKind() string { return KindLobbyState }

// QuestionPublishedEvent announces the active question to the play channel.
type QuestionPublishedEvent struct {
	Type     string       `json:"type"`
	Question QuestionView `json:"question"`
}

func NewQuestionPublishedEvent(q QuestionView) QuestionPublishedEvent {
	return QuestionPublishedEvent{Type: KindQuestionPublished, Question: q}
}

func (QuestionPublishedEvent) EventKind() string { return KindQuestionPublished }

// AnswerProgressEvent reports how many participants have answered, letting
// the host advance once everyone is in without polling.
type AnswerProgressEvent struct {
	Type          string `json:"type"`
	QuestionID    int64  `json:"question_id"`
	AnsweredCount int    `json:"answered_count"`
	TotalPlayers  int    `json:"total_players"`
}

func NewAnswerProgressEvent(questionID int64, answered, total int) AnswerProgressEvent {
	return AnswerProgressEvent{Type: KindAnswerProgress, QuestionID: questionID, AnsweredCount: answered, TotalPlayers: total}
}

func (AnswerProgressEvent) EventKind() string { return KindAnswerProgress }

// RevealEvent exposes the correct option set, per-participant outcomes, and
// a top-N leaderboard for the just-closed question.
type RevealEvent struct {
	Type             string             `json:"type"`
	QuestionID       int64              `json:"question_id"`
	CorrectOptionIDs []int64            `json:"correct_option_ids"`
	Results          []QuestionResult   `json:"results"`
	Top              []LeaderboardEntry `json:"top"`
}

func NewRevealEvent(questionID int64, correctIDs []int64, results []QuestionResult, top []LeaderboardEntry) RevealEvent {
	return RevealEvent{Type: KindReveal, QuestionID: questionID, CorrectOptionIDs: correctIDs, Results: results, Top: top}
}

func (RevealEvent) EventKind() string { return KindReveal }

// FinishedEvent carries the final leaderboard.
type FinishedEvent struct {
	Type string             `json:"type"`
	Top  []LeaderboardEntry `json:"top"`
}

func NewFinishedEvent(top []LeaderboardEntry) FinishedEvent {
	return FinishedEvent{Type: KindFinished, Top: top}
}

func (FinishedEvent) EventKind() string { return KindFinished }

// AnswerSavedEvent is the direct reply to the submitting socket.
type AnswerSavedEvent struct {
	Type string `json:"type"`
	AnswerResult
}

func NewAnswerSavedEvent(res AnswerResult) AnswerSavedEvent {
	return AnswerSavedEvent{Type: KindAnswerSaved, AnswerResult: res}
}

func (AnswerSavedEvent) EventKind() string { return KindAnswerSaved }

// ErrorEvent reports a per-message failure without closing the connection.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewErrorEvent(message string) ErrorEvent {
	return ErrorEvent{Type: KindError, Message: message}
}

func (ErrorEvent) EventKind() string { return KindError }
