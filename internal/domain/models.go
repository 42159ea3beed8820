package domain

import (
	"time"

	"github.com/uptrace/bun"
)

// SessionState is the lifecycle state of a live session.
type SessionState string

const (
	StateLobby    SessionState = "lobby"
	StateQuestion SessionState = "question"
	StateReveal   SessionState = "reveal"
	StateFinished SessionState = "finished"
)

// Session is one live competition run, keyed by its human-typeable pin.
// The question deadline is stored as absolute timestamps so every client
// computes the same countdown regardless of local clock skew.
type Session struct {
	bun.BaseModel `bun:"table:live_sessions"`

	ID                int64        `bun:"id,pk,autoincrement" json:"id"`
	ExamID            string       `bun:"exam_id,notnull" json:"examId"`
	Pin               string       `bun:"pin,notnull" json:"pin"`
	State             SessionState `bun:"state,notnull" json:"state"`
	Locked            bool         `bun:"is_locked,notnull" json:"locked"`
	CurrentIndex      int          `bun:"current_index,notnull" json:"currentIndex"`
	QuestionStartedAt *time.Time   `bun:"question_started_at" json:"questionStartedAt,omitempty"`
	QuestionEndsAt    *time.Time   `bun:"question_ends_at" json:"questionEndsAt,omitempty"`
	CreatedAt         time.Time    `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
}

// Participant is one joined device within one session. At most one row
// exists per (session, device) pair; rejoins update the row in place.
type Participant struct {
	bun.BaseModel `bun:"table:live_participants"`

	ID         int64     `bun:"id,pk,autoincrement" json:"id"`
	SessionID  int64     `bun:"session_id,notnull" json:"sessionId"`
	Nickname   string    `bun:"nickname,notnull" json:"nickname"`
	AvatarKey  string    `bun:"avatar_key,notnull" json:"avatarKey"`
	DeviceID   string    `bun:"device_id,notnull" json:"-"`
	Score      int       `bun:"score,notnull" json:"score"`
	LastSeenAt time.Time `bun:"last_seen_at,notnull" json:"lastSeenAt"`
	CreatedAt  time.Time `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
}

// Answer is one participant's response to one question. The unique
// (session, participant, question) constraint makes ingestion idempotent;
// rows are immutable once written.
type Answer struct {
	bun.BaseModel `bun:"table:live_answers"`

	ID            int64     `bun:"id,pk,autoincrement" json:"id"`
	SessionID     int64     `bun:"session_id,notnull" json:"sessionId"`
	ParticipantID int64     `bun:"participant_id,notnull" json:"participantId"`
	QuestionID    int64     `bun:"question_id,notnull" json:"questionId"`
	OptionID      int64     `bun:"option_id,notnull" json:"optionId"`
	Correct       bool      `bun:"is_correct,notnull" json:"correct"`
	AnswerMs      int       `bun:"answer_ms,notnull" json:"answerMs"`
	AwardedPoints int       `bun:"awarded_points,notnull" json:"awardedPoints"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
}

// Option is a possible answer for a question. Correct flags never leave the
// engine before reveal.
type Option struct {
	ID      int64  `json:"id"`
	Label   string `json:"label"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question is one exam question in display order.
type Question struct {
	ID               int64    `json:"id"`
	Text             string   `json:"text"`
	TimeLimitSeconds int      `json:"timeLimitSeconds"` // 0 means use the exam default
	Points           int      `json:"points"`           // 0 means use the engine default
	Options          []Option `json:"options"`
}

// Exam is the read-only content source contract: an ordered question list
// plus exam-level defaults. The engine never mutates it.
type Exam struct {
	ID                      string     `json:"id"`
	Title                   string     `json:"title"`
	DefaultTimeLimitSeconds int        `json:"defaultTimeLimitSeconds"`
	DefaultPoints           int        `json:"defaultPoints"`
	Questions               []Question `json:"questions"`
}

// QuestionByID returns the question with the given id, if any.
func (e Exam) QuestionByID(id int64) (Question, bool) {
	for _, q := range e.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// CorrectOptionIDs returns the ids of the question's correct options.
func (q Question) CorrectOptionIDs() []int64 {
	ids := make([]int64, 0, 1)
	for _, opt := range q.Options {
		if opt.Correct {
			ids = append(ids, opt.ID)
		}
	}
	return ids
}

// OptionByID returns the option with the given id if it belongs to q.
func (q Question) OptionByID(id int64) (Option, bool) {
	for _, opt := range q.Options {
		if opt.ID == id {
			return opt, true
		}
	}
	return Option{}, false
}

// AnswerSubmission is the inbound scoring signal from a play socket.
type AnswerSubmission struct {
	QuestionID int64 `json:"question_id"`
	OptionID   int64 `json:"option_id"`
	AnswerMs   int   `json:"answer_ms"`
}

// AnswerResult summarizes one scored (or replayed) submission.
type AnswerResult struct {
	QuestionID    int64 `json:"question_id"`
	Correct       bool  `json:"is_correct"`
	BasePoints    int   `json:"base"`
	BonusPoints   int   `json:"bonus"`
	AwardedPoints int   `json:"awarded_points"`
	TotalScore    int   `json:"score"`
	Duplicate     bool  `json:"-"`
}

// LeaderboardEntry is one scoreboard row.
type LeaderboardEntry struct {
	Nickname  string `json:"nickname"`
	AvatarKey string `json:"avatar_key"`
	Score     int    `json:"score"`
}

// QuestionResult is one participant's outcome for a revealed question.
type QuestionResult struct {
	ParticipantID int64  `json:"participant_id"`
	Nickname      string `json:"nickname"`
	OptionID      int64  `json:"option_id"`
	Correct       bool   `json:"is_correct"`
	AwardedPoints int    `json:"awarded_points"`
}

// PlayerSummary is the roster view of a participant.
type PlayerSummary struct {
	ID        int64  `json:"id"`
	Nickname  string `json:"nickname"`
	AvatarKey string `json:"avatar_key"`
}

// QuestionView is the publish payload for the active question. Correct flags
// are stripped; timestamps are absolute unix milliseconds.
type QuestionView struct {
	ID               int64        `json:"id"`
	Text             string       `json:"text"`
	TimeLimitSeconds int          `json:"time_limit"`
	Points           int          `json:"points"`
	Options          []OptionView `json:"options"`
	StartedAt        int64        `json:"started_at"`
	EndsAt           int64        `json:"ends_at"`
	Position         int          `json:"position"` // 1-based
	Total            int          `json:"total"`
}

// OptionView is an option as shown to players.
type OptionView struct {
	ID    int64  `json:"id"`
	Label string `json:"label"`
	Text  string `json:"text"`
}

// SessionView is the pull-state payload for reconnecting clients. The active
// question is rebuilt from the persisted timestamps so a re-fetch never
// shifts the deadline.
type SessionView struct {
	State            SessionState  `json:"state"`
	Locked           bool          `json:"locked"`
	CurrentIndex     int           `json:"current_index"`
	TotalQuestions   int           `json:"total_questions"`
	Question         *QuestionView `json:"question,omitempty"`
	CorrectOptionIDs []int64       `json:"correct_option_ids,omitempty"`
}
