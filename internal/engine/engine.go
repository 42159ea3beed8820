package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"livequiz-service/internal/broadcast"
	"livequiz-service/internal/domain"
)

const (
	defaultBasePoints     = 1000
	maxSpeedBonus         = 500
	fallbackTimeLimitSecs = 30
	nicknameMaxLen        = 32
	rosterLimit           = 50
	revealTopN            = 10
	finishTopN            = 50
	pinLength             = 6
	maxPinTries           = 10
	defaultAvatarKey      = "avatar_1"
)

// AvatarKeys is the whitelist of visual identifiers a participant may pick.
var AvatarKeys = []string{
	"avatar_1", "avatar_2", "avatar_3", "avatar_4", "avatar_5", "avatar_6",
	"avatar_7", "avatar_8", "avatar_9", "avatar_10", "avatar_11", "avatar_12",
}

// StateChange describes one host transition applied via compare-and-swap.
type StateChange struct {
	To        domain.SessionState
	SetIndex  bool
	Index     int
	SetWindow bool
	StartedAt time.Time
	EndsAt    time.Time
}

// SessionStore is the authoritative record of sessions, participants, and
// answers. Implementations enforce the uniqueness constraints and
// state-match preconditions that make the engine safe without in-memory
// cross-connection locks.
type SessionStore interface {
	CreateSession(ctx context.Context, session *domain.Session) error
	SessionByPin(ctx context.Context, pin string) (domain.Session, error)
	// TransitionState applies change only while the session state is one of
	// from; zero rows matched means a concurrent host action won the race
	// and ErrStaleTransition is returned with state untouched.
	TransitionState(ctx context.Context, pin string, from []domain.SessionState, change StateChange) (domain.Session, error)
	SetLocked(ctx context.Context, pin string, locked bool) (domain.Session, error)

	// UpsertParticipant inserts a participant or, when the (session, device)
	// row already exists, refreshes nickname, avatar, and liveness in place.
	UpsertParticipant(ctx context.Context, participant *domain.Participant) error
	ParticipantByID(ctx context.Context, sessionID, participantID int64) (domain.Participant, error)
	RecentParticipants(ctx context.Context, sessionID int64, limit int) ([]domain.PlayerSummary, int, error)

	// InsertAnswer performs an insert-if-absent on the
	// (session, participant, question) key and reports whether the row was
	// written. A false return means an answer already existed.
	InsertAnswer(ctx context.Context, answer *domain.Answer) (bool, error)
	AnswerFor(ctx context.Context, sessionID, participantID, questionID int64) (domain.Answer, bool, error)
	AddScore(ctx context.Context, participantID int64, delta int, seenAt time.Time) (int, error)
	AnswerProgress(ctx context.Context, sessionID, questionID int64) (answered, total int, err error)
	TopParticipants(ctx context.Context, sessionID int64, limit int) ([]domain.LeaderboardEntry, error)
	QuestionResults(ctx context.Context, sessionID, questionID int64) ([]domain.QuestionResult, error)
}

// ExamRepository loads exam content (from cache/backing store).
type ExamRepository interface {
	GetExam(ctx context.Context, examID string) (domain.Exam, error)
}

// Engine drives live quiz sessions: host transitions, joins, answer scoring,
// and the broadcast projections derived from the store.
type Engine struct {
	store SessionStore
	exams ExamRepository
	hub   *broadcast.Hub
	now   func() time.Time
}

func New(store SessionStore, exams ExamRepository, hub *broadcast.Hub) *Engine {
	return &Engine{store: store, exams: exams, hub: hub, now: time.Now}
}

// NewWithClock is test-only for deterministic timestamps.
func NewWithClock(store SessionStore, exams ExamRepository, hub *broadcast.Hub, now func() time.Time) *Engine {
	return &Engine{store: store, exams: exams, hub: hub, now: now}
}

// CreateSession allocates a session with a fresh pin for the given exam.
func (e *Engine) CreateSession(ctx context.Context, examID string) (domain.Session, error) {
	if _, err := e.exams.GetExam(ctx, examID); err != nil {
		return domain.Session{}, err
	}

	for tries := 0; tries < maxPinTries; tries++ {
		session := domain.Session{
			ExamID:    examID,
			Pin:       generatePin(),
			State:     domain.StateLobby,
			CreatedAt: e.now(),
		}
		err := e.store.CreateSession(ctx, &session)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, domain.ErrPinTaken) {
			return domain.Session{}, err
		}
	}
	return domain.Session{}, fmt.Errorf("pin generation failed after %d tries", maxPinTries)
}

// Session returns the session for a pin.
func (e *Engine) Session(ctx context.Context, pin string) (domain.Session, error) {
	return e.store.SessionByPin(ctx, pin)
}

// Join registers or refreshes a participant for a device and pushes the
// updated roster snapshot on the lobby channel. Rejoining with the same
// device id updates the existing row; cumulative score is preserved.
func (e *Engine) Join(ctx context.Context, pin, nickname, avatarKey, deviceID string) (domain.Participant, error) {
	session, err := e.store.SessionByPin(ctx, pin)
	if err != nil {
		return domain.Participant{}, err
	}
	if session.Locked {
		return domain.Participant{}, domain.ErrSessionLocked
	}

	nickname = cleanNickname(nickname)
	if nickname == "" {
		return domain.Participant{}, domain.ErrEmptyNickname
	}
	if !validAvatarKey(avatarKey) {
		avatarKey = defaultAvatarKey
	}

	participant := domain.Participant{
		SessionID:  session.ID,
		Nickname:   nickname,
		AvatarKey:  avatarKey,
		DeviceID:   deviceID,
		LastSeenAt: e.now(),
		CreatedAt:  e.now(),
	}
	if err := e.store.UpsertParticipant(ctx, &participant); err != nil {
		return domain.Participant{}, err
	}

	if ev, err := e.lobbySnapshot(ctx, session.ID); err == nil {
		e.hub.Publish(pin, broadcast.Lobby, ev)
	}
	return participant, nil
}

// Redirect returns the client path matching the session's current state.
func Redirect(session domain.Session) string {
	if session.State == domain.StateLobby {
		return "/live/wait/" + session.Pin + "/"
	}
	return "/live/play/" + session.Pin + "/"
}

// LobbyState returns the roster snapshot for a pin.
func (e *Engine) LobbyState(ctx context.Context, pin string) (domain.LobbyStateEvent, error) {
	session, err := e.store.SessionByPin(ctx, pin)
	if err != nil {
		return domain.LobbyStateEvent{}, err
	}
	return e.lobbySnapshot(ctx, session.ID)
}

func (e *Engine) lobbySnapshot(ctx context.Context, sessionID int64) (domain.LobbyStateEvent, error) {
	players, count, err := e.store.RecentParticipants(ctx, sessionID, rosterLimit)
	if err != nil {
		return domain.LobbyStateEvent{}, err
	}
	return domain.NewLobbyStateEvent(count, players), nil
}

// SetLocked toggles the join gate.
func (e *Engine) SetLocked(ctx context.Context, pin string, locked bool) (domain.Session, error) {
	return e.store.SetLocked(ctx, pin, locked)
}

// Start moves a lobby session to its first question and publishes it.
func (e *Engine) Start(ctx context.Context, pin string) (domain.Session, error) {
	session, err := e.store.SessionByPin(ctx, pin)
	if err != nil {
		return domain.Session{}, err
	}
	exam, err := e.exams.GetExam(ctx, session.ExamID)
	if err != nil {
		return domain.Session{}, err
	}
	if len(exam.Questions) == 0 {
		return domain.Session{}, domain.ErrNoMoreQuestions
	}
	return e.publishQuestion(ctx, pin, exam, []domain.SessionState{domain.StateLobby}, 0)
}

// Advance moves a revealed session to the next question. When the exam is
// exhausted it fails with ErrNoMoreQuestions and leaves state unchanged;
// the host must call Finish instead.
func (e *Engine) Advance(ctx context.Context, pin string) (domain.Session, error) {
	session, err := e.store.SessionByPin(ctx, pin)
	if err != nil {
		return domain.Session{}, err
	}
	exam, err := e.exams.GetExam(ctx, session.ExamID)
	if err != nil {
		return domain.Session{}, err
	}
	next := session.CurrentIndex + 1
	if next >= len(exam.Questions) {
		return domain.Session{}, domain.ErrNoMoreQuestions
	}
	return e.publishQuestion(ctx, pin, exam, []domain.SessionState{domain.StateReveal}, next)
}

// publishQuestion performs the CAS transition into the question state and
// broadcasts the publish payload. The deadline is persisted before the
// broadcast so reconnecting clients recover the exact same window.
func (e *Engine) publishQuestion(ctx context.Context, pin string, exam domain.Exam, from []domain.SessionState, index int) (domain.Session, error) {
	question := exam.Questions[index]
	limit := effectiveTimeLimit(question, exam)
	now := e.now()
	ends := now.Add(time.Duration(limit) * time.Second)

	session, err := e.store.TransitionState(ctx, pin, from, StateChange{
		To:        domain.StateQuestion,
		SetIndex:  true,
		Index:     index,
		SetWindow: true,
		StartedAt: now,
		EndsAt:    ends,
	})
	if err != nil {
		return domain.Session{}, err
	}

	view := buildQuestionView(question, exam, index, now, ends)
	e.hub.Publish(pin, broadcast.Play, domain.NewQuestionPublishedEvent(view))
	return session, nil
}

// Reveal closes the current question: correct option set, per-participant
// outcomes, and a top-N snapshot go out on the play channel. The host may
// reveal before the deadline passes.
func (e *Engine) Reveal(ctx context.Context, pin string) (domain.Session, error) {
	session, err := e.store.SessionByPin(ctx, pin)
	if err != nil {
		return domain.Session{}, err
	}
	exam, err := e.exams.GetExam(ctx, session.ExamID)
	if err != nil {
		return domain.Session{}, err
	}
	if session.CurrentIndex < 0 || session.CurrentIndex >= len(exam.Questions) {
		return domain.Session{}, domain.ErrQuestionNotFound
	}
	question := exam.Questions[session.CurrentIndex]

	updated, err := e.store.TransitionState(ctx, pin, []domain.SessionState{domain.StateQuestion}, StateChange{To: domain.StateReveal})
	if err != nil {
		return domain.Session{}, err
	}

	results, err := e.store.QuestionResults(ctx, session.ID, question.ID)
	if err != nil {
		return domain.Session{}, err
	}
	top, err := e.store.TopParticipants(ctx, session.ID, revealTopN)
	if err != nil {
		return domain.Session{}, err
	}

	e.hub.Publish(pin, broadcast.Play, domain.NewRevealEvent(question.ID, question.CorrectOptionIDs(), results, top))
	return updated, nil
}

// Finish terminates the session from any state and broadcasts the final
// leaderboard.
func (e *Engine) Finish(ctx context.Context, pin string) (domain.Session, error) {
	from := []domain.SessionState{domain.StateLobby, domain.StateQuestion, domain.StateReveal, domain.StateFinished}
	session, err := e.store.TransitionState(ctx, pin, from, StateChange{To: domain.StateFinished})
	if err != nil {
		return domain.Session{}, err
	}

	top, err := e.store.TopParticipants(ctx, session.ID, finishTopN)
	if err != nil {
		return domain.Session{}, err
	}
	e.hub.Publish(pin, broadcast.Play, domain.NewFinishedEvent(top))
	return session, nil
}

// SubmitAnswer validates, deduplicates, and scores one inbound answer.
// A duplicate submission returns the originally computed result; the
// store's uniqueness constraint, not a lock, arbitrates races.
func (e *Engine) SubmitAnswer(ctx context.Context, pin string, participantID int64, deviceID string, sub domain.AnswerSubmission) (domain.AnswerResult, error) {
	session, err := e.store.SessionByPin(ctx, pin)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	participant, err := e.store.ParticipantByID(ctx, session.ID, participantID)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	if participant.DeviceID != deviceID {
		return domain.AnswerResult{}, domain.ErrParticipantNotFound
	}

	exam, err := e.exams.GetExam(ctx, session.ExamID)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	question, ok := exam.QuestionByID(sub.QuestionID)
	if !ok {
		return domain.AnswerResult{}, domain.ErrQuestionNotFound
	}

	if existing, found, err := e.store.AnswerFor(ctx, session.ID, participantID, sub.QuestionID); err != nil {
		return domain.AnswerResult{}, err
	} else if found {
		return e.replayResult(ctx, session, participant, question, exam, existing)
	}

	option, ok := question.OptionByID(sub.OptionID)
	if !ok {
		return domain.AnswerResult{}, domain.ErrOptionNotFound
	}

	base := basePoints(question, exam)
	elapsed := sub.AnswerMs
	if elapsed < 0 {
		elapsed = 0
	}
	bonus := 0
	if option.Correct && session.QuestionStartedAt != nil && session.QuestionEndsAt != nil {
		windowMs := int(session.QuestionEndsAt.Sub(*session.QuestionStartedAt) / time.Millisecond)
		if windowMs > 0 {
			if elapsed > windowMs {
				elapsed = windowMs
			}
			remaining := windowMs - elapsed
			bonus = remaining * maxSpeedBonus / windowMs
		}
	}
	awarded := 0
	if option.Correct {
		awarded = base + bonus
	}

	answer := domain.Answer{
		SessionID:     session.ID,
		ParticipantID: participantID,
		QuestionID:    sub.QuestionID,
		OptionID:      sub.OptionID,
		Correct:       option.Correct,
		AnswerMs:      elapsed,
		AwardedPoints: awarded,
		CreatedAt:     e.now(),
	}
	inserted, err := e.store.InsertAnswer(ctx, &answer)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	if !inserted {
		// Lost the insert race: the first write won, return its result.
		existing, found, err := e.store.AnswerFor(ctx, session.ID, participantID, sub.QuestionID)
		if err != nil {
			return domain.AnswerResult{}, err
		}
		if !found {
			return domain.AnswerResult{}, fmt.Errorf("answer conflict but row missing for participant %d question %d", participantID, sub.QuestionID)
		}
		return e.replayResult(ctx, session, participant, question, exam, existing)
	}

	total, err := e.store.AddScore(ctx, participantID, awarded, e.now())
	if err != nil {
		return domain.AnswerResult{}, err
	}

	answered, totalPlayers, err := e.store.AnswerProgress(ctx, session.ID, sub.QuestionID)
	if err == nil {
		e.hub.Publish(pin, broadcast.Play, domain.NewAnswerProgressEvent(sub.QuestionID, answered, totalPlayers))
	}

	return domain.AnswerResult{
		QuestionID:    sub.QuestionID,
		Correct:       option.Correct,
		BasePoints:    base,
		BonusPoints:   bonus,
		AwardedPoints: awarded,
		TotalScore:    total,
	}, nil
}

// replayResult rebuilds the original outcome of an already-persisted answer
// so duplicate submissions are benign.
func (e *Engine) replayResult(ctx context.Context, session domain.Session, participant domain.Participant, question domain.Question, exam domain.Exam, existing domain.Answer) (domain.AnswerResult, error) {
	current, err := e.store.ParticipantByID(ctx, session.ID, participant.ID)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	base := basePoints(question, exam)
	bonus := 0
	if existing.Correct {
		bonus = existing.AwardedPoints - base
		if bonus < 0 {
			bonus = 0
		}
	}
	return domain.AnswerResult{
		QuestionID:    existing.QuestionID,
		Correct:       existing.Correct,
		BasePoints:    base,
		BonusPoints:   bonus,
		AwardedPoints: existing.AwardedPoints,
		TotalScore:    current.Score,
		Duplicate:     true,
	}, nil
}

// State is the pull-side read path for late joiners and reconnects. It
// derives the active question payload from the same persisted timestamps
// the push path wrote, so the deadline never shifts on a re-fetch.
func (e *Engine) State(ctx context.Context, pin string) (domain.SessionView, error) {
	session, err := e.store.SessionByPin(ctx, pin)
	if err != nil {
		return domain.SessionView{}, err
	}
	exam, err := e.exams.GetExam(ctx, session.ExamID)
	if err != nil {
		return domain.SessionView{}, err
	}

	view := domain.SessionView{
		State:          session.State,
		Locked:         session.Locked,
		CurrentIndex:   session.CurrentIndex,
		TotalQuestions: len(exam.Questions),
	}

	active := session.State == domain.StateQuestion || session.State == domain.StateReveal
	if active && session.CurrentIndex >= 0 && session.CurrentIndex < len(exam.Questions) {
		question := exam.Questions[session.CurrentIndex]
		var started, ends time.Time
		if session.QuestionStartedAt != nil {
			started = *session.QuestionStartedAt
		}
		if session.QuestionEndsAt != nil {
			ends = *session.QuestionEndsAt
		}
		q := buildQuestionView(question, exam, session.CurrentIndex, started, ends)
		view.Question = &q
		if session.State == domain.StateReveal {
			view.CorrectOptionIDs = question.CorrectOptionIDs()
		}
	}
	return view, nil
}

func buildQuestionView(question domain.Question, exam domain.Exam, index int, started, ends time.Time) domain.QuestionView {
	options := make([]domain.OptionView, 0, len(question.Options))
	for _, opt := range question.Options {
		options = append(options, domain.OptionView{ID: opt.ID, Label: opt.Label, Text: opt.Text})
	}
	view := domain.QuestionView{
		ID:               question.ID,
		Text:             question.Text,
		TimeLimitSeconds: effectiveTimeLimit(question, exam),
		Points:           basePoints(question, exam),
		Options:          options,
		Position:         index + 1,
		Total:            len(exam.Questions),
	}
	if !started.IsZero() {
		view.StartedAt = started.UnixMilli()
	}
	if !ends.IsZero() {
		view.EndsAt = ends.UnixMilli()
	}
	return view
}

func effectiveTimeLimit(question domain.Question, exam domain.Exam) int {
	if question.TimeLimitSeconds > 0 {
		return question.TimeLimitSeconds
	}
	if exam.DefaultTimeLimitSeconds > 0 {
		return exam.DefaultTimeLimitSeconds
	}
	return fallbackTimeLimitSecs
}

func basePoints(question domain.Question, exam domain.Exam) int {
	if question.Points > 0 {
		return question.Points
	}
	if exam.DefaultPoints > 0 {
		return exam.DefaultPoints
	}
	return defaultBasePoints
}

func cleanNickname(raw string) string {
	fields := strings.Fields(raw)
	name := strings.Join(fields, " ")
	runes := []rune(name)
	if len(runes) > nicknameMaxLen {
		name = string(runes[:nicknameMaxLen])
	}
	return name
}

func validAvatarKey(key string) bool {
	for _, k := range AvatarKeys {
		if k == key {
			return true
		}
	}
	return false
}

func generatePin() string {
	digits := make([]byte, pinLength)
	for i := range digits {
		digits[i] = byte('0' + rand.Intn(10))
	}
	return string(digits)
}
