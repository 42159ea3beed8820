package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"livequiz-service/internal/domain"
	"livequiz-service/internal/engine"
)

const pgUniqueViolation = "23505"

// SessionStore is the bun-backed implementation of engine.SessionStore.
// Correctness under concurrent connections comes from the schema, not from
// locks: the unique (session, device) and (session, participant, question)
// keys plus state-match preconditions on updates arbitrate every race.
type SessionStore struct {
	db *bun.DB
}

func NewSessionStore(db *bun.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) CreateSession(ctx context.Context, session *domain.Session) error {
	_, err := s.db.NewInsert().Model(session).Exec(ctx)
	if isUniqueViolation(err) {
		return domain.ErrPinTaken
	}
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *SessionStore) SessionByPin(ctx context.Context, pin string) (domain.Session, error) {
	session := domain.Session{}
	err := s.db.NewSelect().Model(&session).Where("pin = ?", pin).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("session by pin: %w", err)
	}
	return session, nil
}

// TransitionState is a single-row compare-and-swap: the update matches only
// while the state precondition holds, so a concurrent host action cannot
// double-apply a transition.
func (s *SessionStore) TransitionState(ctx context.Context, pin string, from []domain.SessionState, change engine.StateChange) (domain.Session, error) {
	session := domain.Session{}
	q := s.db.NewUpdate().
		Model(&session).
		Set("state = ?", change.To).
		Where("pin = ?", pin).
		Where("state IN (?)", bun.In(from))
	if change.SetIndex {
		q = q.Set("current_index = ?", change.Index)
	}
	if change.SetWindow {
		q = q.Set("question_started_at = ?", change.StartedAt).
			Set("question_ends_at = ?", change.EndsAt)
	}

	res, err := q.Returning("*").Exec(ctx)
	if err != nil {
		return domain.Session{}, fmt.Errorf("transition state: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return domain.Session{}, err
	}
	if rows == 0 {
		if _, err := s.SessionByPin(ctx, pin); err != nil {
			return domain.Session{}, err
		}
		return domain.Session{}, domain.ErrStaleTransition
	}
	return session, nil
}

func (s *SessionStore) SetLocked(ctx context.Context, pin string, locked bool) (domain.Session, error) {
	session := domain.Session{}
	res, err := s.db.NewUpdate().
		Model(&session).
		Set("is_locked = ?", locked).
		Where("pin = ?", pin).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return domain.Session{}, fmt.Errorf("set locked: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return session, nil
}

// UpsertParticipant resolves concurrent rejoins for the same device to a
// single row: the insert lands on the unique (session_id, device_id) key and
// conflicts turn into an in-place profile refresh. Score is never touched.
func (s *SessionStore) UpsertParticipant(ctx context.Context, participant *domain.Participant) error {
	_, err := s.db.NewInsert().
		Model(participant).
		On("CONFLICT (session_id, device_id) DO UPDATE").
		Set("nickname = EXCLUDED.nickname").
		Set("avatar_key = EXCLUDED.avatar_key").
		Set("last_seen_at = EXCLUDED.last_seen_at").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert participant: %w", err)
	}
	return nil
}

func (s *SessionStore) ParticipantByID(ctx context.Context, sessionID, participantID int64) (domain.Participant, error) {
	participant := domain.Participant{}
	err := s.db.NewSelect().
		Model(&participant).
		Where("id = ?", participantID).
		Where("session_id = ?", sessionID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	if err != nil {
		return domain.Participant{}, fmt.Errorf("participant by id: %w", err)
	}
	return participant, nil
}

func (s *SessionStore) RecentParticipants(ctx context.Context, sessionID int64, limit int) ([]domain.PlayerSummary, int, error) {
	players := make([]domain.PlayerSummary, 0, limit)
	err := s.db.NewSelect().
		TableExpr("live_participants").
		Column("id", "nickname", "avatar_key").
		Where("session_id = ?", sessionID).
		OrderExpr("created_at DESC, id DESC").
		Limit(limit).
		Scan(ctx, &players)
	if err != nil {
		return nil, 0, fmt.Errorf("recent participants: %w", err)
	}
	count, err := s.db.NewSelect().
		Model((*domain.Participant)(nil)).
		Where("session_id = ?", sessionID).
		Count(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("count participants: %w", err)
	}
	return players, count, nil
}

// InsertAnswer is insert-if-absent on (session, participant, question).
// Zero rows affected means an answer already exists; the caller replays the
// stored result instead of rescoring.
func (s *SessionStore) InsertAnswer(ctx context.Context, answer *domain.Answer) (bool, error) {
	res, err := s.db.NewInsert().
		Model(answer).
		On("CONFLICT (session_id, participant_id, question_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("insert answer: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (s *SessionStore) AnswerFor(ctx context.Context, sessionID, participantID, questionID int64) (domain.Answer, bool, error) {
	answer := domain.Answer{}
	err := s.db.NewSelect().
		Model(&answer).
		Where("session_id = ?", sessionID).
		Where("participant_id = ?", participantID).
		Where("question_id = ?", questionID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Answer{}, false, nil
	}
	if err != nil {
		return domain.Answer{}, false, fmt.Errorf("answer for: %w", err)
	}
	return answer, true, nil
}

// AddScore increments the cumulative score in a single-row update and
// refreshes the liveness timestamp.
func (s *SessionStore) AddScore(ctx context.Context, participantID int64, delta int, seenAt time.Time) (int, error) {
	var score int
	err := s.db.NewUpdate().
		Model((*domain.Participant)(nil)).
		Set("score = score + ?", delta).
		Set("last_seen_at = ?", seenAt).
		Where("id = ?", participantID).
		Returning("score").
		Scan(ctx, &score)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrParticipantNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("add score: %w", err)
	}
	return score, nil
}

func (s *SessionStore) AnswerProgress(ctx context.Context, sessionID, questionID int64) (int, int, error) {
	answered, err := s.db.NewSelect().
		Model((*domain.Answer)(nil)).
		Where("session_id = ?", sessionID).
		Where("question_id = ?", questionID).
		Count(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("count answers: %w", err)
	}
	total, err := s.db.NewSelect().
		Model((*domain.Participant)(nil)).
		Where("session_id = ?", sessionID).
		Count(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("count participants: %w", err)
	}
	return answered, total, nil
}

func (s *SessionStore) TopParticipants(ctx context.Context, sessionID int64, limit int) ([]domain.LeaderboardEntry, error) {
	entries := make([]domain.LeaderboardEntry, 0, limit)
	err := s.db.NewSelect().
		TableExpr("live_participants").
		Column("nickname", "avatar_key", "score").
		Where("session_id = ?", sessionID).
		OrderExpr("score DESC, created_at ASC, id ASC").
		Limit(limit).
		Scan(ctx, &entries)
	if err != nil {
		return nil, fmt.Errorf("top participants: %w", err)
	}
	return entries, nil
}

func (s *SessionStore) QuestionResults(ctx context.Context, sessionID, questionID int64) ([]domain.QuestionResult, error) {
	results := make([]domain.QuestionResult, 0)
	err := s.db.NewSelect().
		TableExpr("live_answers AS a").
		ColumnExpr("a.participant_id").
		ColumnExpr("p.nickname").
		ColumnExpr("a.option_id").
		ColumnExpr("a.is_correct AS correct").
		ColumnExpr("a.awarded_points").
		Join("JOIN live_participants AS p ON p.id = a.participant_id").
		Where("a.session_id = ?", sessionID).
		Where("a.question_id = ?", questionID).
		OrderExpr("a.participant_id ASC").
		Scan(ctx, &results)
	if err != nil {
		return nil, fmt.Errorf("question results: %w", err)
	}
	return results, nil
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.Field('C') == pgUniqueViolation
}
