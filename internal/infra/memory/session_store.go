package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"livequiz-service/internal/domain"
	"livequiz-service/internal/engine"
)

// SessionStore is an in-memory implementation of engine.SessionStore for
// development and tests. A single mutex stands in for the database
// constraints: pin uniqueness, the (session, device) participant key, the
// (session, participant, question) answer key, and the state-match
// precondition on transitions all behave like their Postgres counterparts.
type SessionStore struct {
	mu           sync.Mutex
	nextID       int64
	sessions     map[string]*domain.Session // by pin
	participants map[int64]*domain.Participant
	answers      []*domain.Answer
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions:     make(map[string]*domain.Session),
		participants: make(map[int64]*domain.Participant),
	}
}

func (s *SessionStore) CreateSession(_ context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.Pin]; ok {
		return domain.ErrPinTaken
	}
	s.nextID++
	session.ID = s.nextID
	copied := *session
	s.sessions[session.Pin] = &copied
	return nil
}

func (s *SessionStore) SessionByPin(_ context.Context, pin string) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[pin]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return *session, nil
}

func (s *SessionStore) TransitionState(_ context.Context, pin string, from []domain.SessionState, change engine.StateChange) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[pin]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	matched := false
	for _, state := range from {
		if session.State == state {
			matched = true
			break
		}
	}
	if !matched {
		return domain.Session{}, domain.ErrStaleTransition
	}
	session.State = change.To
	if change.SetIndex {
		session.CurrentIndex = change.Index
	}
	if change.SetWindow {
		started := change.StartedAt
		ends := change.EndsAt
		session.QuestionStartedAt = &started
		session.QuestionEndsAt = &ends
	}
	return *session, nil
}

func (s *SessionStore) SetLocked(_ context.Context, pin string, locked bool) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[pin]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	session.Locked = locked
	return *session, nil
}

func (s *SessionStore) UpsertParticipant(_ context.Context, participant *domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.participants {
		if existing.SessionID == participant.SessionID && existing.DeviceID == participant.DeviceID {
			existing.Nickname = participant.Nickname
			existing.AvatarKey = participant.AvatarKey
			existing.LastSeenAt = participant.LastSeenAt
			*participant = *existing
			return nil
		}
	}
	s.nextID++
	participant.ID = s.nextID
	copied := *participant
	s.participants[participant.ID] = &copied
	return nil
}

func (s *SessionStore) ParticipantByID(_ context.Context, sessionID, participantID int64) (domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	participant, ok := s.participants[participantID]
	if !ok || participant.SessionID != sessionID {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	return *participant, nil
}

func (s *SessionStore) RecentParticipants(_ context.Context, sessionID int64, limit int) ([]domain.PlayerSummary, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := make([]*domain.Participant, 0)
	for _, p := range s.participants {
		if p.SessionID == sessionID {
			members = append(members, p)
		}
	}
	sort.Slice(members, func(i, j int) bool {
		if !members[i].CreatedAt.Equal(members[j].CreatedAt) {
			return members[i].CreatedAt.After(members[j].CreatedAt)
		}
		return members[i].ID > members[j].ID
	})
	total := len(members)
	if len(members) > limit {
		members = members[:limit]
	}
	summaries := make([]domain.PlayerSummary, 0, len(members))
	for _, p := range members {
		summaries = append(summaries, domain.PlayerSummary{ID: p.ID, Nickname: p.Nickname, AvatarKey: p.AvatarKey})
	}
	return summaries, total, nil
}

func (s *SessionStore) InsertAnswer(_ context.Context, answer *domain.Answer) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.answers {
		if existing.SessionID == answer.SessionID &&
			existing.ParticipantID == answer.ParticipantID &&
			existing.QuestionID == answer.QuestionID {
			return false, nil
		}
	}
	s.nextID++
	answer.ID = s.nextID
	copied := *answer
	s.answers = append(s.answers, &copied)
	return true, nil
}

func (s *SessionStore) AnswerFor(_ context.Context, sessionID, participantID, questionID int64) (domain.Answer, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.answers {
		if existing.SessionID == sessionID &&
			existing.ParticipantID == participantID &&
			existing.QuestionID == questionID {
			return *existing, true, nil
		}
	}
	return domain.Answer{}, false, nil
}

func (s *SessionStore) AddScore(_ context.Context, participantID int64, delta int, seenAt time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	participant, ok := s.participants[participantID]
	if !ok {
		return 0, domain.ErrParticipantNotFound
	}
	participant.Score += delta
	participant.LastSeenAt = seenAt
	return participant.Score, nil
}

func (s *SessionStore) AnswerProgress(_ context.Context, sessionID, questionID int64) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	answered := 0
	for _, a := range s.answers {
		if a.SessionID == sessionID && a.QuestionID == questionID {
			answered++
		}
	}
	total := 0
	for _, p := range s.participants {
		if p.SessionID == sessionID {
			total++
		}
	}
	return answered, total, nil
}

func (s *SessionStore) TopParticipants(_ context.Context, sessionID int64, limit int) ([]domain.LeaderboardEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := make([]*domain.Participant, 0)
	for _, p := range s.participants {
		if p.SessionID == sessionID {
			members = append(members, p)
		}
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].Score != members[j].Score {
			return members[i].Score > members[j].Score
		}
		if !members[i].CreatedAt.Equal(members[j].CreatedAt) {
			return members[i].CreatedAt.Before(members[j].CreatedAt)
		}
		return members[i].ID < members[j].ID
	})
	if len(members) > limit {
		members = members[:limit]
	}
	entries := make([]domain.LeaderboardEntry, 0, len(members))
	for _, p := range members {
		entries = append(entries, domain.LeaderboardEntry{Nickname: p.Nickname, AvatarKey: p.AvatarKey, Score: p.Score})
	}
	return entries, nil
}

func (s *SessionStore) QuestionResults(_ context.Context, sessionID, questionID int64) ([]domain.QuestionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	results := make([]domain.QuestionResult, 0)
	for _, a := range s.answers {
		if a.SessionID != sessionID || a.QuestionID != questionID {
			continue
		}
		nickname := ""
		if p, ok := s.participants[a.ParticipantID]; ok {
			nickname = p.Nickname
		}
		results = append(results, domain.QuestionResult{
			ParticipantID: a.ParticipantID,
			Nickname:      nickname,
			OptionID:      a.OptionID,
			Correct:       a.Correct,
			AwardedPoints: a.AwardedPoints,
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ParticipantID < results[j].ParticipantID })
	return results, nil
}
