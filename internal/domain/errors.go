package domain

import "errors"

var (
	// ErrSessionNotFound is returned when no session exists for a pin.
	ErrSessionNotFound = errors.New("session not found")
	// ErrParticipantNotFound is returned when a token references a participant that no longer exists.
	ErrParticipantNotFound = errors.New("participant not found")
	// ErrExamNotFound indicates the exam content could not be loaded.
	ErrExamNotFound = errors.New("exam not found")
	// ErrQuestionNotFound indicates a question id is invalid for the session's exam.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrOptionNotFound indicates the chosen option does not belong to the referenced question.
	ErrOptionNotFound = errors.New("option not found")
	// ErrSessionLocked rejects joins while the lobby is locked.
	ErrSessionLocked = errors.New("session is locked")
	// ErrEmptyNickname rejects joins with a whitespace-only nickname.
	ErrEmptyNickname = errors.New("nickname must not be empty")
	// ErrStaleTransition is returned when a host transition's state precondition
	// no longer holds (e.g. two host tabs racing on advance).
	ErrStaleTransition = errors.New("session state changed concurrently")
	// ErrNoMoreQuestions is returned by advance when the exam is exhausted.
	ErrNoMoreQuestions = errors.New("no more questions")
	// ErrInvalidToken covers missing, malformed, expired, or mismatched tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrPinTaken signals a pin collision on session creation.
	ErrPinTaken = errors.New("pin already in use")
)
