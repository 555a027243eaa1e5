package domain

import "errors"

var (
	// ErrSessionNotFound is returned when a session document does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrParticipantNotFound is returned when the participant never joined or was kicked.
	ErrParticipantNotFound = errors.New("participant not found in session")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuestionNotFound indicates a submitted question index or ID is invalid.
	ErrQuestionNotFound = errors.New("question not found")

	// ErrUnavailable marks transient store failures; callers may retry.
	ErrUnavailable = errors.New("session store unavailable")

	// ErrIllegalTransition is returned when a lifecycle change is not allowed from the current status.
	ErrIllegalTransition = errors.New("illegal session transition")
	// ErrCapacityExceeded rejects a join over the organization's participant cap.
	ErrCapacityExceeded = errors.New("session is full")
	// ErrSessionClosed rejects writes once the session is completed.
	ErrSessionClosed = errors.New("session is completed")
	// ErrSessionNotActive rejects answers before play has begun.
	ErrSessionNotActive = errors.New("session is not active")
	// ErrJoinClosed rejects joins in statuses that no longer admit participants.
	ErrJoinClosed = errors.New("session is not accepting participants")
	// ErrNotTrainer is returned when a control action is attempted without the trainer key.
	ErrNotTrainer = errors.New("caller is not the session trainer")
	// ErrInvalidMove covers malformed answers or cell marks.
	ErrInvalidMove = errors.New("invalid move")
	// ErrInvalidName rejects empty or oversized display names.
	ErrInvalidName = errors.New("invalid display name")
	// ErrWrongGameType is returned when a move does not match the session's game type.
	ErrWrongGameType = errors.New("move does not match game type")
	// ErrResultsNotFound is returned when no results were archived for a session.
	ErrResultsNotFound = errors.New("results not found")

	// ErrTokenInvalid rejects recovery tokens that fail verification or were revoked.
	ErrTokenInvalid = errors.New("recovery token invalid")
	// ErrTokenExpired rejects recovery tokens past their validity window.
	ErrTokenExpired = errors.New("recovery token expired")
)
