package util

import "errors"

// 错误类别，具体错误通过 Unwrap 归入其中一类，供 errors.Is 判断
var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
	ErrConflict  = errors.New("conflict")
	ErrExpired   = errors.New("expired")
	ErrInvalid   = errors.New("invalid")
)

type kindError struct {
	msg  string
	kind error
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

func newKindError(kind error, msg string) error {
	return &kindError{msg: msg, kind: kind}
}

var (
	ErrUserNotFound     = newKindError(ErrNotFound, "user not found")
	ErrQuizNotFound     = newKindError(ErrNotFound, "quiz not found")
	ErrSessionNotFound  = newKindError(ErrNotFound, "quiz session not found")
	ErrQuestionNotFound = newKindError(ErrNotFound, "question not found")
	ErrNotSessionOwner  = newKindError(ErrForbidden, "session belongs to another user")
	ErrSessionExpired   = newKindError(ErrExpired, "quiz session has expired")
	ErrSessionClosed    = newKindError(ErrConflict, "quiz session is no longer in progress")
	ErrNotCompleted     = newKindError(ErrConflict, "quiz session is not completed")
	ErrInvalidOption    = newKindError(ErrInvalid, "selected option must be one of a, b, c, d")
	ErrInvalidAnswer    = newKindError(ErrInvalid, "invalid answer payload")
	ErrInvalidQuiz      = newKindError(ErrInvalid, "invalid quiz definition")
)
