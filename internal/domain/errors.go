package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the application. Coded errors match them through errors.Is.
var (
	ErrNotFound          = errors.New("resource not found")
	ErrUnauthorized      = errors.New("unauthorized access")
	ErrForbidden         = errors.New("forbidden")
	ErrConflict          = errors.New("resource already exists")
	ErrInternal          = errors.New("internal server error")
	ErrInvalidInput      = errors.New("invalid input")
	ErrModerationBlocked = errors.New("message blocked by moderation")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrStorage           = errors.New("storage error")
)

type Code string

const (
	CodeValidation           Code = "VALIDATION_ERROR"
	CodeUnauthorized         Code = "UNAUTHORIZED"
	CodeForbidden            Code = "FORBIDDEN"
	CodeConversationNotFound Code = "CONVERSATION_NOT_FOUND"
	CodeMessageNotFound      Code = "MESSAGE_NOT_FOUND"
	CodeNotParticipant       Code = "USER_NOT_PARTICIPANT"
	CodeModerationBlocked    Code = "MODERATION_BLOCKED"
	CodeRateLimited          Code = "RATE_LIMITED"
	CodeDatabase             Code = "DATABASE_ERROR"
	CodeFileTooLarge         Code = "FILE_TOO_LARGE"
	CodeInvalidFileType      Code = "INVALID_FILE_TYPE"
	CodeInternal             Code = "INTERNAL_ERROR"
)

var httpStatus = map[Code]int{
	CodeValidation:           http.StatusBadRequest,
	CodeUnauthorized:         http.StatusUnauthorized,
	CodeForbidden:            http.StatusForbidden,
	CodeConversationNotFound: http.StatusNotFound,
	CodeMessageNotFound:      http.StatusNotFound,
	CodeNotParticipant:       http.StatusForbidden,
	CodeModerationBlocked:    http.StatusForbidden,
	CodeRateLimited:          http.StatusTooManyRequests,
	CodeDatabase:             http.StatusInternalServerError,
	CodeFileTooLarge:         http.StatusRequestEntityTooLarge,
	CodeInvalidFileType:      http.StatusUnsupportedMediaType,
	CodeInternal:             http.StatusInternalServerError,
}

var sentinels = map[Code]error{
	CodeValidation:           ErrInvalidInput,
	CodeUnauthorized:         ErrUnauthorized,
	CodeForbidden:            ErrForbidden,
	CodeConversationNotFound: ErrNotFound,
	CodeMessageNotFound:      ErrNotFound,
	CodeNotParticipant:       ErrForbidden,
	CodeModerationBlocked:    ErrModerationBlocked,
	CodeRateLimited:          ErrRateLimited,
	CodeDatabase:             ErrStorage,
	CodeFileTooLarge:         ErrInvalidInput,
	CodeInvalidFileType:      ErrInvalidInput,
	CodeInternal:             ErrInternal,
}

// Error is a coded application error. It is safe to show Message to clients.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrForbidden) succeed for every forbidden-class code.
func (e *Error) Is(target error) bool {
	return sentinels[e.Code] == target
}

// Status returns the HTTP status the error maps to.
func (e *Error) Status() int {
	if s, ok := httpStatus[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

func Unauthorized(msg string) *Error {
	if msg == "" {
		msg = "Authentication required"
	}
	return &Error{Code: CodeUnauthorized, Message: msg}
}

func Forbidden(msg string) *Error {
	if msg == "" {
		msg = "Access forbidden"
	}
	return &Error{Code: CodeForbidden, Message: msg}
}

func ConversationNotFound() *Error {
	return &Error{Code: CodeConversationNotFound, Message: "Conversation not found"}
}

func MessageNotFound() *Error {
	return &Error{Code: CodeMessageNotFound, Message: "Message not found"}
}

func NotParticipant() *Error {
	return &Error{Code: CodeNotParticipant, Message: "User is not a participant in this conversation"}
}

func ModerationBlockedError(msg string, flags []string) *Error {
	if msg == "" {
		msg = "Message blocked by moderation"
	}
	return &Error{Code: CodeModerationBlocked, Message: msg, Details: map[string]any{"flags": flags}}
}

func RateLimitedError(retryAfter int) *Error {
	if retryAfter <= 0 {
		retryAfter = 60
	}
	return &Error{
		Code:    CodeRateLimited,
		Message: fmt.Sprintf("Rate limit exceeded. Try again in %d seconds.", retryAfter),
		Details: map[string]any{"retryAfter": retryAfter},
	}
}

// Storage wraps a driver error; the driver text stays out of Message.
func Storage(msg string, err error) *Error {
	return &Error{Code: CodeDatabase, Message: msg, Err: err}
}

func Internal(msg string, err error) *Error {
	if msg == "" {
		msg = "Internal server error"
	}
	return &Error{Code: CodeInternal, Message: msg, Err: err}
}

// AsError extracts a coded error, classifying unknown errors as internal.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return &Error{Code: CodeConversationNotFound, Message: "Not found", Err: err}
	case errors.Is(err, ErrForbidden):
		return Forbidden("")
	case errors.Is(err, ErrUnauthorized):
		return Unauthorized("")
	case errors.Is(err, ErrInvalidInput):
		return &Error{Code: CodeValidation, Message: "Invalid input", Err: err}
	}
	return Internal("", err)
}

// HTTPStatus maps any error to the status code used by the request surface.
func HTTPStatus(err error) int {
	return AsError(err).Status()
}
