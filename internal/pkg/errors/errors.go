package errors

import (
	"errors"
	"fmt"
)

var (
	ErrInvalid    = errors.New("invalid")
	ErrNotFound   = errors.New("not found")
	ErrProvider   = errors.New("provider error")
	ErrParse      = errors.New("parse error")
	ErrUnexpected = errors.New("unexpected error")
)

type Kind int

const (
	KindValidation Kind = iota + 1
	KindNotFound
	KindProvider
	KindParse
	KindUnexpected
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindProvider:
		return "provider"
	case KindParse:
		return "parse"
	case KindUnexpected:
		return "unexpected"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindValidation:
		return ErrInvalid
	case KindNotFound:
		return ErrNotFound
	case KindProvider:
		return ErrProvider
	case KindParse:
		return ErrParse
	default:
		return ErrUnexpected
	}
}

// ProviderError is the error object the upstream API returned.
type ProviderError struct {
	Message string  `json:"message"`
	Type    string  `json:"type,omitempty"`
	Param   *string `json:"param"`
	Code    *string `json:"code"`
}

type ProviderResponse struct {
	Error ProviderError `json:"error"`
	Code  string        `json:"code"`
}

// Error is the structured failure returned by every core operation.
type Error struct {
	Kind             Kind                   `json:"-"`
	Message          string                 `json:"message"`
	Action           string                 `json:"action,omitempty"`
	Code             string                 `json:"code"`
	Details          map[string]interface{} `json:"details,omitempty"`
	ProviderResponse *ProviderResponse      `json:"provider_response,omitempty"`
	cause            error
}

func (e *Error) Error() string {
	if e.Action == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Action, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// WithCause keeps err reachable through errors.As/Unwrap.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Validation(code, message string) *Error {
	return New(KindValidation, code, message)
}

func NotFound(code, message string) *Error {
	return New(KindNotFound, code, message)
}

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrInvalid):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrProvider):
		return KindProvider
	case errors.Is(err, ErrParse):
		return KindParse
	}
	return KindUnexpected
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalid)
}
