// Package storyerr defines the error kinds surfaced by the story pipeline and
// its session gate. Every failure that leaves a component is wrapped in an
// *Error carrying one of the Kind values below so callers can map it to an
// HTTP status or exit code without string matching.
package storyerr

import (
	"errors"
	"fmt"
)

// Kind identifies a class of pipeline or authorization failure.
type Kind string

const (
	KindUpstreamFetch         Kind = "UPSTREAM_FETCH_FAILED"
	KindUpstreamGeneration    Kind = "UPSTREAM_GENERATION_FAILED"
	KindUpstreamSynthesis     Kind = "UPSTREAM_SYNTHESIS_FAILED"
	KindTemplate              Kind = "TEMPLATE_INVALID"
	KindPersistence           Kind = "PERSISTENCE_FAILED"
	KindInvalidCredentials    Kind = "INVALID_CREDENTIALS"
	KindInvalidOrExpiredToken Kind = "INVALID_OR_EXPIRED_TOKEN"
)

var kindMessages = map[Kind]string{
	KindUpstreamFetch:         "reference data fetch failed",
	KindUpstreamGeneration:    "story generation failed",
	KindUpstreamSynthesis:     "speech synthesis failed",
	KindTemplate:              "prompt template invalid",
	KindPersistence:           "artifact persistence failed",
	KindInvalidCredentials:    "invalid credentials",
	KindInvalidOrExpiredToken: "invalid or expired token",
}

// Sentinels for errors.Is. An *Error matches a sentinel when the kinds agree.
var (
	ErrUpstreamFetch         = &Error{Kind: KindUpstreamFetch}
	ErrUpstreamGeneration    = &Error{Kind: KindUpstreamGeneration}
	ErrUpstreamSynthesis     = &Error{Kind: KindUpstreamSynthesis}
	ErrTemplate              = &Error{Kind: KindTemplate}
	ErrPersistence           = &Error{Kind: KindPersistence}
	ErrInvalidCredentials    = &Error{Kind: KindInvalidCredentials}
	ErrInvalidOrExpiredToken = &Error{Kind: KindInvalidOrExpiredToken}
)

// Error is a classified failure. Op names the operation that failed and Err
// is the underlying cause, if any.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// New wraps err with a kind and operation name.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf is New with a formatted cause.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	msg := kindMessages[e.Kind]
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsAuth reports whether err is a credential or token failure.
func IsAuth(err error) bool {
	switch KindOf(err) {
	case KindInvalidCredentials, KindInvalidOrExpiredToken:
		return true
	}
	return false
}

// IsUpstream reports whether err came from a remote collaborator or from
// persisting its output. These map to a bad-gateway response.
func IsUpstream(err error) bool {
	switch KindOf(err) {
	case KindUpstreamFetch, KindUpstreamGeneration, KindUpstreamSynthesis, KindPersistence:
		return true
	}
	return false
}
