// Package problem defines the short problem-kind strings carried in
// close.problem (spec §3, §7) and a typed error that carries one.
/*
 * Adapted from the teacher's cmn/cos/err.go: the same idea (a small set of
 * named error types instead of ad hoc error strings) applied to the fixed
 * vocabulary spec.md §7 mandates rather than aistore's storage errors.
 */
package problem

import (
	"errors"
	"fmt"

	"github.com/cockpit-project/agent/frame"
)

// The fixed vocabulary of close.problem / init.problem values (spec §7).
const (
	ProtocolError              = "protocol-error"
	NotFound                   = "not-found"
	NotSupported               = "not-supported"
	AuthenticationFailed       = "authentication-failed"
	AccessDenied               = "access-denied"
	AuthenticationUnavailable  = "authentication-unavailable"
	AuthenticationNotSupported = "authentication-not-supported"
	Terminated                 = "terminated"
	InternalError              = "internal-error"
	Timeout                    = "timeout" // reserved; not emitted by the core itself
)

// Error is a problem-kind tagged error. Channels and the transport close
// with e.Kind; anything without a tagged kind is treated as internal-error
// (and, per spec §7, always logged).
type Error struct {
	Kind string
	msg  string
	err  error
}

func New(kind, format string, args ...any) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind string, err error) *Error {
	return &Error{Kind: kind, err: err}
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.err)
	}
	if e.msg != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.msg)
	}
	return e.Kind
}

func (e *Error) Unwrap() error { return e.err }

// KindOf extracts the problem kind from err. A peer's graceful EOF (the
// transport's and a bridge's own shutdown signal, spec §4.A) is
// terminated rather than internal-error, and a framing violation is
// protocol-error; anything else that wasn't deliberately tagged defaults
// to internal-error, matching spec §7's "should be rare; always logged"
// policy.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if IsEOF(err) {
		return Terminated
	}
	if errors.Is(err, frame.ErrBadMessage) {
		return ProtocolError
	}
	return InternalError
}
