package problem

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
)

// Adapted from the teacher's cmn/cos/err.go IS-syscall helpers, used by the
// HTTP channel and connection pool to tell a peer's normal half-close
// (end of an until-EOF response, or a pooled connection quietly dropped
// by the far end) apart from a genuine transport failure.

func IsEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

func IsConnReset(err error) bool   { return errors.Is(err, syscall.ECONNRESET) }
func IsConnRefused(err error) bool { return errors.Is(err, syscall.ECONNREFUSED) }
func IsBrokenPipe(err error) bool  { return errors.Is(err, syscall.EPIPE) }

func IsRetriableConnErr(err error) bool {
	return IsConnRefused(err) || IsConnReset(err) || IsBrokenPipe(err)
}

// IsPeerClose reports whether err is the ordinary "far end went away"
// signal rather than a protocol violation: EOF, reset, or broken pipe.
func IsPeerClose(err error) bool {
	return IsEOF(err) || IsConnReset(err) || IsBrokenPipe(err)
}

func isDNSErr(err error) bool {
	var e *net.DNSError
	return errors.As(err, &e)
}

func IsUnreachable(err error) bool {
	return IsConnRefused(err) || isDNSErr(err) || errors.Is(err, context.DeadlineExceeded) || IsEOF(err)
}
