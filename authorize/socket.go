// Package authorize implements the challenge/response subprotocol shared
// by the askpass helper, TLS-client certificate mapping, and
// session-spawning logic (spec §4.F), plus the low-level socketpair and
// SCM_RIGHTS fd-passing primitives that subprotocol and the router's
// superuser escalation (spec §4.D) both build on.
/*
 * Grounded on the teacher's ios/fsutils_linux.go for the golang.org/x/sys/unix
 * usage pattern (direct syscalls, not a higher-level net package), applied
 * here to AF_UNIX socketpair creation and SCM_RIGHTS ancillary messages
 * instead of statfs.
 */
package authorize

import (
	"os"

	"github.com/cockpit-project/agent/cmn/problem"
	"golang.org/x/sys/unix"
)

// Socketpair creates a connected pair of AF_UNIX SOCK_STREAM descriptors,
// wrapped as *os.File, suitable for use as a child process's stdin/stdout
// (both directions on one fd) or as the transport for an authorize
// exchange.
func Socketpair() (parent, child *os.File, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, problem.Wrap(problem.InternalError, err)
	}
	return os.NewFile(uintptr(fds[0]), "socketpair-parent"), os.NewFile(uintptr(fds[1]), "socketpair-child"), nil
}

// SendFD sends a zero-byte message over sock carrying fd as a single
// SCM_RIGHTS ancillary descriptor (spec §6 "Privileged spawn handshake").
func SendFD(sock *os.File, fd int) error {
	rights := unix.UnixRights(fd)
	if err := unix.Sendmsg(int(sock.Fd()), []byte{0}, rights, nil, 0); err != nil {
		return problem.Wrap(problem.InternalError, err)
	}
	return nil
}

// RecvFD reads one message from sock expecting exactly one SCM_RIGHTS
// ancillary descriptor. Any deviation (no fds, more than one fd) is a
// fatal protocol error, matching the spec's "Any deviation ... is a fatal
// error."
func RecvFD(sock *os.File) (int, error) {
	buf := make([]byte, 1)
	oob := make([]byte, unix.CmsgSpace(4))
	_, oobn, _, _, err := unix.Recvmsg(int(sock.Fd()), buf, oob, 0)
	if err != nil {
		return 0, problem.Wrap(problem.InternalError, err)
	}
	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return 0, problem.Wrap(problem.InternalError, err)
	}
	if len(msgs) != 1 {
		return 0, problem.New(problem.InternalError, "expected exactly one control message, got %d", len(msgs))
	}
	fds, err := unix.ParseUnixRights(&msgs[0])
	if err != nil {
		return 0, problem.Wrap(problem.InternalError, err)
	}
	if len(fds) != 1 {
		return 0, problem.New(problem.InternalError, "expected exactly one fd, got %d", len(fds))
	}
	return fds[0], nil
}
