package router

import (
	"encoding/json"
	"os"

	"github.com/cockpit-project/agent/authorize"
	"github.com/cockpit-project/agent/cmn/problem"
	"github.com/cockpit-project/agent/frame"
)

// escalate performs the superuser spawn handshake over sock, the parent's
// end of the socketpair handed to a `--privileged` child as both its
// stdin and stdout. Per spec §6 ("Privileged spawn handshake") the child
// speaks first: it writes a `send-stderr` control frame, then does
// recvmsg on its own fd 0 expecting the fd that is to replace its fd 2.
// The parent's side of that is exactly what this function does: read the
// frame, verify the command, and send back an SCM_RIGHTS descriptor the
// child can dup onto fd 2.
//
// spec §4.D describes the same exchange from the router's perspective
// ("receives its stderr fd via ancillary file-descriptor passing"); the
// two sections disagree about which end initiates, and §6's wording is
// the more literal wire description, so that is what is implemented
// here.
func escalate(sock *os.File) error {
	rd := frame.NewReader(sock)
	body, err := rd.Next()
	if err != nil {
		return problem.Wrap(problem.ProtocolError, err)
	}
	idx := -1
	for i, b := range body {
		if b == '\n' {
			idx = i
			break
		}
	}
	if idx != 0 {
		return problem.New(problem.ProtocolError, "escalate: expected a control frame")
	}
	var msg map[string]any
	if err := json.Unmarshal(body[1:], &msg); err != nil {
		return problem.Wrap(problem.ProtocolError, err)
	}
	if cmd, _ := msg["command"].(string); cmd != "send-stderr" {
		return problem.New(problem.ProtocolError, "escalate: expected send-stderr, got %v", msg["command"])
	}

	r, w, err := os.Pipe()
	if err != nil {
		return problem.Wrap(problem.InternalError, err)
	}
	defer r.Close()
	defer w.Close()

	go func() {
		defer r.Close()
		buf := make([]byte, 4096)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				os.Stderr.Write(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()

	return authorize.SendFD(sock, int(w.Fd()))
}
