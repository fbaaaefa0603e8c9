package authorize

import (
	"encoding/json"
	"fmt"

	"github.com/cockpit-project/agent/cmn/problem"
	"github.com/cockpit-project/agent/frame"
)

// AskPassword drives the askpass subprotocol (spec §6 "Askpass askpass
// subprotocol") over rw, which must be a socketpair end: write
// `authorize {command,challenge:"plain1:<hex-user>:",cookie,prompt}`,
// read the reply, and return the password bytes as a Secret the caller
// must Zero after printing it.
func AskPassword(rw frameReadWriter, userHex, cookie, prompt string) (*Secret, error) {
	req := map[string]any{
		"command":   "authorize",
		"challenge": fmt.Sprintf("plain1:%s:", userHex),
		"cookie":    cookie,
		"prompt":    prompt,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, problem.Wrap(problem.InternalError, err)
	}
	if err := frame.Write(rw, append([]byte("\n"), body...)); err != nil {
		return nil, problem.Wrap(problem.Terminated, err)
	}

	reply, err := rw.NextFrame()
	if err != nil {
		return nil, problem.Wrap(problem.Terminated, err)
	}
	var msg Message
	// replies are control frames: "\n" + JSON body.
	if len(reply) == 0 || reply[0] != '\n' {
		return nil, problem.New(problem.ProtocolError, "askpass: reply is not a control frame")
	}
	if err := json.Unmarshal(reply[1:], &msg); err != nil {
		return nil, problem.Wrap(problem.ProtocolError, err)
	}
	if !VerifyCookie(cookie, msg.Cookie) {
		return nil, problem.New(problem.ProtocolError, "askpass: cookie mismatch")
	}
	return NewSecret([]byte(msg.Response)), nil
}

// frameReadWriter is the minimal surface AskPassword needs: a single
// frame.Reader bolted onto something Writable, kept as a tiny local
// interface so cmd/cockpit-askpass can wire in whatever concrete socket
// type it opened.
type frameReadWriter interface {
	Write(p []byte) (int, error)
	NextFrame() ([]byte, error)
}
