package authorize

import (
	"encoding/json"
	"strings"

	"github.com/cockpit-project/agent/cmn/problem"
	"github.com/cockpit-project/agent/frame"
)

// Secret holds password/credential bytes that must be zeroed immediately
// after use (spec §4.F, §9 "Secret handling"). Never copy its Bytes()
// into a growable buffer that does not zero on reallocation.
type Secret struct {
	b []byte
}

func NewSecret(b []byte) *Secret { return &Secret{b: b} }

func (s *Secret) Bytes() []byte { return s.b }

// Zero overwrites the backing storage. Safe to call more than once.
func (s *Secret) Zero() {
	if s == nil {
		return
	}
	frame.Zero(s.b)
}

// Challenge is a parsed `authorize.challenge` value (spec §4.F).
type Challenge struct {
	Kind string // "generic", "plain1", "x-conversation", "negotiate"
	User string // plain1 only: hex-encoded username, as sent
	ConvID string // x-conversation only
	Prompt string // x-conversation only: base64-encoded prompt, as sent
	Token  string // negotiate only: base64 GSSAPI token, possibly empty
}

// ParseChallenge recognizes the four challenge shapes spec §4.F defines.
func ParseChallenge(s string) (Challenge, error) {
	switch {
	case s == "*":
		return Challenge{Kind: "generic"}, nil
	case strings.HasPrefix(s, "plain1:"):
		rest := strings.TrimPrefix(s, "plain1:")
		idx := strings.IndexByte(rest, ':')
		if idx < 0 {
			return Challenge{}, problem.New(problem.ProtocolError, "malformed plain1 challenge")
		}
		return Challenge{Kind: "plain1", User: rest[:idx]}, nil
	case strings.HasPrefix(s, "X-Conversation "):
		fields := strings.SplitN(s, " ", 3)
		if len(fields) != 3 {
			return Challenge{}, problem.New(problem.ProtocolError, "malformed X-Conversation challenge")
		}
		return Challenge{Kind: "x-conversation", ConvID: fields[1], Prompt: fields[2]}, nil
	case s == "negotiate" || strings.HasPrefix(s, "negotiate "):
		token := strings.TrimSpace(strings.TrimPrefix(s, "negotiate"))
		return Challenge{Kind: "negotiate", Token: token}, nil
	default:
		return Challenge{}, problem.New(problem.ProtocolError, "unrecognized challenge %q", s)
	}
}

// Message is one `authorize { cookie, challenge|response, ... }` control
// message, marshaled/unmarshaled as plain JSON with encoding/json (the
// subprotocol is small enough that json-iterator's speed advantage doesn't
// matter here).
type Message struct {
	Cookie    string `json:"cookie"`
	Challenge string `json:"challenge,omitempty"`
	Response  string `json:"response,omitempty"`
	Prompt    string `json:"prompt,omitempty"`
	Message   string `json:"message,omitempty"`
	LoginData any    `json:"login-data,omitempty"`
}

func (m Message) MarshalControl() ([]byte, error) {
	out := map[string]any{"command": "authorize", "cookie": m.Cookie}
	if m.Challenge != "" {
		out["challenge"] = m.Challenge
	}
	if m.Response != "" {
		out["response"] = m.Response
	}
	if m.Prompt != "" {
		out["prompt"] = m.Prompt
	}
	if m.Message != "" {
		out["message"] = m.Message
	}
	if m.LoginData != nil {
		out["login-data"] = m.LoginData
	}
	return json.Marshal(out)
}

// RespondPlain builds the response message for a plain1 challenge: the
// raw password bytes as the response field, tied to the challenge's
// cookie (spec §4.F step 3: "The cookie must be echoed exactly").
func RespondPlain(cookie string, secret *Secret) Message {
	return Message{Cookie: cookie, Response: string(secret.Bytes())}
}

// RespondConversation builds the response to an X-Conversation challenge.
func RespondConversation(cookie, convID, base64Answer string) Message {
	return Message{Cookie: cookie, Response: "X-Conversation " + convID + " " + base64Answer}
}

// VerifyCookie reports whether resp's cookie exactly matches the
// original challenge's cookie; a mismatch must cause the response to be
// rejected (spec §4.F step 3).
func VerifyCookie(challengeCookie, responseCookie string) bool {
	return challengeCookie == responseCookie
}
