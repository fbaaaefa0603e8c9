package authorize_test

import (
	"testing"

	"github.com/cockpit-project/agent/authorize"
)

func TestParseChallengeGeneric(t *testing.T) {
	c, err := authorize.ParseChallenge("*")
	if err != nil || c.Kind != "generic" {
		t.Fatalf("got (%v, %v), want generic", c, err)
	}
}

func TestParseChallengePlain1(t *testing.T) {
	c, err := authorize.ParseChallenge("plain1:6d65:")
	if err != nil {
		t.Fatalf("ParseChallenge: %v", err)
	}
	if c.Kind != "plain1" || c.User != "6d65" {
		t.Fatalf("got %+v", c)
	}
}

func TestParseChallengeConversation(t *testing.T) {
	c, err := authorize.ParseChallenge("X-Conversation abc123 cHJvbXB0")
	if err != nil {
		t.Fatalf("ParseChallenge: %v", err)
	}
	if c.Kind != "x-conversation" || c.ConvID != "abc123" || c.Prompt != "cHJvbXB0" {
		t.Fatalf("got %+v", c)
	}
}

func TestParseChallengeNegotiate(t *testing.T) {
	for _, s := range []string{"negotiate", "negotiate dG9rZW4="} {
		c, err := authorize.ParseChallenge(s)
		if err != nil || c.Kind != "negotiate" {
			t.Fatalf("ParseChallenge(%q) = (%v, %v)", s, c, err)
		}
	}
}

func TestParseChallengeRejectsUnknown(t *testing.T) {
	if _, err := authorize.ParseChallenge("bogus"); err == nil {
		t.Fatal("expected error for unrecognized challenge")
	}
}

func TestVerifyCookie(t *testing.T) {
	if !authorize.VerifyCookie("k", "k") {
		t.Fatal("matching cookies rejected")
	}
	if authorize.VerifyCookie("k", "other") {
		t.Fatal("mismatched cookies accepted")
	}
}

func TestSecretZero(t *testing.T) {
	s := authorize.NewSecret([]byte("secret"))
	s.Zero()
	for _, b := range s.Bytes() {
		if b != 0 {
			t.Fatalf("Zero left a nonzero byte: %v", s.Bytes())
		}
	}
}

func TestRespondPlainEchoesCookie(t *testing.T) {
	s := authorize.NewSecret([]byte("hunter2"))
	defer s.Zero()
	msg := authorize.RespondPlain("k", s)
	if msg.Cookie != "k" || msg.Response != "hunter2" {
		t.Fatalf("got %+v", msg)
	}
}
