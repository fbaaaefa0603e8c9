package router_test

import (
	"os"
	"testing"
	"time"

	"github.com/cockpit-project/agent/router"
	"github.com/cockpit-project/agent/transport"
)

// newRouterPair wires a Router up to one end of a pipe pair and returns
// the peer Transport driving the other end, mirroring transport_test.go's
// newPair helper but with a live Router.Run goroutine on one side.
func newRouterPair(t *testing.T, privileged bool) (*router.Router, *transport.Transport) {
	t.Helper()
	ar, aw, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	br, bw, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	serverT := transport.New(transport.NewStdio(ar, bw))
	peer := transport.New(transport.NewStdio(br, aw))

	r := router.New(serverT, privileged)
	go r.Run()
	return r, peer
}

func recvControl(t *testing.T, peer *transport.Transport) map[string]any {
	t.Helper()
	type result struct {
		msg map[string]any
		err error
	}
	ch := make(chan result, 1)
	go func() {
		f, err := peer.Recv()
		if err != nil {
			ch <- result{err: err}
			return
		}
		_, msg, err := f.Command()
		ch <- result{msg: msg, err: err}
	}()
	select {
	case res := <-ch:
		if res.err != nil {
			t.Fatalf("Recv/Command: %v", res.err)
		}
		return res.msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for control frame")
		return nil
	}
}

func TestOpenNullGoesReady(t *testing.T) {
	_, peer := newRouterPair(t, false)
	defer peer.Close()

	peer.SendControl(map[string]any{"command": "open", "channel": "ch1", "payload": "null"})
	msg := recvControl(t, peer)
	if msg["command"] != "ready" || msg["channel"] != "ch1" {
		t.Fatalf("got %v, want ready/ch1", msg)
	}
}

func TestOpenUnsupportedPayloadCloses(t *testing.T) {
	_, peer := newRouterPair(t, false)
	defer peer.Close()

	peer.SendControl(map[string]any{"command": "open", "channel": "ch1", "payload": "no-such-payload"})
	msg := recvControl(t, peer)
	if msg["command"] != "close" || msg["channel"] != "ch1" {
		t.Fatalf("got %v, want close/ch1", msg)
	}
	if msg["problem"] != "not-supported" {
		t.Fatalf("got problem %v, want not-supported", msg["problem"])
	}
}

func TestOpenMissingFieldsCloses(t *testing.T) {
	_, peer := newRouterPair(t, false)
	defer peer.Close()

	peer.SendControl(map[string]any{"command": "open", "payload": "null"})
	msg := recvControl(t, peer)
	if msg["command"] != "close" {
		t.Fatalf("got %v, want close", msg)
	}
	if msg["problem"] != "protocol-error" {
		t.Fatalf("got problem %v, want protocol-error", msg["problem"])
	}
}

func TestDuplicateChannelIDRejected(t *testing.T) {
	_, peer := newRouterPair(t, false)
	defer peer.Close()

	peer.SendControl(map[string]any{"command": "open", "channel": "ch1", "payload": "null"})
	if msg := recvControl(t, peer); msg["command"] != "ready" {
		t.Fatalf("first open: got %v, want ready", msg)
	}

	peer.SendControl(map[string]any{"command": "open", "channel": "ch1", "payload": "echo"})
	msg := recvControl(t, peer)
	if msg["command"] != "close" || msg["problem"] != "protocol-error" {
		t.Fatalf("duplicate open: got %v, want close/protocol-error", msg)
	}
}

func TestEchoDataRoundTrip(t *testing.T) {
	_, peer := newRouterPair(t, false)
	defer peer.Close()

	peer.SendControl(map[string]any{"command": "open", "channel": "ch1", "payload": "echo"})
	if msg := recvControl(t, peer); msg["command"] != "ready" {
		t.Fatalf("got %v, want ready", msg)
	}

	peer.SendData("ch1", []byte("ping"))

	type result struct {
		f   transport.Frame
		err error
	}
	ch := make(chan result, 1)
	go func() {
		f, err := peer.Recv()
		ch <- result{f, err}
	}()
	select {
	case res := <-ch:
		if res.err != nil {
			t.Fatalf("Recv: %v", res.err)
		}
		if res.f.ChannelID != "ch1" || string(res.f.Body) != "ping" {
			t.Fatalf("got (%q, %q), want (ch1, ping)", res.f.ChannelID, res.f.Body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echoed data frame")
	}
}

func TestDoneThenCloseLifecycle(t *testing.T) {
	_, peer := newRouterPair(t, false)
	defer peer.Close()

	peer.SendControl(map[string]any{"command": "open", "channel": "ch1", "payload": "null"})
	if msg := recvControl(t, peer); msg["command"] != "ready" {
		t.Fatalf("got %v, want ready", msg)
	}

	peer.SendControl(map[string]any{"command": "done", "channel": "ch1"})
	peer.SendControl(map[string]any{"command": "close", "channel": "ch1"})
	msg := recvControl(t, peer)
	if msg["command"] != "close" || msg["channel"] != "ch1" {
		t.Fatalf("got %v, want close/ch1", msg)
	}
}

func TestKillByHostClosesMatchingChannels(t *testing.T) {
	_, peer := newRouterPair(t, false)
	defer peer.Close()

	peer.SendControl(map[string]any{"command": "open", "channel": "ch1", "payload": "null", "host": "example.com"})
	if msg := recvControl(t, peer); msg["command"] != "ready" {
		t.Fatalf("got %v, want ready", msg)
	}
	peer.SendControl(map[string]any{"command": "open", "channel": "ch2", "payload": "null", "host": "other.example"})
	if msg := recvControl(t, peer); msg["command"] != "ready" {
		t.Fatalf("got %v, want ready", msg)
	}

	peer.SendControl(map[string]any{"command": "kill", "host": "example.com"})
	msg := recvControl(t, peer)
	if msg["command"] != "close" || msg["channel"] != "ch1" {
		t.Fatalf("got %v, want close/ch1", msg)
	}
	if msg["problem"] != "terminated" {
		t.Fatalf("got problem %v, want terminated", msg["problem"])
	}
}

func TestPingPong(t *testing.T) {
	_, peer := newRouterPair(t, false)
	defer peer.Close()

	peer.SendControl(map[string]any{"command": "ping"})
	msg := recvControl(t, peer)
	if msg["command"] != "pong" {
		t.Fatalf("got %v, want pong", msg)
	}
}

func TestRuleRejectsBeforePayloadTable(t *testing.T) {
	r, peer := newRouterPair(t, false)
	defer peer.Close()

	r.SetRules([]router.Rule{
		{Match: map[string]any{"payload": "null"}, Problem: "access-denied"},
	})

	peer.SendControl(map[string]any{"command": "open", "channel": "ch1", "payload": "null"})
	msg := recvControl(t, peer)
	if msg["command"] != "close" || msg["problem"] != "access-denied" {
		t.Fatalf("got %v, want close/access-denied", msg)
	}
}

func TestPrivilegedRuleIgnoredWhenUnprivileged(t *testing.T) {
	r, peer := newRouterPair(t, false)
	defer peer.Close()

	r.AppendRule(router.Rule{Privileged: true, Match: map[string]any{"payload": "null"}, Problem: "access-denied"})

	peer.SendControl(map[string]any{"command": "open", "channel": "ch1", "payload": "null"})
	msg := recvControl(t, peer)
	if msg["command"] != "ready" {
		t.Fatalf("got %v, want ready (privileged rule should not match)", msg)
	}
}
