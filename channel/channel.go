// Package channel implements the per-channel state machine multiplexed
// over a transport (spec §3 "Channel", §4.D).
/*
 * Grounded on the teacher's cluster/ resource-lifecycle pattern (prepare,
 * serve, release) and cmn/cos typed-error conventions, adapted to the
 * fixed Preparing -> Ready -> Done | Closed state machine the spec
 * mandates instead of aistore's xaction lifecycle.
 */
package channel

import (
	"encoding/json"
	"sync"

	"github.com/cockpit-project/agent/cmn/debug"
	"github.com/cockpit-project/agent/cmn/nlog"
	"github.com/cockpit-project/agent/cmn/problem"
)

// State is a channel's position in its Preparing -> Ready -> Done |
// Closed(problem) state machine.
type State int

const (
	Preparing State = iota
	Ready
	Done
	Closed
)

func (s State) String() string {
	switch s {
	case Preparing:
		return "preparing"
	case Ready:
		return "ready"
	case Done:
		return "done"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Sink is how a channel hands frames back to its owning transport: data
// to Send, and control notifications (ready/done/close) to Control.
type Sink interface {
	SendData(channelID string, body []byte) error
	SendControl(msg map[string]any) error
}

// Channel is the behavior every payload type implements. Prepare is
// called once right after construction with the open options; Data
// delivers each inbound data frame in arrival order; Close releases any
// owned resources and is always called exactly once, even if Prepare
// failed.
type Channel interface {
	ID() string
	Payload() string
	State() State
	Prepare(options map[string]any) error
	Data(body []byte) error
	// PeerDone handles the peer's "done" control for this channel id
	// (end of the inbound data sequence, spec §3 "done { channel }").
	// Most payloads ignore it; the HTTP channel uses it to trigger
	// request assembly.
	PeerDone() error
	Close(prob string)
}

// Base implements the bookkeeping every Channel shares: id, payload type,
// options, state transitions, and the handshake with the owning Sink.
// Payload implementations embed Base and override Data/Close/Prepare.
type Base struct {
	id      string
	payload string
	sink    Sink
	options map[string]any

	mu    sync.Mutex
	state State
}

func NewBase(id, payload string, sink Sink) *Base {
	return &Base{id: id, payload: payload, sink: sink, state: Preparing}
}

func (b *Base) ID() string      { return b.id }
func (b *Base) Payload() string { return b.payload }

func (b *Base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Base) Options() map[string]any { return b.options }

// SetReady transitions Preparing -> Ready and emits the "ready" control
// message. Called by a payload implementation once Prepare succeeds.
func (b *Base) SetReady() {
	b.mu.Lock()
	debug.Assert(b.state == Preparing, "SetReady called outside Preparing")
	b.state = Ready
	b.mu.Unlock()
	b.sink.SendControl(map[string]any{"command": "ready", "channel": b.id})
}

// SendDone transitions to Done and emits "done". Per spec §5, done
// precedes close on any given channel id.
func (b *Base) SendDone() {
	b.mu.Lock()
	if b.state == Closed {
		b.mu.Unlock()
		return
	}
	b.state = Done
	b.mu.Unlock()
	b.sink.SendControl(map[string]any{"command": "done", "channel": b.id})
}

// SendClose transitions to Closed and emits "close", tagging prob when
// non-empty. internal-error problems are always logged (spec §7).
func (b *Base) SendClose(prob string) {
	b.mu.Lock()
	if b.state == Closed {
		b.mu.Unlock()
		return
	}
	b.state = Closed
	b.mu.Unlock()
	msg := map[string]any{"command": "close", "channel": b.id}
	if prob != "" {
		msg["problem"] = prob
	}
	if prob == problem.InternalError {
		nlog.Errorf("channel %s: internal-error close", b.id)
	}
	b.sink.SendControl(msg)
}

// IsClosed reports whether further data frames for this channel should be
// silently dropped (spec §8: data after done+close is dropped, no log
// beyond debug, no transport close).
func (b *Base) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == Closed
}

// SendData forwards body to the owning transport on this channel's id.
func (b *Base) SendData(body []byte) error {
	return b.sink.SendData(b.id, body)
}

// OptString/OptBool implement the spec's "dynamically typed options ->
// typed accessor" guidance (spec §9): a missing or wrong-typed optional
// key returns the zero value and ok=false instead of panicking.
func OptString(options map[string]any, key string) (string, bool) {
	v, ok := options[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func OptBool(options map[string]any, key string) (bool, bool) {
	v, ok := options[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

func OptInt(options map[string]any, key string) (int, bool) {
	v, ok := options[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}
