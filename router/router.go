// Package router implements the control-message dispatcher multiplexing
// many channels over one transport (spec §4.D).
/*
 * Grounded on the teacher's cluster/ resource-table pattern (a
 * process-wide map guarded by one mutex, ref-counted external handles)
 * and cmn/nlog for dispatch diagnostics. Router.Run plays the role the
 * teacher's daemon main loop plays for aistore nodes: the place a single
 * process's many concurrent logical streams get dispatched from.
 */
package router

import (
	"encoding/json"
	"sync"

	"github.com/cockpit-project/agent/channel"
	"github.com/cockpit-project/agent/cmn/nlog"
	"github.com/cockpit-project/agent/cmn/problem"
	"github.com/cockpit-project/agent/transport"
)

// Constructor builds a new local channel for one open request.
type Constructor func(id, payload string, sink channel.Sink) channel.Channel

// Router owns the per-channel lifecycle for one Transport: payload
// dispatch, rule matching, and external bridge forwarding.
type Router struct {
	t *transport.Transport

	payloads map[string]Constructor
	rules    []Rule
	bridges  *bridgeTable

	mu       sync.Mutex
	channels map[string]channel.Channel
	groups   map[string]map[string]bool // group -> set of channel ids
	hosts    map[string]map[string]bool // host -> set of channel ids

	privileged bool
}

func New(t *transport.Transport, privileged bool) *Router {
	return &Router{
		t:          t,
		payloads:   DefaultPayloadTable(),
		channels:   make(map[string]channel.Channel),
		groups:     make(map[string]map[string]bool),
		hosts:      make(map[string]map[string]bool),
		bridges:    newBridgeTable(),
		privileged: privileged,
	}
}

// SetRules installs the priority-ordered rule list (spec §4.D "Rules"):
// package-contributed rules first (highest priority); init.capabilities
// rules are appended after them by AppendRule. Every rule is tried before
// the fixed payload table, which is consulted only when no rule matches.
func (r *Router) SetRules(rules []Rule) { r.rules = rules }

func (r *Router) AppendRule(rule Rule) { r.rules = append(r.rules, rule) }

// sink implements channel.Sink by writing frames to the router's own
// transport; used by every local channel constructed here.
type sink struct{ t *transport.Transport }

func (s sink) SendData(channelID string, body []byte) error { return s.t.SendData(channelID, body) }
func (s sink) SendControl(msg map[string]any) error          { return s.t.SendControl(msg) }

// Run drives the router's receive loop until the transport closes.
func (r *Router) Run() {
	for {
		f, err := r.t.Recv()
		if err != nil {
			r.shutdown(problem.KindOf(err))
			return
		}
		if f.IsControl() {
			r.dispatchControl(f.Body)
			continue
		}
		r.dispatchData(f.ChannelID, f.Body)
	}
}

func (r *Router) dispatchControl(body []byte) {
	var msg map[string]any
	if err := json.Unmarshal(body, &msg); err != nil {
		nlog.Warningf("router: malformed control frame: %v", err)
		r.shutdown(problem.ProtocolError)
		return
	}
	cmd, _ := msg["command"].(string)
	switch cmd {
	case "open":
		r.handleOpen(msg)
	case "done":
		r.handleDone(msg)
	case "close":
		r.handleClose(msg)
	case "kill":
		r.handleKill(msg)
	case "ping":
		r.t.SendControl(map[string]any{"command": "pong"})
	default:
		nlog.Warningf("router: unhandled control command %q", cmd)
	}
}

func (r *Router) dispatchData(channelID string, body []byte) {
	r.mu.Lock()
	ch, ok := r.channels[channelID]
	r.mu.Unlock()
	if !ok {
		nlog.Warningf("router: data frame for unknown channel %q dropped", channelID)
		return
	}
	if ch.State() == channel.Closed {
		// Dropped silently. This covers only a channel that is closed but
		// not yet detached: closeChannelID removes a channel from the map,
		// so data arriving after that takes the unknown-channel path above
		// and is logged at warning level.
		return
	}
	if br, ok := r.bridges.forTarget(channelID); ok {
		br.forwardData(channelID, body)
		return
	}
	go func() {
		if err := ch.Data(body); err != nil {
			nlog.Errorf("router: channel %s Data error: %v", channelID, err)
		}
	}()
}

func (r *Router) handleOpen(msg map[string]any) {
	id, _ := msg["channel"].(string)
	payload, _ := msg["payload"].(string)
	if id == "" || payload == "" {
		r.t.SendControl(map[string]any{"command": "close", "problem": problem.ProtocolError})
		return
	}

	r.mu.Lock()
	if _, exists := r.channels[id]; exists {
		r.mu.Unlock()
		r.closeChannelID(id, problem.ProtocolError)
		return
	}
	r.mu.Unlock()

	decision := r.dispatch(msg, payload)
	switch {
	case decision.rejectProblem != "":
		r.closeChannelID(id, decision.rejectProblem)
	case decision.bridgeArgv != nil:
		br := r.bridges.getOrSpawn(r, decision.bridgeArgv, decision.bridgeEnviron, decision.privileged)
		r.mu.Lock()
		r.bridges.attach(br, id)
		r.mu.Unlock()
		br.forwardOpen(id, msg)
	default:
		ctor := decision.ctor
		if ctor == nil {
			r.closeChannelID(id, problem.NotSupported)
			return
		}
		ch := ctor(id, payload, sink{r.t})
		r.mu.Lock()
		r.channels[id] = ch
		r.trackGroupsLocked(id, msg)
		r.mu.Unlock()
		go func() {
			options, _ := msg["payload-options"].(map[string]any)
			if options == nil {
				options = msg
			}
			if err := ch.Prepare(options); err != nil {
				r.closeChannelID(id, problem.KindOf(err))
			}
		}()
	}
}

func (r *Router) trackGroupsLocked(id string, msg map[string]any) {
	if host, _ := msg["host"].(string); host != "" {
		if r.hosts[host] == nil {
			r.hosts[host] = make(map[string]bool)
		}
		r.hosts[host][id] = true
	}
	if group, _ := msg["group"].(string); group != "" {
		if r.groups[group] == nil {
			r.groups[group] = make(map[string]bool)
		}
		r.groups[group][id] = true
	}
}

func (r *Router) handleDone(msg map[string]any) {
	id, _ := msg["channel"].(string)
	r.mu.Lock()
	ch, ok := r.channels[id]
	br, brOK := r.bridges.forTarget(id)
	r.mu.Unlock()
	if brOK {
		br.forwardControl(id, "done", msg)
		return
	}
	if !ok {
		return
	}
	go func() {
		if err := ch.PeerDone(); err != nil {
			nlog.Errorf("router: channel %s PeerDone error: %v", id, err)
		}
	}()
}

func (r *Router) handleClose(msg map[string]any) {
	id, _ := msg["channel"].(string)
	prob, _ := msg["problem"].(string)
	r.mu.Lock()
	br, brOK := r.bridges.forTarget(id)
	r.mu.Unlock()
	if brOK {
		br.forwardControl(id, "close", msg)
		r.detachChannel(id)
		return
	}
	r.closeChannelID(id, prob)
}

func (r *Router) handleKill(msg map[string]any) {
	host, _ := msg["host"].(string)
	group, _ := msg["group"].(string)

	var ids []string
	r.mu.Lock()
	switch {
	case host != "":
		for id := range r.hosts[host] {
			ids = append(ids, id)
		}
	case group != "":
		for id := range r.groups[group] {
			ids = append(ids, id)
		}
	default:
		for id := range r.channels {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.closeChannelID(id, problem.Terminated)
	}
}

func (r *Router) closeChannelID(id string, prob string) {
	r.mu.Lock()
	ch, ok := r.channels[id]
	r.mu.Unlock()
	if !ok {
		r.t.SendControl(map[string]any{"command": "close", "channel": id, "problem": prob})
		return
	}
	ch.Close(prob)
	r.detachChannel(id)
}

func (r *Router) detachChannel(id string) {
	r.mu.Lock()
	delete(r.channels, id)
	for _, set := range r.groups {
		delete(set, id)
	}
	for _, set := range r.hosts {
		delete(set, id)
	}
	r.mu.Unlock()
	r.bridges.detach(id)
}

// shutdown closes every open channel with prob, then stops the bridges
// this router spawned (spec §3 "Closing the transport implies closing
// every open channel with the transport's problem").
func (r *Router) shutdown(prob string) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.channels))
	for id := range r.channels {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.closeChannelID(id, prob)
	}
	r.bridges.killAll()
}
