package router

import "github.com/cockpit-project/agent/cmn/problem"

// Rule is one entry in the router's priority-ordered match list (spec
// §4.D "Rules"). Exactly one of ctor/bridgeArgv/rejectProblem is set once
// a Rule is resolved into a decision; as configuration, a Rule carries
// either a spawn argv or a reject problem.
type Rule struct {
	Match      map[string]any // nil value under a key means "must be present"
	Privileged bool
	Spawn      []string
	Environ    []string
	Problem    string
}

// matches reports whether open's fields satisfy every key in r.Match:
// a non-nil value must equal exactly; a nil value only requires presence.
func (r Rule) matches(msg map[string]any, privileged bool) bool {
	if r.Privileged && !privileged {
		return false
	}
	for k, want := range r.Match {
		got, present := msg[k]
		if want == nil {
			if !present {
				return false
			}
			continue
		}
		if !present || got != want {
			return false
		}
	}
	return true
}

type decision struct {
	ctor          Constructor
	bridgeArgv    []string
	bridgeEnviron []string
	privileged    bool
	rejectProblem string
}

// dispatch resolves an open request to a decision: rules are checked in
// priority order first (spec §4.D "first match wins"); the fixed payload
// table is the fallback.
func (r *Router) dispatch(msg map[string]any, payload string) decision {
	for _, rule := range r.rules {
		if !rule.matches(msg, r.privileged) {
			continue
		}
		if rule.Problem != "" {
			return decision{rejectProblem: rule.Problem}
		}
		return decision{bridgeArgv: rule.Spawn, bridgeEnviron: rule.Environ, privileged: rule.Privileged}
	}
	if ctor, ok := r.payloads[payload]; ok {
		return decision{ctor: ctor}
	}
	return decision{rejectProblem: problem.NotSupported}
}
