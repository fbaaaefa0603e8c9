package packages

import (
	"fmt"
	"sort"

	"github.com/cockpit-project/agent/cmn/nlog"
)

// BridgeRule is one package-contributed external-bridge rule: a
// manifest.json "bridges" array entry (spec §4.E "Router consults
// Packages at startup to discover external bridge rules"), grounded on
// original_source/src/bridge/cockpitpackages.c's
// cockpit_packages_get_bridges. Shaped to convert 1:1 into a
// router.Rule; kept as its own type here so this package doesn't need to
// import router for what is otherwise a pure data-extraction step.
type BridgeRule struct {
	Match      map[string]any
	Privileged bool
	Spawn      []string
	Environ    []string
	Problem    string
}

// Bridges extracts every winning package's "bridges" manifest entries,
// highest-priority package first, matching cockpit_packages_get_bridges's
// package ordering ("priority order", ties broken by name for a
// deterministic rule list across runs since map iteration order isn't).
func (l *Listing) Bridges() []BridgeRule {
	names := make([]string, 0, len(l.Packages))
	for name := range l.Packages {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		pi, pj := l.Packages[names[i]], l.Packages[names[j]]
		if pi.Priority != pj.Priority {
			return pi.Priority > pj.Priority
		}
		return names[i] < names[j]
	})

	var rules []BridgeRule
	for _, name := range names {
		pkg := l.Packages[name]
		raw, present := pkg.Fields["bridges"]
		if !present {
			continue
		}
		items, ok := raw.([]any)
		if !ok {
			nlog.Warningf("packages: %s: invalid \"bridges\" field in package manifest", name)
			continue
		}
		for _, item := range items {
			obj, ok := item.(map[string]any)
			if !ok {
				nlog.Warningf("packages: %s: invalid bridge in \"bridges\" field in package manifest", name)
				continue
			}
			rule, err := parseBridgeRule(obj)
			if err != nil {
				nlog.Warningf("packages: %s: %v", name, err)
				continue
			}
			rules = append(rules, rule)
		}
	}
	return rules
}

// parseBridgeRule validates one "bridges" array entry: spawn/environ must
// be string arrays when present, exactly one of match/privileged is
// required, problem must be a string when present, and the rule needs a
// spawn argv unless it's a reject-only rule (problem set).
func parseBridgeRule(obj map[string]any) (BridgeRule, error) {
	var rule BridgeRule

	if v, present := obj["spawn"]; present {
		spawn, err := stringArray(v)
		if err != nil {
			return rule, fmt.Errorf("invalid \"spawn\" field: %w", err)
		}
		rule.Spawn = spawn
	}
	if v, present := obj["environ"]; present {
		environ, err := stringArray(v)
		if err != nil {
			return rule, fmt.Errorf("invalid \"environ\" field: %w", err)
		}
		rule.Environ = environ
	}

	match, hasMatch := obj["match"].(map[string]any)
	if v, present := obj["match"]; present && !hasMatch {
		return rule, fmt.Errorf("invalid \"match\" field: %v", v)
	}
	privileged, _ := obj["privileged"].(bool)
	if hasMatch == privileged {
		return rule, fmt.Errorf("exactly one of \"match\" or \"privileged\" required")
	}
	rule.Match = match
	rule.Privileged = privileged

	if v, present := obj["problem"]; present {
		s, ok := v.(string)
		if !ok {
			return rule, fmt.Errorf("invalid \"problem\" field: %v", v)
		}
		rule.Problem = s
	}

	if len(rule.Spawn) == 0 && rule.Problem == "" {
		return rule, fmt.Errorf("bridge rule needs a \"spawn\" or \"problem\"")
	}
	return rule, nil
}

func stringArray(v any) ([]string, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("not an array")
	}
	out := make([]string, len(arr))
	for i, e := range arr {
		s, ok := e.(string)
		if !ok {
			return nil, fmt.Errorf("element %d not a string", i)
		}
		out[i] = s
	}
	return out, nil
}
