// Package packages implements discovery, checksumming, and serving of
// on-disk cockpit packages (spec §4.E).
/*
 * Grounded on original_source/src/bridge/cockpitpackages.c
 * (read_package_name, maybe_add_package, build_package_listing) for the
 * override deep-merge, priority-replacement, and bundle-suppression
 * semantics the distilled spec.md §4.E/§9 leaves ambiguous.
 */
package packages

import (
	"encoding/json"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/cockpit-project/agent/cmn/nlog"
	"github.com/cockpit-project/agent/cmn/problem"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

var nameRE = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]*$`)

// ValidName reports whether name satisfies spec §4.E's package-name
// pattern.
func ValidName(name string) bool { return nameRE.MatchString(name) }

// Manifest is one package's manifest.json after name-override and
// override.json merging.
type Manifest struct {
	Name     string
	Priority int
	Base     string // absolute directory the package's files live under
	Fields   map[string]any
}

// RequiresCockpit returns the manifest's requires.cockpit constraint, if
// any, unparsed (the agent does not interpret version ranges; it only
// forwards the field to manifests.json the way the real bridge does).
func (m *Manifest) RequiresCockpit() (string, bool) {
	req, ok := m.Fields["requires"].(map[string]any)
	if !ok {
		return "", false
	}
	v, ok := req["cockpit"].(string)
	return v, ok
}

// parseManifest reads and validates raw manifest.json bytes, applying the
// directory name as the default package name and honoring a `name`
// override field (original_source read_package_name).
func parseManifest(dirName string, raw []byte) (*Manifest, error) {
	var fields map[string]any
	if err := jsonAPI.Unmarshal(raw, &fields); err != nil {
		return nil, problem.Wrap(problem.ProtocolError, err)
	}

	name := dirName
	if n, ok := fields["name"].(string); ok && n != "" {
		name = n
	}
	if !ValidName(name) {
		return nil, problem.New(problem.ProtocolError, "invalid package name %q", name)
	}

	priority := 1
	switch p := fields["priority"].(type) {
	case float64:
		priority = int(p)
	case json.Number:
		if n, err := p.Int64(); err == nil {
			priority = int(n)
		}
	}

	return &Manifest{Name: name, Priority: priority, Fields: fields}, nil
}

// mergeOverride deep-merges override onto base: object values merge
// recursively, arrays and scalars replace (spec §4.E "Manifest
// processing").
func mergeOverride(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, ov := range override {
		if bv, ok := out[k]; ok {
			if bm, ok := bv.(map[string]any); ok {
				if om, ok := ov.(map[string]any); ok {
					out[k] = mergeOverride(bm, om)
					continue
				}
			}
		}
		out[k] = ov
	}
	return out
}

// expandLibexecdir replaces ${libexecdir} in every string value of
// fields (recursively) with libexecdir, the way the C source expands
// build-time path substitutions post-merge.
func expandLibexecdir(fields map[string]any, libexecdir string) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = expandValue(v, libexecdir)
	}
	return out
}

func expandValue(v any, libexecdir string) any {
	switch t := v.(type) {
	case string:
		return strings.ReplaceAll(t, "${libexecdir}", libexecdir)
	case map[string]any:
		return expandLibexecdir(t, libexecdir)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = expandValue(e, libexecdir)
		}
		return out
	default:
		return v
	}
}

func warnSkipOverride(path string, err error) {
	nlog.Warningf("packages: skipping malformed override %s: %v", path, err)
}
