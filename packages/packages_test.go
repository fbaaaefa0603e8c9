package packages

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidName(t *testing.T) {
	cases := map[string]bool{
		"shell": true, "_foo": true, "a.b-c_2": true,
		"": false, "-bad": false, "has space": false,
	}
	for name, want := range cases {
		if got := ValidName(name); got != want {
			t.Errorf("ValidName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestValidRelPath(t *testing.T) {
	cases := map[string]bool{
		"index.html":       true,
		"a/b/c.js":         true,
		"../escape":        false,
		"a/../b":           false,
		"":                 false,
		"bad?char":         false,
	}
	for p, want := range cases {
		if got := ValidRelPath(p); got != want {
			t.Errorf("ValidRelPath(%q) = %v, want %v", p, got, want)
		}
	}
}

func TestMergeOverrideDeep(t *testing.T) {
	base := map[string]any{
		"a": map[string]any{"x": 1.0, "y": 2.0},
		"b": []any{"one"},
		"c": "scalar",
	}
	override := map[string]any{
		"a": map[string]any{"y": 3.0, "z": 4.0},
		"b": []any{"replaced"},
	}
	merged := mergeOverride(base, override)

	am := merged["a"].(map[string]any)
	if am["x"] != 1.0 || am["y"] != 3.0 || am["z"] != 4.0 {
		t.Fatalf("deep merge of object field wrong: %+v", am)
	}
	b := merged["b"].([]any)
	if len(b) != 1 || b[0] != "replaced" {
		t.Fatalf("array field should replace, got %+v", b)
	}
	if merged["c"] != "scalar" {
		t.Fatalf("untouched scalar field changed: %+v", merged["c"])
	}
}

func TestExpandLibexecdir(t *testing.T) {
	fields := map[string]any{
		"exec": "${libexecdir}/cockpit-pcp",
		"nested": map[string]any{
			"path": "${libexecdir}/helper",
		},
	}
	out := expandLibexecdir(fields, "/usr/libexec")
	if out["exec"] != "/usr/libexec/cockpit-pcp" {
		t.Fatalf("got %v", out["exec"])
	}
	nested := out["nested"].(map[string]any)
	if nested["path"] != "/usr/libexec/helper" {
		t.Fatalf("got %v", nested["path"])
	}
}

func TestLocaleCandidates(t *testing.T) {
	got := candidates("pig-pen")
	want := []string{"pig-pen", "pig"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("candidates(pig-pen) = %v, want %v", got, want)
	}
	got = candidates("pig")
	if len(got) != 1 || got[0] != "pig" {
		t.Fatalf("candidates(pig) = %v", got)
	}
}

func TestResolveLocalized(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "test.html")
	write := func(name, body string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("test.html", "default")
	write("test.pig.html", "pig")

	path, localized := resolveLocalized(base, ".html", "pig")
	if !localized || filepath.Base(path) != "test.pig.html" {
		t.Fatalf("got (%q, %v)", path, localized)
	}

	path, localized = resolveLocalized(base, ".html", "pig-pen")
	if !localized || filepath.Base(path) != "test.pig.html" {
		t.Fatalf("pig-pen should fall back to test.pig.html, got (%q, %v)", path, localized)
	}

	path, localized = resolveLocalized(base, ".html", "klingon")
	if localized || filepath.Base(path) != "test.html" {
		t.Fatalf("unmatched language should fall back unsuffixed, got (%q, %v)", path, localized)
	}
}

func TestOwnChecksumStableAcrossReorder(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.js"), []byte("aaa"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.js"), []byte("bbb"), 0o644); err != nil {
		t.Fatal(err)
	}
	sum1, err := ownChecksum(dir, []byte(`{"name":"x"}`))
	if err != nil {
		t.Fatal(err)
	}
	// same files, created in the opposite order
	dir2 := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir2, "b.js"), []byte("bbb"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir2, "a.js"), []byte("aaa"), 0o644); err != nil {
		t.Fatal(err)
	}
	sum2, err := ownChecksum(dir2, []byte(`{"name":"x"}`))
	if err != nil {
		t.Fatal(err)
	}
	if sum1 != sum2 {
		t.Fatalf("checksum not stable: %s vs %s", sum1, sum2)
	}
}

func TestBundleSuppressedByUserPackage(t *testing.T) {
	acc := newBundleAccumulator()
	acc.Feed("shell", "deadbeef")
	withoutSuppress := acc.Checksum()
	if withoutSuppress == "" {
		t.Fatal("expected non-empty bundle checksum before suppression")
	}

	acc2 := newBundleAccumulator()
	acc2.Suppress()
	acc2.Feed("shell", "deadbeef")
	if got := acc2.Checksum(); got != "" {
		t.Fatalf("suppressed accumulator should report empty bundle checksum, got %q", got)
	}
}

func TestListingBridgesOrderAndValidation(t *testing.T) {
	listing := &Listing{Packages: map[string]*Package{
		"low": {Manifest: Manifest{Name: "low", Priority: 1, Fields: map[string]any{
			"bridges": []any{
				map[string]any{"spawn": []any{"low-bridge"}, "match": map[string]any{"payload": "low1"}},
			},
		}}},
		"high": {Manifest: Manifest{Name: "high", Priority: 10, Fields: map[string]any{
			"bridges": []any{
				map[string]any{"spawn": []any{"high-bridge"}, "privileged": true},
				map[string]any{"problem": "access-denied", "match": map[string]any{"payload": "blocked"}},
				map[string]any{"spawn": []any{"bad"}, "privileged": true, "match": map[string]any{"payload": "x"}},
				"not-an-object",
			},
		}}},
		"nobridges": {Manifest: Manifest{Name: "nobridges", Priority: 5, Fields: map[string]any{}}},
	}}

	rules := listing.Bridges()
	if len(rules) != 3 {
		t.Fatalf("got %d rules, want 3 (the malformed entries dropped): %+v", len(rules), rules)
	}
	if rules[0].Spawn[0] != "high-bridge" || !rules[0].Privileged {
		t.Fatalf("rules[0] = %+v, want the high-priority package's privileged bridge first", rules[0])
	}
	if rules[1].Problem != "access-denied" {
		t.Fatalf("rules[1] = %+v, want the high-priority package's reject rule second", rules[1])
	}
	if rules[2].Spawn[0] != "low-bridge" {
		t.Fatalf("rules[2] = %+v, want the low-priority package's bridge last", rules[2])
	}
}

func TestContentTypeFor(t *testing.T) {
	cases := map[string]string{
		"index.html": "text/html",
		"app.js":     "application/javascript",
		"style.css":  "text/css",
		"data.bin":   "application/octet-stream",
	}
	for path, want := range cases {
		if got := contentTypeFor(path); got != want {
			t.Errorf("contentTypeFor(%q) = %q, want %q", path, got, want)
		}
	}
}
