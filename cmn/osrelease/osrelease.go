// Package osrelease reads /etc/os-release for the init control message's
// os-release field (spec §6 "the agent may also read /etc/os-release").
package osrelease

import (
	"bufio"
	"os"
	"strings"
)

// Read parses /etc/os-release (falling back to /usr/lib/os-release) into
// a plain string map, stripping quotes the way shell-sourced key=value
// files are conventionally unquoted.
func Read() map[string]string {
	for _, path := range []string{"/etc/os-release", "/usr/lib/os-release"} {
		if m, err := parse(path); err == nil {
			return m
		}
	}
	return map[string]string{}
}

func parse(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make(map[string]string)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[k] = unquote(strings.TrimSpace(v))
	}
	return out, sc.Err()
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}
