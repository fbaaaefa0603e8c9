// Package env resolves the environment variables and defaults the agent's
// process depends on (spec §6).
/*
 * Grounded on the teacher's api/env package (a dedicated home for the
 * process's environment-variable contract) and cmn/fname for the XDG
 * directory names packages.Discover walks.
 */
package env

import (
	"os"
	"os/user"
	"strconv"
	"strings"
)

const defaultPath = "/sbin:/usr/sbin:/bin:/usr/bin"

// Env is the resolved process environment the agent was handed, with the
// spec's §6 defaults (getpwuid-style fallback for USER/HOME/SHELL, a fixed
// PATH, LANG forced to C.UTF-8) already applied.
type Env struct {
	RuntimeDir    string
	DataDirs      []string
	DataHome      string
	ConfigDirs    []string
	ConfigHome    string
	User          string
	Home          string
	Shell         string
	Path          string
	Lang          string
	RemotePeer    string
	SSHConnection bool
}

// Load reads os.Environ and applies spec §6's defaulting rules.
func Load() *Env {
	e := &Env{
		RuntimeDir: os.Getenv("XDG_RUNTIME_DIR"),
		DataHome:   os.Getenv("XDG_DATA_HOME"),
		ConfigHome: os.Getenv("XDG_CONFIG_HOME"),
		User:       os.Getenv("USER"),
		Home:       os.Getenv("HOME"),
		Shell:      os.Getenv("SHELL"),
		Path:       os.Getenv("PATH"),
		RemotePeer: os.Getenv("COCKPIT_REMOTE_PEER"),
	}
	e.DataDirs = splitOrDefault("XDG_DATA_DIRS", []string{"/usr/local/share", "/usr/share"})
	e.ConfigDirs = splitOrDefault("XDG_CONFIG_DIRS", []string{"/etc/xdg"})
	e.SSHConnection = os.Getenv("SSH_CONNECTION") != ""

	if e.User == "" || e.Home == "" || e.Shell == "" {
		if u, err := user.Current(); err == nil {
			if e.User == "" {
				e.User = u.Username
			}
			if e.Home == "" {
				e.Home = u.HomeDir
			}
			if e.Shell == "" {
				if data, err := os.ReadFile("/etc/passwd"); err == nil {
					for _, line := range strings.Split(string(data), "\n") {
						if f := strings.Split(line, ":"); len(f) == 7 && f[2] == u.Uid {
							e.Shell = f[6]
							break
						}
					}
				}
			}
		}
	}
	if e.Path == "" {
		e.Path = defaultPath
	}
	if e.DataHome == "" && e.Home != "" {
		e.DataHome = e.Home + "/.local/share"
	}
	if e.ConfigHome == "" && e.Home != "" {
		e.ConfigHome = e.Home + "/.config"
	}
	// spec §6: LANG is forced to C.UTF-8 regardless of the inherited value.
	e.Lang = "C.UTF-8"
	return e
}

// Apply sets the process environment to reflect the resolved values,
// matching what the real bridge does before spawning a session: the
// agent's own environment is the template children inherit.
func (e *Env) Apply() {
	os.Setenv("LANG", e.Lang)
	os.Setenv("GSETTINGS_BACKEND", "memory")
	if e.Path != "" {
		os.Setenv("PATH", e.Path)
	}
	if e.User != "" {
		os.Setenv("USER", e.User)
	}
	if e.Home != "" {
		os.Setenv("HOME", e.Home)
	}
	if e.Shell != "" {
		os.Setenv("SHELL", e.Shell)
	}
}

func splitOrDefault(name string, def []string) []string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	return strings.Split(v, ":")
}

// PortableUint parses small positive integers from options/env without
// pulling in strconv at every call site with inconsistent bitsize/base args.
func PortableUint(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
