// Command cockpit-bridge is the agent binary: it speaks the framed
// control protocol on stdio, dispatches channels through router.Router,
// and serves on-disk packages (spec §6 "CLI surface of the agent").
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/cockpit-project/agent/authorize"
	"github.com/cockpit-project/agent/cmn/env"
	"github.com/cockpit-project/agent/cmn/ids"
	"github.com/cockpit-project/agent/cmn/nlog"
	"github.com/cockpit-project/agent/cmn/osrelease"
	"github.com/cockpit-project/agent/cmn/problem"
	"github.com/cockpit-project/agent/frame"
	"github.com/cockpit-project/agent/packages"
	"github.com/cockpit-project/agent/router"
	"github.com/cockpit-project/agent/transport"
)

const version = "cockpit-bridge (agent core) 1"

func main() {
	os.Exit(run())
}

func run() int {
	interact := flag.String("interact", "", "debug transport: boundary-framed stdio instead of length-prefix")
	privileged := flag.Bool("privileged", false, "announce send-stderr, receive a stderr fd, then run")
	showPackages := flag.Bool("packages", false, "print package summary and exit")
	showRules := flag.Bool("rules", false, "print router rules and exit")
	showVersion := flag.Bool("version", false, "print version info and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return 0
	}

	// spec §5: SIGPIPE must never kill the process; a write to a closed
	// peer is handled as a normal transport failure instead.
	signal.Ignore(syscall.SIGPIPE)

	e := env.Load()
	e.Apply()
	ids.Init(uint64(time.Now().UnixNano()))
	if e.SSHConnection {
		nlog.UseJournal(true)
	}

	if *privileged {
		if err := announceSendStderr(); err != nil {
			nlog.Errorf("bridge: privileged handshake: %v", err)
			return 1
		}
	}

	set := packages.New(e, e.DataHome+"/cockpit", appendCockpit(e.DataDirs), "/usr/libexec")
	if _, err := set.Discover(context.Background()); err != nil {
		nlog.Errorf("bridge: package discovery: %v", err)
	}

	if *showPackages {
		printPackages(set)
		return 0
	}
	if *showRules {
		printRules()
		return 0
	}

	if fi, err := os.Stdout.Stat(); err == nil && (fi.Mode()&os.ModeCharDevice) != 0 && *interact == "" {
		fmt.Fprintln(os.Stderr, "bridge: refusing to run with stdout attached to a terminal; pass --interact for debugging")
		return 2
	}

	var t *transport.Transport
	if *interact != "" {
		t = transport.NewInteract(transport.NewStdio(os.Stdin, os.Stdout), *interact)
	} else {
		t = transport.New(transport.NewStdio(os.Stdin, os.Stdout))
	}

	r := router.New(t, *privileged)

	// Package-contributed bridge rules are a normal-user-side concern: a
	// privileged peer runs with the fixed payload table only (spec §4.D,
	// §4.E "Router consults Packages at startup to discover external
	// bridge rules").
	if !*privileged {
		r.SetRules(bridgeRules(set.Current()))
	}

	set.OnChange(func(listing *packages.Listing) {
		if !*privileged {
			r.SetRules(bridgeRules(listing))
		}
		t.SendControl(map[string]any{
			"command":     "notify",
			"destination": "internal",
			"path":        "/packages",
			"interface":   "cockpit.Packages",
			"arguments":   map[string]any{"checksum": set.ReportedBundle()},
		})
	})

	if err := sendInit(t, set, e); err != nil {
		nlog.Errorf("bridge: init handshake: %v", err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	gotSig := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		nlog.Infoln("bridge: terminating on signal")
		gotSig <- sig
		t.Close()
	}()

	r.Run()
	t.Wait()
	// SIGTERM is re-raised after cleanup so the parent observes the
	// signal disposition rather than a plain exit status.
	select {
	case sig := <-gotSig:
		if sig == syscall.SIGTERM {
			signal.Reset(syscall.SIGTERM)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	default:
	}
	return 0
}

// bridgeRules converts listing's package-contributed bridge entries into
// router rules, in the priority order packages.Listing.Bridges already
// establishes (spec §4.D "package-contributed rules first").
func bridgeRules(listing *packages.Listing) []router.Rule {
	if listing == nil {
		return nil
	}
	bridges := listing.Bridges()
	rules := make([]router.Rule, len(bridges))
	for i, b := range bridges {
		rules[i] = router.Rule{
			Match:      b.Match,
			Privileged: b.Privileged,
			Spawn:      b.Spawn,
			Environ:    b.Environ,
			Problem:    b.Problem,
		}
	}
	return rules
}

func appendCockpit(dirs []string) []string {
	out := make([]string, len(dirs))
	for i, d := range dirs {
		out[i] = d + "/cockpit"
	}
	return out
}

func printPackages(set *packages.Set) {
	listing := set.Current()
	if listing == nil {
		return
	}
	for name, pkg := range listing.Packages {
		fmt.Printf("%s\t%s\n", name, pkg.OwnChecksum)
	}
	fmt.Printf("bundle\t%s\n", set.ReportedBundle())
}

func printRules() {
	for name := range router.DefaultPayloadTable() {
		fmt.Println(name)
	}
}

// announceSendStderr implements the child side of spec §6's "Privileged
// spawn handshake": write the send-stderr control frame on stdout, then
// recvmsg on fd 0 for the replacement stderr descriptor. Any deviation is
// a fatal error, matching the spec's "Any deviation ... is a fatal
// error."
func announceSendStderr() error {
	body, err := json.Marshal(map[string]any{"command": "send-stderr"})
	if err != nil {
		return problem.Wrap(problem.InternalError, err)
	}
	if err := frame.Write(os.Stdout, append([]byte("\n"), body...)); err != nil {
		return problem.Wrap(problem.Terminated, err)
	}
	fd, err := authorize.RecvFD(os.Stdin)
	if err != nil {
		return err
	}
	if err := unix.Dup2(fd, int(os.Stderr.Fd())); err != nil {
		return problem.Wrap(problem.InternalError, err)
	}
	return unix.Close(fd)
}

// sendInit writes the initial init control (spec §6 "Initial handshake")
// and blocks for the peer's own init before returning.
func sendInit(t *transport.Transport, set *packages.Set, e *env.Env) error {
	init := map[string]any{
		"command":      "init",
		"version":      1,
		"packages":     packageSummary(set),
		"os-release":   osrelease.Read(),
		"capabilities": map[string]any{"explicit-superuser": true},
	}
	if checksum := set.ReportedBundle(); checksum != "" {
		init["checksum"] = checksum
	}
	if err := t.SendControl(init); err != nil {
		return err
	}

	for {
		f, err := t.Recv()
		if err != nil {
			return err
		}
		if !f.IsControl() {
			continue
		}
		cmd, _, err := f.Command()
		if err != nil {
			return err
		}
		if cmd == "init" {
			return nil
		}
	}
}

func packageSummary(set *packages.Set) map[string]any {
	out := map[string]any{}
	listing := set.Current()
	if listing == nil {
		return out
	}
	for name, pkg := range listing.Packages {
		out[name] = pkg.OwnChecksum
	}
	return out
}
