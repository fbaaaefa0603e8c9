// Command cockpit-askpass is the standalone askpass helper
// (original_source/src/bridge/askpass.c): it speaks the authorize
// subprotocol over a socketpair on its own stdin and prints the
// recovered password to stdout, for use as SSH_ASKPASS or sudo's askpass
// (spec §4.F, §6 "Askpass askpass subprotocol").
package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/cockpit-project/agent/authorize"
)

func main() {
	os.Exit(run())
}

func run() int {
	prompt := "Password: "
	if len(os.Args) > 1 {
		prompt = os.Args[1]
	}

	user, err := currentUser()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cockpit-askpass: %v\n", err)
		return 1
	}

	conn := authorize.NewConn(os.Stdin)
	secret, err := authorize.AskPassword(conn, hex.EncodeToString([]byte(user)), cookie(), prompt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cockpit-askpass: %v\n", err)
		return 1
	}
	defer secret.Zero()

	fmt.Println(string(secret.Bytes()))
	return 0
}

func currentUser() (string, error) {
	if u := os.Getenv("USER"); u != "" {
		return u, nil
	}
	return "", fmt.Errorf("USER is not set")
}

// cookie identifies this particular askpass exchange; the real protocol
// lets the caller of the subprocess pick one and pass it via argv/env,
// but a fixed value is fine here since cockpit-askpass only ever drives
// one exchange per process lifetime.
func cookie() string { return "cockpit-askpass" }
