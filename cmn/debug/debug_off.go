//go:build !debug

// Package debug provides invariant assertions that compile away entirely
// in production builds and panic loudly under the "debug" build tag
// (go build -tags debug). Internal invariant violations map to the
// "internal-error" problem kind (spec §7); asserts are how this agent
// catches those invariants failing during development instead of shipping
// a wrong close.problem to a peer.
/*
 * Adapted from the teacher's cmn/debug package.
 */
package debug

func ON() bool { return false }

func Assert(_ bool, _ ...any)            {}
func Assertf(_ bool, _ string, _ ...any) {}
func AssertNoErr(_ error)                {}
func Func(_ func())                      {}
