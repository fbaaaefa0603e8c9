// Package ids generates short opaque identifiers (Gen) and a fast
// non-cryptographic fingerprint (Fingerprint).
/*
 * Adapted from the teacher's cmn/cos/uuid.go, which layers a shortid
 * generator with a tie-breaker alphabet on top of github.com/teris-io/shortid.
 * The alphabet and tie-breaking logic are kept; daemon/K8s-proxy-specific
 * generators are dropped since this agent has no cluster identity.
 */
package ids

import (
	"strconv"
	"sync/atomic"

	"github.com/OneOfOne/xxhash"
	"github.com/teris-io/shortid"
)

const uuidABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

var (
	sid  *shortid.Shortid
	rtie atomic.Uint32
)

// Init seeds the generator. Called once from the agent's entry path with a
// value derived from the process start time; tests may pass a fixed seed
// for reproducibility.
func Init(seed uint64) {
	sid = shortid.MustNew(1, uuidABC, seed)
}

// Gen returns a new short opaque id that starts with a letter and does not
// end in '-' or '_': a rotating tie letter is prepended or appended when
// the generated id would break either rule.
func Gen() string {
	id := sid.MustGenerate()
	if !isAlpha(id[0]) {
		id = tieByte('A') + id
	}
	if c := id[len(id)-1]; c == '-' || c == '_' {
		id += tieByte('a')
	}
	return id
}

func tieByte(base byte) string {
	tie := rtie.Add(1)
	return string(rune(base + byte(tie%26)))
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// Fingerprint returns a fast, non-cryptographic 64-bit hash of s, used for
// packages.Listing.Key. Never used in place of the spec-mandated SHA-256
// package checksums.
func Fingerprint(s string) uint64 {
	return xxhash.Checksum64([]byte(s))
}

func FingerprintHex(s string) string {
	return strconv.FormatUint(Fingerprint(s), 16)
}
