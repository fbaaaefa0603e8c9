package packages

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/karrick/godirwalk"

	"github.com/cockpit-project/agent/cmn/problem"
)

// bundleAccumulator folds every package's own checksum into the overall
// bundle SHA-256, or goes nil once spec §9 / SPEC_FULL.md §12.4's
// suppression rule fires (a user-directory package was added).
type bundleAccumulator struct {
	// suppressed becomes true the moment a user-directory package wins
	// its priority contest; from then on Feed is a no-op for the rest of
	// the discovery pass, matching maybe_add_package's return value
	// gating the accumulator to nil.
	suppressed bool
	hasher     interface {
		io.Writer
		Sum([]byte) []byte
	}
}

func newBundleAccumulator() *bundleAccumulator {
	h := sha256.New()
	return &bundleAccumulator{hasher: h}
}

func (b *bundleAccumulator) Feed(name, ownChecksumHex string) {
	if b.suppressed {
		return
	}
	b.hasher.Write([]byte(name))
	b.hasher.Write([]byte{0})
	b.hasher.Write([]byte(ownChecksumHex))
	b.hasher.Write([]byte{0})
}

func (b *bundleAccumulator) Suppress() { b.suppressed = true }

// Checksum returns the accumulated bundle checksum, or "" if suppressed.
func (b *bundleAccumulator) Checksum() string {
	if b.suppressed {
		return ""
	}
	return hex.EncodeToString(b.hasher.Sum(nil))
}

// ownChecksum walks dir's files sorted by relative path, feeding
// `<relpath>\0<file-sha256-hex>\0` into a running SHA-256, then appending
// the serialized (post-override) manifest bytes, per spec §4.E
// "Checksums".
func ownChecksum(dir string, manifestJSON []byte) (string, error) {
	var paths []string
	err := godirwalk.Walk(dir, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			paths = append(paths, rel)
			return nil
		},
		Unsorted: true,
	})
	if err != nil {
		return "", problem.Wrap(problem.InternalError, err)
	}
	sort.Strings(paths)

	h := sha256.New()
	for _, rel := range paths {
		fh, err := fileSHA256Hex(filepath.Join(dir, rel))
		if err != nil {
			return "", err
		}
		h.Write([]byte(rel))
		h.Write([]byte{0})
		h.Write([]byte(fh))
		h.Write([]byte{0})
	}
	h.Write(manifestJSON)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func fileSHA256Hex(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", problem.Wrap(problem.InternalError, err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", problem.Wrap(problem.InternalError, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
