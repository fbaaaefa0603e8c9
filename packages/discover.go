package packages

import (
	"context"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/cockpit-project/agent/cmn/env"
	"github.com/cockpit-project/agent/cmn/ids"
	"github.com/cockpit-project/agent/cmn/nlog"
)

// Package is one discovered, override-applied, checksummed package.
type Package struct {
	Manifest
	OwnChecksum    string
	BundleChecksum string // this package's bundle checksum, carried forward or reassigned (spec §4.E "Bundle sticky rule"); distinct from Set.ReportedBundle
	FromUserDir    bool
}

// Listing is the result of one discovery pass: every winning package by
// name, plus the pass's reported bundle checksum.
type Listing struct {
	Packages map[string]*Package
	Bundle   string
	Key      uint64 // xxhash fingerprint of Bundle (ids.Fingerprint)
}

// Set holds the agent's live package listing and drives reload.
type Set struct {
	env          *env.Env
	userDir      string
	systemDirs   []string
	libexecdir   string
	reportedOnce bool
	reported     string

	current *Listing

	reloadHintSeen bool
	onChange       func(*Listing)
}

// New builds a Set that scans userDir (typically
// $XDG_DATA_HOME/cockpit) then each of systemDirs (typically
// $XDG_DATA_DIRS/cockpit) in order, per spec §4.E "Discovery".
func New(e *env.Env, userDir string, systemDirs []string, libexecdir string) *Set {
	return &Set{env: e, userDir: userDir, systemDirs: systemDirs, libexecdir: libexecdir}
}

// OnChange registers the callback invoked after every successful Reload,
// mirroring the PropertiesChanged notification of spec §4.E "Reload".
func (s *Set) OnChange(f func(*Listing)) { s.onChange = f }

// Current returns the most recent listing, or nil before the first
// Discover.
func (s *Set) Current() *Listing { return s.current }

// Discover performs one full scan, honoring override merging, priority
// replacement, and bundle suppression (spec §4.E).
func (s *Set) Discover(ctx context.Context) (*Listing, error) {
	type found struct {
		pkg      *Package
		fromUser bool
	}

	dirs := append([]string{s.userDir}, s.systemDirs...)
	scanned := make([][]found, len(dirs))

	g, gctx := errgroup.WithContext(ctx)
	for i, dir := range dirs {
		i, dir := i, dir
		fromUser := i == 0
		g.Go(func() error {
			entries, err := s.scanDir(gctx, dir, fromUser)
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				nlog.Warningf("packages: scanning %s: %v", dir, err)
				return nil
			}
			list := make([]found, 0, len(entries))
			for _, p := range entries {
				list = append(list, found{pkg: p, fromUser: fromUser})
			}
			scanned[i] = list
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	winners := make(map[string]*Package)
	acc := newBundleAccumulator()
	for _, list := range scanned {
		for _, f := range list {
			existing, ok := winners[f.pkg.Name]
			if ok && existing.Priority >= f.pkg.Priority {
				continue
			}
			winners[f.pkg.Name] = f.pkg
			if f.fromUser {
				// original_source maybe_add_package: adding any
				// user-directory package suppresses the bundle
				// checksum for the rest of this pass.
				acc.Suppress()
			}
		}
	}
	for _, p := range winners {
		acc.Feed(p.Name, p.OwnChecksum)
	}
	bundle := acc.Checksum()

	listing := &Listing{Packages: winners, Bundle: bundle, Key: ids.Fingerprint(bundle)}
	s.applyStickyBundle(listing)
	s.current = listing
	if s.onChange != nil {
		s.onChange(listing)
	}
	return listing, nil
}

// applyStickyBundle implements spec §4.E's "Bundle sticky rule": a
// package whose own_checksum is unchanged since the prior listing keeps
// its prior bundle_checksum; reported_bundle is set once and never
// changed thereafter.
func (s *Set) applyStickyBundle(listing *Listing) {
	prev := s.current
	for name, pkg := range listing.Packages {
		if prev == nil {
			pkg.BundleChecksum = listing.Bundle
			continue
		}
		if old, ok := prev.Packages[name]; ok && old.OwnChecksum == pkg.OwnChecksum {
			pkg.BundleChecksum = old.BundleChecksum
		} else {
			pkg.BundleChecksum = listing.Bundle
		}
	}
	if !s.reportedOnce {
		s.reported = listing.Bundle
		s.reportedOnce = true
	}
}

// ReportedBundle is the value spec §4.E says appears in init.checksum and
// response headers: set on first discovery, never changed after.
func (s *Set) ReportedBundle() string { return s.reported }

func (s *Set) scanDir(ctx context.Context, dir string, fromUser bool) ([]*Package, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []*Package
	for _, ent := range ents {
		if !ent.IsDir() {
			continue
		}
		pkgDir := filepath.Join(dir, ent.Name())
		raw, err := os.ReadFile(filepath.Join(pkgDir, "manifest.json"))
		if err != nil {
			if !os.IsNotExist(err) {
				nlog.Warningf("packages: reading %s/manifest.json: %v", pkgDir, err)
			}
			continue
		}
		m, err := parseManifest(ent.Name(), raw)
		if err != nil {
			nlog.Warningf("packages: %s: %v", pkgDir, err)
			continue
		}
		m.Base = pkgDir

		merged, err := s.applyOverrides(pkgDir, m)
		if err != nil {
			return nil, err
		}
		m.Fields = expandLibexecdir(merged, s.libexecdir)

		manifestJSON, err := jsonAPI.Marshal(m.Fields)
		if err != nil {
			return nil, err
		}
		own, err := ownChecksum(pkgDir, manifestJSON)
		if err != nil {
			return nil, err
		}
		out = append(out, &Package{Manifest: *m, OwnChecksum: own, FromUserDir: fromUser})
	}
	return out, nil
}

// applyOverrides deep-merges, in ascending priority, <pkgdir>/override.json,
// each system config dir's <dir>/cockpit/<pkgname>.override.json, and the
// user config dir's equivalent (spec §4.E "Manifest processing").
func (s *Set) applyOverrides(pkgDir string, m *Manifest) (map[string]any, error) {
	fields := m.Fields

	apply := func(path string) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return // missing override files are non-errors
		}
		var ov map[string]any
		if err := jsonAPI.Unmarshal(raw, &ov); err != nil {
			warnSkipOverride(path, err)
			return
		}
		fields = mergeOverride(fields, ov)
	}

	apply(filepath.Join(pkgDir, "override.json"))
	if s.env != nil {
		for _, dir := range s.env.ConfigDirs {
			apply(filepath.Join(dir, "cockpit", m.Name+".override.json"))
		}
		if s.env.ConfigHome != "" {
			apply(filepath.Join(s.env.ConfigHome, "cockpit", m.Name+".override.json"))
		}
	}
	return fields, nil
}

// Reload re-scans and notifies, honoring spec §4.E's debounce: the first
// ReloadHint in a session is suppressed, a second reloads immediately.
func (s *Set) Reload(ctx context.Context) (*Listing, error) {
	if !s.reloadHintSeen {
		s.reloadHintSeen = true
		nlog.Infoln("packages: first reload hint debounced")
		return s.current, nil
	}
	return s.Discover(ctx)
}
