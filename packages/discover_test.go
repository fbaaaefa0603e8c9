package packages_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/cockpit-project/agent/packages"
)

func writeManifest(dir, pkgName, manifest string) {
	pkgDir := filepath.Join(dir, pkgName)
	Expect(os.MkdirAll(pkgDir, 0o755)).To(Succeed())
	Expect(os.WriteFile(filepath.Join(pkgDir, "manifest.json"), []byte(manifest), 0o644)).To(Succeed())
}

var _ = Describe("Set.Discover", func() {
	var userDir, systemDir string

	BeforeEach(func() {
		userDir = filepath.Join(GinkgoT().TempDir(), "user")
		systemDir = filepath.Join(GinkgoT().TempDir(), "system")
		Expect(os.MkdirAll(userDir, 0o755)).To(Succeed())
		Expect(os.MkdirAll(systemDir, 0o755)).To(Succeed())
	})

	It("lists packages found in both the user and system directories", func() {
		writeManifest(systemDir, "shell", `{"priority": 1}`)
		writeManifest(userDir, "playground", `{"priority": 1}`)

		set := packages.New(nil, userDir, []string{systemDir}, "/usr/libexec")
		listing, err := set.Discover(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(listing.Packages).To(HaveKey("shell"))
		Expect(listing.Packages).To(HaveKey("playground"))
	})

	It("prefers the higher-priority package on a name collision", func() {
		writeManifest(systemDir, "shell", `{"priority": 1, "marker": "system"}`)
		writeManifest(userDir, "shell", `{"priority": 5, "marker": "user"}`)

		set := packages.New(nil, userDir, []string{systemDir}, "/usr/libexec")
		listing, err := set.Discover(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(listing.Packages["shell"].Fields["marker"]).To(Equal("user"))
	})

	It("suppresses the bundle checksum once a user-directory package wins", func() {
		writeManifest(systemDir, "shell", `{"priority": 1}`)
		writeManifest(userDir, "playground", `{"priority": 1}`)

		set := packages.New(nil, userDir, []string{systemDir}, "/usr/libexec")
		listing, err := set.Discover(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(listing.Bundle).To(BeEmpty())
	})

	It("reports a non-empty bundle checksum with no user-directory packages", func() {
		writeManifest(systemDir, "shell", `{"priority": 1}`)

		set := packages.New(nil, userDir, []string{systemDir}, "/usr/libexec")
		listing, err := set.Discover(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(listing.Bundle).NotTo(BeEmpty())
	})

	It("keeps reported_bundle fixed across reloads", func() {
		writeManifest(systemDir, "shell", `{"priority": 1}`)
		set := packages.New(nil, userDir, []string{systemDir}, "/usr/libexec")
		_, err := set.Discover(context.Background())
		Expect(err).NotTo(HaveOccurred())
		first := set.ReportedBundle()

		writeManifest(systemDir, "another", `{"priority": 1}`)
		_, err = set.Discover(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(set.ReportedBundle()).To(Equal(first))
	})

	It("applies override.json on top of the manifest", func() {
		writeManifest(systemDir, "shell", `{"priority": 1, "description": "original"}`)
		Expect(os.WriteFile(filepath.Join(systemDir, "shell", "override.json"),
			[]byte(`{"description": "overridden"}`), 0o644)).To(Succeed())

		set := packages.New(nil, userDir, []string{systemDir}, "/usr/libexec")
		listing, err := set.Discover(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(listing.Packages["shell"].Fields["description"]).To(Equal("overridden"))
	})

	It("honors a manifest name override", func() {
		writeManifest(systemDir, "dirname", `{"name": "realname", "priority": 1}`)

		set := packages.New(nil, userDir, []string{systemDir}, "/usr/libexec")
		listing, err := set.Discover(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(listing.Packages).To(HaveKey("realname"))
		Expect(listing.Packages).NotTo(HaveKey("dirname"))
	})
})

var _ = Describe("Set.Reload", func() {
	It("debounces the first reload hint", func() {
		userDir := filepath.Join(GinkgoT().TempDir(), "user")
		systemDir := filepath.Join(GinkgoT().TempDir(), "system")
		Expect(os.MkdirAll(userDir, 0o755)).To(Succeed())
		writeManifest(systemDir, "shell", `{"priority": 1}`)

		set := packages.New(nil, userDir, []string{systemDir}, "/usr/libexec")
		_, err := set.Discover(context.Background())
		Expect(err).NotTo(HaveOccurred())

		writeManifest(systemDir, "added", `{"priority": 1}`)
		listing, err := set.Reload(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(listing.Packages).NotTo(HaveKey("added"))

		listing, err = set.Reload(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(listing.Packages).To(HaveKey("added"))
	})
})
