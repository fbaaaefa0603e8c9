package packages

import (
	"os"
	"strings"
)

// candidates returns, for one Accept-Language entry of form
// "lang[-region]", the ordered filename-suffix candidates spec §4.E's
// "Serve" section describes: region-specific, then bare language, then
// (by the caller appending "") no suffix at all.
func candidates(tag string) []string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return nil
	}
	lang, region, hasRegion := strings.Cut(tag, "-")
	if hasRegion && region != "" {
		return []string{lang + "-" + region, lang}
	}
	return []string{lang}
}

// negotiateLocale splits an Accept-Language header into per-candidate
// trimmed tags, preserving client-supplied order (the header's own
// q-value ordering, not re-sorted by this agent).
func negotiateLocale(acceptLanguage string) []string {
	var tags []string
	for _, part := range strings.Split(acceptLanguage, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		// strip a ";q=" weight if present; ordering is trusted as given.
		if idx := strings.IndexByte(part, ';'); idx >= 0 {
			part = part[:idx]
		}
		tags = append(tags, strings.TrimSpace(part))
	}
	return tags
}

// resolveLocalized finds the first existing file among base's localized
// variants for the given Accept-Language header, falling back to the
// unsuffixed base path. ext includes the leading dot, e.g. ".html".
// Returns the winning path and whether it required a language suffix
// (callers must set Cache-Control: no-cache when true, per spec §4.E).
func resolveLocalized(base, ext, acceptLanguage string) (path string, localized bool) {
	stem := strings.TrimSuffix(base, ext)
	for _, tag := range negotiateLocale(acceptLanguage) {
		for _, suffix := range candidates(tag) {
			p := stem + "." + suffix + ext
			if fileExists(p) {
				return p, true
			}
		}
	}
	return base, false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
