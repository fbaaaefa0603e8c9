// Serving support for packages.Set: spec §4.E "Serve", implemented as a
// valyala/fasthttp handler the agent mounts as its internal, loopback-only
// package host (spec §6).
package packages

import (
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/valyala/fasthttp"

	jsoniter "github.com/json-iterator/go"

	"github.com/cockpit-project/agent/cmn/nlog"
	"github.com/cockpit-project/agent/cmn/problem"
)

// Handler returns a fasthttp.RequestHandler serving s's current listing,
// with the static security headers and checksum/ETag headers spec §6
// "Internal HTTP server" requires on every response.
func (s *Set) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		setSecurityHeaders(ctx)

		checksum := s.ReportedBundle()
		if checksum != "" {
			ctx.Response.Header.Set("X-Cockpit-Pkg-Checksum", checksum)
			ctx.Response.Header.Set("ETag", `"`+checksum+`"`)
		} else {
			ctx.Response.Header.Set("Cache-Control", "no-cache")
		}

		path := string(ctx.Path())
		switch {
		case path == "/checksum":
			s.serveChecksum(ctx)
		case path == "/manifests.json":
			s.serveManifests(ctx, false)
		case path == "/manifests.js":
			s.serveManifests(ctx, true)
		default:
			s.servePackageFile(ctx, path)
		}
	}
}

func setSecurityHeaders(ctx *fasthttp.RequestCtx) {
	h := &ctx.Response.Header
	h.Set("X-DNS-Prefetch-Control", "off")
	h.Set("Referrer-Policy", "no-referrer")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Cross-Origin-Resource-Policy", "same-origin")
	h.Set("X-Frame-Options", "sameorigin")
}

func (s *Set) serveChecksum(ctx *fasthttp.RequestCtx) {
	ctx.SetContentType("text/plain")
	io.WriteString(ctx, s.ReportedBundle())
}

func (s *Set) serveManifests(ctx *fasthttp.RequestCtx, asJS bool) {
	listing := s.current
	if listing == nil {
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
		return
	}
	out := make(map[string]any, len(listing.Packages))
	for name, pkg := range listing.Packages {
		fields := make(map[string]any, len(pkg.Fields)+1)
		for k, v := range pkg.Fields {
			fields[k] = v
		}
		fields[".checksum"] = pkg.OwnChecksum
		out[name] = fields
	}
	body, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(out)
	if err != nil {
		nlog.Errorf("packages: marshaling manifests: %v", err)
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	if asJS {
		ctx.SetContentType("application/javascript")
		io.WriteString(ctx, "(function (root, data) {\n")
		io.WriteString(ctx, "if (typeof define === 'function' && define.amd)\n    define(data);\nelse\n    root.manifests = data;\n")
		io.WriteString(ctx, "}(this, ")
		ctx.Write(body)
		io.WriteString(ctx, "))")
		return
	}
	ctx.SetContentType("application/json")
	ctx.Write(body)
}

// servePackageFile handles GET /<pkgname>/<path>, including locale
// negotiation, globbing, gzip sidecars, and CSP headers (spec §4.E
// "Serve").
func (s *Set) servePackageFile(ctx *fasthttp.RequestCtx, reqPath string) {
	listing := s.current
	if listing == nil {
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
		return
	}
	name, relpath, ok := splitPackagePath(reqPath)
	if !ok {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	acceptLang := string(ctx.Request.Header.Peek("Accept-Language"))
	acceptEnc := string(ctx.Request.Header.Peek("Accept-Encoding"))

	if strings.Contains(relpath, "*") {
		s.serveGlob(ctx, listing, name, relpath)
		return
	}

	pkg, abspath, ok := listing.Resolve(name, relpath)
	if !ok {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}

	ext := extOf(abspath)
	resolved, localized := resolveLocalized(abspath, ext, acceptLang)

	body, usedGzip, err := readMaybeGzip(resolved, strings.Contains(acceptEnc, "gzip"))
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}

	ctx.SetContentType(contentTypeFor(resolved))
	if usedGzip {
		ctx.Response.Header.Set("Content-Encoding", "gzip")
	}
	if localized {
		ctx.Response.Header.Set("Cache-Control", "no-cache")
	}
	applyCSP(ctx, pkg)
	ctx.Write(body)
}

func (s *Set) serveGlob(ctx *fasthttp.RequestCtx, listing *Listing, name, relpathGlob string) {
	// globbed responses never negotiate gzip or language (spec §4.E).
	var out []byte
	for pkgName, pkg := range listing.Packages {
		if name != "*" && pkgName != name {
			continue
		}
		remainder := strings.TrimSuffix(relpathGlob, "*")
		path := pkg.Base + "/" + remainder
		body, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		out = append(out, body...)
	}
	ctx.SetContentType("text/plain")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Write(out)
}

func splitPackagePath(reqPath string) (name, relpath string, ok bool) {
	trimmed := strings.TrimPrefix(reqPath, "/")
	idx := strings.IndexByte(trimmed, '/')
	if idx < 0 {
		return "", "", false
	}
	return trimmed[:idx], trimmed[idx+1:], true
}

func extOf(path string) string {
	idx := strings.LastIndexByte(path, '.')
	if idx < 0 {
		return ""
	}
	return path[idx:]
}

// readMaybeGzip serves a `<path>.gz` sidecar verbatim when present and
// the client accepts gzip, otherwise transparently decompresses it, and
// falls back to path itself when no sidecar exists (spec §4.E "gzip").
func readMaybeGzip(path string, clientAcceptsGzip bool) (body []byte, servedGzip bool, err error) {
	gzPath := path + ".gz"
	if raw, gzErr := os.ReadFile(gzPath); gzErr == nil {
		if clientAcceptsGzip {
			return raw, true, nil
		}
		r, err := gzip.NewReader(strings.NewReader(string(raw)))
		if err != nil {
			return nil, false, problem.Wrap(problem.InternalError, err)
		}
		defer r.Close()
		decoded, err := io.ReadAll(r)
		if err != nil {
			return nil, false, problem.Wrap(problem.InternalError, err)
		}
		return decoded, false, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	return raw, false, nil
}

// applyCSP sets Content-Security-Policy from the package manifest, with
// every ${origin} placeholder replaced by <proto>://<host> taken from the
// X-Forwarded-Proto (default "http") and X-Forwarded-Host headers. 'self'
// is left as written in the manifest.
func applyCSP(ctx *fasthttp.RequestCtx, pkg *Package) {
	csp, ok := pkg.Fields["content-security-policy"].(string)
	if !ok || csp == "" {
		return
	}
	proto := string(ctx.Request.Header.Peek("X-Forwarded-Proto"))
	if proto == "" {
		proto = "http"
	}
	host := string(ctx.Request.Header.Peek("X-Forwarded-Host"))
	origin := proto + "://" + host
	csp = strings.ReplaceAll(csp, "${origin}", origin)
	ctx.Response.Header.Set("Content-Security-Policy", csp)
}
