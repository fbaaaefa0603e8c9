package httpchan

import (
	"fmt"
	"strings"

	"github.com/cockpit-project/agent/channel"
	"github.com/cockpit-project/agent/cmn/problem"
	"github.com/pkg/errors"
)

// disallowedHeaders are always rejected regardless of binary mode (spec
// §4.C "Open options").
var disallowedHeaders = map[string]bool{
	"content-length":    true,
	"content-md5":       true,
	"te":                true,
	"trailer":           true,
	"transfer-encoding": true,
	"upgrade":           true,
}

// disallowedTextHeaders are additionally rejected unless binary is set.
var disallowedTextHeaders = map[string]bool{
	"accept-encoding": true,
	"content-encoding": true,
	"accept-charset":  true,
	"accept-ranges":   true,
	"content-range":   true,
	"range":           true,
}

// openOptions is the parsed, validated form of an http-stream open's
// options (spec §4.C).
type openOptions struct {
	method     string
	path       string
	connection string
	headers    []headerField
	binary     bool
	tls        bool
	port       int
	address    string
	unix       string
}

type headerField struct {
	name  string
	value string
}

func isSingleToken(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\r' || r == '\n' {
			return false
		}
	}
	return true
}

func isSingleLine(s string) bool {
	return !strings.ContainsAny(s, "\r\n")
}

// isHTTPToken reports whether s is a legal HTTP header field-name token:
// nonempty, no separators/whitespace/control characters.
func isHTTPToken(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r <= 0x20 || r == 0x7f:
			return false
		case strings.ContainsRune("()<>@,;:\\\"/[]?={}", r):
			return false
		}
	}
	return true
}

func parseOpenOptions(options map[string]any) (*openOptions, error) {
	o := &openOptions{}
	method, ok := channel.OptString(options, "method")
	if !ok || !isSingleToken(method) {
		return nil, problem.New(problem.ProtocolError, "open: method must be a single token")
	}
	o.method = method

	path, ok := channel.OptString(options, "path")
	if !ok || !isSingleToken(path) {
		return nil, problem.New(problem.ProtocolError, "open: path must be a single token")
	}
	o.path = path

	o.connection, _ = channel.OptString(options, "connection")
	o.binary, _ = channel.OptBool(options, "binary")
	_, o.tls = options["tls"]
	o.port, _ = channel.OptInt(options, "port")
	o.address, _ = channel.OptString(options, "address")
	o.unix, _ = channel.OptString(options, "unix")

	if raw, ok := options["headers"]; ok {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, problem.New(problem.ProtocolError, "open: headers must be an object")
		}
		for name, v := range m {
			value, ok := v.(string)
			if !ok {
				return nil, problem.New(problem.ProtocolError, "open: header %q value must be a string", name)
			}
			if err := validateHeader(name, value, o.binary); err != nil {
				return nil, err
			}
			o.headers = append(o.headers, headerField{name: name, value: value})
		}
	}
	return o, nil
}

func validateHeader(name, value string, binary bool) error {
	lower := strings.ToLower(name)
	if !isHTTPToken(name) {
		return problem.New(problem.ProtocolError, "open: invalid header name %q", name)
	}
	if !isSingleLine(value) {
		return problem.New(problem.ProtocolError, "open: header %q value must be single-line", name)
	}
	if disallowedHeaders[lower] {
		return problem.New(problem.ProtocolError, "open: header %q is not allowed", name)
	}
	if !binary && disallowedTextHeaders[lower] {
		return problem.New(problem.ProtocolError, "open: header %q is not allowed in non-binary mode", name)
	}
	if lower == "connection" && !strings.EqualFold(value, "close") {
		return problem.New(problem.ProtocolError, "open: Connection header may only be \"close\"")
	}
	return nil
}

func (o *openOptions) hasHeader(name string) bool {
	lower := strings.ToLower(name)
	for _, h := range o.headers {
		if strings.ToLower(h.name) == lower {
			return true
		}
	}
	return false
}

// target describes how to dial the upstream connectable (spec §4.C).
type target struct {
	network string
	address string
	tls     bool
}

func (o *openOptions) target() (target, error) {
	switch {
	case o.unix != "":
		return target{network: "unix", address: o.unix, tls: o.tls}, nil
	case o.address != "":
		port := o.port
		if port == 0 {
			if o.tls {
				port = 443
			} else {
				port = 80
			}
		}
		return target{network: "tcp", address: fmt.Sprintf("%s:%d", o.address, port), tls: o.tls}, nil
	default:
		return target{}, errors.Wrap(problem.New(problem.ProtocolError, "open: no address/unix connectable given"), "httpchan")
	}
}
