package httpchan

import (
	"bufio"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/cockpit-project/agent/channel"
	"github.com/cockpit-project/agent/cmn/nlog"
	"github.com/cockpit-project/agent/cmn/problem"
	"github.com/pkg/errors"
)

// substate is the HTTP channel's own state machine layered on top of the
// channel package's Preparing/Ready/Done/Closed (spec §4.C "State
// machine").
type substate int

const (
	BufferRequest substate = iota
	RelayRequest
	RelayData
	Finished
)

// maxFrameBody bounds individual outbound data frames so large response
// blocks split into chunks instead of one giant frame (spec §4.C "Large
// blocks (> 8 KiB) are split into <=4 KiB data frames").
const maxFrameBody = 4096

// Channel implements the http-stream1/http-stream2 payloads: it buffers
// the request body, relays it to an upstream connectable, and relays the
// response back as a header frame followed by body frames.
type Channel struct {
	*channel.Base

	pool *Pool

	mu       sync.Mutex
	sub      substate
	opts     *openOptions
	bodyBlocks [][]byte
	conn     net.Conn
}

func New(id, payload string, sink channel.Sink, pool *Pool) *Channel {
	return &Channel{Base: channel.NewBase(id, payload, sink), pool: pool}
}

func (c *Channel) Prepare(options map[string]any) error {
	opts, err := parseOpenOptions(options)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.opts = opts
	c.sub = BufferRequest
	c.mu.Unlock()
	c.SetReady()
	return nil
}

// Data buffers one request-body block while in BufferRequest; any data
// received afterward is ignored (the caller is expected to send exactly
// one "done").
func (c *Channel) Data(body []byte) error {
	if c.IsClosed() {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != BufferRequest {
		return nil
	}
	block := append([]byte(nil), body...)
	c.bodyBlocks = append(c.bodyBlocks, block)
	return nil
}

// PeerDone triggers request assembly: connect (or reuse pooled), write
// the request line/headers/body, then synchronously relay the response.
func (c *Channel) PeerDone() error {
	c.mu.Lock()
	if c.sub != BufferRequest {
		c.mu.Unlock()
		return nil
	}
	c.sub = RelayRequest
	opts := c.opts
	blocks := c.bodyBlocks
	c.mu.Unlock()

	conn, reused, err := c.dial(opts)
	if err != nil {
		c.fail(problem.KindOf(err))
		return nil
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	if err := writeRequest(conn, opts, blocks); err != nil {
		if reused {
			// a pooled connection can go stale between checkout and
			// write; that's not a protocol error on our side.
			nlog.Warningf("httpchan %s: reused connection write failed: %v", c.ID(), err)
		}
		c.fail(problem.InternalError)
		return nil
	}

	c.mu.Lock()
	c.sub = RelayData
	c.mu.Unlock()
	c.relayResponse(conn, opts)
	return nil
}

func (c *Channel) fail(prob string) {
	c.mu.Lock()
	conn := c.conn
	c.sub = Finished
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	c.SendClose(prob)
}

func (c *Channel) Close(prob string) {
	c.mu.Lock()
	conn := c.conn
	already := c.sub == Finished
	c.sub = Finished
	c.mu.Unlock()
	if !already && conn != nil {
		conn.Close()
	}
	c.SendClose(prob)
}

func (c *Channel) dial(opts *openOptions) (net.Conn, bool, error) {
	if opts.connection != "" {
		if s, ok := c.pool.Checkout(opts.connection); ok {
			if conn, ok := s.(net.Conn); ok {
				return conn, true, nil
			}
		}
	}
	tgt, err := opts.target()
	if err != nil {
		return nil, false, err
	}
	var conn net.Conn
	if tgt.tls {
		conn, err = tls.Dial(tgt.network, tgt.address, &tls.Config{InsecureSkipVerify: false})
	} else {
		conn, err = net.Dial(tgt.network, tgt.address)
	}
	if err != nil {
		return nil, false, errors.Wrap(problem.New(problem.NotFound, "dial %s: %v", tgt.address, err), "httpchan")
	}
	return conn, false, nil
}

func writeRequest(w net.Conn, opts *openOptions, blocks [][]byte) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", opts.method, opts.path)

	var total int
	for _, blk := range blocks {
		total += len(blk)
	}

	hasHost := opts.hasHeader("Host")
	hasAcceptEncoding := opts.hasHeader("Accept-Encoding")
	for _, h := range opts.headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h.name, h.value)
	}
	if !hasHost {
		fmt.Fprintf(&b, "Host: %s\r\n", hostOf(w))
	}
	if !hasAcceptEncoding {
		b.WriteString("Accept-Encoding: identity\r\n")
	}
	if !opts.binary {
		b.WriteString("Accept-Charset: UTF-8\r\n")
	}
	if total > 0 || strings.EqualFold(opts.method, "POST") {
		fmt.Fprintf(&b, "Content-Length: %d\r\n", total)
	}
	b.WriteString("\r\n")

	if _, err := io.WriteString(w, b.String()); err != nil {
		return err
	}
	for _, blk := range blocks {
		if _, err := w.Write(blk); err != nil {
			return err
		}
	}
	return nil
}

func hostOf(conn net.Conn) string {
	addr := conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// responseHeader is the JSON shape emitted as the single header data
// frame (spec §4.C / §8 scenario 1).
type responseHeader struct {
	Status  int               `json:"status"`
	Reason  string            `json:"reason"`
	Headers map[string]string `json:"headers"`
}

// stripHeaders are removed from every relayed response regardless of
// binary mode.
var stripHeaders = map[string]bool{
	"connection":        true,
	"transfer-encoding": true,
}

var stripTextHeaders = map[string]bool{
	"content-length": true,
	"range":          true,
}

func (c *Channel) relayResponse(conn net.Conn, opts *openOptions) {
	br := bufio.NewReaderSize(conn, 4096)
	status, reason, headers, err := parseStatusAndHeaders(br)
	if err != nil {
		c.fail(problem.ProtocolError)
		return
	}

	lengthMode, length, keepAlive, err := classifyResponse(status, headers)
	if err != nil {
		c.fail(problem.ProtocolError)
		return
	}

	out := make(map[string]string, len(headers))
	for k, v := range headers {
		lower := strings.ToLower(k)
		if stripHeaders[lower] {
			continue
		}
		if !opts.binary && stripTextHeaders[lower] {
			continue
		}
		out[k] = v
	}
	hdrJSON, _ := json.Marshal(responseHeader{Status: status, Reason: reason, Headers: out})
	if err := c.SendData(hdrJSON); err != nil {
		c.fail(problem.InternalError)
		return
	}

	if err := c.relayBody(br, lengthMode, length); err != nil {
		c.fail(problem.KindOf(err))
		return
	}

	c.SendDone()

	c.mu.Lock()
	c.sub = Finished
	c.mu.Unlock()

	if keepAlive && opts.connection != "" {
		c.pool.Checkin(opts.connection, conn)
	} else {
		conn.Close()
	}
}

func parseStatusAndHeaders(br *bufio.Reader) (status int, reason string, headers map[string]string, err error) {
	line, err := readCRLFLine(br)
	if err != nil {
		return 0, "", nil, err
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "HTTP/") {
		return 0, "", nil, problem.New(problem.ProtocolError, "malformed status line %q", line)
	}
	status, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, "", nil, problem.New(problem.ProtocolError, "malformed status code %q", parts[1])
	}
	if len(parts) == 3 {
		reason = parts[2]
	}

	headers = make(map[string]string)
	for {
		hline, err := readCRLFLine(br)
		if err != nil {
			return 0, "", nil, err
		}
		if hline == "" {
			break
		}
		idx := strings.IndexByte(hline, ':')
		if idx < 0 {
			return 0, "", nil, problem.New(problem.ProtocolError, "malformed header line %q", hline)
		}
		name := strings.TrimSpace(hline[:idx])
		value := strings.TrimSpace(hline[idx+1:])
		headers[name] = value
	}
	return status, reason, headers, nil
}

func readCRLFLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return "", problem.Wrap(problem.ProtocolError, err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

type lengthMode int

const (
	lmFixed lengthMode = iota
	lmChunked
	lmUntilEOF
)

func classifyResponse(status int, headers map[string]string) (mode lengthMode, length int64, keepAlive bool, err error) {
	var clRaw, teRaw, connRaw string
	for k, v := range headers {
		switch strings.ToLower(k) {
		case "content-length":
			clRaw = v
		case "transfer-encoding":
			teRaw = v
		case "connection":
			connRaw = v
		}
	}

	keepAlive = !strings.Contains(strings.ToLower(connRaw), "close")

	if teRaw != "" {
		if !strings.EqualFold(strings.TrimSpace(teRaw), "chunked") {
			return 0, 0, false, problem.New(problem.ProtocolError, "unsupported Transfer-Encoding %q", teRaw)
		}
		return lmChunked, 0, keepAlive, nil
	}

	if status == 204 {
		return lmFixed, 0, keepAlive, nil
	}

	if clRaw != "" {
		n, err := strconv.ParseInt(clRaw, 10, 64)
		if err != nil || n < 0 || n > maxContentLength {
			return 0, 0, false, problem.New(problem.ProtocolError, "invalid Content-Length %q", clRaw)
		}
		return lmFixed, n, keepAlive, nil
	}

	return lmUntilEOF, 0, keepAlive, nil
}

// maxContentLength mirrors the spec's "ssize-max" ceiling (spec §8
// boundary behaviour): the largest value a signed 64-bit size type can
// represent.
const maxContentLength = 1<<63 - 1

func (c *Channel) relayBody(br *bufio.Reader, mode lengthMode, length int64) error {
	switch mode {
	case lmFixed:
		return relayFixed(br, length, c.SendData)
	case lmChunked:
		return relayChunked(br, c.SendData)
	default:
		return relayUntilEOF(br, c.SendData)
	}
}

func relayFixed(br *bufio.Reader, length int64, send func([]byte) error) error {
	remaining := length
	buf := make([]byte, maxFrameBody)
	for remaining > 0 {
		n := int64(len(buf))
		if remaining < n {
			n = remaining
		}
		read, err := io.ReadFull(br, buf[:n])
		if err != nil {
			return problem.Wrap(problem.ProtocolError, err)
		}
		if err := send(buf[:read]); err != nil {
			return err
		}
		remaining -= int64(read)
	}
	return nil
}

func relayUntilEOF(br *bufio.Reader, send func([]byte) error) error {
	buf := make([]byte, maxFrameBody)
	for {
		n, err := br.Read(buf)
		if n > 0 {
			if serr := send(buf[:n]); serr != nil {
				return serr
			}
		}
		if err != nil {
			if problem.IsEOF(err) {
				return nil
			}
			return problem.Wrap(problem.ProtocolError, err)
		}
	}
}

func relayChunked(br *bufio.Reader, send func([]byte) error) error {
	for {
		sizeLine, err := readCRLFLine(br)
		if err != nil {
			return err
		}
		// a chunk-extension, if any, follows a ';' and is ignored.
		if idx := strings.IndexByte(sizeLine, ';'); idx >= 0 {
			sizeLine = sizeLine[:idx]
		}
		size, err := strconv.ParseInt(strings.TrimSpace(sizeLine), 16, 64)
		if err != nil || size < 0 {
			return problem.New(problem.ProtocolError, "malformed chunk size %q", sizeLine)
		}
		if size == 0 {
			// trailer section, terminated by an empty line.
			for {
				l, err := readCRLFLine(br)
				if err != nil {
					return err
				}
				if l == "" {
					break
				}
			}
			return nil
		}
		remaining := size
		buf := make([]byte, maxFrameBody)
		for remaining > 0 {
			n := int64(len(buf))
			if remaining < n {
				n = remaining
			}
			read, err := io.ReadFull(br, buf[:n])
			if err != nil {
				return problem.Wrap(problem.ProtocolError, err)
			}
			if err := send(buf[:read]); err != nil {
				return err
			}
			remaining -= int64(read)
		}
		trailer, err := readCRLFLine(br)
		if err != nil {
			return err
		}
		if trailer != "" {
			return problem.New(problem.ProtocolError, "malformed chunk terminator")
		}
	}
}
