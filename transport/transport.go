// Package transport multiplexes many logical channels over the single
// framed byte stream the agent speaks with its superholder (spec §4.B).
//
// A Transport owns one underlying io.ReadWriteCloser — normally the
// process's stdin/stdout pair, or a --interact boundary-framed pipe in
// debug mode. Every Send is a length-prefixed frame (package frame);
// every frame is either a control message (empty channel id, JSON body)
// or a data frame (non-empty channel id, opaque body) addressed to one
// channel.
/*
 * Grounded on the teacher's transport package: the Send-Queue/receive-loop
 * split of transport/api.go, generalized from an object-stream multiplexer
 * to a map-keyed logical-channel multiplexer, and the per-stream bounded
 * work channel that gives Send its backpressure.
 */
package transport

import (
	"bytes"
	"encoding/json"
	"io"
	"sync"

	"github.com/cockpit-project/agent/cmn/nlog"
	"github.com/cockpit-project/agent/cmn/problem"
	"github.com/cockpit-project/agent/frame"
)

// outboundBurst bounds how many frames may be queued for write before Send
// blocks the caller, the same backpressure role the teacher's workCh plays
// for its object-stream send queue.
const outboundBurst = 256

// Frame is one parsed wire frame: control (ChannelID == "") or data.
type Frame struct {
	ChannelID string
	Body      []byte
}

// IsControl reports whether this frame is a control message (spec §3): a
// JSON object addressed to channel id "".
func (f Frame) IsControl() bool { return f.ChannelID == "" }

// Command unmarshals a control frame's body and returns its "command"
// field. Only valid when IsControl() is true.
func (f Frame) Command() (string, map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(f.Body, &m); err != nil {
		return "", nil, problem.Wrap(problem.ProtocolError, err)
	}
	cmd, _ := m["command"].(string)
	if cmd == "" {
		return "", m, problem.New(problem.ProtocolError, "control frame missing command")
	}
	return cmd, m, nil
}

type outbound struct {
	channelID string
	body      []byte
}

// frameReader is the minimal surface both frame.Reader and
// frame.BoundaryReader satisfy, letting Transport stay agnostic between
// length-prefix and --interact boundary framing.
type frameReader interface {
	Next() ([]byte, error)
}

// Transport reads and writes framed messages over a single underlying
// stream. Callers pull frames with Recv and push them with
// SendData/SendControl; the send side is safe for concurrent use from
// multiple goroutines.
type Transport struct {
	rw    io.ReadWriteCloser
	rd    frameReader
	write func(io.Writer, []byte) error

	workCh chan outbound
	doneCh chan struct{}
	wg     sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// New wraps rw (typically os.Stdin paired with os.Stdout via a small
// io.ReadWriteCloser shim, or a socketpair fd) as a Transport speaking
// the normal length-prefixed wire framing, and starts its background send
// loop.
func New(rw io.ReadWriteCloser) *Transport {
	return newTransport(rw, frame.NewReader(rw), frame.Write)
}

// NewInteract wraps rw as a Transport speaking the --interact debug
// framing: "\n<boundary>\n" delimited frames instead of length prefixes
// (spec §4.B, §6).
func NewInteract(rw io.ReadWriteCloser, boundary string) *Transport {
	return newTransport(rw, frame.NewBoundaryReader(rw, boundary), func(w io.Writer, body []byte) error {
		return frame.BoundaryWrite(w, boundary, body)
	})
}

func newTransport(rw io.ReadWriteCloser, rd frameReader, write func(io.Writer, []byte) error) *Transport {
	t := &Transport{
		rw:     rw,
		rd:     rd,
		write:  write,
		workCh: make(chan outbound, outboundBurst),
		doneCh: make(chan struct{}),
	}
	t.wg.Add(1)
	go t.sendLoop()
	return t
}

// stdioRW adapts the process's stdin/stdout into one ReadWriteCloser, the
// transport's normal channel to its superholder (spec §4.B "Channel to
// the process's stdin/stdout").
type stdioRW struct {
	r io.ReadCloser
	w io.WriteCloser
}

func NewStdio(r io.ReadCloser, w io.WriteCloser) io.ReadWriteCloser {
	return &stdioRW{r: r, w: w}
}

func (s *stdioRW) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s *stdioRW) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s *stdioRW) Close() error {
	werr := s.w.Close()
	rerr := s.r.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// Recv blocks for the next frame and parses it into channel id + body.
// It returns io.EOF when the peer has closed gracefully at a frame
// boundary (spec §4.A), and again on every later call.
func (t *Transport) Recv() (Frame, error) {
	body, err := t.rd.Next()
	if err != nil {
		return Frame{}, err
	}
	if body == nil {
		return Frame{}, io.EOF
	}
	id, payload, err := splitChannelID(body)
	if err != nil {
		return Frame{}, err
	}
	return Frame{ChannelID: id, Body: payload}, nil
}

// splitChannelID peels the channel id prefix off a frame body: everything
// before the first newline is the channel id, so control frames carry
// channel id "" and their body is "\n" followed by the JSON object (see
// joinChannelID below for the symmetric encode). A body with no newline
// is a protocol error.
func splitChannelID(body []byte) (string, []byte, error) {
	nl := bytes.IndexByte(body, '\n')
	if nl < 0 {
		return "", nil, problem.New(problem.ProtocolError, "frame missing channel-id line")
	}
	return string(body[:nl]), body[nl+1:], nil
}

func joinChannelID(channelID string, body []byte) []byte {
	out := make([]byte, 0, len(channelID)+1+len(body))
	out = append(out, channelID...)
	out = append(out, '\n')
	out = append(out, body...)
	return out
}

// SendData queues a data frame addressed to channelID. It blocks if the
// outbound burst is saturated, giving the caller natural backpressure
// instead of an unbounded queue.
func (t *Transport) SendData(channelID string, body []byte) error {
	select {
	case t.workCh <- outbound{channelID, body}:
		return nil
	case <-t.doneCh:
		return t.closeErr
	}
}

// SendControl marshals msg as JSON and queues it as a control frame
// (channel id "").
func (t *Transport) SendControl(msg map[string]any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return problem.Wrap(problem.InternalError, err)
	}
	return t.SendData("", body)
}

func (t *Transport) sendLoop() {
	defer t.wg.Done()
	for {
		select {
		case ob := <-t.workCh:
			wire := joinChannelID(ob.channelID, ob.body)
			if err := t.write(t.rw, wire); err != nil {
				nlog.Errorf("transport: write failed: %v", err)
				t.fail(err)
				return
			}
		case <-t.doneCh:
			return
		}
	}
}

// Close shuts the transport down, unblocking any pending Send and Recv
// calls. Safe to call more than once and from any goroutine.
func (t *Transport) Close() error {
	t.fail(problem.New(problem.Terminated, "transport closed"))
	return t.rw.Close()
}

func (t *Transport) fail(err error) {
	t.closeOnce.Do(func() {
		t.closeErr = err
		close(t.doneCh)
	})
}

// Wait blocks until the send loop has drained and exited, e.g. after
// Close, so callers can be sure no further writes race the underlying
// stream's own Close.
func (t *Transport) Wait() { t.wg.Wait() }
