// Package frame implements Cockpit's wire framing: ASCII-decimal
// length-prefixed frames on a byte stream (spec §4.A, §6).
//
// Wire form: `<digits>\n<body>` where digits is 1-8 ASCII decimal digits
// with no leading zero, and body is exactly that many bytes. Empty bodies
// are invalid.
/*
 * Grounded on the real bridge's src/common/cockpitframe.c (a single
 * left-to-right scan of up to 8 digit bytes) and shaped, package-wise,
 * after the teacher's transport package split between the wire codec and
 * the stream built on top of it.
 */
package frame

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

// ErrBadMessage is returned for any framing violation: a length prefix
// that isn't digits-then-newline, a leading zero, a zero length, more than
// 8 digits, or a short body read.
var ErrBadMessage = errors.New("bad-message")

const maxLenDigits = 8

// Parse scans a length prefix from the head of input. It returns the
// parsed body length and the number of bytes consumed by the prefix
// (digits + newline). A return of (0, 0, nil) means more data is needed
// before a decision can be made.
func Parse(input []byte) (size, consumed int, err error) {
	var n int
	for n = 0; n < len(input); n++ {
		c := input[n]
		if n >= maxLenDigits || c < '0' || c > '9' {
			break
		}
		size = size*10 + int(c-'0')
	}
	if n == len(input) {
		// ran out of input without finding a terminator: want more data,
		// unless we already have the max digit count with no newline yet.
		return 0, 0, nil
	}
	if size == 0 || input[n] != '\n' || input[0] == '0' {
		return 0, 0, ErrBadMessage
	}
	return size, n + 1, nil
}

// Write frames body as "<len>\n<body>" and writes it to w, retrying on
// EINTR/EAGAIN the way a blocking fd write loop must (spec §4.A). Writing
// a zero-length body is a caller error.
func Write(w io.Writer, body []byte) error {
	if len(body) == 0 {
		return fmt.Errorf("frame: refusing to write an empty body")
	}
	prefix := []byte(fmt.Sprintf("%d\n", len(body)))
	if err := writeAll(w, prefix); err != nil {
		return err
	}
	return writeAll(w, body)
}

func writeAll(w io.Writer, data []byte) error {
	for len(data) > 0 {
		n, err := w.Write(data)
		if n > 0 {
			data = data[n:]
		}
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
				continue
			}
			return err
		}
	}
	return nil
}

// Reader pulls successive frame bodies off an underlying io.Reader,
// buffering just enough to find each length prefix.
type Reader struct {
	br *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 4096)}
}

// Next reads one frame body. It returns (nil, nil) on a graceful
// end-of-stream: EOF encountered with nothing at all read yet for this
// call (spec §4.A "Treat EOF at offset 0 as a graceful end"), matching
// cockpitframe.c's read_exactly, which re-evaluates "offset == 0" fresh
// on every call rather than once per connection. Any other EOF, or a
// framing violation, returns ErrBadMessage or the underlying I/O error.
func (r *Reader) Next() ([]byte, error) {
	var prefix []byte
	for {
		b, err := r.br.Peek(len(prefix) + 1)
		if len(b) > len(prefix) {
			prefix = append(prefix[:0:0], b...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(prefix) == 0 {
					return nil, nil
				}
				return nil, ErrBadMessage
			}
			return nil, err
		}
		size, consumed, perr := Parse(prefix)
		if perr != nil {
			return nil, perr
		}
		if consumed == 0 {
			if len(prefix) >= maxLenDigits+1 {
				return nil, ErrBadMessage
			}
			continue
		}
		if _, err := r.br.Discard(consumed); err != nil {
			return nil, err
		}
		body := make([]byte, size)
		if _, err := io.ReadFull(r.br, body); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, ErrBadMessage
			}
			return nil, err
		}
		return body, nil
	}
}

// Zero overwrites buf with zero bytes. Used to scrub secrets (authorize
// responses, passwords) immediately after use (spec §4.F, §5).
func Zero(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}
