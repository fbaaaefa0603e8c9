package authorize

import (
	"io"

	"github.com/cockpit-project/agent/frame"
)

// Conn adapts a raw socketpair end into the frameReadWriter AskPassword
// needs: framed writes via frame.Write, framed reads via a frame.Reader.
type Conn struct {
	w io.Writer
	r *frame.Reader
}

func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{w: rw, r: frame.NewReader(rw)}
}

func (c *Conn) Write(p []byte) (int, error) { return c.w.Write(p) }

func (c *Conn) NextFrame() ([]byte, error) { return c.r.Next() }
