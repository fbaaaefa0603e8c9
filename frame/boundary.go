package frame

import (
	"bufio"
	"bytes"
	"io"
)

// BoundaryWrite frames body as "<body>\n<boundary>\n", the --interact
// debug transport's framing (spec §4.B, §6: "use \n<boundary>\n framing
// instead of length-prefix"). boundary must not itself appear in body.
func BoundaryWrite(w io.Writer, boundary string, body []byte) error {
	var buf bytes.Buffer
	buf.Write(body)
	buf.WriteByte('\n')
	buf.WriteString(boundary)
	buf.WriteByte('\n')
	return writeAll(w, buf.Bytes())
}

// BoundaryReader pulls successive frame bodies delimited by
// "\n<boundary>\n" off an underlying io.Reader, the decode side of
// BoundaryWrite.
type BoundaryReader struct {
	br       *bufio.Reader
	boundary []byte
}

func NewBoundaryReader(r io.Reader, boundary string) *BoundaryReader {
	return &BoundaryReader{br: bufio.NewReaderSize(r, 4096), boundary: []byte("\n" + boundary + "\n")}
}

// Next reads up to the next boundary delimiter and returns the bytes
// before it, mirroring Reader.Next's graceful-EOF-at-BOF contract: EOF is
// only graceful when nothing at all has been read for this call, checked
// fresh every call rather than once per reader lifetime.
func (r *BoundaryReader) Next() ([]byte, error) {
	var acc []byte
	for {
		chunk, err := r.br.ReadBytes('\n')
		acc = append(acc, chunk...)
		if idx := bytes.Index(acc, r.boundary); idx >= 0 {
			body := acc[:idx]
			// stash any bytes read past the boundary back for the next call
			// by re-wrapping; simplest correct approach given bufio.Reader's
			// API is to only ever consume exactly through the boundary, so
			// rebuild br around the remainder when one exists.
			rest := acc[idx+len(r.boundary):]
			if len(rest) > 0 {
				r.br = bufio.NewReaderSize(io.MultiReader(bytes.NewReader(rest), r.br), 4096)
			}
			return body, nil
		}
		if err != nil {
			if err == io.EOF {
				if len(acc) == 0 {
					return nil, nil
				}
				return nil, ErrBadMessage
			}
			return nil, err
		}
	}
}
