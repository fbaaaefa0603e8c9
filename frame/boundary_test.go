package frame_test

import (
	"bytes"
	"testing"

	"github.com/cockpit-project/agent/frame"
)

func TestBoundaryRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := frame.BoundaryWrite(&buf, "BOUNDARY", []byte("hello")); err != nil {
		t.Fatalf("BoundaryWrite: %v", err)
	}
	if err := frame.BoundaryWrite(&buf, "BOUNDARY", []byte("world")); err != nil {
		t.Fatalf("BoundaryWrite: %v", err)
	}

	r := frame.NewBoundaryReader(&buf, "BOUNDARY")
	got, err := r.Next()
	if err != nil || string(got) != "hello" {
		t.Fatalf("Next() = (%q, %v), want hello", got, err)
	}
	got, err = r.Next()
	if err != nil || string(got) != "world" {
		t.Fatalf("Next() = (%q, %v), want world", got, err)
	}
	got, err = r.Next()
	if err != nil || got != nil {
		t.Fatalf("Next() at EOF = (%q, %v), want (nil, nil)", got, err)
	}
}

func TestBoundaryReaderMidStreamEOFIsBad(t *testing.T) {
	r := frame.NewBoundaryReader(bytes.NewReader([]byte("partial frame, no boundary")), "B")
	if _, err := r.Next(); err != frame.ErrBadMessage {
		t.Fatalf("got %v, want ErrBadMessage", err)
	}
}
