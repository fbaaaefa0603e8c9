package httpchan_test

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/cockpit-project/agent/channel"
	"github.com/cockpit-project/agent/httpchan"
)

type recordSink struct {
	data     [][2]string
	controls []map[string]any
}

func (s *recordSink) SendData(channelID string, body []byte) error {
	s.data = append(s.data, [2]string{channelID, string(body)})
	return nil
}

func (s *recordSink) SendControl(msg map[string]any) error {
	s.controls = append(s.controls, msg)
	return nil
}

func serveOnce(t *testing.T, response string) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		defer ln.Close()
		buf := make([]byte, 4096)
		conn.Read(buf) // drain the request line/headers
		conn.Write([]byte(response))
	}()
	return ln.Addr().String()
}

func TestBasicResponseFraming(t *testing.T) {
	body := strings.Repeat("0", 3068)
	addr := serveOnce(t, "HTTP/1.1 200 OK\r\n\r\n"+body)
	host, port := splitAddr(t, addr)

	sink := &recordSink{}
	pool := httpchan.NewPool()
	defer pool.Close()
	ch := httpchan.New("ch1", "http-stream1", sink, pool)

	if err := ch.Prepare(map[string]any{
		"method": "GET", "path": "/", "address": host, "port": port,
	}); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := ch.PeerDone(); err != nil {
		t.Fatalf("PeerDone: %v", err)
	}

	waitFrames(t, sink, 2)
	if sink.data[0][0] != "ch1" || !strings.Contains(sink.data[0][1], `"status":200`) {
		t.Fatalf("unexpected header frame: %v", sink.data[0])
	}
	if sink.data[1][1] != body {
		t.Fatalf("got body frame of length %d, want %d", len(sink.data[1][1]), len(body))
	}
}

func splitAddr(t *testing.T, addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	var port int
	for _, c := range portStr {
		port = port*10 + int(c-'0')
	}
	return host, port
}

func waitFrames(t *testing.T, sink *recordSink, n int) {
	deadline := time.Now().Add(2 * time.Second)
	for len(sink.data) < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d frames, got %d", n, len(sink.data))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

var _ channel.Channel = (*httpchan.Channel)(nil)
