package router

import (
	"github.com/cockpit-project/agent/channel"
	"github.com/cockpit-project/agent/httpchan"
)

// DefaultPayloadTable returns the fixed payload-string -> constructor
// mapping every agent installs (spec §4.D "Payload table"). http-stream1
// and http-stream2 share one connection pool; websocket-stream1,
// dbus-json3, stream, packet, and the filesystem payloads are routed to
// the same local/external-bridge decision as everything else — here they
// resolve to "not-supported" unless a rule intercepts them first, mirroring
// payloads this core intentionally leaves to an external bridge (spec §1
// Non-goals: "reimplementing the wire formats of HTTP or websocket beyond
// what the channel requires").
func DefaultPayloadTable() map[string]Constructor {
	pool := httpchan.NewPool()
	table := map[string]Constructor{
		"null": func(id, payload string, sink channel.Sink) channel.Channel {
			return channel.NewNull(id, sink)
		},
		"echo": func(id, payload string, sink channel.Sink) channel.Channel {
			return channel.NewEcho(id, sink)
		},
		"http-stream1": func(id, payload string, sink channel.Sink) channel.Channel {
			return httpchan.New(id, payload, sink, pool)
		},
		"http-stream2": func(id, payload string, sink channel.Sink) channel.Channel {
			return httpchan.New(id, payload, sink, pool)
		},
		"metrics1": func(id, payload string, sink channel.Sink) channel.Channel {
			return NewMetricsChannel(id, sink)
		},
	}
	return table
}
