// Package httpchan implements the HTTP channel payload (http-stream1/2)
// and its keep-alive connection pool (spec §4.C).
/*
 * The pool's idle-expiry collector is grounded on the teacher's
 * transport/collect.go: a container/heap min-heap of entries ordered by
 * expiry, driven by one ticker goroutine and a control channel, rather
 * than one timer.AfterFunc per entry.
 */
package httpchan

import (
	"container/heap"
	"io"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// IdleTimeout is the fixed 10-second idle-expiry the spec mandates for
// every pooled connection (spec §4.C "Pool").
const IdleTimeout = 10 * time.Second

type poolEntry struct {
	name    string
	stream  io.ReadWriteCloser
	expires time.Time
	index   int // heap index, maintained by container/heap callbacks
}

// entryHeap is a min-heap ordered by expiry, the same role gc.heap plays
// in the teacher's collector for per-stream idle ticks.
type entryHeap []*poolEntry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].expires.Before(h[j].expires) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *entryHeap) Push(x any)         { e := x.(*poolEntry); e.index = len(*h); *h = append(*h, e) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Pool is the process-singleton named-connection pool (spec §5 "The pool
// is single-owner on the event-loop thread"). All public methods are
// still safe for concurrent use; callers that want the spec's single
// "main event loop" serialization get it for free because the pool's own
// state is guarded by one mutex.
type Pool struct {
	mu      sync.Mutex
	byName  map[string]*poolEntry
	h       entryHeap
	ticker  *time.Ticker
	stopCh  chan struct{}
	nowFunc func() time.Time
}

func NewPool() *Pool {
	p := &Pool{
		byName:  make(map[string]*poolEntry),
		stopCh:  make(chan struct{}),
		nowFunc: time.Now,
	}
	heap.Init(&p.h)
	p.ticker = time.NewTicker(time.Second)
	go p.run()
	return p
}

// Checkin stores stream under name, replacing (and closing) any prior
// entry for that name, arms a 10-second idle timer, and (when stream
// supports it) starts a liveness watcher that evicts the entry the
// moment the peer closes it out from under the pool (spec §4.C "the pool
// evicts an entry on peer-close").
func (p *Pool) Checkin(name string, stream io.ReadWriteCloser) {
	p.mu.Lock()
	if old, ok := p.byName[name]; ok {
		p.removeLocked(old)
		old.stream.Close()
	}
	e := &poolEntry{name: name, stream: stream, expires: p.nowFunc().Add(IdleTimeout)}
	p.byName[name] = e
	heap.Push(&p.h, e)
	p.mu.Unlock()

	if sc, ok := stream.(syscall.Conn); ok {
		go p.watch(name, stream, sc)
	}
}

// watch polls stream for the peer closing it while it sits idle in the
// pool, using a MSG_PEEK recv so it never consumes a byte a later
// Checkout would need — the same non-destructive liveness check
// net/http's idle-connection reaper performs on pooled keep-alive
// sockets. It stops as soon as name's entry is gone, whether from
// Checkout, Drop, idle-timeout reap, or Close.
func (p *Pool) watch(name string, stream io.ReadWriteCloser, sc syscall.Conn) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
		case <-p.stopCh:
			return
		}
		p.mu.Lock()
		e, ok := p.byName[name]
		still := ok && e.stream == stream
		p.mu.Unlock()
		if !still {
			return
		}
		if peerClosed(sc) {
			p.Drop(name)
			return
		}
	}
}

// peerClosed reports whether a MSG_PEEK recv on sc's file descriptor
// observes EOF: n == 0 with no error means the peer sent FIN. EAGAIN
// (nothing pending) and any other transient error are treated as "still
// alive" — this is a liveness probe, not a read.
func peerClosed(sc syscall.Conn) bool {
	rc, err := sc.SyscallConn()
	if err != nil {
		return false
	}
	var n int
	var peekErr error
	if err := rc.Read(func(fd uintptr) bool {
		var buf [1]byte
		n, _, peekErr = unix.Recvfrom(int(fd), buf[:], unix.MSG_PEEK|unix.MSG_DONTWAIT)
		return true
	}); err != nil {
		return false
	}
	return peekErr == nil && n == 0
}

// Checkout removes and returns the entry for name, or (nil, false) if
// none exists (either never checked in, expired, or already taken).
func (p *Pool) Checkout(name string) (io.ReadWriteCloser, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.byName[name]
	if !ok {
		return nil, false
	}
	p.removeLocked(e)
	return e.stream, true
}

// Drop removes name's entry (if present) and closes its stream, used
// when the pool learns the peer closed the connection out from under it.
func (p *Pool) Drop(name string) {
	p.mu.Lock()
	e, ok := p.byName[name]
	if ok {
		p.removeLocked(e)
	}
	p.mu.Unlock()
	if ok {
		e.stream.Close()
	}
}

func (p *Pool) removeLocked(e *poolEntry) {
	delete(p.byName, e.name)
	if e.index >= 0 && e.index < len(p.h) && p.h[e.index] == e {
		heap.Remove(&p.h, e.index)
	}
}

func (p *Pool) run() {
	for {
		select {
		case <-p.ticker.C:
			p.reap()
		case <-p.stopCh:
			p.ticker.Stop()
			return
		}
	}
}

// reap evicts every entry whose expiry has passed, cheapest-first since
// the heap root is always the earliest expiry.
func (p *Pool) reap() {
	now := p.nowFunc()
	var expired []*poolEntry
	p.mu.Lock()
	for len(p.h) > 0 && !p.h[0].expires.After(now) {
		e := heap.Pop(&p.h).(*poolEntry)
		delete(p.byName, e.name)
		expired = append(expired, e)
	}
	p.mu.Unlock()
	for _, e := range expired {
		e.stream.Close()
	}
}

// Close stops the collector goroutine and closes every pooled stream.
func (p *Pool) Close() {
	close(p.stopCh)
	p.mu.Lock()
	entries := make([]*poolEntry, 0, len(p.byName))
	for _, e := range p.byName {
		entries = append(entries, e)
	}
	p.byName = make(map[string]*poolEntry)
	p.h = nil
	p.mu.Unlock()
	for _, e := range entries {
		e.stream.Close()
	}
}
