package httpchan_test

import (
	"errors"
	"io"
	"net"
	"sync/atomic"

	"github.com/cockpit-project/agent/httpchan"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

type fakeStream struct {
	closed atomic.Bool
}

func (f *fakeStream) Read([]byte) (int, error)  { return 0, errors.New("not implemented") }
func (f *fakeStream) Write([]byte) (int, error) { return 0, errors.New("not implemented") }
func (f *fakeStream) Close() error              { f.closed.Store(true); return nil }

var _ = Describe("Pool", func() {
	It("returns the same stream that was checked in", func() {
		p := httpchan.NewPool()
		defer p.Close()

		s := &fakeStream{}
		p.Checkin("pool-a", s)
		got, ok := p.Checkout("pool-a")
		Expect(ok).To(BeTrue())
		Expect(got).To(BeIdenticalTo(io.ReadWriteCloser(s)))
	})

	It("reports no entry for a name never checked in", func() {
		p := httpchan.NewPool()
		defer p.Close()

		_, ok := p.Checkout("nope")
		Expect(ok).To(BeFalse())
	})

	It("closes and replaces a prior entry with the same name", func() {
		p := httpchan.NewPool()
		defer p.Close()

		first := &fakeStream{}
		second := &fakeStream{}
		p.Checkin("pool-a", first)
		p.Checkin("pool-a", second)

		Eventually(first.closed.Load).Should(BeTrue())

		got, ok := p.Checkout("pool-a")
		Expect(ok).To(BeTrue())
		Expect(got).To(BeIdenticalTo(io.ReadWriteCloser(second)))
	})

	It("checkout removes the entry so a second checkout misses", func() {
		p := httpchan.NewPool()
		defer p.Close()

		p.Checkin("pool-a", &fakeStream{})
		_, ok := p.Checkout("pool-a")
		Expect(ok).To(BeTrue())
		_, ok = p.Checkout("pool-a")
		Expect(ok).To(BeFalse())
	})

	It("drop closes and removes an entry out from under the pool", func() {
		p := httpchan.NewPool()
		defer p.Close()

		s := &fakeStream{}
		p.Checkin("pool-a", s)
		p.Drop("pool-a")
		Expect(s.closed.Load()).To(BeTrue())
		_, ok := p.Checkout("pool-a")
		Expect(ok).To(BeFalse())
	})

	It("evicts an entry when the peer closes it while idle", func() {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		defer ln.Close()

		acceptedCh := make(chan net.Conn, 1)
		go func() {
			srv, err := ln.Accept()
			if err == nil {
				acceptedCh <- srv
			}
		}()

		client, err := net.Dial("tcp", ln.Addr().String())
		Expect(err).NotTo(HaveOccurred())
		srv := <-acceptedCh

		p := httpchan.NewPool()
		defer p.Close()
		p.Checkin("pool-a", client)

		srv.Close() // peer closes the idle pooled connection out from under us

		Eventually(func() bool {
			_, ok := p.Checkout("pool-a")
			return ok
		}, "3s", "50ms").Should(BeFalse())
	})

	It("close tears down every pooled stream", func() {
		p := httpchan.NewPool()
		a, b := &fakeStream{}, &fakeStream{}
		p.Checkin("a", a)
		p.Checkin("b", b)
		p.Close()
		Expect(a.closed.Load()).To(BeTrue())
		Expect(b.closed.Load()).To(BeTrue())
	})
})
