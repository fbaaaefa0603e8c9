package channel

// Echo is the "echo" payload: goes Ready and reflects every data frame
// back to the peer unchanged, used to exercise the multiplexer's data
// path end to end without a real upstream.
type Echo struct {
	*Base
}

func NewEcho(id string, sink Sink) *Echo {
	return &Echo{Base: NewBase(id, "echo", sink)}
}

func (e *Echo) Prepare(map[string]any) error {
	e.SetReady()
	return nil
}

func (e *Echo) Data(body []byte) error {
	if e.IsClosed() {
		return nil
	}
	return e.SendData(body)
}

func (e *Echo) PeerDone() error { return nil }

func (e *Echo) Close(prob string) { e.SendClose(prob) }
