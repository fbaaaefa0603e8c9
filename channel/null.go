package channel

// Null is the "null" payload: accepts the open, goes Ready, drops every
// data frame it receives, and closes cleanly. Used by the browser side to
// probe channel lifecycle without side effects.
type Null struct {
	*Base
}

func NewNull(id string, sink Sink) *Null {
	return &Null{Base: NewBase(id, "null", sink)}
}

func (n *Null) Prepare(map[string]any) error {
	n.SetReady()
	return nil
}

func (n *Null) Data([]byte) error { return nil }

func (n *Null) PeerDone() error { return nil }

func (n *Null) Close(prob string) { n.SendClose(prob) }
