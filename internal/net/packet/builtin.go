package packet

// Heartbeat is the liveness check. The server sends it empty and the client
// echoes it back.
type Heartbeat struct{}

func NewHeartbeat() *Heartbeat { return &Heartbeat{} }

func (*Heartbeat) Encode(*Writer) {}

func (*Heartbeat) Decode(*Reader) error { return nil }

// ClientUID tells a freshly accepted client the id it must claim in every
// frame it sends.
type ClientUID struct {
	ID byte
}

func NewClientUID() *ClientUID { return &ClientUID{} }

func (p *ClientUID) Encode(w *Writer) { w.WriteC(p.ID) }

func (p *ClientUID) Decode(r *Reader) error {
	p.ID = r.ReadC()
	return nil
}
