package event

// ConnectionOpened is emitted after a client has been given an id and sent
// its ClientUID packet.
type ConnectionOpened struct {
	ClientID   int
	RemoteAddr string
}

// ConnectionClosed is emitted once per client, after its id has been
// released.
type ConnectionClosed struct {
	ClientID   int
	RemoteAddr string
	Reason     string
}
