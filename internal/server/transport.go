package server

import wsnet "github.com/ws2dgo/server/internal/net"

// NetHandler feeds a WebSocket listener into the server's inbox.
type NetHandler struct {
	Server *Server
}

func (h NetHandler) Connected(c *wsnet.Conn) { h.Server.Accept(c) }

func (h NetHandler) Frame(c *wsnet.Conn, data []byte) { h.Server.Receive(c, data) }
