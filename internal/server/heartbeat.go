package server

import (
	"github.com/ws2dgo/server/internal/net/packet"
	"go.uber.org/zap"
)

// startHeartbeat schedules the liveness sweep. A client that has not answered
// the previous heartbeat by the next sweep is evicted.
func (s *Server) startHeartbeat() {
	cycle := s.cfg.HeartbeatTicks()
	if cycle <= 0 {
		return
	}
	s.tasks.RunTaskRepeatedly(s.heartbeat, cycle)
	s.log.Debug("heartbeat scheduled", zap.Int64("cycle_ticks", cycle))
}

func (s *Server) heartbeat() {
	beat, err := s.packets.Encode(&packet.Heartbeat{})
	if err != nil {
		s.log.Error("heartbeat not registered", zap.Error(err))
		return
	}
	s.clients.ForEach(func(c *Client) {
		if !c.verified {
			s.Disconnect(c, ReasonHeartbeat)
			return
		}
		c.verified = false
		c.transport.Send(beat)
	})
}

func handleHeartbeat(_ *Server, c *Client, _ *packet.Heartbeat) (packet.Payload, error) {
	c.verified = true
	return nil, nil
}
