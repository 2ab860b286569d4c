package server

import (
	"context"
	"net"

	"github.com/Mmx233/klf/config"
	"github.com/Mmx233/klf/protocol"
)

// udpAckThrottle limits UdpAcknowledge replies to one per client per interval.
const udpAckThrottle = config.DefaultUDPAckThrottle

// udpLoop reads datagrams from pc and hands those of handshaken senders to the relay loop.
func (s *Server) udpLoop(ctx context.Context, pc net.PacketConn) {
	logger := s.logger.With().Str("protocol", "udp").Logger()
	for {
		bufPtr := protocol.GetReadBuffer()
		buf := *bufPtr

		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			protocol.PutReadBuffer(bufPtr)
			select {
			case <-ctx.Done():
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			logger.Debug().Err(err).Msg("read UDP packet failed")
			return
		}

		s.processDatagram(buf[:n], addr)
		protocol.PutReadBuffer(bufPtr)
	}
}

// processDatagram validates one datagram. The frame payload is copied out of data.
func (s *Server) processDatagram(data []byte, addr net.Addr) {
	sender, frame, err := protocol.DecodeDatagram(data)
	if err != nil {
		s.metrics.Datagrams.WithLabelValues("malformed").Inc()
		return
	}

	sess, ok := s.slots.Get(int(sender))
	if !ok || sess.State() != StateActive {
		s.metrics.Datagrams.WithLabelValues("unknown_sender").Inc()
		return
	}
	if hostOf(addr) != sess.ip {
		s.metrics.Datagrams.WithLabelValues("address_mismatch").Inc()
		return
	}

	s.metrics.Datagrams.WithLabelValues("accepted").Inc()
	s.deliver(inbound{
		session: sess,
		id:      protocol.ParseClientMessageID(frame.ID),
		payload: frame.Payload,
		udp:     true,
	})
}
