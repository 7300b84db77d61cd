package query

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

const maxDatagram = 16384

// UDPTransport opens one unconnected UDP socket per probe.
type UDPTransport struct {
	// LocalAddr is the bind address, ":0" when empty.
	LocalAddr string
}

// NewUDPTransport returns a transport bound to an ephemeral port.
func NewUDPTransport() *UDPTransport {
	return &UDPTransport{}
}

// Open allocates the probe socket.
func (t *UDPTransport) Open(ctx context.Context) (Session, error) {
	local := t.LocalAddr
	if local == "" {
		local = ":0"
	}
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", local)
	if err != nil {
		return nil, fmt.Errorf("listen udp: %w", err)
	}
	return &udpSession{conn: conn}, nil
}

type udpSession struct {
	conn net.PacketConn
}

// Status sends getstatus and waits for the matching statusResponse. Datagrams
// from other peers, other packet types and foreign challenges are ignored.
func (s *udpSession) Status(ctx context.Context, req Request) (*StatusResponse, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(req.Address, strconv.Itoa(req.Port)))
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", req.Address, err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	if _, err := s.conn.WriteTo(buildGetStatus(req.Challenge), addr); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrSessionClosed
		}
		return nil, fmt.Errorf("send getstatus: %w", err)
	}

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := s.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil, ErrSessionClosed
			}
			return nil, fmt.Errorf("read statusResponse: %w", err)
		}
		if !sameEndpoint(from, addr) {
			continue
		}
		resp, err := ParseStatusResponse(buf[:n])
		if err != nil {
			continue
		}
		if echoed, ok := resp.Info["challenge"]; ok && req.Challenge != "" && echoed != req.Challenge {
			continue
		}
		return resp, nil
	}
}

func (s *udpSession) Close() error {
	return s.conn.Close()
}

func buildGetStatus(challenge string) []byte {
	payload := append([]byte{}, oobPrefix...)
	payload = append(payload, "getstatus"...)
	if challenge != "" {
		payload = append(payload, ' ')
		payload = append(payload, challenge...)
	}
	return append(payload, '\n')
}

func sameEndpoint(from net.Addr, want *net.UDPAddr) bool {
	udp, ok := from.(*net.UDPAddr)
	if !ok {
		return false
	}
	return udp.Port == want.Port && udp.IP.Equal(want.IP)
}
