package wire

import (
	"bytes"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ParamsSize is the fixed size of a ClientParams control frame. The buffer
// is space-padded to this size regardless of payload length so that the
// receiver can read it in one fixed-size DTLS record.
const ParamsSize = 1024

// ClientParams is the configuration pushed to a client immediately after
// its DTLS association is established: its assigned address, DNS, MTU and
// the pushed route.
type ClientParams struct {
	MTU        int
	PeerIP     net.IP
	DNS        net.IP
	RouteIP    net.IP
	RouteMask  net.IP
}

// Encode renders p as a ParamsSize-byte, 0x00-prefixed control frame:
//
//	\x00 m,<mtu> a,<peerip>,32 d,<dns> r,<route>,<rmask>
//
// padded with spaces to ParamsSize bytes total.
func (p ClientParams) Encode() ([]byte, error) {
	if p.PeerIP == nil || p.DNS == nil || p.RouteIP == nil || p.RouteMask == nil {
		return nil, fmt.Errorf("wire: ClientParams missing required field")
	}
	body := fmt.Sprintf("m,%d a,%s,32 d,%s r,%s,%s",
		p.MTU, p.PeerIP.String(), p.DNS.String(), p.RouteIP.String(), p.RouteMask.String())
	if len(body)+1 > ParamsSize {
		return nil, fmt.Errorf("wire: ClientParams body of %d bytes exceeds frame size %d", len(body), ParamsSize)
	}
	buf := make([]byte, ParamsSize)
	for i := range buf {
		buf[i] = ' '
	}
	buf[0] = 0x00
	copy(buf[1:], body)
	return buf, nil
}

// DecodeClientParams parses a ParamsSize-byte control frame produced by
// Encode. It tolerates trailing whitespace padding and ignores unknown
// tokens for forward compatibility.
func DecodeClientParams(frame []byte) (ClientParams, error) {
	if len(frame) == 0 || frame[0] != 0x00 {
		return ClientParams{}, fmt.Errorf("wire: not a ClientParams control frame")
	}
	body := strings.TrimSpace(string(bytes.TrimRight(frame[1:], "\x00")))
	var p ClientParams
	for _, field := range strings.Fields(body) {
		parts := strings.Split(field, ",")
		if len(parts) < 2 {
			continue
		}
		switch parts[0] {
		case "m":
			mtu, err := strconv.Atoi(parts[1])
			if err != nil {
				return ClientParams{}, fmt.Errorf("wire: invalid mtu field %q: %w", field, err)
			}
			p.MTU = mtu
		case "a":
			ip := net.ParseIP(parts[1])
			if ip == nil {
				return ClientParams{}, fmt.Errorf("wire: invalid peer ip field %q", field)
			}
			p.PeerIP = ip
		case "d":
			ip := net.ParseIP(parts[1])
			if ip == nil {
				return ClientParams{}, fmt.Errorf("wire: invalid dns field %q", field)
			}
			p.DNS = ip
		case "r":
			if len(parts) < 3 {
				return ClientParams{}, fmt.Errorf("wire: invalid route field %q", field)
			}
			routeIP := net.ParseIP(parts[1])
			routeMask := net.ParseIP(parts[2])
			if routeIP == nil || routeMask == nil {
				return ClientParams{}, fmt.Errorf("wire: invalid route field %q", field)
			}
			p.RouteIP = routeIP
			p.RouteMask = routeMask
		}
	}
	if p.PeerIP == nil || p.DNS == nil || p.RouteIP == nil || p.RouteMask == nil {
		return ClientParams{}, fmt.Errorf("wire: ClientParams frame missing required field(s): %q", body)
	}
	return p, nil
}
