// Package wire implements the peer-facing frame formats carried over the
// pre-DTLS probe and the DTLS association: the connect probe, the
// disconnect/keepalive control frames, and the ClientParams payload.
package wire

// Control frame bytes. A control frame is any DTLS (or pre-DTLS) payload
// whose first byte is 0x00; an IP packet's first byte is never 0x00 because
// the IPv4/IPv6 version nibble guarantees a non-zero high nibble.
const (
	// ConnectProbe is sent cleartext, pre-DTLS, by the client to request
	// that the server begin a DTLS handshake on the socket it arrived on.
	ConnectProbe = 0x01

	// Disconnect is sent by the client inside DTLS to request a graceful
	// close of the tunnel.
	Disconnect = 0x02
)

// IsConnectProbe reports whether data is the exact two-byte connect probe
// {0x00, ConnectProbe}.
func IsConnectProbe(data []byte) bool {
	return len(data) == 2 && data[0] == 0x00 && data[1] == ConnectProbe
}

// IsControlFrame reports whether data is a control frame, i.e. its first
// byte is 0x00. An empty slice is not a control frame; callers treat a
// zero-length DTLS record as peer-closed before this check runs.
func IsControlFrame(data []byte) bool {
	return len(data) > 0 && data[0] == 0x00
}

// IsDisconnect reports whether a control frame is the two-byte disconnect
// request {0x00, Disconnect}.
func IsDisconnect(data []byte) bool {
	return len(data) == 2 && data[0] == 0x00 && data[1] == Disconnect
}

// IsKeepalive reports whether a control frame is the one-byte keepalive
// {0x00}.
func IsKeepalive(data []byte) bool {
	return len(data) == 1 && data[0] == 0x00
}

// Keepalive returns a fresh one-byte keepalive frame.
func Keepalive() []byte {
	return []byte{0x00}
}

// DisconnectFrame returns the two-byte disconnect control frame.
func DisconnectFrame() []byte {
	return []byte{0x00, Disconnect}
}

// ConnectProbeFrame returns the two-byte pre-DTLS connect probe.
func ConnectProbeFrame() []byte {
	return []byte{0x00, ConnectProbe}
}

// IsIPPacket reports whether data should be written to the TUN device: any
// non-empty frame whose first byte is not 0x00.
func IsIPPacket(data []byte) bool {
	return len(data) > 0 && data[0] != 0x00
}
