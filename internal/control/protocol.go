// Package control implements the concentrator's local admin socket: a
// newline-delimited JSON request/response protocol that exposes status,
// the live tunnel list, and a remote shutdown trigger. It is the interface
// an externally-owned interactive console (out of scope per spec §1) is
// expected to drive.
package control

import (
	"time"

	"github.com/miguelemosreverte/vpnconcentrator/internal/bandwidth"
)

// Request is one line of client input.
type Request struct {
	Method string `json:"method"`
	ID     string `json:"id,omitempty"`
}

// Response is one line of server output answering a Request with the same
// ID.
type Response struct {
	ID     string `json:"id,omitempty"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// StatusResult answers the "status" method.
type StatusResult struct {
	UptimeSeconds   int64  `json:"uptime_seconds"`
	TunnelCount     int    `json:"tunnel_count"`
	AddressesInUse  int    `json:"addresses_in_use"`
	AddressCapacity uint32 `json:"address_capacity"`
	BytesInTotal    uint64 `json:"bytes_in_total"`
	BytesOutTotal   uint64 `json:"bytes_out_total"`

	// Bandwidth is the zero value when no aggregate bandwidth.Tracker was
	// configured (Supervisor.Config.Aggregate == nil).
	Bandwidth bandwidth.Snapshot `json:"bandwidth"`
}

// TunnelInfo is one entry of the "tunnels" method's result, mirroring
// SPEC_FULL.md's TunnelSnapshot.
type TunnelInfo struct {
	TunnelId    int       `json:"tunnel_id"`
	Iface       string    `json:"iface"`
	PeerIP      string    `json:"peer_ip"`
	ServerIP    string    `json:"server_ip"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
	BytesIn     uint64    `json:"bytes_in"`
	BytesOut    uint64    `json:"bytes_out"`
	Timer       int       `json:"timer"`
}

const (
	MethodStatus   = "status"
	MethodTunnels  = "tunnels"
	MethodShutdown = "shutdown"
)
