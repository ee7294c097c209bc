package worker

import (
	"net"
	"os"
	"sync"
	"time"

	"github.com/pion/dtls/v2"

	"github.com/miguelemosreverte/vpnconcentrator/internal/addrpool"
	"github.com/miguelemosreverte/vpnconcentrator/internal/tunreg"
)

// Stats is a point-in-time, copy-safe snapshot of one tunnel's counters,
// matching SPEC_FULL.md's TunnelSnapshot fields relevant to a live worker.
type Stats struct {
	BytesIn, BytesOut uint64
	Timer             int
	ConnectedAt       time.Time
}

// Tunnel is the resource aggregate owned by exactly one TunnelWorker for
// the lifetime of one peer session: a TUN interface, two pool addresses,
// and a DTLS association. Close releases all of them, idempotently.
type Tunnel struct {
	Id         tunreg.TunnelId
	Iface      string
	ServerIP   net.IP
	PeerIP     net.IP
	RemoteAddr net.Addr

	tunFile *os.File
	dtls    *dtls.Conn

	pool     *addrpool.Pool
	registry *tunreg.Registry

	mu        sync.Mutex
	stats     Stats
	closeOnce sync.Once
}

// newTunnel wraps already-provisioned resources into a Tunnel, ready for
// the forwarding loop.
func newTunnel(t *tunreg.Tunnel, conn *dtls.Conn, remote net.Addr, pool *addrpool.Pool, reg *tunreg.Registry) *Tunnel {
	return &Tunnel{
		Id:         t.Id,
		Iface:      t.Name,
		ServerIP:   t.ServerIP,
		PeerIP:     t.PeerIP,
		RemoteAddr: remote,
		tunFile:    t.File,
		dtls:       conn,
		pool:       pool,
		registry:   reg,
		stats:      Stats{ConnectedAt: time.Now()},
	}
}

// Snapshot returns a copy of the tunnel's current counters, safe to read
// concurrently with the forwarding loop.
func (t *Tunnel) Snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

func (t *Tunnel) addBytesOut(n int) {
	t.mu.Lock()
	t.stats.BytesOut += uint64(n)
	t.mu.Unlock()
}

func (t *Tunnel) addBytesIn(n int) {
	t.mu.Lock()
	t.stats.BytesIn += uint64(n)
	t.mu.Unlock()
}

func (t *Tunnel) setTimer(v int) {
	t.mu.Lock()
	t.stats.Timer = v
	t.mu.Unlock()
}

// Close performs the full teardown sequence from spec §4.4, guaranteed
// idempotent so it is safe to call from every exit path (normal loop
// break, setup failure, panic recovery) without double-freeing resources.
func (t *Tunnel) Close() {
	t.closeOnce.Do(func() {
		if t.dtls != nil {
			t.dtls.Close()
		}
		// registry.Close closes the TUN file descriptor and deletes the
		// interface; closing tunFile here too would double-close it.
		if t.registry != nil {
			t.registry.Close(t.Id)
		}
		if t.pool != nil {
			if t.ServerIP != nil {
				t.pool.Release(t.ServerIP)
			}
			if t.PeerIP != nil {
				t.pool.Release(t.PeerIP)
			}
		}
	})
}
