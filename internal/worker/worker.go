// Package worker implements the TunnelWorker: the per-peer setup sequence,
// the non-blocking bidirectional forwarding loop with its adaptive
// keepalive/timeout timer, and guaranteed teardown.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/miguelemosreverte/vpnconcentrator/internal/addrpool"
	"github.com/miguelemosreverte/vpnconcentrator/internal/dtlslistener"
	"github.com/miguelemosreverte/vpnconcentrator/internal/geoinfo"
	"github.com/miguelemosreverte/vpnconcentrator/internal/tunreg"
	"github.com/miguelemosreverte/vpnconcentrator/internal/wire"
)

// pollInterval is the idle-loop sleep from spec §4.4's forwarding loop.
const pollInterval = idleStepMillis * time.Millisecond

// scratchSize is the one-packet scratch buffer size shared by both
// directions of the forwarding loop (spec §4.5: "32 KiB").
const scratchSize = 32 * 1024

// EventKind enumerates the reasons a tunnel entered CLOSING, mirroring
// SPEC_FULL.md's LifecycleEvent.event enum.
type EventKind string

const (
	EventConnected          EventKind = "CONNECTED"
	EventDisconnected       EventKind = "DISCONNECTED"
	EventTimedOut           EventKind = "TIMED_OUT"
	EventResourceExhausted  EventKind = "RESOURCE_EXHAUSTED"
	EventOSError            EventKind = "OS_ERROR"
	EventPeerError          EventKind = "PEER_ERROR"
	// EventGeoInfo is emitted once, asynchronously, after CONNECTED, when a
	// geoinfo lookup of the peer's remote address succeeds. It never
	// delays the handshake or the forwarding loop (spec §4.11).
	EventGeoInfo EventKind = "GEO_INFO"
)

// LifecycleEvent is emitted once per ACTIVE -> CLOSING transition, and
// once for the CONNECTED transition, to whatever Sink the Supervisor has
// wired up (auditstore, statusfeed). Emission is always best-effort.
type LifecycleEvent struct {
	Time       time.Time
	TunnelId   tunreg.TunnelId
	PeerIP     net.IP
	ServerIP   net.IP
	RemoteAddr net.Addr
	Event      EventKind
	Reason     string
	BytesIn    uint64
	BytesOut   uint64
	Duration   time.Duration

	// GeoCountry/GeoCity/GeoISP are set only on an EventGeoInfo event.
	GeoCountry string
	GeoCity    string
	GeoISP     string
}

// Sink receives LifecycleEvents. Implementations must not block: the
// forwarding loop's teardown path depends on Emit returning promptly.
// Deps.Lifecycle is expected to already be wrapped in an AsyncSink by
// whoever builds Deps (the Supervisor), so a slow underlying sink never
// stalls Emit's caller.
type Sink interface {
	Emit(LifecycleEvent)
}

// Deps is everything a TunnelWorker needs that outlives any single tunnel.
type Deps struct {
	Pool     *addrpool.Pool
	Registry *tunreg.Registry
	Listener *dtlslistener.Listener
	Port     int
	MTU      int
	DNS      net.IP
	RouteIP  net.IP
	RouteMask net.IP

	// SetupMu serializes the compound "allocate addresses + id + create
	// TUN" critical section across concurrently running workers.
	SetupMu *sync.Mutex

	// Lifecycle receives connect/disconnect events. May be nil.
	Lifecycle Sink

	// GeoLookup, if non-nil, is used to asynchronously enrich the
	// CONNECTED event with the peer's country/city/ISP (spec §4.11).
	GeoLookup geoinfo.Lookuper

	// Register/Unregister let the Supervisor maintain the live worker set
	// used by Snapshot(). Both may be nil.
	Register   func(*Tunnel)
	Unregister func(*Tunnel)

	// First marks the very first TunnelWorker the Supervisor spawns. Its
	// inability to provision resources or bind is fatal to the process
	// (ConfigError/OsProvisioningError at startup); every later worker's
	// failure is scoped to that worker only.
	First bool

	// Fatal aborts the process. Overridable in tests; defaults to log.Fatalf.
	Fatal func(format string, args ...any)
}

func (d Deps) fatal(format string, args ...any) {
	if d.Fatal != nil {
		d.Fatal(format, args...)
		return
	}
	log.Fatalf(format, args...)
}

func (d Deps) emit(ev LifecycleEvent) {
	if d.Lifecycle != nil {
		d.Lifecycle.Emit(ev)
	}
}

// Serve runs one TunnelWorker to completion: it provisions resources,
// accepts exactly one DTLS peer, spawns its successor, and then runs the
// forwarding loop until the peer disconnects, times out, errors, or ctx is
// canceled. It never returns an error to the caller; all failures are
// logged and, where fatal to this worker only, simply end the goroutine.
func Serve(ctx context.Context, deps Deps) {
	tun, err := setup(deps)
	if err != nil {
		if deps.First {
			deps.fatal("[worker] first worker could not provision resources: %v", err)
		}
		kind := EventOSError
		if errors.Is(err, addrpool.ErrExhausted) {
			kind = EventResourceExhausted
		}
		deps.emit(LifecycleEvent{Time: time.Now(), Event: kind, Reason: err.Error()})
		log.Printf("[worker] setup failed, worker exiting without spawning a successor: %v", err)
		return
	}

	accepted, err := deps.Listener.AcceptOne(deps.Port)
	if err != nil {
		deps.Registry.Close(tun.Id)
		deps.Pool.Release(tun.ServerIP)
		deps.Pool.Release(tun.PeerIP)
		if deps.First {
			deps.fatal("[worker] first worker could not bind: %v", err)
		}
		log.Printf("[worker] accept_one failed: %v", err)
		return
	}

	t := newTunnel(tun, accepted.Conn, accepted.Peer, deps.Pool, deps.Registry)
	// Deferred immediately: teardown must run on every exit path from here
	// on, including a panic inside runForwardingLoop (spec §4.4).
	defer t.Close()

	// Spawn the successor before entering the forwarding loop: this is
	// the only concurrency-creation point (spec §4.4 step 6). Only the
	// very first worker's failures are process-fatal.
	successorDeps := deps
	successorDeps.First = false
	go Serve(ctx, successorDeps)

	if deps.Register != nil {
		deps.Register(t)
	}
	deps.emit(LifecycleEvent{
		Time: time.Now(), TunnelId: t.Id, PeerIP: t.PeerIP, ServerIP: t.ServerIP,
		RemoteAddr: t.RemoteAddr, Event: EventConnected,
	})

	enrichGeoInfo(t, deps)

	sendClientParams(t, deps)

	reason, kind := runForwardingLoop(ctx, t)

	if deps.Unregister != nil {
		deps.Unregister(t)
	}
	snap := t.Snapshot()
	deps.emit(LifecycleEvent{
		Time: time.Now(), TunnelId: t.Id, PeerIP: t.PeerIP, ServerIP: t.ServerIP,
		RemoteAddr: t.RemoteAddr, Event: kind, Reason: reason,
		BytesIn: snap.BytesIn, BytesOut: snap.BytesOut,
		Duration: time.Since(snap.ConnectedAt),
	})
}

// setup implements spec §4.4 steps 1-4 under the process-wide setup mutex:
// acquire two addresses, allocate an id, create and configure the TUN
// device. Partial allocations are released on any failure.
func setup(deps Deps) (*tunreg.Tunnel, error) {
	deps.SetupMu.Lock()
	defer deps.SetupMu.Unlock()

	serverIP, err := deps.Pool.Acquire()
	if err != nil {
		return nil, fmt.Errorf("server_ip: %w", err)
	}
	peerIP, err := deps.Pool.Acquire()
	if err != nil {
		deps.Pool.Release(serverIP)
		return nil, fmt.Errorf("peer_ip: %w", err)
	}

	id := deps.Registry.NextId()
	tun, err := deps.Registry.Create(id, peerIP, serverIP, deps.MTU)
	if err != nil {
		deps.Pool.Release(serverIP)
		deps.Pool.Release(peerIP)
		return nil, err
	}

	return tun, nil
}

// enrichGeoInfo fires a best-effort, asynchronous geoinfo lookup of the
// peer's remote address, emitting a follow-up EventGeoInfo on success. It
// never delays sendClientParams or the forwarding loop (spec §4.11).
func enrichGeoInfo(t *Tunnel, deps Deps) {
	if deps.GeoLookup == nil {
		return
	}
	host, ok := addrHost(t.RemoteAddr)
	if !ok {
		return
	}
	geoinfo.EnrichAsync(deps.GeoLookup, host, func(info geoinfo.Info) {
		deps.emit(LifecycleEvent{
			Time: time.Now(), TunnelId: t.Id, PeerIP: t.PeerIP, ServerIP: t.ServerIP,
			RemoteAddr: t.RemoteAddr, Event: EventGeoInfo,
			GeoCountry: info.Country, GeoCity: info.City, GeoISP: info.ISP,
		})
	})
}

func addrHost(a net.Addr) (net.IP, bool) {
	udpAddr, ok := a.(*net.UDPAddr)
	if !ok {
		return nil, false
	}
	return udpAddr.IP, true
}

// sendClientParams sends the ClientParams control frame three times to
// tolerate loss over the unreliable (but now DTLS-protected) datagram
// transport, per spec §4.4 step 7.
func sendClientParams(t *Tunnel, deps Deps) {
	params := wire.ClientParams{
		MTU:       deps.MTU,
		PeerIP:    t.PeerIP,
		DNS:       deps.DNS,
		RouteIP:   deps.RouteIP,
		RouteMask: deps.RouteMask,
	}
	frame, err := params.Encode()
	if err != nil {
		log.Printf("[worker] tunnel %d: encode ClientParams: %v", t.Id, err)
		return
	}
	for i := 0; i < 3; i++ {
		if _, err := t.dtls.Write(frame); err != nil {
			log.Printf("[worker] tunnel %d: send ClientParams attempt %d: %v", t.Id, i+1, err)
		}
	}
}

// runForwardingLoop runs spec §4.4's forwarding loop to completion and
// returns the reason and classified event kind for the exit.
func runForwardingLoop(ctx context.Context, t *Tunnel) (string, EventKind) {
	tunBuf := make([]byte, scratchSize)
	dtlsBuf := make([]byte, scratchSize)
	timer := 1

	for {
		select {
		case <-ctx.Done():
			return "shutdown", EventDisconnected
		default:
		}

		idle := true

		if n, ok := tryReadTUN(t, tunBuf); ok {
			if n > 0 {
				if _, err := t.dtls.Write(tunBuf[:n]); err != nil {
					return err.Error(), EventPeerError
				}
				t.addBytesOut(n)
				idle = false
				timer = onSend(timer)
			}
		} else {
			return "tun read error", EventOSError
		}

		n, readErr, timedOut := tryReadDTLS(t, dtlsBuf)
		if readErr != nil && !timedOut {
			if errors.Is(readErr, io.EOF) {
				return "peer closed", EventDisconnected
			}
			return readErr.Error(), EventPeerError
		}
		if !timedOut {
			if n == 0 {
				return "peer closed", EventDisconnected
			}
			frame := dtlsBuf[:n]
			if wire.IsIPPacket(frame) {
				if _, err := t.tunFile.Write(frame); err != nil {
					return err.Error(), EventOSError
				}
			} else if wire.IsDisconnect(frame) {
				return "client disconnect", EventDisconnected
			}
			// other control frames (including keepalive) are ignored here
			t.addBytesIn(n)
			idle = false
			timer = onReceive(timer)
		}

		if idle {
			time.Sleep(pollInterval)
			var action timerAction
			timer, action = advanceIdleTimer(timer)
			switch action {
			case actionSendKeepalive:
				sendKeepaliveBurst(t)
			case actionTimeout:
				return "sending timeout", EventTimedOut
			}
		}
		t.setTimer(timer)
	}
}

func sendKeepaliveBurst(t *Tunnel) {
	frame := wire.Keepalive()
	for i := 0; i < 3; i++ {
		if _, err := t.dtls.Write(frame); err != nil {
			log.Printf("[worker] tunnel %d: keepalive attempt %d: %v", t.Id, i+1, err)
		}
	}
}

// tryReadTUN attempts one non-blocking read from the TUN device. ok is
// false only on a genuine I/O error; a would-block condition reports
// (0, true).
func tryReadTUN(t *Tunnel, buf []byte) (int, bool) {
	t.tunFile.SetReadDeadline(time.Now())
	n, err := t.tunFile.Read(buf)
	if err != nil {
		if isTimeout(err) {
			return 0, true
		}
		return 0, false
	}
	return n, true
}

// tryReadDTLS attempts one non-blocking read from the DTLS association.
// timedOut is true when nothing was available; err is non-nil only for a
// genuine read failure.
func tryReadDTLS(t *Tunnel, buf []byte) (int, error, bool) {
	t.dtls.SetReadDeadline(time.Now())
	n, err := t.dtls.Read(buf)
	if err != nil {
		if isTimeout(err) {
			return 0, nil, true
		}
		return 0, err, false
	}
	return n, nil, false
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
