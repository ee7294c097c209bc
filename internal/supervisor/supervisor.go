// Package supervisor owns the concentrator's shared state — the address
// pool, tunnel registry, and DTLS context — spawns the first TunnelWorker,
// runs the aggregate bandwidth sampling loop, and coordinates global
// shutdown by canceling every worker and removing stale interfaces. The
// auditstore, control socket and status feed are opened and closed by the
// caller around Run. Run returns without waiting for running workers to
// finish their own teardown.
package supervisor

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/miguelemosreverte/vpnconcentrator/internal/addrpool"
	"github.com/miguelemosreverte/vpnconcentrator/internal/bandwidth"
	"github.com/miguelemosreverte/vpnconcentrator/internal/control"
	"github.com/miguelemosreverte/vpnconcentrator/internal/dtlslistener"
	"github.com/miguelemosreverte/vpnconcentrator/internal/geoinfo"
	"github.com/miguelemosreverte/vpnconcentrator/internal/tunreg"
	"github.com/miguelemosreverte/vpnconcentrator/internal/worker"
)

// Config collects everything needed to bring up a Supervisor.
type Config struct {
	Pool      *addrpool.Pool
	Registry  *tunreg.Registry
	Listener  *dtlslistener.Listener
	Port      int
	MTU       int
	DNS       net.IP
	RouteIP   net.IP
	RouteMask net.IP

	// Lifecycle, if non-nil, receives every tunnel's lifecycle events
	// (typically an auditstore.Store, a statusfeed.Feed, or a fan-out of
	// both via MultiSink).
	Lifecycle worker.Sink

	// Aggregate, if non-nil, is sampled once a second with the sum of all
	// live tunnels' byte counters.
	Aggregate *bandwidth.Tracker

	// GeoLookup, if non-nil, enables best-effort geo-IP enrichment of each
	// newly connected peer (spec §4.11).
	GeoLookup geoinfo.Lookuper

	// BandwidthFeed, if non-nil, receives the aggregate bandwidth snapshot
	// once a second alongside Aggregate.Sample, so subscribers see rates
	// without polling the control socket (spec §4.8).
	BandwidthFeed BandwidthSink
}

// BandwidthSink receives the process-wide aggregate bandwidth snapshot
// once a second. A statusfeed.Feed implements this.
type BandwidthSink interface {
	EmitBandwidth(bandwidth.Snapshot)
}

// Supervisor is the process-lifetime owner of the concentrator's shared
// resources and live tunnel set.
type Supervisor struct {
	cfg Config

	startedAt time.Time
	setupMu   sync.Mutex

	mu      sync.Mutex
	tunnels map[tunreg.TunnelId]*worker.Tunnel

	// lifecycle is cfg.Lifecycle wrapped once in a worker.AsyncSink, shared
	// by every TunnelWorker's Deps, so LifecycleEvent delivery is always
	// off the hot path regardless of how slow the underlying sink is.
	lifecycle *worker.AsyncSink

	cancel context.CancelFunc
}

// New constructs a Supervisor. It does not start anything yet.
func New(cfg Config) *Supervisor {
	s := &Supervisor{
		cfg:       cfg,
		tunnels:   make(map[tunreg.TunnelId]*worker.Tunnel),
		startedAt: time.Now(),
	}
	if cfg.Lifecycle != nil {
		s.lifecycle = worker.NewAsyncSink(cfg.Lifecycle)
	}
	return s
}

// Run removes any stale interfaces from a prior run, spawns the first
// TunnelWorker, and blocks until ctx is canceled (typically by the caller's
// signal-bound parent context, or by Shutdown via the control socket's
// shutdown method), then removes stale interfaces again and returns.
func (s *Supervisor) Run(ctx context.Context) {
	tunreg.CleanupStale()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if s.cfg.Aggregate != nil {
		go s.sampleAggregateLoop(ctx)
	}

	firstDeps := s.workerDeps()
	firstDeps.First = true
	go worker.Serve(ctx, firstDeps)

	<-ctx.Done()
	s.shutdown()
}

// Shutdown cancels every worker's context; each observes cancellation at
// its next non-blocking poll and tears itself down. Safe to call more
// than once.
func (s *Supervisor) Shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Supervisor) shutdown() {
	tunreg.CleanupStale()
}

func (s *Supervisor) workerDeps() worker.Deps {
	return worker.Deps{
		Pool:      s.cfg.Pool,
		Registry:  s.cfg.Registry,
		Listener:  s.cfg.Listener,
		Port:      s.cfg.Port,
		MTU:       s.cfg.MTU,
		DNS:       s.cfg.DNS,
		RouteIP:   s.cfg.RouteIP,
		RouteMask: s.cfg.RouteMask,
		SetupMu:    &s.setupMu,
		Lifecycle:  s.lifecycleSink(),
		GeoLookup:  s.cfg.GeoLookup,
		Register:   s.register,
		Unregister: s.unregister,
	}
}

// lifecycleSink returns s.lifecycle as a worker.Sink, or a true nil
// interface when no Lifecycle sink was configured — returning the
// *worker.AsyncSink field directly would produce a non-nil Sink wrapping
// a nil pointer.
func (s *Supervisor) lifecycleSink() worker.Sink {
	if s.lifecycle == nil {
		return nil
	}
	return s.lifecycle
}

func (s *Supervisor) register(t *worker.Tunnel) {
	s.mu.Lock()
	s.tunnels[t.Id] = t
	s.mu.Unlock()
}

func (s *Supervisor) unregister(t *worker.Tunnel) {
	s.mu.Lock()
	delete(s.tunnels, t.Id)
	s.mu.Unlock()
}

// Snapshot returns a point-in-time copy of every live tunnel's stats,
// never blocking a running forwarding loop for longer than one stats-mutex
// copy per tunnel, per SPEC_FULL.md Testable Property #9.
func (s *Supervisor) Snapshot() []control.TunnelInfo {
	s.mu.Lock()
	tunnels := make([]*worker.Tunnel, 0, len(s.tunnels))
	for _, t := range s.tunnels {
		tunnels = append(tunnels, t)
	}
	s.mu.Unlock()

	out := make([]control.TunnelInfo, 0, len(tunnels))
	for _, t := range tunnels {
		stats := t.Snapshot()
		out = append(out, control.TunnelInfo{
			TunnelId:    int(t.Id),
			Iface:       t.Iface,
			PeerIP:      ipString(t.PeerIP),
			ServerIP:    ipString(t.ServerIP),
			RemoteAddr:  addrString(t.RemoteAddr),
			ConnectedAt: stats.ConnectedAt,
			BytesIn:     stats.BytesIn,
			BytesOut:    stats.BytesOut,
			Timer:       stats.Timer,
		})
	}
	return out
}

// Status implements control.Backend.
func (s *Supervisor) Status() control.StatusResult {
	snap := s.Snapshot()
	var in, out uint64
	for _, t := range snap {
		in += t.BytesIn
		out += t.BytesOut
	}
	var bw bandwidth.Snapshot
	if s.cfg.Aggregate != nil {
		bw = s.cfg.Aggregate.Snapshot()
	}

	return control.StatusResult{
		UptimeSeconds:   int64(time.Since(s.startedAt).Seconds()),
		TunnelCount:     len(snap),
		AddressesInUse:  s.cfg.Pool.InUse(),
		AddressCapacity: s.cfg.Pool.Capacity(),
		BytesInTotal:    in,
		BytesOutTotal:   out,
		Bandwidth:       bw,
	}
}

// Tunnels implements control.Backend.
func (s *Supervisor) Tunnels() []control.TunnelInfo {
	return s.Snapshot()
}

func (s *Supervisor) sampleAggregateLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var in, out uint64
			for _, t := range s.Snapshot() {
				in += t.BytesIn
				out += t.BytesOut
			}
			s.cfg.Aggregate.Sample(time.Now(), in, out)
			if s.cfg.BandwidthFeed != nil {
				s.cfg.BandwidthFeed.EmitBandwidth(s.cfg.Aggregate.Snapshot())
			}
		}
	}
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

// MultiSink fans a lifecycle event out to several Sinks. Used when both an
// auditstore and a statusfeed are configured.
type MultiSink []worker.Sink

func (m MultiSink) Emit(ev worker.LifecycleEvent) {
	for _, sink := range m {
		if sink != nil {
			sink.Emit(ev)
		}
	}
}
