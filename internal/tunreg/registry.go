// Package tunreg manages the lifecycle of TUN network interfaces and the
// TunnelId namespace: smallest-free-first id allocation, raw interface
// creation, idempotent teardown and stale-interface cleanup at startup.
package tunreg

import (
	"fmt"
	"net"
	"os"
	"sync"
)

// Prefix is prepended to every TUN interface name this process creates, so
// that CleanupStale can recognize and remove interfaces left behind by a
// prior, uncleanly terminated run.
const Prefix = "vpn_tun"

// TunnelId identifies a tunnel and its TUN interface for the lifetime of
// the process. Ids are the smallest non-negative integers not currently in
// use, reused once released.
type TunnelId int

// Registry allocates TunnelIds and the TUN interfaces that back them.
type Registry struct {
	mu   sync.Mutex
	used map[TunnelId]*Tunnel
}

// Tunnel is a created TUN interface and the addressing it was configured
// with.
type Tunnel struct {
	Id       TunnelId
	Name     string
	PeerIP   net.IP
	ServerIP net.IP
	MTU      int
	File     *os.File
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{used: make(map[TunnelId]*Tunnel)}
}

// NextId returns the smallest TunnelId not currently assigned, without
// reserving it: the caller must follow up with Create to claim it.
func (r *Registry) NextId() TunnelId {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextIdLocked()
}

func (r *Registry) nextIdLocked() TunnelId {
	for id := TunnelId(0); ; id++ {
		if _, taken := r.used[id]; !taken {
			return id
		}
	}
}

// Create allocates a TUN interface named Prefix+id, brings it up and
// assigns it the point-to-point pair (serverIP local, peerIP remote).
// Creation is idempotent: if an interface of that name already exists from
// a stale prior run, it is deleted first.
func (r *Registry) Create(id TunnelId, peerIP, serverIP net.IP, mtu int) (*Tunnel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.used[id]; taken {
		return nil, fmt.Errorf("tunreg: id %d already in use", id)
	}

	name := ifaceName(id)
	deleteInterface(name)

	file, err := createTUN(name)
	if err != nil {
		return nil, fmt.Errorf("tunreg: create %s: %w", name, err)
	}

	if err := configureInterface(name, peerIP, serverIP, mtu); err != nil {
		file.Close()
		deleteInterface(name)
		return nil, fmt.Errorf("tunreg: configure %s: %w", name, err)
	}

	t := &Tunnel{Id: id, Name: name, PeerIP: peerIP, ServerIP: serverIP, MTU: mtu, File: file}
	r.used[id] = t
	return t, nil
}

// Close tears down the TUN interface for id. Closing an id that is not
// registered, or closing it twice, is a no-op.
func (r *Registry) Close(id TunnelId) {
	r.mu.Lock()
	t, ok := r.used[id]
	if ok {
		delete(r.used, id)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	t.File.Close()
	deleteInterface(t.Name)
}

// InUse reports how many tunnel ids are currently assigned.
func (r *Registry) InUse() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.used)
}

func ifaceName(id TunnelId) string {
	return fmt.Sprintf("%s%d", Prefix, id)
}
