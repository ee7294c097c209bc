// Package statusfeed streams tunnel lifecycle events to connected
// websocket subscribers, one JSON line per event. It is entirely optional:
// disabled unless a listen address is configured, and a failure to start
// it is a startup warning, never fatal.
package statusfeed

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/miguelemosreverte/vpnconcentrator/internal/bandwidth"
	"github.com/miguelemosreverte/vpnconcentrator/internal/worker"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// writeDeadline bounds every broadcast write so one stalled subscriber
// cannot hold f.mu, and therefore every other subscriber's delivery and
// every caller of Emit/EmitBandwidth, for longer than this.
const writeDeadline = 2 * time.Second

// bandwidthMessage is the JSON shape pushed for the periodic aggregate
// bandwidth snapshot, distinguished from wireEvent by its Kind field.
type bandwidthMessage struct {
	Kind          string `json:"kind"`
	CurrentInBps  uint64 `json:"current_in_bps"`
	CurrentOutBps uint64 `json:"current_out_bps"`
	AverageInBps  uint64 `json:"average_in_bps"`
	AverageOutBps uint64 `json:"average_out_bps"`
	PeakInBps     uint64 `json:"peak_in_bps"`
	PeakOutBps    uint64 `json:"peak_out_bps"`
}

// wireEvent is the JSON shape pushed to subscribers.
type wireEvent struct {
	Kind       string `json:"kind"`
	TunnelId   int    `json:"tunnel_id"`
	PeerIP     string `json:"peer_ip"`
	ServerIP   string `json:"server_ip"`
	RemoteAddr string `json:"remote_addr"`
	Event      string `json:"event"`
	Reason     string `json:"reason,omitempty"`
	BytesIn    uint64 `json:"bytes_in"`
	BytesOut   uint64 `json:"bytes_out"`
	GeoCountry string `json:"geo_country,omitempty"`
	GeoCity    string `json:"geo_city,omitempty"`
	GeoISP     string `json:"geo_isp,omitempty"`
}

// Feed fans lifecycle events out to every subscribed websocket connection.
// It implements worker.Sink.
type Feed struct {
	mu   sync.Mutex
	subs map[*websocket.Conn]struct{}
}

// New constructs an empty Feed.
func New() *Feed {
	return &Feed{subs: make(map[*websocket.Conn]struct{})}
}

// Handler upgrades /events requests to websocket connections and registers
// them as subscribers until they disconnect.
func (f *Feed) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[statusfeed] upgrade failed: %v", err)
		return
	}

	f.mu.Lock()
	f.subs[conn] = struct{}{}
	f.mu.Unlock()

	// Drain and discard inbound messages so the connection's read side
	// stays serviced; subscribers are not expected to send anything.
	go func() {
		defer f.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (f *Feed) remove(conn *websocket.Conn) {
	f.mu.Lock()
	delete(f.subs, conn)
	f.mu.Unlock()
	conn.Close()
}

// Emit implements worker.Sink by broadcasting ev as one JSON line to every
// connected subscriber. Reached only through the worker.AsyncSink the
// Supervisor wraps around its Lifecycle sink, never called directly from a
// tunnel's forwarding or teardown path, so a slow subscriber held up by
// writeDeadline never stalls a tunnel.
func (f *Feed) Emit(ev worker.LifecycleEvent) {
	var remote string
	if ev.RemoteAddr != nil {
		remote = ev.RemoteAddr.String()
	}
	payload := wireEvent{
		Kind:     "event",
		TunnelId: int(ev.TunnelId),
		Event:    string(ev.Event),
		Reason:   ev.Reason,
		BytesIn:  ev.BytesIn,
		BytesOut: ev.BytesOut,
		RemoteAddr: remote,
		GeoCountry: ev.GeoCountry,
		GeoCity:    ev.GeoCity,
		GeoISP:     ev.GeoISP,
	}
	if ev.PeerIP != nil {
		payload.PeerIP = ev.PeerIP.String()
	}
	if ev.ServerIP != nil {
		payload.ServerIP = ev.ServerIP.String()
	}

	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[statusfeed] marshal event: %v", err)
		return
	}

	f.mu.Lock()
	dead := f.broadcastLocked(data)
	f.mu.Unlock()

	for _, conn := range dead {
		f.remove(conn)
	}
}

// EmitBandwidth implements supervisor.BandwidthSink, broadcasting snap as
// one JSON line to every connected subscriber. Called once a second from
// the supervisor's aggregate sampling loop, off any tunnel's hot path.
func (f *Feed) EmitBandwidth(snap bandwidth.Snapshot) {
	data, err := json.Marshal(bandwidthMessage{
		Kind:          "bandwidth",
		CurrentInBps:  snap.CurrentInBps,
		CurrentOutBps: snap.CurrentOutBps,
		AverageInBps:  snap.AverageInBps,
		AverageOutBps: snap.AverageOutBps,
		PeakInBps:     snap.PeakInBps,
		PeakOutBps:    snap.PeakOutBps,
	})
	if err != nil {
		log.Printf("[statusfeed] marshal bandwidth snapshot: %v", err)
		return
	}

	f.mu.Lock()
	dead := f.broadcastLocked(data)
	f.mu.Unlock()

	for _, conn := range dead {
		f.remove(conn)
	}
}

func (f *Feed) broadcastLocked(data []byte) []*websocket.Conn {
	var dead []*websocket.Conn
	for conn := range f.subs {
		conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			dead = append(dead, conn)
		}
	}
	return dead
}

// SubscriberCount reports how many websocket clients are currently
// attached, for diagnostics.
func (f *Feed) SubscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
