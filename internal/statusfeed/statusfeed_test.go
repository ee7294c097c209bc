package statusfeed

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miguelemosreverte/vpnconcentrator/internal/bandwidth"
	"github.com/miguelemosreverte/vpnconcentrator/internal/worker"
)

func TestFeed_BroadcastsToSubscriber(t *testing.T) {
	feed := New()
	srv := httptest.NewServer(http.HandlerFunc(feed.Handler))
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):]
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	waitForSubscriber(t, feed, 1)

	feed.Emit(worker.LifecycleEvent{
		TunnelId: 7,
		Event:    worker.EventConnected,
		PeerIP:   net.ParseIP("10.0.0.2"),
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"tunnel_id":7`)
	assert.Contains(t, string(data), `"event":"CONNECTED"`)
	assert.Contains(t, string(data), `"peer_ip":"10.0.0.2"`)
}

func TestFeed_EmitWithNoSubscribersDoesNotPanic(t *testing.T) {
	feed := New()
	assert.NotPanics(t, func() {
		feed.Emit(worker.LifecycleEvent{TunnelId: 1, Event: worker.EventDisconnected})
	})
}

func TestFeed_EmitBandwidthBroadcastsToSubscriber(t *testing.T) {
	feed := New()
	srv := httptest.NewServer(http.HandlerFunc(feed.Handler))
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):]
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	waitForSubscriber(t, feed, 1)

	feed.EmitBandwidth(bandwidth.Snapshot{CurrentInBps: 100, PeakOutBps: 9000})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"bandwidth"`)
	assert.Contains(t, string(data), `"current_in_bps":100`)
	assert.Contains(t, string(data), `"peak_out_bps":9000`)
}

func TestFeed_EmitBandwidthWithNoSubscribersDoesNotPanic(t *testing.T) {
	feed := New()
	assert.NotPanics(t, func() {
		feed.EmitBandwidth(bandwidth.Snapshot{})
	})
}

func waitForSubscriber(t *testing.T, feed *Feed, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if feed.SubscriberCount() == n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d subscriber(s)", n)
}
