package dtlslistener

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/pion/dtls/v2"
	"github.com/stretchr/testify/assert"
)

func TestProbeMatches(t *testing.T) {
	assert.True(t, probeMatches([]byte{0x00, 0x01}))
	assert.False(t, probeMatches([]byte{0x00, 0x02}))
	assert.False(t, probeMatches([]byte{0x00}))
	assert.False(t, probeMatches([]byte{0x01, 0x01}))
}

func TestErrAcceptUnwraps(t *testing.T) {
	inner := errors.New("boom")
	err := &ErrAccept{Stage: "bind/probe", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "bind/probe")
}

// TestHandshakeServer_BoundsTotalDurationToRetriesTimesDelay verifies a
// silent peer cannot tie up handshakeServer for anywhere near pion's own
// internal default: each of HandshakeRetries attempts must be bounded by
// cfg.ConnectContextMaker, not left to its own multi-second timeout.
func TestHandshakeServer_BoundsTotalDurationToRetriesTimesDelay(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cfg := &dtls.Config{
		ConnectContextMaker: func() (context.Context, func()) {
			return context.WithTimeout(context.Background(), HandshakeRetryDelay)
		},
	}

	start := time.Now()
	_, err := handshakeServer(server, cfg)
	elapsed := time.Since(start)

	assert.Error(t, err)
	assert.Less(t, elapsed, time.Duration(HandshakeRetries)*HandshakeRetryDelay*2,
		"handshakeServer took %s, want under 2 x %d attempts x %s", elapsed, HandshakeRetries, HandshakeRetryDelay)
}
