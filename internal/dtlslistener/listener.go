// Package dtlslistener implements the DTLS-terminating accept loop: binding
// a dual-stack UDP socket, waiting for the cleartext connect probe,
// pinning the socket to the probing peer, and driving the DTLS 1.2 server
// handshake to completion in non-blocking mode.
package dtlslistener

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/pion/dtls/v2"

	"github.com/miguelemosreverte/vpnconcentrator/internal/wire"
)

// HandshakeRetries and HandshakeRetryDelay bound accept_one's DTLS
// handshake attempts, per spec §4.3 step 6: a bounded loop rather than
// recursion, so a persistently failing peer cannot grow the call stack.
const (
	HandshakeRetries   = 50
	HandshakeRetryDelay = 200 * time.Millisecond

	bindRetryDelay = 100 * time.Millisecond
)

// ErrAccept is returned by AcceptOne when opening, binding or connecting
// the UDP socket, or waiting for the connect probe, fails. A failed DTLS
// handshake never produces it: AcceptOne restarts with a fresh socket
// instead.
type ErrAccept struct {
	Stage string
	Err   error
}

func (e *ErrAccept) Error() string { return fmt.Sprintf("dtlslistener: %s: %v", e.Stage, e.Err) }
func (e *ErrAccept) Unwrap() error { return e.Err }

// Listener owns the server-side DTLS certificate chain, shared read-only
// across every accepted association.
type Listener struct {
	cfg *dtls.Config
}

// Config describes the material needed to build the server's DTLS context.
type Config struct {
	CertFile string
	KeyFile  string
	CAFile   string
}

// New loads the server certificate, key and trusted CA from disk and
// builds a DTLS v1.2 server context shared by every accepted tunnel.
func New(cfg Config) (*Listener, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("dtlslistener: load cert/key: %w", err)
	}

	pool := x509.NewCertPool()
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("dtlslistener: load CA: %w", err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("dtlslistener: no certificates found in %s", cfg.CAFile)
		}
	}

	return &Listener{cfg: &dtls.Config{
		Certificates:         []tls.Certificate{cert},
		ClientCAs:            pool,
		ClientAuth:           dtls.VerifyClientCertIfGiven,
		ExtendedMasterSecret: dtls.RequireExtendedMasterSecret,
		// Bounds each handshake attempt to HandshakeRetryDelay so a silent
		// or stalled peer cannot tie up the one listening socket for
		// anything close to pion's own (tens-of-seconds) default; the
		// bounded-retry loop in handshakeServer owns the overall budget.
		ConnectContextMaker: func() (context.Context, func()) {
			return context.WithTimeout(context.Background(), HandshakeRetryDelay)
		},
	}}, nil
}

// Accepted is the result of a successful AcceptOne: a live DTLS
// association ready for the forwarding loop.
type Accepted struct {
	Conn *dtls.Conn
	Peer net.Addr
}

// AcceptOne implements spec §4.3's accept_one: bind a fresh dual-stack UDP
// socket on port, wait for the cleartext connect probe, pin the socket to
// that peer, and drive the DTLS server handshake to completion. On
// handshake exhaustion it restarts with a brand new socket, internally,
// rather than recursing. It returns ErrAccept for the first socket, bind,
// probe-receive or connect failure; EADDRINUSE on bind is retried rather
// than returned.
func (l *Listener) AcceptOne(port int) (*Accepted, error) {
	for {
		conn, peer, err := bindAndWaitForProbe(port)
		if err != nil {
			return nil, &ErrAccept{Stage: "bind/probe", Err: err}
		}

		dconn, err := handshakeServer(conn, l.cfg)
		if err != nil {
			conn.Close()
			// Handshake exhausted retries: free the association and restart
			// accept_one with a fresh socket rather than propagating FAIL,
			// matching the RESTART state in spec §4.4's state diagram.
			continue
		}

		return &Accepted{Conn: dconn, Peer: peer}, nil
	}
}

// handshakeServer drives the handshake through up to HandshakeRetries
// attempts, each bounded to HandshakeRetryDelay by cfg.ConnectContextMaker
// (set in New), for a total budget of about HandshakeRetries *
// HandshakeRetryDelay rather than pion's own much longer internal default.
func handshakeServer(conn net.Conn, cfg *dtls.Config) (*dtls.Conn, error) {
	var lastErr error
	for attempt := 0; attempt < HandshakeRetries; attempt++ {
		dconn, err := dtls.Server(conn, cfg)
		if err == nil {
			return dconn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("handshake exhausted %d retries: %w", HandshakeRetries, lastErr)
}

// probeMatches reports whether data is the two-byte cleartext connect
// probe that selects a peer for DTLS acceptance.
func probeMatches(data []byte) bool {
	return wire.IsConnectProbe(data)
}
