package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/miguelemosreverte/vpnconcentrator/internal/addrpool"
	"github.com/miguelemosreverte/vpnconcentrator/internal/auditstore"
	"github.com/miguelemosreverte/vpnconcentrator/internal/bandwidth"
	"github.com/miguelemosreverte/vpnconcentrator/internal/control"
	"github.com/miguelemosreverte/vpnconcentrator/internal/dtlslistener"
	"github.com/miguelemosreverte/vpnconcentrator/internal/geoinfo"
	"github.com/miguelemosreverte/vpnconcentrator/internal/netcfg"
	"github.com/miguelemosreverte/vpnconcentrator/internal/statusfeed"
	"github.com/miguelemosreverte/vpnconcentrator/internal/supervisor"
	"github.com/miguelemosreverte/vpnconcentrator/internal/tunreg"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:                "serve <port>",
		Short:              "Terminate DTLS tunnels and forward IP traffic",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, rawArgs []string) error {
			args, err := parseServeArgs(rawArgs)
			if err != nil {
				return fmt.Errorf("vpnconcentrator: %w", err)
			}
			return runServe(args)
		},
	}
	return cmd
}

func runServe(a serveArgs) error {
	store, err := auditstore.Open(filepath.Join(a.dataDir, "audit.db"))
	if err != nil {
		log.Printf("[vpnconcentrator] auditstore unavailable, continuing without it: %v", err)
	} else {
		log.SetOutput(io.MultiWriter(os.Stderr, auditstore.NewWriter(store)))
		defer store.Close()
	}

	mask := net.IPMask(a.netMask.To4())
	cidr, err := addrpool.NewCIDR(a.netIP, mask)
	if err != nil {
		return fmt.Errorf("vpnconcentrator: invalid address pool %s/%s: %w", a.netIP, a.netMask, err)
	}
	pool := addrpool.New(cidr, int(cidr.HostCount()))
	registry := tunreg.NewRegistry()

	dtlsListener, err := dtlslistener.New(dtlslistener.Config{
		CertFile: a.certFile,
		KeyFile:  a.keyFile,
		CAFile:   a.caFile,
	})
	if err != nil {
		return fmt.Errorf("vpnconcentrator: %w", err)
	}

	restoreForwarding, err := netcfg.EnableForwarding()
	if err != nil {
		log.Printf("[vpnconcentrator] could not enable ip_forward: %v", err)
	} else {
		defer restoreForwarding()
	}
	maskedCIDR := fmt.Sprintf("%s/%d", cidr.Network(), cidr.PrefixLen())
	if err := netcfg.InstallMasquerade(maskedCIDR, a.physIface); err != nil {
		log.Printf("[vpnconcentrator] could not install MASQUERADE rule: %v", err)
	} else {
		defer netcfg.RemoveMasquerade(maskedCIDR, a.physIface)
	}

	var sinks supervisor.MultiSink
	if store != nil {
		sinks = append(sinks, store)
	}
	var feed *statusfeed.Feed
	if a.eventsAddr != "" {
		feed = statusfeed.New()
		sinks = append(sinks, feed)
		go serveStatusFeed(a.eventsAddr, feed)
	}

	supCfg := supervisor.Config{
		Pool:      pool,
		Registry:  registry,
		Listener:  dtlsListener,
		Port:      a.port,
		MTU:       a.mtu,
		DNS:       a.dnsIP,
		RouteIP:   a.routeIP,
		RouteMask: a.routeMask,
		Lifecycle: sinks,
		Aggregate: bandwidth.NewTracker(),
		GeoLookup: geoinfo.NewHTTPLookuper(),
	}
	if feed != nil {
		// Assigned only when feed is non-nil: a nil *statusfeed.Feed stored
		// in the BandwidthSink interface would be a non-nil interface
		// wrapping a nil pointer, and EmitBandwidth would panic on it.
		supCfg.BandwidthFeed = feed
	}
	sup := supervisor.New(supCfg)

	if srv, err := control.Listen(a.controlAddr, sup); err != nil {
		log.Printf("[vpnconcentrator] control socket unavailable: %v", err)
	} else {
		go srv.Serve()
		defer srv.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("[vpnconcentrator] listening on :%d, pool %s", a.port, maskedCIDR)
	sup.Run(ctx)
	return nil
}

func serveStatusFeed(addr string, feed *statusfeed.Feed) {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", feed.Handler)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("[vpnconcentrator] status feed stopped: %v", err)
	}
}
