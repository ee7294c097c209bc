//go:build linux

package tunreg

import (
	"fmt"
	"log"
	"net"
	"os/exec"
)

// configureInterface assigns the point-to-point pair (serverIP local peer
// address, peerIP remote address) to the named interface, sets its MTU and
// brings it up. Each step shells out to the `ip` tool, matching how the
// rest of the concentrator's host networking (netcfg) is driven.
func configureInterface(name string, peerIP, serverIP net.IP, mtu int) error {
	if err := run("ip", "link", "set", "dev", name, "mtu", fmt.Sprint(mtu)); err != nil {
		return err
	}
	if err := run("ip", "addr", "add", fmt.Sprintf("%s/32", serverIP), "peer", fmt.Sprintf("%s/32", peerIP), "dev", name); err != nil {
		return err
	}
	if err := run("ip", "link", "set", "dev", name, "up"); err != nil {
		return err
	}
	return nil
}

// deleteInterface removes a TUN interface if it exists. It is a best-effort
// operation: failure (typically "no such device") is logged and ignored so
// that Create can treat a missing interface as already clean.
func deleteInterface(name string) {
	if err := run("ip", "link", "delete", name); err != nil {
		log.Printf("[tunreg] delete of %s ignored: %v", name, err)
	}
}

// CleanupStale removes every interface whose name carries this package's
// Prefix. It is meant to be called once at startup to recover interfaces
// left behind by a prior process that did not shut down cleanly.
func CleanupStale() {
	out, err := exec.Command("ip", "-o", "link", "show").CombinedOutput()
	if err != nil {
		log.Printf("[tunreg] cleanup: listing interfaces failed: %v", err)
		return
	}
	for _, name := range staleInterfaceNames(out) {
		deleteInterface(name)
	}
}

func run(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %v: %w (%s)", name, args, err, out)
	}
	return nil
}
