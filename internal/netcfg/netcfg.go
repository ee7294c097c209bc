// Package netcfg configures the two pieces of host networking the
// concentrator needs but does not own outright: enabling IPv4 forwarding
// and installing the MASQUERADE rule that source-NATs tunnel traffic onto
// the physical uplink. Per spec §1 these are explicitly external
// collaborators; this package is the external collaborator.
package netcfg

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ipForwardPath is a var, not a const, so tests can point it at a scratch
// file instead of the real /proc sysctl.
var ipForwardPath = "/proc/sys/net/ipv4/ip_forward"

// EnableForwarding reads the current value of net.ipv4.ip_forward, sets it
// to 1, and returns a restore function that puts the original value back.
// If it was already 1, the restore function is a no-op.
func EnableForwarding() (restore func() error, err error) {
	prev, err := os.ReadFile(ipForwardPath)
	if err != nil {
		return nil, fmt.Errorf("netcfg: read %s: %w", ipForwardPath, err)
	}
	prevValue := strings.TrimSpace(string(prev))

	if prevValue == "1" {
		return func() error { return nil }, nil
	}
	if err := os.WriteFile(ipForwardPath, []byte("1\n"), 0644); err != nil {
		return nil, fmt.Errorf("netcfg: enable ip_forward: %w", err)
	}
	return func() error {
		return os.WriteFile(ipForwardPath, []byte(prevValue+"\n"), 0644)
	}, nil
}

// InstallMasquerade adds an iptables MASQUERADE rule for traffic from cidr
// leaving via outIface. It is idempotent: it first attempts a best-effort
// delete of the same rule (ignoring the error) so retries never create
// duplicate rules.
func InstallMasquerade(cidr, outIface string) error {
	removeMasqueradeRule(cidr, outIface)
	return run("iptables", "-t", "nat", "-A", "POSTROUTING", "-s", cidr, "-o", outIface, "-j", "MASQUERADE")
}

// RemoveMasquerade removes the MASQUERADE rule installed by
// InstallMasquerade. It is a no-op, logged by the caller if desired, when
// the rule is already absent.
func RemoveMasquerade(cidr, outIface string) error {
	return run("iptables", "-t", "nat", "-D", "POSTROUTING", "-s", cidr, "-o", outIface, "-j", "MASQUERADE")
}

func removeMasqueradeRule(cidr, outIface string) {
	_ = run("iptables", "-t", "nat", "-D", "POSTROUTING", "-s", cidr, "-o", outIface, "-j", "MASQUERADE")
}

func run(name string, args ...string) error {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %v: %w (%s)", name, args, err, out)
	}
	return nil
}
