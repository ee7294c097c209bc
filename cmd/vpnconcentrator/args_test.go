package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServeArgs_Defaults(t *testing.T) {
	a, err := parseServeArgs([]string{"4433"})
	require.NoError(t, err)
	assert.Equal(t, 4433, a.port)
	assert.Equal(t, 1400, a.mtu)
	assert.Equal(t, "10.0.0.0", a.netIP.String())
	assert.Equal(t, "255.0.0.0", a.netMask.String())
	assert.Equal(t, "8.8.8.8", a.dnsIP.String())
	assert.Equal(t, "0.0.0.0", a.routeIP.String())
	assert.Equal(t, "eth0", a.physIface)
	assert.Equal(t, "127.0.0.1:9001", a.controlAddr)
}

func TestParseServeArgs_AllFlags(t *testing.T) {
	a, err := parseServeArgs([]string{
		"4433",
		"-m", "1350",
		"-a", "10.8.0.0", "255.255.0.0",
		"-d", "1.1.1.1",
		"-r", "192.168.0.0", "255.255.0.0",
		"-i", "eth1",
		"--control-addr", "127.0.0.1:9100",
		"--events-addr", "127.0.0.1:9200",
		"--data-dir", "/var/lib/vpnconcentrator",
	})
	require.NoError(t, err)
	assert.Equal(t, 4433, a.port)
	assert.Equal(t, 1350, a.mtu)
	assert.Equal(t, "10.8.0.0", a.netIP.String())
	assert.Equal(t, "255.255.0.0", a.netMask.String())
	assert.Equal(t, "1.1.1.1", a.dnsIP.String())
	assert.Equal(t, "192.168.0.0", a.routeIP.String())
	assert.Equal(t, "eth1", a.physIface)
	assert.Equal(t, "127.0.0.1:9100", a.controlAddr)
	assert.Equal(t, "127.0.0.1:9200", a.eventsAddr)
	assert.Equal(t, "/var/lib/vpnconcentrator", a.dataDir)
}

func TestParseServeArgs_MaskAcceptsBarePrefixLength(t *testing.T) {
	a, err := parseServeArgs([]string{
		"4433",
		"-a", "10.0.0.0", "8",
		"-r", "0.0.0.0", "0",
	})
	require.NoError(t, err)
	assert.Equal(t, "255.0.0.0", a.netMask.String())
	assert.Equal(t, "0.0.0.0", a.routeMask.String())
}

func TestParseServeArgs_MaskRejectsOutOfRangePrefixLength(t *testing.T) {
	_, err := parseServeArgs([]string{"4433", "-a", "10.0.0.0", "33"})
	assert.Error(t, err)

	_, err = parseServeArgs([]string{"4433", "-a", "10.0.0.0", "not-a-mask"})
	assert.Error(t, err)
}

func TestParseServeArgs_InvalidPortIsFatalConfigError(t *testing.T) {
	_, err := parseServeArgs([]string{"0"})
	assert.Error(t, err)

	_, err = parseServeArgs([]string{"70000"})
	assert.Error(t, err)

	_, err = parseServeArgs([]string{"not-a-number"})
	assert.Error(t, err)
}

func TestParseServeArgs_MissingPositionalIsError(t *testing.T) {
	_, err := parseServeArgs([]string{"-m", "1400"})
	assert.Error(t, err)
}

func TestParseServeArgs_FlagMissingValueIsError(t *testing.T) {
	_, err := parseServeArgs([]string{"4433", "-m"})
	assert.Error(t, err)

	_, err = parseServeArgs([]string{"4433", "-a", "10.0.0.0"})
	assert.Error(t, err)
}
