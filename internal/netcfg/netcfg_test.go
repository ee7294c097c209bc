package netcfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnableForwarding_RestoresPreviousZero(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ip_forward")
	require.NoError(t, os.WriteFile(path, []byte("0\n"), 0644))

	orig := ipForwardPath
	ipForwardPath = path
	defer func() { ipForwardPath = orig }()

	restore, err := EnableForwarding()
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "1\n", string(got))

	require.NoError(t, restore())
	got, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "0\n", string(got))
}

func TestEnableForwarding_AlreadyOneIsNoop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ip_forward")
	require.NoError(t, os.WriteFile(path, []byte("1\n"), 0644))

	orig := ipForwardPath
	ipForwardPath = path
	defer func() { ipForwardPath = orig }()

	restore, err := EnableForwarding()
	require.NoError(t, err)
	require.NoError(t, restore())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "1\n", string(got), "restore must not touch a value it never changed")
}
