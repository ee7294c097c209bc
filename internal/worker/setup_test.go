package worker

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miguelemosreverte/vpnconcentrator/internal/addrpool"
	"github.com/miguelemosreverte/vpnconcentrator/internal/tunreg"
)

func TestSetup_AddressExhaustionReleasesPartialAllocation(t *testing.T) {
	// /31 has zero usable host addresses once network+broadcast are
	// excluded, so the very first Acquire already fails.
	cidr, err := addrpool.ParseCIDR("10.0.0.0/31")
	require.NoError(t, err)
	pool := addrpool.New(cidr, 0)

	deps := Deps{
		Pool:     pool,
		Registry: tunreg.NewRegistry(),
		MTU:      1400,
		SetupMu:  &sync.Mutex{},
	}

	_, err = setup(deps)
	assert.Error(t, err)
	assert.Equal(t, 0, pool.InUse(), "no addresses should remain allocated after a failed setup")
}

func TestSetup_SecondAcquireFailureReleasesFirst(t *testing.T) {
	// /29 has six usable hosts (.1-.6); acquiring five of them up front
	// leaves exactly one for setup's first Acquire.
	cidr, err := addrpool.ParseCIDR("10.0.0.0/29")
	require.NoError(t, err)
	pool := addrpool.New(cidr, 0)
	// drain all but one address so the second Acquire inside setup fails.
	for i := 0; i < int(pool.Capacity())-1; i++ {
		_, err := pool.Acquire()
		require.NoError(t, err)
	}
	require.Equal(t, int(pool.Capacity())-1, pool.InUse())

	deps := Deps{
		Pool:     pool,
		Registry: tunreg.NewRegistry(),
		MTU:      1400,
		SetupMu:  &sync.Mutex{},
	}

	_, err = setup(deps)
	assert.Error(t, err)
	assert.Equal(t, int(pool.Capacity())-1, pool.InUse(), "the first acquired address must be released when the second fails")
}
