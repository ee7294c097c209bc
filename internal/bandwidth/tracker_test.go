package bandwidth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTracker_CurrentReflectsDeltaSinceLastSample(t *testing.T) {
	tr := NewTracker()
	now := time.Unix(1000, 0)

	tr.Sample(now, 1000, 2000)
	in, out := tr.Current()
	assert.Equal(t, uint64(1000), in)
	assert.Equal(t, uint64(2000), out)

	tr.Sample(now.Add(time.Second), 1500, 2100)
	in, out = tr.Current()
	assert.Equal(t, uint64(500), in)
	assert.Equal(t, uint64(100), out)
}

func TestTracker_AverageAcrossSamples(t *testing.T) {
	tr := NewTracker()
	now := time.Unix(0, 0)
	totals := []uint64{0, 100, 300, 600} // recorded deltas: 0, 100, 200, 300
	for i, total := range totals {
		tr.Sample(now.Add(time.Duration(i)*time.Second), total, 0)
	}
	avgIn, _ := tr.Average()
	assert.Equal(t, uint64(150), avgIn) // deltas 0,100,200,300 averaged over 4 samples
}

func TestTracker_PeakTracksMax(t *testing.T) {
	tr := NewTracker()
	now := time.Unix(0, 0)
	tr.Sample(now, 100, 0)
	tr.Sample(now.Add(time.Second), 500, 0)
	tr.Sample(now.Add(2*time.Second), 600, 0)
	peakIn, _ := tr.Peak()
	assert.Equal(t, uint64(400), peakIn) // largest delta: 500-100
}

func TestTracker_CounterResetDoesNotUnderflow(t *testing.T) {
	tr := NewTracker()
	now := time.Unix(0, 0)
	tr.Sample(now, 1000, 0)
	tr.Sample(now.Add(time.Second), 100, 0) // counter went backwards (new session)
	in, _ := tr.Current()
	assert.Equal(t, uint64(100), in, "a lower total than last time is treated as a fresh count, not underflowed")
}

func TestTracker_EmptyTrackerReturnsZero(t *testing.T) {
	tr := NewTracker()
	in, out := tr.Current()
	assert.Zero(t, in)
	assert.Zero(t, out)
	avgIn, avgOut := tr.Average()
	assert.Zero(t, avgIn)
	assert.Zero(t, avgOut)
}
