package registry

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_FirstSampleSetsEWMA(t *testing.T) {
	r := New([]Backend{"A"}, 3, 0.2)
	r.Record("A", 100)
	assert.Equal(t, 100.0, r.EWMA("A"))
	assert.Equal(t, 100.0, r.SMA("A"))
	assert.True(t, r.HasSamples("A"))
}

func TestRecord_EWMARecurrence(t *testing.T) {
	r := New([]Backend{"A"}, 3, 0.2)
	for _, v := range []float64{100, 100, 100} {
		r.Record("A", v)
	}
	assert.InDelta(t, 100.0, r.EWMA("A"), 1e-9)

	r.Record("A", 500)
	assert.InDelta(t, 180.0, r.EWMA("A"), 1e-9)
}

func TestRecord_NonPositiveIsInert(t *testing.T) {
	r := New([]Backend{"A"}, 3, 0.2)
	r.Record("A", 0)
	r.Record("A", -5)
	assert.False(t, r.HasSamples("A"))
	assert.True(t, math.IsInf(r.EWMA("A"), 1))
	assert.True(t, math.IsInf(r.SMA("A"), 1))
}

func TestSMA_WindowRotation(t *testing.T) {
	r := New([]Backend{"A"}, 3, 0.2)
	for _, v := range []float64{10, 15, 20} {
		r.Record("A", v)
	}
	assert.InDelta(t, 15.0, r.SMA("A"), 1e-9)

	for i := 0; i < 3; i++ {
		r.Record("A", 400)
	}
	assert.InDelta(t, 400.0, r.SMA("A"), 1e-9)
}

func TestSMA_UnmeasuredIsInf(t *testing.T) {
	r := New([]Backend{"A"}, 3, 0.2)
	assert.True(t, math.IsInf(r.SMA("A"), 1))
	assert.True(t, math.IsInf(r.EWMA("A"), 1))
}

func TestRecord_ConcurrentUpdatesStayConsistent(t *testing.T) {
	r := New([]Backend{"A"}, 3, 0.2)
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Record("A", 42)
		}()
	}
	wg.Wait()

	require.True(t, r.HasSamples("A"))
	assert.InDelta(t, 42.0, r.SMA("A"), 1e-9)
	assert.InDelta(t, 42.0, r.EWMA("A"), 1e-9)
}
