package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/phi-labs-ltd/adaptive-proxy/internal/config"
	"github.com/phi-labs-ltd/adaptive-proxy/internal/registry"
)

func TestRoundRobin_Fairness(t *testing.T) {
	backends := []string{"A", "B", "C"}
	reg := registry.New(backends, 3, 0.2)
	sel := New(config.RoundRobin, backends, reg)

	var got []string
	for i := 0; i < 7; i++ {
		got = append(got, sel.Next())
	}
	assert.Equal(t, []string{"A", "B", "C", "A", "B", "C", "A"}, got)
}

func TestAdaptiveSMA_ProbesBeforeExploiting(t *testing.T) {
	backends := []string{"A", "B", "C"}
	reg := registry.New(backends, 3, 0.2)
	sel := New(config.AdaptiveSMA, backends, reg)

	var probed []string
	for i := 0; i < 3; i++ {
		probed = append(probed, sel.Next())
		reg.Record(probed[i], 10)
	}
	assert.Equal(t, backends, probed)
}

func TestAdaptiveSMA_ExploitsMinimum(t *testing.T) {
	backends := []string{"A", "B", "C"}
	reg := registry.New(backends, 3, 0.2)
	reg.Record("A", 10)
	reg.Record("B", 200)
	reg.Record("C", 250)

	sel := New(config.AdaptiveSMA, backends, reg)
	for i := 0; i < 10; i++ {
		assert.Equal(t, "A", sel.Next())
	}
}

func TestAdaptiveSMA_WindowShiftChangesChoice(t *testing.T) {
	backends := []string{"A", "B", "C"}
	reg := registry.New(backends, 3, 0.2)
	reg.Record("A", 10)
	reg.Record("B", 200)
	reg.Record("C", 250)

	for i := 0; i < 3; i++ {
		reg.Record("A", 400)
	}

	sel := New(config.AdaptiveSMA, backends, reg)
	assert.Equal(t, "B", sel.Next())
}

func TestAdaptiveEWMA_ProbesBeforeExploiting(t *testing.T) {
	backends := []string{"A", "B", "C"}
	reg := registry.New(backends, 3, 0.2)
	sel := New(config.AdaptiveEWMA, backends, reg)

	var probed []string
	for i := 0; i < 3; i++ {
		b := sel.Next()
		probed = append(probed, b)
		reg.Record(b, 50)
	}
	assert.Equal(t, backends, probed)
}

func TestAdaptiveEWMA_ExploitsMinimum(t *testing.T) {
	backends := []string{"A", "B", "C"}
	reg := registry.New(backends, 3, 0.2)
	reg.Record("A", 100)
	reg.Record("B", 300)
	reg.Record("C", 300)

	sel := New(config.AdaptiveEWMA, backends, reg)
	assert.Equal(t, "A", sel.Next())
}

func TestRoundRobin_ConcurrentSelectionsAreDistinct(t *testing.T) {
	backends := []string{"A", "B", "C", "D"}
	reg := registry.New(backends, 3, 0.2)
	sel := New(config.RoundRobin, backends, reg)

	const n = 400
	counts := make(map[string]int)
	results := make(chan string, n)
	for i := 0; i < n; i++ {
		go func() { results <- sel.Next() }()
	}
	for i := 0; i < n; i++ {
		counts[<-results]++
	}
	for _, b := range backends {
		assert.Equal(t, n/len(backends), counts[b])
	}
}
