// Package selector implements the routing policies that pick a backend for
// each inbound request: round-robin and two latency-adaptive variants.
package selector

import (
	"math"
	"sync/atomic"

	"github.com/phi-labs-ltd/adaptive-proxy/internal/config"
	"github.com/phi-labs-ltd/adaptive-proxy/internal/registry"
)

// Selector chooses the next backend to route a request to. It never fails:
// every implementation always returns a backend from the configured set.
type Selector interface {
	Next() registry.Backend
}

// New constructs the Selector variant named by mode, grounded on the same
// backend set and performance registry shared with the proxy handler.
func New(mode config.RoutingMode, backends []registry.Backend, reg *registry.Registry) Selector {
	switch mode {
	case config.AdaptiveSMA:
		return &adaptiveSMA{backends: backends, reg: reg}
	case config.AdaptiveEWMA:
		return &adaptiveEWMA{backends: backends, reg: reg}
	default:
		return &roundRobin{backends: backends}
	}
}

// roundRobin cycles through backends in declaration order, independent of
// any performance state.
type roundRobin struct {
	backends []registry.Backend
	cursor   uint64
}

func (s *roundRobin) Next() registry.Backend {
	n := uint64(len(s.backends))
	i := atomic.AddUint64(&s.cursor, 1) - 1
	return s.backends[i%n]
}

// adaptiveSMA probes every backend once before exploiting the minimum
// simple-moving-average latency.
type adaptiveSMA struct {
	backends []registry.Backend
	reg      *registry.Registry
}

func (s *adaptiveSMA) Next() registry.Backend {
	for _, b := range s.backends {
		if !s.reg.HasSamples(b) {
			return b
		}
	}
	best := s.backends[0]
	bestSMA := s.reg.SMA(best)
	for _, b := range s.backends[1:] {
		if v := s.reg.SMA(b); v < bestSMA {
			best, bestSMA = b, v
		}
	}
	return best
}

// adaptiveEWMA probes every backend once before exploiting the minimum
// exponentially-weighted-moving-average latency.
type adaptiveEWMA struct {
	backends []registry.Backend
	reg      *registry.Registry
}

func (s *adaptiveEWMA) Next() registry.Backend {
	for _, b := range s.backends {
		if math.IsInf(s.reg.EWMA(b), 1) {
			return b
		}
	}
	best := s.backends[0]
	bestEWMA := s.reg.EWMA(best)
	for _, b := range s.backends[1:] {
		if v := s.reg.EWMA(b); v < bestEWMA {
			best, bestEWMA = b, v
		}
	}
	return best
}
