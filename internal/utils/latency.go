package utils

import (
	"sort"
	"sync"
	"time"
)

// CycleLatency tracks the durations of recent pipeline cycles in a bounded
// window and computes percentiles over it.
type CycleLatency struct {
	mu      sync.RWMutex
	samples []time.Duration
	window  int
}

// NewCycleLatency creates a tracker keeping the most recent window samples.
func NewCycleLatency(window int) *CycleLatency {
	if window <= 0 {
		window = 512
	}
	return &CycleLatency{window: window}
}

// Observe records one completed cycle's duration, evicting the oldest sample
// once the window is full.
func (c *CycleLatency) Observe(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.samples = append(c.samples, d)
	if len(c.samples) > c.window {
		c.samples = c.samples[len(c.samples)-c.window:]
	}
}

// Percentile returns the p-th percentile (0-100) over the window, clamping p
// to the fastest and slowest samples. Zero when nothing has been observed.
func (c *CycleLatency) Percentile(p float64) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.samples) == 0 {
		return 0
	}

	sorted := append([]time.Duration(nil), c.samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	switch {
	case p <= 0:
		return sorted[0]
	case p >= 100:
		return sorted[len(sorted)-1]
	}
	return sorted[int((p/100.0)*float64(len(sorted)-1))]
}

// Count returns the number of samples currently in the window.
func (c *CycleLatency) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.samples)
}
