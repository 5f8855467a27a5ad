package sensor

import "sync"

// pulseCount is the cumulative edge count of one PulseCounter. It outlives
// individual subscriptions so a resubscribe continues from the last count,
// and edges seen while nobody is subscribed are still counted.
type pulseCount struct {
	mu  sync.Mutex
	n   int64
	h   Handler
	gen int
}

func newPulseCount(start int64) *pulseCount {
	return &pulseCount{n: start}
}

// attach makes h the receiver of edges and pushes the current count to it.
// The push holds the lock, so it is never interleaved with an edge.
func (c *pulseCount) attach(h Handler) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.h = h
	h(Reading{Steps: c.n, Available: true})
	return c.gen
}

// detach stops delivery to the handler registered by attach call gen.
func (c *pulseCount) detach(gen int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen {
		c.h = nil
	}
}

// edge records one step.
func (c *pulseCount) edge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	if c.h != nil {
		c.h(Reading{Steps: c.n, Available: true})
	}
}

func (c *pulseCount) value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
