// Package admission bounds how many builds run at once and how many may
// wait for a slot.
package admission

import (
	"context"
	"math"
	"sync"
	"time"

	apperrors "buildforge/pkg/errors"
)

// ewmaAlpha is the smoothing factor for the rolling build-duration average.
const ewmaAlpha = 0.2

// waiter is one queued request. Its grant channel is closed when a slot is
// handed over; granted records that the handover happened.
type waiter struct {
	grant   chan struct{}
	granted bool
}

// Controller grants build slots in strict arrival order. Requests beyond the
// active ceiling wait in a bounded FIFO queue; requests beyond the queue
// capacity are rejected outright.
type Controller struct {
	mu         sync.Mutex
	maxActive  int
	capacity   int
	active     int
	queue      []*waiter
	avgBuildMs float64
	hasSample  bool
}

// Stats is a point-in-time snapshot of controller state.
type Stats struct {
	Active               int `json:"active"`
	Queued               int `json:"queued"`
	EstimatedWaitSeconds int `json:"estimated_wait_seconds"`
}

// NewController creates a controller allowing maxActive concurrent builds and
// up to capacity queued requests. seedAvg pre-loads the wait estimate until
// the first real build duration is observed.
func NewController(maxActive, capacity int, seedAvg time.Duration) *Controller {
	if maxActive <= 0 {
		maxActive = 1
	}
	if capacity < 0 {
		capacity = 0
	}
	return &Controller{
		maxActive:  maxActive,
		capacity:   capacity,
		avgBuildMs: float64(seedAvg.Milliseconds()),
	}
}

// Acquire obtains a build slot, waiting in FIFO order when all slots are
// busy. It returns a QueueFull error without enqueueing when the queue is at
// capacity, and a RequestCancelled error when ctx fires while waiting. A nil
// return means the caller owns a slot and must call Release exactly once.
func (c *Controller) Acquire(ctx context.Context) error {
	c.mu.Lock()
	if c.active < c.maxActive {
		c.active++
		c.mu.Unlock()
		return nil
	}
	if len(c.queue) >= c.capacity {
		c.mu.Unlock()
		return apperrors.New(apperrors.QueueFull)
	}
	w := &waiter{grant: make(chan struct{})}
	c.queue = append(c.queue, w)
	c.mu.Unlock()

	select {
	case <-w.grant:
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		defer c.mu.Unlock()
		if w.granted {
			// Release handed the slot over before the cancellation won
			// the race; the build proceeds.
			return nil
		}
		c.remove(w)
		return apperrors.Wrap(ctx.Err(), apperrors.RequestCancelled)
	}
}

// remove drops w from the queue. Caller holds the mutex.
func (c *Controller) remove(w *waiter) {
	for i, q := range c.queue {
		if q == w {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return
		}
	}
}

// Release frees a slot and hands it to the head of the queue, if any.
func (c *Controller) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active > 0 {
		c.active--
	}
	if len(c.queue) == 0 {
		return
	}
	w := c.queue[0]
	c.queue = c.queue[1:]
	w.granted = true
	c.active++
	close(w.grant)
}

// ObserveDuration feeds one finished build's wall-clock duration into the
// rolling average. Only builds whose toolchain actually ran should report.
func (c *Controller) ObserveDuration(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ms := float64(d.Milliseconds())
	if !c.hasSample {
		c.avgBuildMs = ms
		c.hasSample = true
		return
	}
	c.avgBuildMs = (1-ewmaAlpha)*c.avgBuildMs + ewmaAlpha*ms
}

// EstimateWaitSeconds predicts how long a new arrival would wait for a slot,
// in whole seconds, never less than one.
func (c *Controller) EstimateWaitSeconds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.estimateLocked()
}

func (c *Controller) estimateLocked() int {
	ahead := len(c.queue) + c.active
	secs := float64(ahead) / float64(c.maxActive) * c.avgBuildMs / 1000.0
	n := int(math.Ceil(secs))
	if n < 1 {
		n = 1
	}
	return n
}

// Snapshot reports current occupancy for readiness and logging.
func (c *Controller) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Active:               c.active,
		Queued:               len(c.queue),
		EstimatedWaitSeconds: c.estimateLocked(),
	}
}
