package worker

import "sync"

// Controller carries the cooperative cancellation state for the task
// currently being processed. Nothing forcibly aborts in-flight I/O; long
// operations poll IsInterrupted at safe points (between stream chunks,
// before starting a tool).
type Controller struct {
	mu          sync.Mutex
	interrupted bool
	reason      string
	callbacks   []func(reason string)
}

func NewController() *Controller { return &Controller{} }

// Interrupt raises the flag, records the reason and synchronously invokes
// every registered callback.
func (c *Controller) Interrupt(reason string) {
	c.mu.Lock()
	c.interrupted = true
	c.reason = reason
	callbacks := make([]func(string), len(c.callbacks))
	copy(callbacks, c.callbacks)
	c.mu.Unlock()

	for _, fn := range callbacks {
		fn(reason)
	}
}

func (c *Controller) IsInterrupted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interrupted
}

func (c *Controller) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// OnInterrupt registers a callback fired on the next Interrupt. Callbacks
// survive partial resets and are dropped only by Reset(true).
func (c *Controller) OnInterrupt(fn func(reason string)) {
	c.mu.Lock()
	c.callbacks = append(c.callbacks, fn)
	c.mu.Unlock()
}

// Reset clears the interruption flag so the next task starts with a clean
// cancellation slate. A full reset also drops registered callbacks.
func (c *Controller) Reset(full bool) {
	c.mu.Lock()
	c.interrupted = false
	c.reason = ""
	if full {
		c.callbacks = nil
	}
	c.mu.Unlock()
}
