package redmetrics

import (
	"context"
	"sync"
)

// Result reports how many records the collector accepted in one flush.
type Result struct {
	Events    int `json:"events"`
	Snapshots int `json:"snapshots"`
}

// Delivery is the pending outcome of the next flush. Every record posted
// between two flushes receives the same *Delivery, and it settles exactly once.
type Delivery struct {
	done chan struct{}
	once sync.Once
	res  Result
	err  error
}

func newDelivery() *Delivery {
	return &Delivery{done: make(chan struct{})}
}

// settle records the outcome. Calls after the first are ignored.
func (d *Delivery) settle(res Result, err error) {
	d.once.Do(func() {
		d.res = res
		d.err = err
		close(d.done)
	})
}

// Done is closed once the delivery has settled.
func (d *Delivery) Done() <-chan struct{} {
	return d.done
}

// Wait blocks until the delivery settles or ctx ends.
func (d *Delivery) Wait(ctx context.Context) (Result, error) {
	select {
	case <-d.done:
		return d.res, d.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
