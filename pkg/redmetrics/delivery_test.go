package redmetrics

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDelivery_SettlesOnce(t *testing.T) {
	d := newDelivery()
	d.settle(Result{Events: 2}, nil)
	d.settle(Result{}, errors.New("late"))

	res, err := d.Wait(context.Background())
	if err != nil || res.Events != 2 {
		t.Errorf("Wait() = %+v, %v; want the first outcome", res, err)
	}
}

func TestDelivery_WaitHonoursContext(t *testing.T) {
	d := newDelivery()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := d.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() err = %v, want DeadlineExceeded", err)
	}
	select {
	case <-d.Done():
		t.Error("Done closed without settle")
	default:
	}
}
