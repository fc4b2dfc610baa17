package stream

import (
	"context"
	"testing"
	"time"
)

func TestDriver_StreamAndWait(t *testing.T) {
	f := newFixture(t, testConfig(10, 1, false))
	f.join(1, Vec3{})
	f.add(Vec3{}, true)
	d := NewDriver(f.s, 4, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go d.Run(ctx)

	st, err := d.StreamAndWait(ctx)
	if err != nil {
		t.Fatalf("stream and wait: %v", err)
	}
	if st.Materialized != 1 || st.Cycle != 1 {
		t.Fatalf("stats=%+v", st)
	}
	select {
	case got := <-d.Done():
		if got.Cycle != 1 {
			t.Fatalf("done cycle=%d", got.Cycle)
		}
	case <-ctx.Done():
		t.Fatalf("no completion published")
	}
}

func TestDriver_RequestsCoalesce(t *testing.T) {
	f := newFixture(t, testConfig(10, 1, false))
	d := NewDriver(f.s, 4, nil)
	if !d.Request() {
		t.Fatalf("first request dropped")
	}
	if d.Request() {
		t.Fatalf("second request queued while first pending")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go d.Run(ctx)
	select {
	case st := <-d.Done():
		if st.Cycle != 1 {
			t.Fatalf("cycle=%d want=1", st.Cycle)
		}
	case <-ctx.Done():
		t.Fatalf("queued request never ran")
	}
}
