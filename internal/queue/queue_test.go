package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leaderkey/internal/event"
)

func keyDown(code uint16) event.Event {
	return event.Event{Kind: event.KeyDown, Code: code}
}

func TestRingFIFOAcrossBatchSizes(t *testing.T) {
	for _, batch := range []int{1, 2, 3, 100} {
		r := NewRing(8)
		require.True(t, r.Enqueue(keyDown(1)))
		require.True(t, r.Enqueue(keyDown(2)))
		require.True(t, r.Enqueue(keyDown(3)))

		var got []uint16
		for !r.IsEmpty() {
			for _, ev := range r.DequeueBatch(batch) {
				got = append(got, ev.Code)
			}
		}
		assert.Equal(t, []uint16{1, 2, 3}, got, "batch size %d", batch)
	}
}

func TestRingEmpty(t *testing.T) {
	r := NewRing(4)
	assert.True(t, r.IsEmpty())
	assert.Nil(t, r.DequeueBatch(10))
	assert.Nil(t, r.DequeueBatch(0))
	assert.Equal(t, 0, r.Len())
}

func TestRingOverflowDropsNewest(t *testing.T) {
	h := NewHandoff(512, 10*time.Millisecond)

	accepted, rejected := 0, 0
	for i := 0; i < 600; i++ {
		if h.Enqueue(keyDown(uint16(i))) {
			accepted++
		} else {
			rejected++
		}
	}
	assert.Equal(t, 512, accepted)
	assert.Equal(t, 88, rejected)

	enq, dropped := h.Stats()
	assert.Equal(t, uint64(512), enq)
	assert.Equal(t, uint64(88), dropped)

	var got []event.Event
	for !h.IsEmpty() {
		got = append(got, h.DequeueBatch(64)...)
	}
	require.Len(t, got, 512)
	for i, ev := range got {
		assert.Equal(t, uint16(i), ev.Code)
	}
}

func TestRingWrapAround(t *testing.T) {
	r := NewRing(4)
	next := uint16(0)
	var want, got []uint16

	for round := 0; round < 10; round++ {
		for i := 0; i < 3; i++ {
			require.True(t, r.Enqueue(keyDown(next)))
			want = append(want, next)
			next++
		}
		for _, ev := range r.DequeueBatch(2) {
			got = append(got, ev.Code)
		}
		for _, ev := range r.DequeueBatch(2) {
			got = append(got, ev.Code)
		}
	}
	assert.Equal(t, want, got)
}

func TestRingConcurrentProducerConsumer(t *testing.T) {
	const total = 10000
	r := NewRing(64)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			for !r.Enqueue(keyDown(uint16(i % 65536))) {
				time.Sleep(time.Microsecond)
			}
		}
	}()

	got := make([]uint16, 0, total)
	deadline := time.Now().Add(10 * time.Second)
	for len(got) < total && time.Now().Before(deadline) {
		for _, ev := range r.DequeueBatch(16) {
			got = append(got, ev.Code)
		}
	}
	wg.Wait()

	require.Len(t, got, total)
	for i, c := range got {
		if c != uint16(i%65536) {
			t.Fatalf("out of order at %d: got %d", i, c)
		}
	}
}

func TestNotifierWaitTimesOut(t *testing.T) {
	n := NewNotifier(4)
	start := time.Now()
	assert.False(t, n.Wait(context.Background(), 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestNotifierCountsSignals(t *testing.T) {
	n := NewNotifier(4)
	n.Signal()
	n.Signal()
	assert.True(t, n.Wait(context.Background(), time.Millisecond))
	assert.True(t, n.Wait(context.Background(), time.Millisecond))
	assert.False(t, n.Wait(context.Background(), time.Millisecond))
}

func TestNotifierCancel(t *testing.T) {
	n := NewNotifier(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, n.Wait(ctx, time.Second))
}

func TestHandoffWakesConsumer(t *testing.T) {
	h := NewHandoff(16, time.Second)

	done := make(chan []event.Event, 1)
	go func() {
		if h.Wait(context.Background()) {
			done <- h.DequeueBatch(16)
			return
		}
		done <- nil
	}()

	time.Sleep(10 * time.Millisecond)
	require.True(t, h.Enqueue(keyDown(7)))

	select {
	case got := <-done:
		require.Len(t, got, 1)
		assert.Equal(t, uint16(7), got[0].Code)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer was not woken")
	}
}
