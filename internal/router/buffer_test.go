package router

import (
	"sync"
	"testing"
	"time"
)

func TestGrowableBuffer_SendReceiveOrder(t *testing.T) {
	buf := NewGrowableBuffer[int](10)

	for i := 0; i < 5; i++ {
		if !buf.Send(i) {
			t.Fatalf("Send(%d) returned false", i)
		}
	}
	if buf.Len() != 5 {
		t.Errorf("Len() = %d, want 5", buf.Len())
	}

	for i := 0; i < 5; i++ {
		val, ok := buf.TryReceive()
		if !ok || val != i {
			t.Fatalf("TryReceive() = %d, %v; want %d, true", val, ok, i)
		}
	}
	if _, ok := buf.TryReceive(); ok {
		t.Error("TryReceive on empty buffer should return false")
	}
}

func TestGrowableBuffer_GrowsAndKeepsOrder(t *testing.T) {
	buf := NewGrowableBuffer[int](4)

	// Wrap the ring before growing
	buf.Send(-2)
	buf.Send(-1)
	buf.TryReceive()
	buf.TryReceive()

	for i := 0; i < 100; i++ {
		buf.Send(i)
	}

	stats := buf.Stats()
	if stats.Count != 100 {
		t.Errorf("Count = %d, want 100", stats.Count)
	}
	if stats.ResizeCount < 3 {
		t.Errorf("ResizeCount = %d, expected at least 3 resizes", stats.ResizeCount)
	}
	if stats.Dropped != 0 {
		t.Errorf("Dropped = %d, unbounded buffer must not drop", stats.Dropped)
	}

	items := buf.DrainTo(0)
	for i, val := range items {
		if val != i {
			t.Fatalf("items[%d] = %d, want %d", i, val, i)
		}
	}
}

func TestBoundedBuffer_DropsOldestAtCeiling(t *testing.T) {
	buf := NewBoundedBuffer[int](4, 8)

	for i := 0; i < 10; i++ {
		if !buf.Send(i) {
			t.Fatalf("Send(%d) returned false", i)
		}
	}

	stats := buf.Stats()
	if stats.Capacity != 8 {
		t.Errorf("Capacity = %d, want ceiling 8", stats.Capacity)
	}
	if stats.Count != 8 {
		t.Errorf("Count = %d, want 8", stats.Count)
	}
	if stats.Dropped != 2 {
		t.Errorf("Dropped = %d, want 2", stats.Dropped)
	}

	items := buf.DrainTo(0)
	if items[0] != 2 || items[len(items)-1] != 9 {
		t.Errorf("items = %v, want 2..9", items)
	}
}

func TestBoundedBuffer_CeilingBelowInitial(t *testing.T) {
	buf := NewBoundedBuffer[int](16, 4)
	if buf.Cap() != 16 {
		t.Errorf("Cap() = %d, want 16", buf.Cap())
	}
	if buf.Stats().MaxCapacity != 16 {
		t.Errorf("MaxCapacity = %d, want raised to 16", buf.Stats().MaxCapacity)
	}
}

func TestGrowableBuffer_BlockingReceive(t *testing.T) {
	buf := NewGrowableBuffer[string](10)

	received := make(chan string, 1)
	go func() {
		val, ok := buf.Receive()
		if ok {
			received <- val
		}
	}()

	// Give receiver time to start waiting
	time.Sleep(10 * time.Millisecond)
	buf.Send("price-update")

	select {
	case val := <-received:
		if val != "price-update" {
			t.Errorf("received %q, want price-update", val)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for blocked receive")
	}
}

func TestGrowableBuffer_Close(t *testing.T) {
	buf := NewGrowableBuffer[int](10)
	buf.Send(1)
	buf.Send(2)

	buf.Close()
	if !buf.Closed() {
		t.Error("Closed() = false after Close")
	}
	if buf.Send(3) {
		t.Error("Send should return false after Close")
	}

	// Remaining items are still delivered
	if items := buf.DrainTo(0); len(items) != 2 {
		t.Errorf("DrainTo after Close = %v, want 2 items", items)
	}
	if _, ok := buf.Receive(); ok {
		t.Error("Receive should return false when closed and empty")
	}
}

func TestGrowableBuffer_CloseUnblocksReceive(t *testing.T) {
	buf := NewGrowableBuffer[int](10)

	done := make(chan bool, 1)
	go func() {
		_, ok := buf.Receive()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	buf.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("Receive should return false when closed and empty")
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock Receive")
	}
}

func TestGrowableBuffer_DrainToLimit(t *testing.T) {
	buf := NewGrowableBuffer[int](10)
	for i := 0; i < 10; i++ {
		buf.Send(i)
	}

	items := buf.DrainTo(5)
	if len(items) != 5 || items[4] != 4 {
		t.Errorf("DrainTo(5) = %v", items)
	}
	if buf.Len() != 5 {
		t.Errorf("Len() = %d, want 5", buf.Len())
	}

	stats := buf.Stats()
	if stats.TotalSent != 5 || stats.TotalReceived != 10 {
		t.Errorf("stats = %+v", stats)
	}
	if rest := buf.DrainTo(0); len(rest) != 5 {
		t.Errorf("DrainTo(0) = %v, want remaining 5 items", rest)
	}
	if rest := buf.DrainTo(0); rest != nil {
		t.Errorf("DrainTo on empty buffer = %v, want nil", rest)
	}
}

func TestGrowableBuffer_ConcurrentSendReceive(t *testing.T) {
	buf := NewGrowableBuffer[int](10)
	const numItems = 1000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < numItems; i++ {
			buf.Send(i)
		}
	}()

	received := make([]int, 0, numItems)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < numItems; i++ {
			if val, ok := buf.Receive(); ok {
				received = append(received, val)
			}
		}
	}()

	wg.Wait()

	if len(received) != numItems {
		t.Fatalf("received %d items, want %d", len(received), numItems)
	}
	// Single producer, single consumer: order is preserved
	for i, val := range received {
		if val != i {
			t.Fatalf("received[%d] = %d, want %d", i, val, i)
		}
	}
}

func TestNewGrowableBuffer_MinCapacity(t *testing.T) {
	if buf := NewGrowableBuffer[int](0); buf.Cap() != 1 {
		t.Errorf("Cap() = %d, want 1 for initial capacity 0", buf.Cap())
	}
	if buf := NewGrowableBuffer[int](-5); buf.Cap() != 1 {
		t.Errorf("Cap() = %d, want 1 for negative initial capacity", buf.Cap())
	}
}
