package util

import (
	"runtime"
	"sync"
	"testing"
	"time"
)

// TestTaskFeedOrder tests that tasks pushed by one goroutine run in order
func TestTaskFeedOrder(t *testing.T) {
	q := NewLockFreeMPSC[func() int]()
	defer q.Close()

	for i := 0; i < 10; i++ {
		task := func() int { return i }
		if !q.Push(&task) {
			t.Fatalf("Failed to push task %d", i)
		}
	}

	for i := 0; i < 10; i++ {
		select {
		case task := <-q.Recv():
			if got := (*task)(); got != i {
				t.Errorf("Expected task %d, got %d", i, got)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("Timeout waiting for task %d", i)
		}
	}

	select {
	case task := <-q.Recv():
		t.Errorf("Queue should be empty, but got task %d", (*task)())
	case <-time.After(10 * time.Millisecond):
	}
}

// TestConcurrentProducers verifies no task is lost or duplicated with many producers
func TestConcurrentProducers(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	const numProducers = 10
	const itemsPerProducer = 1000
	totalItems := numProducers * itemsPerProducer

	received := make(map[int]bool, totalItems)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for len(received) < totalItems {
			select {
			case val := <-q.Recv():
				if received[*val] {
					t.Errorf("Duplicate item received: %d", *val)
					return
				}
				received[*val] = true
			case <-time.After(2 * time.Second):
				t.Errorf("Timeout waiting for items, received %d of %d", len(received), totalItems)
				return
			}
		}
	}()

	var wg sync.WaitGroup
	wg.Add(numProducers)
	for p := 0; p < numProducers; p++ {
		go func(producerID int) {
			defer wg.Done()
			for i := 0; i < itemsPerProducer; i++ {
				val := producerID*itemsPerProducer + i
				if !q.Push(&val) {
					t.Errorf("Producer %d failed to push item %d", producerID, i)
				}
				if i%100 == 0 {
					runtime.Gosched()
				}
			}
		}(p)
	}
	wg.Wait()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Timeout waiting for consumer to finish")
	}

	if len(received) != totalItems {
		t.Errorf("Expected %d items, got %d", totalItems, len(received))
	}
}

// TestCloseQueue verifies closing behavior
func TestCloseQueue(t *testing.T) {
	q := NewLockFreeMPSC[int]()

	for i := 0; i < 5; i++ {
		q.Push(&i)
	}

	q.Close()
	q.Close() // idempotent

	val := 100
	if q.Push(&val) {
		t.Error("Should not be able to push after queue is closed")
	}
	if !q.IsClosed() {
		t.Error("IsClosed should report true")
	}

	// pending items may or may not be delivered, but the channel must be closed eventually
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-q.Recv():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("Channel should be closed after Close")
		}
	}
}

// TestNilPush verifies nil values are rejected
func TestNilPush(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	if q.Push(nil) {
		t.Error("Push(nil) should return false")
	}
	if q.Len() != 0 {
		t.Errorf("Expected empty queue, got %d", q.Len())
	}
}

// TestWakeUpAfterIdle verifies the consumer wakes up for pushes after an idle period
func TestWakeUpAfterIdle(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	for round := 0; round < 50; round++ {
		// give the hand-over goroutine time to park on the condition variable
		if round%10 == 0 {
			time.Sleep(5 * time.Millisecond)
		}
		v := round
		q.Push(&v)
		select {
		case got := <-q.Recv():
			if *got != round {
				t.Fatalf("Expected %d, got %d", round, *got)
			}
		case <-time.After(time.Second):
			t.Fatalf("Consumer missed wake up in round %d", round)
		}
	}
}

// BenchmarkMultiProducer benchmarks the queue with multiple producers
func BenchmarkMultiProducer(b *testing.B) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	go func() {
		for range q.Recv() {
		}
	}()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			q.Push(&i)
			i++
		}
	})
}
