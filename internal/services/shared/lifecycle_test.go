package shared

import (
	"sync"
	"testing"
)

func TestLifecycle_Destroy(t *testing.T) {
	var l Lifecycle

	if l.Destroyed() {
		t.Fatal("new lifecycle must not be destroyed")
	}
	if !l.Destroy() {
		t.Error("first Destroy should report the transition")
	}
	if l.Destroy() {
		t.Error("second Destroy should be a no-op")
	}
	if !l.Destroyed() {
		t.Error("expected destroyed")
	}
}

func TestLifecycle_LoadingCounter(t *testing.T) {
	var l Lifecycle

	done1 := l.BeginLoading()
	done2 := l.BeginLoading()
	if got := l.Loading(); got != 2 {
		t.Fatalf("expected 2 in flight, got %d", got)
	}

	done1()
	done1()
	if got := l.Loading(); got != 1 {
		t.Errorf("double done must decrement once, got %d", got)
	}

	done2()
	if got := l.Loading(); got != 0 {
		t.Errorf("expected 0 in flight, got %d", got)
	}
}

func TestLifecycle_ConcurrentLoading(t *testing.T) {
	var l Lifecycle
	var wg sync.WaitGroup

	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			done := l.BeginLoading()
			defer done()
		}()
	}
	wg.Wait()

	if got := l.Loading(); got != 0 {
		t.Errorf("expected 0 in flight, got %d", got)
	}
}
