// Package shared provides building blocks shared by application services.
package shared

import "sync/atomic"

// Lifecycle is the teardown and loading state shared by a list-style service
// and its asynchronous helpers.
//
// Every asynchronous continuation must check Destroyed before mutating shared
// state; a response that resolves after Destroy was called is discarded.
type Lifecycle struct {
	destroyed atomic.Bool
	loading   atomic.Int64
}

// Destroy marks the owner as torn down. It returns false if it already was.
func (l *Lifecycle) Destroy() bool {
	return l.destroyed.CompareAndSwap(false, true)
}

// Destroyed reports whether teardown has begun.
func (l *Lifecycle) Destroyed() bool {
	return l.destroyed.Load()
}

// BeginLoading increments the in-flight counter and returns the matching
// decrement. Callers defer the returned func.
func (l *Lifecycle) BeginLoading() (done func()) {
	l.loading.Add(1)
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			l.loading.Add(-1)
		}
	}
}

// Loading returns the number of requests in flight.
func (l *Lifecycle) Loading() int64 {
	return l.loading.Load()
}
