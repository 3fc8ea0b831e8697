// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xsync implements some extra synchronization tools.
package xsync

import "sync"

// Future holds a value that is set once, and can be waited for by any number of goroutines.
//
// It must be created with NewFuture.
type Future[T any] struct {
	once  sync.Once
	ready chan struct{}
	value T
}

// NewFuture returns a Future without a value.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{ready: make(chan struct{})}
}

// Set the value of the future and wakes up the waiters. Only the first call has an effect, and it returns true.
func (f *Future[T]) Set(value T) (set bool) {
	f.once.Do(func() {
		f.value = value
		close(f.ready)
		set = true
	})
	return
}

// Wait blocks until the value is set, and returns it.
func (f *Future[T]) Wait() T {
	<-f.ready
	return f.value
}

// Ready returns whether the value has been set, without blocking.
func (f *Future[T]) Ready() bool {
	select {
	case <-f.ready:
		return true
	default:
		return false
	}
}

// Latch is a Future without a value: a signal that, once triggered, stays triggered.
type Latch struct {
	future *Future[struct{}]
}

// NewLatch returns an un-triggered latch.
func NewLatch() *Latch {
	return &Latch{future: NewFuture[struct{}]()}
}

// Trigger the latch. Triggering an already triggered latch is a no-op.
func (l *Latch) Trigger() { l.future.Set(struct{}{}) }

// Wait blocks until the latch is triggered.
func (l *Latch) Wait() { l.future.Wait() }

// Test returns whether the latch has been triggered, without blocking.
func (l *Latch) Test() bool { return l.future.Ready() }

// WaitChan returns a channel closed when the latch triggers, to be used in a `select`.
func (l *Latch) WaitChan() <-chan struct{} { return l.future.ready }

// SyncMap is a typed wrapper of sync.Map, for keys written once and read many times.
//
// The zero value is ready to use, and it must not be copied after first use.
type SyncMap[K comparable, V any] struct {
	m sync.Map
}

// Load returns the value stored for key, and whether it was found.
func (m *SyncMap[K, V]) Load(key K) (value V, ok bool) {
	v, ok := m.m.Load(key)
	if !ok {
		return value, false
	}
	return v.(V), true
}

// LoadOrStore returns the value stored for key if present, otherwise it stores value and returns it.
// loaded reports whether the value was already present.
func (m *SyncMap[K, V]) LoadOrStore(key K, value V) (actual V, loaded bool) {
	v, loaded := m.m.LoadOrStore(key, value)
	return v.(V), loaded
}

// Len returns the number of keys in the map. It is O(n), meant for tests and reports.
func (m *SyncMap[K, V]) Len() (n int) {
	m.m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return
}

// Range calls f sequentially for each key and value present in the map, until f returns false.
func (m *SyncMap[K, V]) Range(f func(key K, value V) bool) {
	m.m.Range(func(key, value any) bool {
		return f(key.(K), value.(V))
	})
}
