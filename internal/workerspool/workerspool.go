// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool runs tasks in goroutines, bounded by a soft limit of parallelism.
package workerspool

import (
	"runtime"
	"sync"
)

// Pool of workers. A zero Pool runs everything inline, use New to create one with the default parallelism.
type Pool struct {
	// maxParallelism is the limit of tasks running concurrently:
	// 0 means no parallelism (run inline) and a negative value means unlimited.
	maxParallelism int
	mu             sync.Mutex
	cond           sync.Cond // Signaled whenever numRunning is decreased.
	numRunning     int
}

// New returns a new Pool of workers with the default parallelism (runtime.NumCPU()).
func New() *Pool {
	w := &Pool{}
	w.maxParallelism = runtime.NumCPU()
	w.cond = sync.Cond{L: &w.mu}
	return w
}

// IsEnabled returns whether parallelism is enabled (maxParallelism is != 0)
func (w *Pool) IsEnabled() bool {
	return w.maxParallelism != 0
}

// IsUnlimited returns whether parallelism is unlimited (maxParallelism < 0)
func (w *Pool) IsUnlimited() bool {
	return w.maxParallelism < 0
}

// MaxParallelism returns the limit of tasks running concurrently.
// If 0 parallelism is disabled, and if negative it is unlimited.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// SetMaxParallelism sets the maxParallelism.
//
// It should only be changed before any task is started. If changed while tasks are running the behavior is undefined.
func (w *Pool) SetMaxParallelism(maxParallelism int) {
	w.maxParallelism = maxParallelism
	if w.cond.L == nil {
		w.cond = sync.Cond{L: &w.mu}
	}
}

// WaitToStart waits until there is a worker available, and runs the task in a new goroutine.
//
// If parallelism is disabled, it runs the task inline and returns when it is finished.
func (w *Pool) WaitToStart(task func()) {
	if w.IsUnlimited() {
		go task()
		return
	} else if !w.IsEnabled() {
		task()
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for w.numRunning >= w.maxParallelism {
		w.cond.Wait()
	}
	w.numRunning++
	go func() {
		defer func() {
			w.mu.Lock()
			w.numRunning--
			w.cond.Signal()
			w.mu.Unlock()
		}()
		task()
	}()
}

// ParallelFor calls fn(i) for every i in [0, n), using the workers of the pool, and returns when all of them
// finished.
//
// Tasks are grouped in contiguous chunks, one per worker, so fn should take roughly the same time for every i.
// If fn panics, the panic is not recovered: callers are expected to handle it inside fn.
func (w *Pool) ParallelFor(n int, fn func(i int)) {
	if n <= 0 {
		return
	}
	numChunks := w.maxParallelism
	if w.IsUnlimited() {
		numChunks = runtime.NumCPU()
	}
	if numChunks <= 1 || n == 1 {
		for i := range n {
			fn(i)
		}
		return
	}
	numChunks = min(numChunks, n)
	chunkSize := (n + numChunks - 1) / numChunks
	var wg sync.WaitGroup
	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		wg.Add(1)
		w.WaitToStart(func() {
			defer wg.Done()
			for i := start; i < end; i++ {
				fn(i)
			}
		})
	}
	wg.Wait()
}
