// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package workerspool

import (
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gomlx/arrayindex/pkg/support/xsync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_WaitToStart(t *testing.T) {
	pool := New()
	wantTasks := 4
	pool.SetMaxParallelism(wantTasks)

	var count atomic.Int32
	allStarted := xsync.NewLatch()
	doneTest := xsync.NewLatch()
	var finished atomic.Int32

	go func() {
		for range wantTasks {
			pool.WaitToStart(func() {
				if int(count.Add(1)) == wantTasks {
					allStarted.Trigger()
				}
				allStarted.Wait()
				finished.Add(1)
			})
		}
		doneTest.Trigger()
	}()

	select {
	case <-doneTest.WaitChan():
	case <-time.After(time.Second):
		t.Fatal("Timeout before all tasks were started.")
	}
	allStarted.Wait()
	require.Eventually(t, func() bool { return finished.Load() == int32(wantTasks) }, time.Second, time.Millisecond)

	// No parallelism: runs inline.
	pool.SetMaxParallelism(0)
	count.Store(0)
	pool.WaitToStart(func() { count.Add(1) })
	assert.Equal(t, int32(1), count.Load())
}

func TestPool_ParallelFor(t *testing.T) {
	for _, parallelism := range []int{0, 1, 3, -1} {
		pool := New()
		pool.SetMaxParallelism(parallelism)
		const n = 1000
		seen := make([]atomic.Int32, n)
		var sum atomic.Int64
		pool.ParallelFor(n, func(i int) {
			seen[i].Add(1)
			sum.Add(int64(i))
			runtime.Gosched()
		})
		for i := range n {
			require.Equalf(t, int32(1), seen[i].Load(), "parallelism=%d: index %d visited %d times",
				parallelism, i, seen[i].Load())
		}
		assert.Equal(t, int64(n*(n-1)/2), sum.Load())
	}

	// Empty range is a no-op.
	New().ParallelFor(0, func(int) { t.Fatal("fn should not be called") })
}
