// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xsync

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatch(t *testing.T) {
	l := NewLatch()
	require.False(t, l.Test())
	done := make(chan struct{})
	go func() {
		l.Wait()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("Wait() returned before Trigger()")
	case <-time.After(10 * time.Millisecond):
	}
	l.Trigger()
	l.Trigger()
	<-done
	assert.True(t, l.Test())
	select {
	case <-l.WaitChan():
	default:
		t.Fatal("WaitChan() not closed after Trigger()")
	}
}

func TestFuture(t *testing.T) {
	f := NewFuture[error]()
	require.False(t, f.Ready())
	want := errors.New("compilation failed")

	const numWaiters = 8
	got := make([]error, numWaiters)
	var wg sync.WaitGroup
	for ii := range numWaiters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got[ii] = f.Wait()
		}()
	}
	require.True(t, f.Set(want))
	require.False(t, f.Set(nil), "only the first Set has an effect")
	wg.Wait()
	assert.True(t, f.Ready())
	for _, err := range got {
		assert.Same(t, want, err)
	}
}

func TestSyncMap(t *testing.T) {
	var m SyncMap[int, *int]
	_, found := m.Load(1)
	require.False(t, found)

	const numWriters = 16
	values := make([]*int, numWriters)
	var wg sync.WaitGroup
	for ii := range numWriters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := ii
			values[ii], _ = m.LoadOrStore(1, &v)
		}()
	}
	wg.Wait()
	for _, v := range values {
		assert.Same(t, values[0], v, "all writers must observe the same stored value")
	}

	_, _ = m.LoadOrStore(2, new(int))
	count := 0
	m.Range(func(key int, value *int) bool {
		count++
		return true
	})
	assert.Equal(t, 2, count)
	assert.Equal(t, 2, m.Len())
}
