// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package refdevice

import (
	"testing"

	"github.com/gomlx/arrayindex/backends"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatherSetup compiles the array-index kernel for float32 elements and int32 indices, gathering on axis 0.
func gatherSetup(b *Backend, device backends.DeviceNum) backends.Kernel {
	program := must.M1(b.Compile(device, arrayIndexDecl, "-D in_t=float -D idx_t=int -D DIM=0"))
	return must.M1(program.EntryPoint("arrayIndexND"))
}

var oneBlock = backends.Launch{Global: [2]int{32, 8}, Local: [2]int{32, 8}}

func gatherArgs(out, in, indices *Buffer) []any {
	return []any{
		out, backends.MakeLayout(out.Len()),
		in, backends.MakeLayout(in.Len()),
		indices, backends.MakeLayout(indices.Len()),
		1, 1,
	}
}

func TestQueue_Gather(t *testing.T) {
	b := newTestBackend(t, "parallelism=2")
	kernel := gatherSetup(b, 0)
	in := must.M1(b.NewBuffer(0, []float32{10, 11, 12, 13}))
	indices := must.M1(b.NewBuffer(0, []int32{3, 3, 0, 1, 2}))
	out := must.M1(b.NewZeroBuffer(0, dtypes.Float32, 5))
	queue := must.M1(b.Queue(0))

	require.NoError(t, queue.Enqueue(kernel, oneBlock, gatherArgs(out, in, indices)...))
	require.NoError(t, queue.Finish())
	assert.Equal(t, []float32{13, 13, 10, 11, 12}, out.Flat())

	launches, workItems, err := b.Stats(0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), launches)
	assert.Equal(t, int64(32*8), workItems)
}

func TestQueue_FIFO(t *testing.T) {
	b := newTestBackend(t, "parallelism=-1")
	kernel := gatherSetup(b, 0)
	queue := must.M1(b.Queue(0))

	// Each gather reverses the previous result: the final value depends on the commands running in order.
	const numSteps = 51
	const n = 40
	values := make([]float32, n)
	reverse := make([]int32, n)
	for ii := range n {
		values[ii] = float32(ii)
		reverse[ii] = int32(n - 1 - ii)
	}
	buffers := []*Buffer{must.M1(b.NewBuffer(0, values))}
	indices := must.M1(b.NewBuffer(0, reverse))
	launch := backends.Launch{Global: [2]int{64, 8}, Local: [2]int{32, 8}}
	for step := range numSteps {
		out := must.M1(b.NewZeroBuffer(0, dtypes.Float32, n))
		args := gatherArgs(out, buffers[step], indices)
		args[6] = 2
		require.NoError(t, queue.Enqueue(kernel, launch, args...))
		buffers = append(buffers, out)
	}
	require.NoError(t, queue.Finish())
	final := buffers[numSteps].Flat().([]float32)
	for ii := range n {
		require.Equal(t, float32(n-1-ii), final[ii])
	}
}

func TestQueue_Fault(t *testing.T) {
	b := newTestBackend(t, "")
	kernel := gatherSetup(b, 0)
	in := must.M1(b.NewBuffer(0, []float32{1, 2}))
	bad := must.M1(b.NewBuffer(0, []int32{0, -1}))
	good := must.M1(b.NewBuffer(0, []int32{1, 0}))
	out := must.M1(b.NewZeroBuffer(0, dtypes.Float32, 2))
	queue := must.M1(b.Queue(0))

	// Enqueue accepts the command: the fault only shows when it runs.
	require.NoError(t, queue.Enqueue(kernel, oneBlock, gatherArgs(out, in, bad)...))
	require.NoError(t, queue.Enqueue(kernel, oneBlock, gatherArgs(out, in, good)...))
	err := queue.Finish()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")

	// The fault is reported once, and the queue keeps working.
	require.NoError(t, queue.Finish())
	assert.Equal(t, []float32{2, 1}, out.Flat())
}

func TestQueue_InvalidLaunch(t *testing.T) {
	b := newTestBackend(t, "devices=2")
	kernel := gatherSetup(b, 0)
	in := must.M1(b.NewBuffer(0, []float32{1, 2}))
	indices := must.M1(b.NewBuffer(0, []int32{1}))
	out := must.M1(b.NewZeroBuffer(0, dtypes.Float32, 1))
	queue := must.M1(b.Queue(0))
	args := gatherArgs(out, in, indices)

	// Wrong geometry.
	assert.Error(t, queue.Enqueue(kernel, backends.Launch{Global: [2]int{33, 8}, Local: [2]int{32, 8}}, args...))
	assert.Error(t, queue.Enqueue(kernel, backends.Launch{Global: [2]int{32, 8}}, args...))

	// Wrong queue.
	queue1 := must.M1(b.Queue(1))
	assert.Error(t, queue1.Enqueue(kernel, oneBlock, args...))

	// Wrong arguments.
	assert.Error(t, queue.Enqueue(kernel, oneBlock, args[:7]...))
	wrongType := gatherArgs(out, in, indices)
	wrongType[0] = []float32{0}
	assert.Error(t, queue.Enqueue(kernel, oneBlock, wrongType...))
	shortOutput := gatherArgs(out, in, indices)
	shortOutput[1] = backends.MakeLayout(2)
	assert.Error(t, queue.Enqueue(kernel, oneBlock, shortOutput...))
	blocks := gatherArgs(out, in, indices)
	blocks[7] = int64(1)
	assert.Error(t, queue.Enqueue(kernel, oneBlock, blocks...))
	f64 := must.M1(b.NewZeroBuffer(0, dtypes.Float64, 1))
	assert.Error(t, queue.Enqueue(kernel, oneBlock, gatherArgs(f64, in, indices)...))
	int64Indices := must.M1(b.NewBuffer(0, []int64{1}))
	assert.Error(t, queue.Enqueue(kernel, oneBlock, gatherArgs(out, in, int64Indices)...))
	otherDevice := must.M1(b.NewBuffer(1, []float32{1, 2}))
	assert.Error(t, queue.Enqueue(kernel, oneBlock, gatherArgs(out, otherDevice, indices)...))

	// Finalized program.
	kernel.(*Kernel).Program().Finalize()
	assert.Error(t, queue.Enqueue(kernel, oneBlock, args...))

	require.NoError(t, queue.Finish())
	launches, _, err := b.Stats(0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), launches)
}

func TestQueue_Full(t *testing.T) {
	b := newTestBackend(t, "queue=1")
	kernel := gatherSetup(b, 0)
	in := must.M1(b.NewBuffer(0, []float32{1, 2}))
	indices := must.M1(b.NewBuffer(0, []int32{1}))
	out := must.M1(b.NewZeroBuffer(0, dtypes.Float32, 1))
	queue := must.M1(b.Queue(0))

	// Some enqueues may fail while the queue is busy, but at least the first one is accepted.
	var numAccepted, numRejected int
	for range 100 {
		if err := queue.Enqueue(kernel, oneBlock, gatherArgs(out, in, indices)...); err != nil {
			assert.Contains(t, err.Error(), "full")
			numRejected++
		} else {
			numAccepted++
		}
	}
	require.NoError(t, queue.Finish())
	assert.Positive(t, numAccepted)
	launches, _, err := b.Stats(0)
	require.NoError(t, err)
	assert.Equal(t, int64(numAccepted), launches)
	assert.Equal(t, 100, numAccepted+numRejected)
}

func TestFinalize(t *testing.T) {
	b := must.M1(New("devices=2"))
	kernel := gatherSetup(b, 1)
	in := must.M1(b.NewBuffer(1, []float32{1, 2}))
	indices := must.M1(b.NewBuffer(1, []int32{1}))
	out := must.M1(b.NewZeroBuffer(1, dtypes.Float32, 1))
	queue := must.M1(b.Queue(1))
	require.NoError(t, queue.Enqueue(kernel, oneBlock, gatherArgs(out, in, indices)...))

	// Finalize executes the pending commands before stopping.
	b.Finalize()
	assert.Equal(t, []float32{2}, out.Flat())
	assert.Error(t, queue.Enqueue(kernel, oneBlock, gatherArgs(out, in, indices)...))
	assert.Error(t, queue.Finish())
	_, err := b.Queue(0)
	assert.Error(t, err)
	b.Finalize()
}
