// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package arrayindex

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gomlx/arrayindex/backends"
	"github.com/pkg/errors"
)

// fakeBackend records the calls made by the cache and the dispatcher, without executing anything.
type fakeBackend struct {
	numDevices backends.DeviceNum
	current    backends.DeviceNum

	// compileHook, if set, is called by every Compile before it returns, and can block or fail the compilation.
	compileHook func(device backends.DeviceNum, options string) error
	numCompiles atomic.Int32

	// entryPoints declared by the compiled programs.
	entryPoints []string

	queues []*fakeQueue
}

var _ backends.Backend = (*fakeBackend)(nil)

func newFakeBackend(numDevices int) *fakeBackend {
	b := &fakeBackend{
		numDevices:  backends.DeviceNum(numDevices),
		entryPoints: []string{EntryPointName},
	}
	for range numDevices {
		b.queues = append(b.queues, &fakeQueue{})
	}
	return b
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Description() string { return "fake backend for tests" }

func (b *fakeBackend) NumDevices() backends.DeviceNum { return b.numDevices }

func (b *fakeBackend) CurrentDevice() backends.DeviceNum { return b.current }

func (b *fakeBackend) Finalize() {}

func (b *fakeBackend) Queue(device backends.DeviceNum) (backends.Queue, error) {
	if device < 0 || device >= b.numDevices {
		return nil, errors.Errorf("no queue for %s", device)
	}
	return b.queues[device], nil
}

func (b *fakeBackend) BufferDeviceNum(buffer backends.Buffer) (backends.DeviceNum, error) {
	buf, ok := buffer.(*fakeBuffer)
	if !ok {
		return 0, errors.Errorf("not a fake buffer: %T", buffer)
	}
	return buf.Device, nil
}

func (b *fakeBackend) Compile(device backends.DeviceNum, source, options string) (backends.Program, error) {
	b.numCompiles.Add(1)
	if b.compileHook != nil {
		if err := b.compileHook(device, options); err != nil {
			return nil, err
		}
	}
	return &fakeProgram{device: device, options: options, entryPoints: b.entryPoints}, nil
}

type fakeProgram struct {
	device      backends.DeviceNum
	options     string
	entryPoints []string
	finalized   atomic.Bool
}

func (p *fakeProgram) EntryPoint(name string) (backends.Kernel, error) {
	if !slices.Contains(p.entryPoints, name) {
		return nil, errors.Errorf("no kernel named %q", name)
	}
	return &fakeKernel{name: name, program: p}, nil
}

func (p *fakeProgram) Finalize() { p.finalized.Store(true) }

type fakeKernel struct {
	name    string
	program *fakeProgram
}

func (k *fakeKernel) Name() string { return k.name }

// fakeBuffer is a buffer handle: the dispatcher must pass it along untouched.
type fakeBuffer struct {
	Device backends.DeviceNum
	Data   []float32
}

type enqueuedCall struct {
	kernel backends.Kernel
	launch backends.Launch
	args   []any
}

type fakeQueue struct {
	mu             sync.Mutex
	calls          []enqueuedCall
	numFinish      int
	enqueueErr     error
	panicOnEnqueue any
	finishErr      error
}

func (q *fakeQueue) Enqueue(kernel backends.Kernel, launch backends.Launch, args ...any) error {
	if q.panicOnEnqueue != nil {
		panic(q.panicOnEnqueue)
	}
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls = append(q.calls, enqueuedCall{kernel: kernel, launch: launch, args: args})
	return nil
}

func (q *fakeQueue) Finish() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.numFinish++
	return q.finishErr
}

func (q *fakeQueue) Calls() []enqueuedCall {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.calls)
}
