// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package refdevice

import (
	"sync"

	"github.com/gomlx/arrayindex/backends"
	"github.com/gomlx/arrayindex/pkg/support/xsync"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Queue is the command queue of one emulated device. It implements backends.Queue.
//
// Commands are executed in order by a dedicated goroutine. The work-groups of each command are executed in
// parallel, using the device's workers pool.
type Queue struct {
	device   *device
	commands chan command
	exited   *xsync.Latch

	muStop  sync.RWMutex
	stopped bool

	muFault sync.Mutex
	fault   error
}

// command is either a kernel launch or, if barrier is set, a marker to signal when all previous commands finished.
type command struct {
	kernel   *Kernel
	launch   backends.Launch
	runGroup func(groupX, groupY int)
	barrier  *xsync.Latch
}

var _ backends.Queue = &Queue{}

func newQueue(d *device, capacity int) *Queue {
	q := &Queue{
		device:   d,
		commands: make(chan command, capacity),
		exited:   xsync.NewLatch(),
	}
	go q.run()
	return q
}

// Enqueue implements backends.Queue. It validates the kernel, launch and arguments immediately, and returns an error
// if they are invalid or if the queue is full.
func (q *Queue) Enqueue(kernel backends.Kernel, launch backends.Launch, args ...any) error {
	k, ok := kernel.(*Kernel)
	if !ok || k == nil {
		return errors.Errorf("kernel of type %T is not a %s backend kernel", kernel, BackendName)
	}
	if k.program.finalized.Load() {
		return errors.Errorf("kernel %s belongs to a finalized program", k)
	}
	if k.program.device != q.device.num {
		return errors.Errorf("kernel %s was built for %s, it can't be enqueued on %s", k, k.program.device, q.device.num)
	}
	for dim := range 2 {
		if launch.Local[dim] <= 0 {
			return errors.Errorf("invalid work-group shape in %s", launch)
		}
		if launch.Global[dim] < 0 || launch.Global[dim]%launch.Local[dim] != 0 {
			return errors.Errorf("global size must be a non-negative multiple of the work-group shape, got %s", launch)
		}
	}
	runGroup, err := k.bind(q.device.num, launch, args)
	if err != nil {
		return errors.WithMessagef(err, "invalid arguments for kernel %s", k)
	}
	return q.submit(command{kernel: k, launch: launch, runGroup: runGroup})
}

func (q *Queue) submit(cmd command) error {
	q.muStop.RLock()
	defer q.muStop.RUnlock()
	if q.stopped {
		return errors.Errorf("queue of %s already stopped", q.device.num)
	}
	select {
	case q.commands <- cmd:
		return nil
	default:
		return errors.Errorf("queue of %s is full (%d commands pending)", q.device.num, cap(q.commands))
	}
}

// Finish implements backends.Queue. It waits for all commands enqueued so far, and returns the first fault that
// happened since the previous call to Finish, if any.
//
// The fault is kept per queue, not per command: with concurrent users of the queue, it is returned to whichever
// Finish reads it first, and cleared.
func (q *Queue) Finish() error {
	barrier := xsync.NewLatch()
	q.muStop.RLock()
	if q.stopped {
		q.muStop.RUnlock()
		return errors.Errorf("queue of %s already stopped", q.device.num)
	}
	q.commands <- command{barrier: barrier}
	q.muStop.RUnlock()
	barrier.Wait()

	q.muFault.Lock()
	defer q.muFault.Unlock()
	err := q.fault
	q.fault = nil
	return err
}

// stop closes the queue for new commands, and waits for the pending ones to execute.
func (q *Queue) stop() {
	q.muStop.Lock()
	if !q.stopped {
		q.stopped = true
		close(q.commands)
	}
	q.muStop.Unlock()
	q.exited.Wait()
}

func (q *Queue) run() {
	defer q.exited.Trigger()
	for cmd := range q.commands {
		if cmd.barrier != nil {
			cmd.barrier.Trigger()
			continue
		}
		q.execute(cmd)
	}
}

// execute runs all work-groups of the command. Panics raised by the work-groups are recorded as the queue fault.
func (q *Queue) execute(cmd command) {
	groupsX, groupsY := cmd.launch.NumGroups()
	var muErr sync.Mutex
	var firstErr error
	q.device.pool.ParallelFor(groupsX*groupsY, func(group int) {
		exception := exceptions.Try(func() {
			cmd.runGroup(group%groupsX, group/groupsX)
		})
		if exception != nil {
			err, ok := exception.(error)
			if !ok {
				err = errors.Errorf("work-group panic: %v", exception)
			}
			muErr.Lock()
			if firstErr == nil {
				firstErr = err
			}
			muErr.Unlock()
		}
	})
	q.device.numLaunches.Add(1)
	q.device.numWorkItems.Add(int64(cmd.launch.NumWorkItems()))
	if firstErr != nil {
		q.recordFault(errors.WithMessagef(firstErr, "kernel %s (%s) faulted on %s", cmd.kernel, cmd.launch, q.device.num))
	}
}

func (q *Queue) recordFault(err error) {
	klog.V(1).Infof("refdevice: %v", err)
	q.muFault.Lock()
	defer q.muFault.Unlock()
	if q.fault == nil {
		q.fault = err
	}
}
