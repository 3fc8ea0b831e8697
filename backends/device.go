// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import "fmt"

// DeviceNum represents which device holds a buffer, or should execute a kernel.
// It's up to the backend to interpret it, but it should be between 0 and Backend.NumDevices.
type DeviceNum int

// MaxDevices is the upper bound of devices any backend can expose.
const MaxDevices DeviceNum = 32

// String implements fmt.Stringer.
func (d DeviceNum) String() string {
	return fmt.Sprintf("device#%d", int(d))
}

// DeviceContext selects the active device and hands out the command queue of each device.
type DeviceContext interface {
	// CurrentDevice returns the device operations should run on for the calling goroutine.
	CurrentDevice() DeviceNum

	// Queue returns the command queue of the given device.
	Queue(device DeviceNum) (Queue, error)
}

// Launch is the geometry of a kernel launch, in work-items: Global is the total number of work-items
// in each of the 2 hardware dimensions, and must be a multiple of Local, the work-group shape.
type Launch struct {
	Global, Local [2]int
}

// NumWorkItems returns the total number of work-items of the launch.
func (l Launch) NumWorkItems() int {
	return l.Global[0] * l.Global[1]
}

// NumGroups returns the number of work-groups in each dimension.
func (l Launch) NumGroups() (x, y int) {
	if l.Local[0] > 0 {
		x = l.Global[0] / l.Local[0]
	}
	if l.Local[1] > 0 {
		y = l.Global[1] / l.Local[1]
	}
	return
}

// String implements fmt.Stringer.
func (l Launch) String() string {
	return fmt.Sprintf("global=%dx%d local=%dx%d", l.Global[0], l.Global[1], l.Local[0], l.Local[1])
}

// Queue is the command queue of one device.
//
// Commands submitted to the same queue execute in FIFO order. There is no ordering between different queues.
type Queue interface {
	// Enqueue submits the kernel for execution with the given launch geometry and positional arguments,
	// and returns without waiting for its completion.
	//
	// An error means the command was not accepted (invalid arguments, resources exhausted), and nothing
	// was executed.
	Enqueue(kernel Kernel, launch Launch, args ...any) error

	// Finish blocks until all commands submitted so far completed. It returns any fault that happened
	// during their execution.
	Finish() error
}
