// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package arrayindex dispatches the array-index (gather) kernel to compute devices.
//
// Given an output, an input and an indices array, all resident on the current device of a backend, it gathers the
// values of the input along one axis at the positions given by the indices:
//
//	output[x, y, z, w] = input[x, y, z, w], with the coordinate on Axis replaced by indices[coordinate on Axis].
//
// The kernel is compiled for each Signature (element type, index type, axis) and device on first use, and kept
// in a KernelCache. The launch geometry folds the 4 axes of the output onto the 2D hardware grid, see
// ComputeGeometry.
//
// Errors returned are *Error values, classified by Kind.
package arrayindex

import (
	"os"
	"strconv"

	"github.com/gomlx/arrayindex/backends"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DebugFinishEnv is the environment variable that, if set to true, makes new Dispatchers drain the device queue
// after each dispatch, so device faults are reported by the Dispatch call that caused them.
const DebugFinishEnv = "ARRAYINDEX_DEBUG_FINISH"

// Dispatcher launches the array-index kernel on the devices of a backend.
//
// It is safe for concurrent use, but the With* configuration methods should be called before the first Dispatch.
type Dispatcher struct {
	backend     backends.Backend
	cache       *KernelCache
	debugFinish bool
}

// NewDispatcher returns a Dispatcher for the backend, with its own KernelCache.
func NewDispatcher(backend backends.Backend) *Dispatcher {
	return &Dispatcher{
		backend:     backend,
		cache:       NewKernelCache(backend),
		debugFinish: debugFinishFromEnv(),
	}
}

func debugFinishFromEnv() bool {
	value, found := os.LookupEnv(DebugFinishEnv)
	if !found || value == "" {
		return false
	}
	enabled, err := strconv.ParseBool(value)
	if err != nil {
		klog.Warningf("arrayindex: invalid value %q for $%s, debug finish disabled: %v", value, DebugFinishEnv, err)
		return false
	}
	return enabled
}

// WithCache makes the Dispatcher use the given cache, which can be shared with other Dispatchers of the same backend.
// It returns the Dispatcher itself, so calls can be cascaded.
func (d *Dispatcher) WithCache(cache *KernelCache) *Dispatcher {
	d.cache = cache
	return d
}

// WithDebugFinish configures whether the Dispatcher waits for the device queue to drain after each dispatch.
// If enabled, faults during the kernel execution are returned as DeviceError.
//
// Faults are reported by the device queue, not per dispatch: a fault is returned by the first drain that follows
// it. If several Dispatchers (or other users) share the device queue, the DeviceError may be returned by the
// Dispatch of another caller, and the Dispatch that enqueued the faulting kernel may return nil.
//
// It defaults to the value of $ARRAYINDEX_DEBUG_FINISH. It returns the Dispatcher itself, so calls can be cascaded.
func (d *Dispatcher) WithDebugFinish(enabled bool) *Dispatcher {
	d.debugFinish = enabled
	return d
}

// Cache returns the KernelCache used by the Dispatcher.
func (d *Dispatcher) Cache() *KernelCache {
	return d.cache
}

// Backend returns the backend used by the Dispatcher.
func (d *Dispatcher) Backend() backends.Backend {
	return d.backend
}

// Dispatch enqueues the gather of input into output, at the positions given by indices along sig.Axis, on
// the current device of the backend.
//
// It returns once the kernel is enqueued, the execution happens asynchronously. The buffers are borrowed, and
// the caller must keep them alive (not freed, and not written by some other operation) until the device queue
// is drained.
//
// Preconditions: the arrays must be resident on the current device, indices must have rank 1, and output must have
// the dimensions of input, except on sig.Axis, where its dimension must be the number of indices.
//
// An output with zero elements is a no-op: nothing is compiled nor enqueued.
func (d *Dispatcher) Dispatch(output, input, indices backends.Array, sig Signature) error {
	var device backends.DeviceNum
	err := callBackend(func() error {
		device = d.backend.CurrentDevice()
		return nil
	})
	if err != nil {
		return newError(LaunchError, "resolve device", device, sig, err)
	}
	if err := sig.Validate(); err != nil {
		return newError(BuildError, "validate signature", device, sig, err)
	}
	if err := d.validate(device, output, input, indices, sig); err != nil {
		return newError(LaunchError, "validate arguments", device, sig, err)
	}

	geometry := ComputeGeometry(output.Layout.Dims)
	if geometry.IsEmpty() {
		klog.V(2).Infof("arrayindex: empty output %v for %s on %s, nothing to dispatch", output.Layout.Dims, sig, device)
		return nil
	}

	kernel, err := d.cache.EntryPoint(device, sig)
	if err != nil {
		return err
	}

	var queue backends.Queue
	err = callBackend(func() (err error) {
		queue, err = d.backend.Queue(device)
		return
	})
	if err == nil && queue == nil {
		err = errors.New("backend returned no queue")
	}
	if err != nil {
		return newError(LaunchError, "get queue", device, sig, err)
	}

	klog.V(2).Infof("arrayindex: dispatching %s on %s: %s, blocks=(%d, %d)",
		sig, device, geometry.Launch(), geometry.BlocksX, geometry.BlocksY)
	err = callBackend(func() error {
		return queue.Enqueue(kernel, geometry.Launch(),
			output.Buffer, output.Layout,
			input.Buffer, input.Layout,
			indices.Buffer, indices.Layout,
			geometry.BlocksX, geometry.BlocksY)
	})
	if err != nil {
		return newError(LaunchError, "enqueue", device, sig, err)
	}

	if d.debugFinish {
		if err = callBackend(queue.Finish); err != nil {
			return newError(DeviceError, "finish", device, sig, err)
		}
	}
	return nil
}

// validate checks the preconditions of Dispatch.
func (d *Dispatcher) validate(device backends.DeviceNum, output, input, indices backends.Array, sig Signature) error {
	if numDevices := d.backend.NumDevices(); device < 0 || device >= numDevices {
		return errors.Errorf("current device %s is out of range, backend %q has %d devices",
			device, d.backend.Name(), numDevices)
	}
	named := []struct {
		name  string
		array backends.Array
	}{{"output", output}, {"input", input}, {"indices", indices}}
	for _, n := range named {
		if n.array.Buffer == nil {
			return errors.Errorf("%s array has no buffer", n.name)
		}
		if err := n.array.Layout.Validate(); err != nil {
			return errors.WithMessagef(err, "%s array", n.name)
		}
		var bufferDevice backends.DeviceNum
		err := callBackend(func() (err error) {
			bufferDevice, err = d.backend.BufferDeviceNum(n.array.Buffer)
			return
		})
		if err != nil {
			return errors.WithMessagef(err, "%s array", n.name)
		}
		if bufferDevice != device {
			return errors.Errorf("%s array is resident on %s, but dispatching on %s", n.name, bufferDevice, device)
		}
	}

	for axis := 1; axis < backends.MaxRank; axis++ {
		if indices.Layout.Dims[axis] != 1 {
			return errors.Errorf("indices must have rank 1, got dimensions %v", indices.Layout.Dims)
		}
	}
	for axis := range backends.MaxRank {
		want := input.Layout.Dims[axis]
		if axis == sig.Axis {
			want = indices.Layout.Dims[0]
		}
		if output.Layout.Dims[axis] != want {
			return errors.Errorf("output dimensions %v don't match input dimensions %v gathered with %d indices on axis %d",
				output.Layout.Dims, input.Layout.Dims, indices.Layout.Dims[0], sig.Axis)
		}
	}
	return nil
}

// Gather dispatches the array-index kernel with the Signature derived from the Go types T (of the elements of
// output and input) and I (of the indices).
//
// See Dispatcher.Dispatch for details.
func Gather[T, I dtypes.Supported](d *Dispatcher, output, input, indices backends.Array, axis int) error {
	sig := Signature{
		DType:      dtypes.FromGenericsType[T](),
		IndexDType: dtypes.FromGenericsType[I](),
		Axis:       axis,
	}
	return d.Dispatch(output, input, indices, sig)
}
