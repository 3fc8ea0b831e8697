// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package refdevice implements a portable reference device backend for arrayindex, that runs the kernels
// in Go, on the host memory.
//
// It implements the full backends.Backend contract: the compile service checks the kernel source and the
// options like a device compiler would (missing type defines, double precision without USE_DOUBLE, ...),
// and each device has an asynchronous FIFO command queue, whose faults are only reported by Queue.Finish.
//
// It is meant for testing and as a reference of the kernels semantics, not for speed.
//
// Import it with import _ "github.com/gomlx/arrayindex/backends/refdevice" to register it as the "ref" backend.
package refdevice

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gomlx/arrayindex/backends"
	"github.com/gomlx/arrayindex/internal/workerspool"
	"github.com/pkg/errors"
)

// BackendName to be used in ARRAYINDEX_BACKEND to specify this backend.
const BackendName = "ref"

// DefaultQueueCapacity is the number of commands a device queue accepts before Enqueue fails.
const DefaultQueueCapacity = 1024

func init() {
	backends.Register(BackendName, func(config string) (backends.Backend, error) {
		return New(config)
	})
}

// Backend implements backends.Backend with host-emulated devices.
type Backend struct {
	devices []*device
	current atomic.Int32

	// supportsDouble and supportsHalf emulate the optional cl_khr_fp64 and cl_khr_fp16 device extensions.
	supportsDouble, supportsHalf bool

	finalizeOnce sync.Once
	finalized    atomic.Bool
}

// Compile-time check that refdevice.Backend implements backends.Backend.
var _ backends.Backend = &Backend{}

// New constructs a new reference Backend.
//
// The config is a comma-separated list of options:
//
//   - "devices=N": number of emulated devices, from 1 to backends.MaxDevices. Default is 1.
//   - "parallelism=N": number of goroutines used to execute each kernel. 0 executes sequentially, -1 is
//     unlimited. Default is runtime.NumCPU().
//   - "sequential": same as "parallelism=0".
//   - "queue=N": capacity of each device queue. Default is DefaultQueueCapacity.
//   - "nofp64": devices don't support double precision.
//   - "nofp16": devices don't support half precision.
func New(config string) (*Backend, error) {
	numDevices := 1
	parallelism := runtime.NumCPU()
	queueCapacity := DefaultQueueCapacity
	b := &Backend{supportsDouble: true, supportsHalf: true}

	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, hasValue := strings.Cut(part, "=")
		var err error
		switch key {
		case "devices":
			numDevices, err = parseIntOption(key, value, hasValue)
			if err == nil && (numDevices < 1 || numDevices > int(backends.MaxDevices)) {
				err = errors.Errorf("option %q must be between 1 and %d", part, backends.MaxDevices)
			}
		case "parallelism":
			parallelism, err = parseIntOption(key, value, hasValue)
		case "queue":
			queueCapacity, err = parseIntOption(key, value, hasValue)
			if err == nil && queueCapacity < 1 {
				err = errors.Errorf("option %q must be positive", part)
			}
		case "sequential":
			parallelism = 0
		case "nofp64":
			b.supportsDouble = false
		case "nofp16":
			b.supportsHalf = false
		default:
			err = errors.Errorf("unknown configuration option %q for the %s backend", part, BackendName)
		}
		if err != nil {
			return nil, err
		}
	}

	b.devices = make([]*device, numDevices)
	for ii := range b.devices {
		pool := workerspool.New()
		pool.SetMaxParallelism(parallelism)
		b.devices[ii] = newDevice(backends.DeviceNum(ii), pool, queueCapacity)
	}
	return b, nil
}

func parseIntOption(key, value string, hasValue bool) (int, error) {
	if !hasValue {
		return 0, errors.Errorf("option %q requires a value, as in %q", key, key+"=1")
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid value for option %q", key)
	}
	return v, nil
}

// Name returns the short name of the backend.
func (b *Backend) Name() string {
	return BackendName
}

// String implements fmt.Stringer.
func (b *Backend) String() string { return BackendName }

// Description is a longer description of the Backend that can be used to pretty-print.
func (b *Backend) Description() string {
	return fmt.Sprintf("Reference Go device backend (%d devices)", len(b.devices))
}

// NumDevices return the number of devices available for this Backend.
func (b *Backend) NumDevices() backends.DeviceNum {
	return backends.DeviceNum(len(b.devices))
}

// CurrentDevice implements backends.DeviceContext. It is the same for all goroutines, see SetCurrentDevice.
func (b *Backend) CurrentDevice() backends.DeviceNum {
	return backends.DeviceNum(b.current.Load())
}

// SetCurrentDevice selects the device returned by CurrentDevice.
func (b *Backend) SetCurrentDevice(deviceNum backends.DeviceNum) error {
	if _, err := b.device(deviceNum); err != nil {
		return err
	}
	b.current.Store(int32(deviceNum))
	return nil
}

// Queue implements backends.DeviceContext.
func (b *Backend) Queue(deviceNum backends.DeviceNum) (backends.Queue, error) {
	d, err := b.device(deviceNum)
	if err != nil {
		return nil, err
	}
	return d.queue, nil
}

// Stats returns the number of kernels executed by the device, and the total number of work-items they had.
func (b *Backend) Stats(deviceNum backends.DeviceNum) (launches, workItems int64, err error) {
	d, err := b.device(deviceNum)
	if err != nil {
		return 0, 0, err
	}
	return d.numLaunches.Load(), d.numWorkItems.Load(), nil
}

func (b *Backend) device(deviceNum backends.DeviceNum) (*device, error) {
	if b.finalized.Load() {
		return nil, errors.Errorf("%s backend already finalized", BackendName)
	}
	if deviceNum < 0 || int(deviceNum) >= len(b.devices) {
		return nil, errors.Errorf("invalid %s for %s backend with %d devices", deviceNum, BackendName, len(b.devices))
	}
	return b.devices[deviceNum], nil
}

// Finalize stops the device queues, after executing the commands already enqueued.
// The backend can't be used afterward.
func (b *Backend) Finalize() {
	b.finalizeOnce.Do(func() {
		b.finalized.Store(true)
		for _, d := range b.devices {
			d.queue.stop()
		}
	})
}

// device is one emulated device, with its command queue.
type device struct {
	num   backends.DeviceNum
	pool  *workerspool.Pool
	queue *Queue

	numLaunches, numWorkItems atomic.Int64
}

func newDevice(num backends.DeviceNum, pool *workerspool.Pool, queueCapacity int) *device {
	d := &device{num: num, pool: pool}
	d.queue = newQueue(d, queueCapacity)
	return d
}
