// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package arrayindex

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gomlx/arrayindex/backends"
	"github.com/gomlx/arrayindex/pkg/support/xsync"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// KernelCache holds the compiled array-index programs, one per (device, Signature), and their entry points.
//
// Programs are compiled lazily, exactly once per key, even under concurrent calls. They are owned by the cache
// and live as long as it does: there is no eviction, since the number of keys is bounded by the number of
// devices times the number of signatures in use.
//
// After a key is compiled, lookups don't take any lock. Compilation of one key doesn't block lookups or
// compilations of other keys.
type KernelCache struct {
	compiler   backends.Compiler
	source     string
	entryPoint string

	slots           xsync.SyncMap[cacheKey, *cacheSlot]
	numCompilations atomic.Int64
}

type cacheKey struct {
	device backends.DeviceNum
	sig    Signature
}

// cacheSlot holds the compiled unit of one key, unit is only set once.
//
// While a compilation is running, attempt is set (guarded by mu), and concurrent callers wait for its result
// instead of compiling again.
type cacheSlot struct {
	mu      sync.Mutex
	attempt *xsync.Future[compileResult]
	unit    atomic.Pointer[compiledUnit]
}

// compileResult is the outcome of one compilation attempt: either unit or err is set.
type compileResult struct {
	unit *compiledUnit
	err  error
}

// compiledUnit owns the program, and the kernel extracted from it.
// If err is set, the entry point lookup failed and the key is permanently broken.
type compiledUnit struct {
	program     backends.Program
	kernel      backends.Kernel
	options     string
	compileTime time.Duration
	err         error
}

// NewKernelCache creates a cache of the array-index kernel (ArrayIndexSource) compiled with compiler.
func NewKernelCache(compiler backends.Compiler) *KernelCache {
	return &KernelCache{
		compiler:   compiler,
		source:     ArrayIndexSource,
		entryPoint: EntryPointName,
	}
}

// WithSource changes the kernel source and the name of its entry point.
//
// It should be called before the first EntryPoint call, and it returns the cache itself, so calls can be
// cascaded.
func (c *KernelCache) WithSource(source, entryPoint string) *KernelCache {
	c.source = source
	c.entryPoint = entryPoint
	return c
}

// EntryPoint returns the kernel compiled for the device and signature, compiling it on the first call.
//
// The returned kernel is owned by the cache, and valid for as long as the cache is alive.
//
// Errors are of kind BuildError (the key is left empty, and a following call will attempt to compile again),
// LookupError (the key is permanently broken) or LaunchError (invalid device). A failed compilation is
// reported to the caller that triggered it and to the callers that were already waiting for it.
func (c *KernelCache) EntryPoint(device backends.DeviceNum, sig Signature) (backends.Kernel, error) {
	if device < 0 || device >= backends.MaxDevices {
		return nil, newError(LaunchError, "cache lookup", device, sig,
			errors.Errorf("device number out of range [0, %d)", backends.MaxDevices))
	}
	key := cacheKey{device: device, sig: sig}
	slot, found := c.slots.Load(key)
	if found {
		if unit := slot.unit.Load(); unit != nil {
			return unit.result()
		}
	} else {
		if err := sig.Validate(); err != nil {
			return nil, newError(BuildError, "validate signature", device, sig, err)
		}
		slot, _ = c.slots.LoadOrStore(key, &cacheSlot{})
	}

	slot.mu.Lock()
	if unit := slot.unit.Load(); unit != nil {
		// Compiled by a concurrent caller.
		slot.mu.Unlock()
		return unit.result()
	}
	if attempt := slot.attempt; attempt != nil {
		slot.mu.Unlock()
		r := attempt.Wait()
		if r.err != nil {
			return nil, r.err
		}
		return r.unit.result()
	}
	attempt := xsync.NewFuture[compileResult]()
	slot.attempt = attempt
	slot.mu.Unlock()

	r := c.runAttempt(slot, attempt, device, sig)
	if r.err != nil {
		return nil, r.err
	}
	return r.unit.result()
}

// runAttempt compiles the key, publishes the result to the waiters of attempt, and clears the attempt
// from the slot, so a later call after a failure compiles again.
func (c *KernelCache) runAttempt(slot *cacheSlot, attempt *xsync.Future[compileResult], device backends.DeviceNum,
	sig Signature) (r compileResult) {
	defer func() {
		if r.unit == nil && r.err == nil {
			// compile panicked.
			r.err = newError(BuildError, "compile", device, sig, errors.New("compilation aborted"))
		}
		slot.mu.Lock()
		if r.unit != nil {
			slot.unit.Store(r.unit)
		}
		slot.attempt = nil
		slot.mu.Unlock()
		attempt.Set(r)
	}()
	r.unit, r.err = c.compile(device, sig)
	return
}

func (u *compiledUnit) result() (backends.Kernel, error) {
	if u.err != nil {
		return nil, u.err
	}
	return u.kernel, nil
}

// compile builds the program for the key. A returned error is retryable, a failed lookup is recorded
// in the returned compiledUnit instead.
func (c *KernelCache) compile(device backends.DeviceNum, sig Signature) (*compiledUnit, error) {
	options, err := sig.CompileOptions()
	if err != nil {
		return nil, newError(BuildError, "compile", device, sig, err)
	}

	c.numCompilations.Add(1)
	start := time.Now()
	var program backends.Program
	err = callBackend(func() (err error) {
		program, err = c.compiler.Compile(device, c.source, options)
		return
	})
	if err == nil && program == nil {
		err = errors.New("compiler returned no program")
	}
	if err != nil {
		klog.V(1).Infof("arrayindex: failed to compile %s on %s with %q: %v", sig, device, options, err)
		return nil, newError(BuildError, "compile", device, sig, errors.WithMessagef(err, "options %q", options))
	}
	unit := &compiledUnit{
		program:     program,
		options:     options,
		compileTime: time.Since(start),
	}

	err = callBackend(func() (err error) {
		unit.kernel, err = program.EntryPoint(c.entryPoint)
		return
	})
	if err == nil && unit.kernel == nil {
		err = errors.Errorf("program has no entry point %q", c.entryPoint)
	}
	if err != nil {
		finalizeErr := callBackend(func() error {
			program.Finalize()
			return nil
		})
		if finalizeErr != nil {
			klog.Warningf("arrayindex: failed to finalize program of %s on %s: %v", sig, device, finalizeErr)
		}
		unit.program = nil
		unit.kernel = nil
		unit.err = newError(LookupError, "entry point lookup", device, sig,
			errors.WithMessagef(err, "entry point %q", c.entryPoint))
		klog.Errorf("arrayindex: %v", unit.err)
		return unit, nil
	}
	klog.V(1).Infof("arrayindex: compiled %s on %s with %q in %s", sig, device, options, unit.compileTime)
	return unit, nil
}

// NumCompilations returns the number of times the compile service was invoked by the cache.
func (c *KernelCache) NumCompilations() int64 {
	return c.numCompilations.Load()
}

// CacheEntry describes one compiled key of the cache, see KernelCache.Entries.
type CacheEntry struct {
	Device      backends.DeviceNum
	Signature   Signature
	Options     string
	CompileTime time.Duration

	// Err is set if the compiled program lacked the entry point.
	Err error
}

// Entries returns the compiled keys of the cache, sorted by device and then signature.
// Keys that failed to compile (and will be retried) are not listed.
func (c *KernelCache) Entries() []CacheEntry {
	var entries []CacheEntry
	c.slots.Range(func(key cacheKey, slot *cacheSlot) bool {
		unit := slot.unit.Load()
		if unit == nil {
			return true
		}
		entries = append(entries, CacheEntry{
			Device:      key.device,
			Signature:   key.sig,
			Options:     unit.options,
			CompileTime: unit.compileTime,
			Err:         unit.err,
		})
		return true
	})
	slices.SortFunc(entries, func(a, b CacheEntry) int {
		return cmp.Or(
			cmp.Compare(a.Device, b.Device),
			cmp.Compare(a.Signature.DType, b.Signature.DType),
			cmp.Compare(a.Signature.IndexDType, b.Signature.IndexDType),
			cmp.Compare(a.Signature.Axis, b.Signature.Axis))
	})
	return entries
}
