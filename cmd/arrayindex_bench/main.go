// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// arrayindex_bench dispatches the array-index kernel on the reference device backend, for a grid of element
// types, index types and axes, and reports the compiled kernel cache and the devices statistics.
//
// Example:
//
//	arrayindex_bench -config=devices=2,parallelism=8 -dims=100,20,3,2 -dtypes=float32,float16 -repeats=50
package main

import (
	"flag"
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/gomlx/arrayindex/backends"
	"github.com/gomlx/arrayindex/backends/refdevice"
	"github.com/gomlx/arrayindex/pkg/core/arrayindex"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

var (
	flagConfig = flag.String("config", "", "Configuration of the reference backend, e.g.: \"devices=2,parallelism=8\". "+
		"See refdevice.New for the options.")

	flagDims         = flag.String("dims", "100,20,3,2", "Comma-separated dimensions of the input array, up to 4 axes.")
	flagNumIndices   = flag.Int("indices", 0, "Number of indices to gather. If 0, the dimension of the axis is used.")
	flagDTypes       = flag.String("dtypes", "float32,float64,int32,float16,complex64", "Comma-separated element dtypes.")
	flagIndexDTypes  = flag.String("index_dtypes", "int32,int64", "Comma-separated index dtypes.")
	flagAxes         = flag.String("axes", "0,1,2,3", "Comma-separated axes to gather on.")
	flagRepeats      = flag.Int("repeats", 20, "Number of dispatches of each signature on each device.")
	flagConcurrency  = flag.Int("concurrency", 4, "Number of goroutines dispatching concurrently.")
	flagDebugFinish  = flag.Bool("debug_finish", false, "Drain the device queue after each dispatch.")
	flagNoProgress   = flag.Bool("no_progress", false, "Don't display the progress bar.")
	flagCacheReport  = flag.Bool("cache", true, "Report the compiled kernels.")
	flagDeviceReport = flag.Bool("stats", true, "Report the devices statistics.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	p, err := parseParams()
	if err != nil {
		klog.Errorf("Invalid flags: %+v. See 'arrayindex_bench -help'.", err)
		os.Exit(1)
	}
	backend := must.M1(backends.NewWithConfig(refdevice.BackendName + ":" + *flagConfig)).(*refdevice.Backend)
	defer backend.Finalize()
	fmt.Println(titleStyle.Render(backend.Description()))

	d := arrayindex.NewDispatcher(backend).WithDebugFinish(*flagDebugFinish)
	results, err := run(backend, d, p)
	if err != nil {
		klog.Errorf("Benchmark failed: %+v", err)
		os.Exit(1)
	}
	reportResults(results)
	if *flagCacheReport {
		reportCache(d.Cache())
	}
	if *flagDeviceReport {
		reportDevices(backend)
	}
}

// result of the dispatches of one signature on one device.
type result struct {
	device     backends.DeviceNum
	sig        arrayindex.Signature
	dispatches int
	workItems  int64
	elapsed    time.Duration
}

// run dispatches every signature on every device, and waits for the devices to finish.
func run(backend *refdevice.Backend, d *arrayindex.Dispatcher, p *params) ([]result, error) {
	sigs := p.signatures()
	numDevices := backend.NumDevices()
	var bar *progressbar.ProgressBar
	if !*flagNoProgress {
		bar = progressbar.Default(int64(int(numDevices)*len(sigs)*p.repeats), "Dispatching")
	}

	var results []result
	for device := range numDevices {
		if err := backend.SetCurrentDevice(device); err != nil {
			return nil, err
		}
		queue, err := backend.Queue(device)
		if err != nil {
			return nil, err
		}
		for _, sig := range sigs {
			output, input, indices, err := p.makeArrays(backend, device, sig)
			if err != nil {
				return nil, errors.WithMessagef(err, "allocating arrays for %s on %s", sig, device)
			}
			start := time.Now()
			var g errgroup.Group
			g.SetLimit(p.concurrency)
			for range p.repeats {
				g.Go(func() error {
					if bar != nil {
						defer func() { _ = bar.Add(1) }()
					}
					return d.Dispatch(output, input, indices, sig)
				})
			}
			if err := g.Wait(); err != nil {
				return nil, err
			}
			if err := queue.Finish(); err != nil {
				return nil, errors.WithMessagef(err, "device fault running %s on %s", sig, device)
			}
			geometry := arrayindex.ComputeGeometry(output.Layout.Dims)
			results = append(results, result{
				device:     device,
				sig:        sig,
				dispatches: p.repeats,
				workItems:  int64(p.repeats) * int64(geometry.NumWorkItems()),
				elapsed:    time.Since(start),
			})
		}
	}
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}
	return results, nil
}

// makeArrays allocates the arrays of the gather for the signature on the device. The input is zero, and the
// indices cycle over the positions of the gathered axis.
func (p *params) makeArrays(backend *refdevice.Backend, device backends.DeviceNum, sig arrayindex.Signature) (
	output, input, indices backends.Array, err error) {
	inputDims := p.dims
	outputDims := inputDims
	numIndices := p.numIndices
	if numIndices == 0 {
		numIndices = inputDims[sig.Axis]
	}
	outputDims[sig.Axis] = numIndices

	inputLayout := backends.MakeLayout(inputDims[:]...)
	outputLayout := backends.MakeLayout(outputDims[:]...)
	inputBuf, err := backend.NewZeroBuffer(device, sig.DType, inputLayout.Size())
	if err != nil {
		return
	}
	outputBuf, err := backend.NewZeroBuffer(device, sig.DType, outputLayout.Size())
	if err != nil {
		return
	}
	goType := sig.IndexDType.GoType()
	flatIndices := reflect.MakeSlice(reflect.SliceOf(goType), numIndices, numIndices)
	for ii := range numIndices {
		flatIndices.Index(ii).Set(reflect.ValueOf(ii % inputDims[sig.Axis]).Convert(goType))
	}
	indicesBuf, err := backend.NewBuffer(device, flatIndices.Interface())
	if err != nil {
		return
	}
	output = backends.Array{Buffer: outputBuf, Layout: outputLayout}
	input = backends.Array{Buffer: inputBuf, Layout: inputLayout}
	indices = backends.NewArray(indicesBuf, numIndices)
	return
}

// knownDTypes that can be given in the flags, by their lower-case name.
var knownDTypes = map[string]dtypes.DType{}

func init() {
	for _, dtype := range []dtypes.DType{
		dtypes.Bool, dtypes.Int8, dtypes.Int16, dtypes.Int32, dtypes.Int64,
		dtypes.Uint8, dtypes.Uint16, dtypes.Uint32, dtypes.Uint64,
		dtypes.Float16, dtypes.Float32, dtypes.Float64, dtypes.Complex64, dtypes.Complex128,
	} {
		knownDTypes[lowerName(dtype)] = dtype
	}
}
