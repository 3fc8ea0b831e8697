// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package refdevice

import (
	"slices"
	"strconv"

	"github.com/gomlx/arrayindex/backends"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// deviceTypes maps the names of the kernel language types to the dtypes whose buffers can hold them.
var deviceTypes = map[string][]dtypes.DType{
	"char":    {dtypes.Int8},
	"uchar":   {dtypes.Uint8, dtypes.Bool},
	"short":   {dtypes.Int16},
	"ushort":  {dtypes.Uint16},
	"int":     {dtypes.Int32},
	"uint":    {dtypes.Uint32},
	"long":    {dtypes.Int64},
	"ulong":   {dtypes.Uint64},
	"half":    {dtypes.Float16},
	"float":   {dtypes.Float32},
	"double":  {dtypes.Float64},
	"float2":  {dtypes.Complex64},
	"double2": {dtypes.Complex128},
}

// gatherGroupFns executes one work-group of the array-index kernel, for each supported element dtype.
var gatherGroupFns = map[dtypes.DType]func(c *gatherCall, groupX, groupY int){
	dtypes.Bool:       gatherGroup[bool],
	dtypes.Int8:       gatherGroup[int8],
	dtypes.Uint8:      gatherGroup[uint8],
	dtypes.Int16:      gatherGroup[int16],
	dtypes.Uint16:     gatherGroup[uint16],
	dtypes.Int32:      gatherGroup[int32],
	dtypes.Uint32:     gatherGroup[uint32],
	dtypes.Int64:      gatherGroup[int64],
	dtypes.Uint64:     gatherGroup[uint64],
	dtypes.Float16:    gatherGroup[float16.Float16],
	dtypes.Float32:    gatherGroup[float32],
	dtypes.Float64:    gatherGroup[float64],
	dtypes.Complex64:  gatherGroup[complex64],
	dtypes.Complex128: gatherGroup[complex128],
}

// arrayIndexKernel is the array-index kernel specialized for its element type, index type and axis.
type arrayIndexKernel struct {
	elemType, indexType string
	axis                int
}

// specializeArrayIndex builds the array-index kernel from the defines in_t, idx_t and DIM.
func specializeArrayIndex(b *Backend, defines map[string]string) (bindFn, error) {
	k := &arrayIndexKernel{}
	var found bool
	if k.elemType, found = defines["in_t"]; !found {
		return nil, errors.New("unknown type name \"in_t\": define it with -D in_t=<type>")
	}
	if _, found = deviceTypes[k.elemType]; !found {
		return nil, errors.Errorf("unknown type name %q given for in_t", k.elemType)
	}
	if k.indexType, found = defines["idx_t"]; !found {
		return nil, errors.New("unknown type name \"idx_t\": define it with -D idx_t=<type>")
	}
	switch k.indexType {
	case "char", "uchar", "short", "ushort", "int", "uint", "long", "ulong", "float", "double":
	default:
		return nil, errors.Errorf("invalid index type %q given for idx_t", k.indexType)
	}
	dim, found := defines["DIM"]
	if !found {
		return nil, errors.New("undeclared identifier \"DIM\": define it with -D DIM=<axis>")
	}
	var err error
	if k.axis, err = strconv.Atoi(dim); err != nil || k.axis < 0 || k.axis >= backends.MaxRank {
		return nil, errors.Errorf("array subscript DIM=%q is not an axis in [0, %d)", dim, backends.MaxRank)
	}

	_, useDouble := defines["USE_DOUBLE"]
	if k.elemType == "double" || k.elemType == "double2" || k.indexType == "double" {
		if !useDouble {
			return nil, errors.New("type \"double\" requires the cl_khr_fp64 extension: define USE_DOUBLE")
		}
	}
	if useDouble && !b.supportsDouble {
		return nil, errors.New("extension cl_khr_fp64 not supported by the device")
	}
	_, useHalf := defines["USE_HALF"]
	if k.elemType == "half" && !useHalf {
		return nil, errors.New("type \"half\" requires the cl_khr_fp16 extension: define USE_HALF")
	}
	if useHalf && !b.supportsHalf {
		return nil, errors.New("extension cl_khr_fp16 not supported by the device")
	}
	return k.bind, nil
}

// gatherCall holds the arguments of one launch of the array-index kernel.
type gatherCall struct {
	out, in, indices *Buffer

	outLayout, inLayout, indicesLayout backends.Layout

	blocksX, blocksY int
	local            [2]int
	axis             int
	readIndex        func(pos int) int
}

// bind checks the arguments: (out, out layout, in, in layout, indices, indices layout, blocksX, blocksY).
func (k *arrayIndexKernel) bind(device backends.DeviceNum, launch backends.Launch, args []any) (func(groupX, groupY int), error) {
	if len(args) != 8 {
		return nil, errors.Errorf("arrayIndexND takes 8 arguments, %d given", len(args))
	}
	c := &gatherCall{local: launch.Local, axis: k.axis}
	buffers := []**Buffer{&c.out, &c.in, &c.indices}
	layouts := []*backends.Layout{&c.outLayout, &c.inLayout, &c.indicesLayout}
	for ii := range 3 {
		buf, err := asBuffer(args[2*ii])
		if err != nil {
			return nil, errors.WithMessagef(err, "argument #%d", 2*ii)
		}
		if buf.device != device {
			return nil, errors.Errorf("argument #%d: buffer resident on %s, launching on %s", 2*ii, buf.device, device)
		}
		layout, ok := args[2*ii+1].(backends.Layout)
		if !ok {
			return nil, errors.Errorf("argument #%d: expected a backends.Layout, got %T", 2*ii+1, args[2*ii+1])
		}
		if err := layout.Validate(); err != nil {
			return nil, errors.WithMessagef(err, "argument #%d", 2*ii+1)
		}
		if span := layout.Span(); span > buf.length {
			return nil, errors.Errorf("argument #%d: layout %s addresses %d elements, but buffer only has %d",
				2*ii+1, layout, span, buf.length)
		}
		*buffers[ii] = buf
		*layouts[ii] = layout
	}
	for ii, target := range []*int{&c.blocksX, &c.blocksY} {
		value, ok := args[6+ii].(int)
		if !ok {
			return nil, errors.Errorf("argument #%d: expected an int block count, got %T", 6+ii, args[6+ii])
		}
		if value <= 0 && launch.NumWorkItems() > 0 {
			return nil, errors.Errorf("argument #%d: block count must be positive, got %d", 6+ii, value)
		}
		*target = value
	}

	if c.out.dtype != c.in.dtype {
		return nil, errors.Errorf("output (%s) and input (%s) buffers have different dtypes", c.out.dtype, c.in.dtype)
	}
	if !holds(k.elemType, c.out.dtype) {
		return nil, errors.Errorf("buffers of dtype %s can't be used as %q elements", c.out.dtype, k.elemType)
	}
	if !holds(k.indexType, c.indices.dtype) {
		return nil, errors.Errorf("indices buffer of dtype %s can't be used as %q indices", c.indices.dtype, k.indexType)
	}
	gather, found := gatherGroupFns[c.out.dtype]
	if !found {
		return nil, errors.Errorf("dtype %s not supported by the %s backend", c.out.dtype, BackendName)
	}
	var err error
	if c.readIndex, err = indexReader(c.indices.flat); err != nil {
		return nil, err
	}
	return func(groupX, groupY int) { gather(c, groupX, groupY) }, nil
}

func holds(typeName string, dtype dtypes.DType) bool {
	return slices.Contains(deviceTypes[typeName], dtype)
}

// indexReader returns a function that reads the index at the given position of flat, converted to int.
// Float indices are truncated.
func indexReader(flat any) (func(pos int) int, error) {
	switch indices := flat.(type) {
	case []int8:
		return func(pos int) int { return int(indices[pos]) }, nil
	case []uint8:
		return func(pos int) int { return int(indices[pos]) }, nil
	case []int16:
		return func(pos int) int { return int(indices[pos]) }, nil
	case []uint16:
		return func(pos int) int { return int(indices[pos]) }, nil
	case []int32:
		return func(pos int) int { return int(indices[pos]) }, nil
	case []uint32:
		return func(pos int) int { return int(indices[pos]) }, nil
	case []int64:
		return func(pos int) int { return int(indices[pos]) }, nil
	case []uint64:
		return func(pos int) int { return int(indices[pos]) }, nil
	case []float32:
		return func(pos int) int { return int(indices[pos]) }, nil
	case []float64:
		return func(pos int) int { return int(indices[pos]) }, nil
	default:
		return nil, errors.Errorf("indices of type %T not supported", flat)
	}
}

func flatPosition(layout *backends.Layout, pos *[backends.MaxRank]int) int {
	return layout.Offset + pos[0]*layout.Strides[0] + pos[1]*layout.Strides[1] +
		pos[2]*layout.Strides[2] + pos[3]*layout.Strides[3]
}

// gatherGroup executes the work-items of one work-group. The group id is unfolded into the plane (axes 2 and 3)
// using the number of blocks per plane, and work-items outside the output are skipped.
func gatherGroup[T any](c *gatherCall, groupX, groupY int) {
	out := c.out.flat.([]T)
	in := c.in.flat.([]T)
	dims := c.outLayout.Dims
	z := groupX / c.blocksX
	w := groupY / c.blocksY
	if z >= dims[2] || w >= dims[3] {
		return
	}
	baseX := (groupX - z*c.blocksX) * c.local[0]
	baseY := (groupY - w*c.blocksY) * c.local[1]
	for ly := range c.local[1] {
		y := baseY + ly
		if y >= dims[1] {
			break
		}
		for lx := range c.local[0] {
			x := baseX + lx
			if x >= dims[0] {
				break
			}
			pos := [backends.MaxRank]int{x, y, z, w}
			dst := flatPosition(&c.outLayout, &pos)
			indexPos := pos[c.axis]
			src := c.readIndex(c.indicesLayout.Offset + indexPos*c.indicesLayout.Strides[0])
			if src < 0 || src >= c.inLayout.Dims[c.axis] {
				exceptions.Panicf("index %d at position %d is out of range [0, %d) for axis %d",
					src, indexPos, c.inLayout.Dims[c.axis], c.axis)
			}
			pos[c.axis] = src
			out[dst] = in[flatPosition(&c.inLayout, &pos)]
		}
	}
}
