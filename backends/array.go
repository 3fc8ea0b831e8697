// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"fmt"

	"github.com/pkg/errors"
)

// Buffer represents data stored in the device.
// It is opaque from arrayindex perspective: only the backend that created it knows how to interpret it.
type Buffer any

// MaxRank is the maximum number of axes of an Array.
const MaxRank = 4

// Layout describes how the elements of an array are laid out in its buffer.
//
// Axis 0 is the fastest varying one. Unused trailing axes have dimension 1, so a Layout always describes
// 4 axes.
type Layout struct {
	// Dims is the dimension (extent) of each axis.
	Dims [MaxRank]int

	// Strides is the distance, in elements, between consecutive values of each axis.
	Strides [MaxRank]int

	// Offset is the position, in elements, of the first element in the buffer.
	Offset int
}

// MakeLayout returns a dense Layout for the given dimensions. Missing trailing dimensions are set to 1.
//
// It panics if more than MaxRank dimensions are given, or if any is negative.
func MakeLayout(dims ...int) Layout {
	if len(dims) > MaxRank {
		panic(errors.Errorf("MakeLayout(%v): at most %d dimensions are supported", dims, MaxRank))
	}
	var l Layout
	stride := 1
	for axis := range MaxRank {
		dim := 1
		if axis < len(dims) {
			dim = dims[axis]
		}
		if dim < 0 {
			panic(errors.Errorf("MakeLayout(%v): negative dimension for axis %d", dims, axis))
		}
		l.Dims[axis] = dim
		l.Strides[axis] = stride
		stride *= dim
	}
	return l
}

// Size returns the number of elements described by the layout.
func (l Layout) Size() int {
	size := 1
	for _, dim := range l.Dims {
		size *= dim
	}
	return size
}

// Span returns the number of elements a buffer needs to hold the layout: one past the largest position
// addressed. It is 0 if the layout is empty.
func (l Layout) Span() int {
	if l.Size() == 0 {
		return 0
	}
	last := l.Offset
	for axis, dim := range l.Dims {
		last += (dim - 1) * l.Strides[axis]
	}
	return last + 1
}

// Validate checks the layout invariants: non-negative dimensions, strides and offset.
func (l Layout) Validate() error {
	for axis := range MaxRank {
		if l.Dims[axis] < 0 {
			return errors.Errorf("layout %s: negative dimension for axis %d", l, axis)
		}
		if l.Strides[axis] < 0 {
			return errors.Errorf("layout %s: negative stride for axis %d", l, axis)
		}
	}
	if l.Offset < 0 {
		return errors.Errorf("layout %s: negative offset", l)
	}
	return nil
}

// String implements fmt.Stringer.
func (l Layout) String() string {
	return fmt.Sprintf("dims=%v strides=%v offset=%d", l.Dims, l.Strides, l.Offset)
}

// Array describes an array stored in a device: the buffer (borrowed, never owned by arrayindex) and its layout.
type Array struct {
	Buffer Buffer
	Layout Layout
}

// NewArray returns an Array with a dense layout for the given dimensions.
func NewArray(buffer Buffer, dims ...int) Array {
	return Array{Buffer: buffer, Layout: MakeLayout(dims...)}
}
