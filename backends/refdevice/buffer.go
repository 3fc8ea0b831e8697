// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package refdevice

import (
	"reflect"
	"sync/atomic"

	"github.com/gomlx/arrayindex/backends"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Buffer holds the data of an array in one of the emulated devices: a Go slice of the element type.
type Buffer struct {
	device    backends.DeviceNum
	dtype     dtypes.DType
	flat      any
	length    int
	finalized atomic.Bool
}

// NewBuffer copies flat, a slice of any of the supported Go types, to a new buffer resident on the device.
func (b *Backend) NewBuffer(deviceNum backends.DeviceNum, flat any) (*Buffer, error) {
	if _, err := b.device(deviceNum); err != nil {
		return nil, err
	}
	value := reflect.ValueOf(flat)
	if value.Kind() != reflect.Slice {
		return nil, errors.Errorf("NewBuffer requires a slice, got %T", flat)
	}
	dtype := dtypes.FromGoType(value.Type().Elem())
	if dtype == dtypes.InvalidDType {
		return nil, errors.Errorf("NewBuffer: unsupported element type %s", value.Type().Elem())
	}
	clone := reflect.MakeSlice(value.Type(), value.Len(), value.Len())
	reflect.Copy(clone, value)
	return &Buffer{
		device: deviceNum,
		dtype:  dtype,
		flat:   clone.Interface(),
		length: value.Len(),
	}, nil
}

// NewZeroBuffer returns a new buffer resident on the device with length zero values of dtype.
func (b *Backend) NewZeroBuffer(deviceNum backends.DeviceNum, dtype dtypes.DType, length int) (*Buffer, error) {
	if _, err := b.device(deviceNum); err != nil {
		return nil, err
	}
	if length < 0 {
		return nil, errors.Errorf("NewZeroBuffer: negative length %d", length)
	}
	if dtype == dtypes.InvalidDType {
		return nil, errors.Errorf("NewZeroBuffer: invalid dtype")
	}
	goType := dtype.GoType()
	if goType == nil {
		return nil, errors.Errorf("NewZeroBuffer: unsupported dtype %s", dtype)
	}
	return &Buffer{
		device: deviceNum,
		dtype:  dtype,
		flat:   reflect.MakeSlice(reflect.SliceOf(goType), length, length).Interface(),
		length: length,
	}, nil
}

// BufferDeviceNum implements backends.Backend.
func (b *Backend) BufferDeviceNum(buffer backends.Buffer) (backends.DeviceNum, error) {
	buf, err := asBuffer(buffer)
	if err != nil {
		return 0, err
	}
	return buf.device, nil
}

func asBuffer(buffer backends.Buffer) (*Buffer, error) {
	buf, ok := buffer.(*Buffer)
	if !ok || buf == nil {
		return nil, errors.Errorf("buffer of type %T is not a %s backend buffer", buffer, BackendName)
	}
	if buf.finalized.Load() {
		return nil, errors.New("buffer already finalized")
	}
	return buf, nil
}

// DType of the elements of the buffer.
func (buf *Buffer) DType() dtypes.DType { return buf.dtype }

// Len returns the number of elements of the buffer.
func (buf *Buffer) Len() int { return buf.length }

// DeviceNum returns the device where the buffer is resident.
func (buf *Buffer) DeviceNum() backends.DeviceNum { return buf.device }

// Flat returns the underlying slice with the data of the buffer.
//
// The slice must not be read or written while kernels using the buffer may be running: call Queue.Finish before.
func (buf *Buffer) Flat() any {
	return buf.flat
}

// Finalize releases the buffer. It must not be used afterward.
func (buf *Buffer) Finalize() {
	if buf.finalized.Swap(true) {
		return
	}
	buf.flat = nil
}
