// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package arrayindex

import (
	"fmt"
	"strings"

	"github.com/gomlx/arrayindex/backends"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Signature selects which compiled variant of the kernel is needed: the element type of the input/output arrays,
// the type of the indices, and the axis along which the indices select.
//
// It is a comparable value, used as part of the cache key.
type Signature struct {
	DType      dtypes.DType
	IndexDType dtypes.DType

	// Axis along which the indices select, from 0 to backends.MaxRank-1.
	Axis int
}

// String implements fmt.Stringer.
func (s Signature) String() string {
	return fmt.Sprintf("(%s, %s, axis=%d)", s.DType, s.IndexDType, s.Axis)
}

// deviceTypeNames maps dtypes to the name of the corresponding type in the kernel language.
// dtypes not listed are not supported by the kernel.
var deviceTypeNames = map[dtypes.DType]string{
	dtypes.Bool:       "uchar",
	dtypes.Int8:       "char",
	dtypes.Uint8:      "uchar",
	dtypes.Int16:      "short",
	dtypes.Uint16:     "ushort",
	dtypes.Int32:      "int",
	dtypes.Uint32:     "uint",
	dtypes.Int64:      "long",
	dtypes.Uint64:     "ulong",
	dtypes.Float16:    "half",
	dtypes.Float32:    "float",
	dtypes.Float64:    "double",
	dtypes.Complex64:  "float2",
	dtypes.Complex128: "double2",
}

// DeviceTypeName returns the name of dtype in the kernel language, or an error if it is not supported.
func DeviceTypeName(dtype dtypes.DType) (string, error) {
	name, found := deviceTypeNames[dtype]
	if !found {
		return "", errors.Errorf("dtype %s not supported by the array-index kernel", dtype)
	}
	return name, nil
}

// Validate checks that the signature can be compiled.
func (s Signature) Validate() error {
	if s.Axis < 0 || s.Axis >= backends.MaxRank {
		return errors.Errorf("invalid axis %d for signature %s, it must be in [0, %d)", s.Axis, s, backends.MaxRank)
	}
	if _, err := DeviceTypeName(s.DType); err != nil {
		return errors.WithMessagef(err, "element type of signature %s", s)
	}
	switch s.IndexDType {
	case dtypes.Int8, dtypes.Int16, dtypes.Int32, dtypes.Int64,
		dtypes.Uint8, dtypes.Uint16, dtypes.Uint32, dtypes.Uint64,
		dtypes.Float32, dtypes.Float64:
	default:
		return errors.Errorf("index type %s of signature %s not supported, only integer and float32/float64 indices are",
			s.IndexDType, s)
	}
	return nil
}

// NeedsDouble returns whether the kernel requires double precision support from the device.
func (s Signature) NeedsDouble() bool {
	return s.DType == dtypes.Float64 || s.DType == dtypes.Complex128 || s.IndexDType == dtypes.Float64
}

// CompileOptions returns the compiler options that specialize the kernel source for the signature.
func (s Signature) CompileOptions() (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}
	var options strings.Builder
	_, _ = fmt.Fprintf(&options, "-D in_t=%s -D idx_t=%s -D DIM=%d",
		deviceTypeNames[s.DType], deviceTypeNames[s.IndexDType], s.Axis)
	if s.NeedsDouble() {
		options.WriteString(" -D USE_DOUBLE")
	}
	if s.DType == dtypes.Float16 {
		options.WriteString(" -D USE_HALF")
	}
	return options.String(), nil
}
