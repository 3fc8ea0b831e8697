// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"strconv"
	"strings"

	"github.com/gomlx/arrayindex/backends"
	"github.com/gomlx/arrayindex/pkg/core/arrayindex"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// params of the benchmark, parsed from the flags.
type params struct {
	dims                    [backends.MaxRank]int
	numIndices              int
	elemDTypes, indexDTypes []dtypes.DType
	axes                    []int
	repeats, concurrency    int
}

func parseParams() (*params, error) {
	return newParams(*flagDims, *flagDTypes, *flagIndexDTypes, *flagAxes, *flagNumIndices, *flagRepeats, *flagConcurrency)
}

func newParams(dims, elemDTypes, indexDTypes, axes string, numIndices, repeats, concurrency int) (*params, error) {
	p := &params{numIndices: numIndices, repeats: repeats, concurrency: concurrency}
	dimsList, err := parseInts(dims)
	if err != nil {
		return nil, errors.WithMessage(err, "-dims")
	}
	if len(dimsList) == 0 || len(dimsList) > backends.MaxRank {
		return nil, errors.Errorf("-dims must have between 1 and %d dimensions, got %q", backends.MaxRank, dims)
	}
	for axis := range backends.MaxRank {
		p.dims[axis] = 1
		if axis < len(dimsList) {
			if dimsList[axis] <= 0 {
				return nil, errors.Errorf("-dims must be positive, got %q", dims)
			}
			p.dims[axis] = dimsList[axis]
		}
	}
	if p.elemDTypes, err = parseDTypes(elemDTypes); err != nil {
		return nil, errors.WithMessage(err, "-dtypes")
	}
	if p.indexDTypes, err = parseDTypes(indexDTypes); err != nil {
		return nil, errors.WithMessage(err, "-index_dtypes")
	}
	if p.axes, err = parseInts(axes); err != nil {
		return nil, errors.WithMessage(err, "-axes")
	}
	if len(p.elemDTypes) == 0 || len(p.indexDTypes) == 0 || len(p.axes) == 0 {
		return nil, errors.New("at least one element dtype, index dtype and axis must be given")
	}
	for _, sig := range p.signatures() {
		if err := sig.Validate(); err != nil {
			return nil, err
		}
	}
	if numIndices < 0 {
		return nil, errors.Errorf("-indices must be non-negative, got %d", numIndices)
	}
	if repeats <= 0 || concurrency <= 0 {
		return nil, errors.Errorf("-repeats and -concurrency must be positive, got %d and %d", repeats, concurrency)
	}
	return p, nil
}

// signatures returns all combinations of element dtype, index dtype and axis.
func (p *params) signatures() []arrayindex.Signature {
	sigs := make([]arrayindex.Signature, 0, len(p.elemDTypes)*len(p.indexDTypes)*len(p.axes))
	for _, dtype := range p.elemDTypes {
		for _, indexDType := range p.indexDTypes {
			for _, axis := range p.axes {
				sigs = append(sigs, arrayindex.Signature{DType: dtype, IndexDType: indexDType, Axis: axis})
			}
		}
	}
	return sigs
}

func splitList(list string) []string {
	var parts []string
	for _, part := range strings.Split(list, ",") {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

func parseInts(list string) ([]int, error) {
	var values []int
	for _, part := range splitList(list) {
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid integer %q", part)
		}
		values = append(values, v)
	}
	return values, nil
}

func parseDTypes(list string) ([]dtypes.DType, error) {
	var values []dtypes.DType
	for _, part := range splitList(list) {
		dtype, found := knownDTypes[strings.ToLower(part)]
		if !found {
			return nil, errors.Errorf("unknown dtype %q", part)
		}
		values = append(values, dtype)
	}
	return values, nil
}

func lowerName(dtype dtypes.DType) string {
	return strings.ToLower(dtype.String())
}
