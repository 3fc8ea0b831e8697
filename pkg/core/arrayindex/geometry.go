// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package arrayindex

import (
	"github.com/gomlx/arrayindex/backends"
)

// Work-group (tile) shape used by the array-index kernel.
const (
	TileX = 32
	TileY = 8
)

// Geometry is the launch geometry of the array-index kernel for one output shape.
//
// The output has 4 axes but the hardware grid only 2: axis 2 is folded into the x dimension and axis 3 into
// the y dimension. BlocksX and BlocksY are the number of work-groups per (axis 2, axis 3) plane, and must be given
// to the kernel so it can unfold its group id back into the plane it belongs to.
type Geometry struct {
	Local, Global    [2]int
	BlocksX, BlocksY int
}

// ComputeGeometry returns the launch geometry covering an output with the given dimensions.
//
// Any zero dimension yields zero work-items, which is a legal no-op launch.
func ComputeGeometry(dims [backends.MaxRank]int) Geometry {
	g := Geometry{
		Local:   [2]int{TileX, TileY},
		BlocksX: divUp(dims[0], TileX),
		BlocksY: divUp(dims[1], TileY),
	}
	g.Global[0] = g.BlocksX * dims[2] * TileX
	g.Global[1] = g.BlocksY * dims[3] * TileY
	return g
}

// Launch returns the backends.Launch with the geometry's global and local shapes.
func (g Geometry) Launch() backends.Launch {
	return backends.Launch{Global: g.Global, Local: g.Local}
}

// NumWorkItems returns the total number of work-items of the launch.
func (g Geometry) NumWorkItems() int {
	return g.Global[0] * g.Global[1]
}

// IsEmpty returns whether the launch has no work-items.
func (g Geometry) IsEmpty() bool {
	return g.NumWorkItems() == 0
}

func divUp(a, b int) int {
	return (a + b - 1) / b
}
