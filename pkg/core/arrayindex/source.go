// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package arrayindex

import (
	_ "embed"
)

// EntryPointName is the name of the kernel in ArrayIndexSource.
const EntryPointName = "arrayIndexND"

// ArrayIndexSource is the source of the array-index kernel, specialized by the options returned by
// Signature.CompileOptions.
//
//go:embed array_index.cl
var ArrayIndexSource string
