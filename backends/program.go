// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

// Compiler is the compile service of a backend: it turns kernel source text into a device program.
type Compiler interface {
	// Compile builds source for the device, with the given compiler options (e.g.: "-D DIM=0").
	// Each call returns a new Program, it's up to the caller to cache it.
	Compile(device DeviceNum, source, options string) (Program, error)
}

// Program is a compiled device program.
type Program interface {
	// EntryPoint returns the kernel with the given name.
	// The Kernel is only valid while the Program is alive.
	EntryPoint(name string) (Kernel, error)

	// Finalize immediately frees resources associated to the program, and invalidates its kernels.
	Finalize()
}

// Kernel is an invocable entry point of a Program.
type Kernel interface {
	// Name of the entry point.
	Name() string
}
