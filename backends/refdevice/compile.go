// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package refdevice

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/gomlx/arrayindex/backends"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// bindFn validates the arguments of a kernel launch on a device, and returns the function that executes one
// work-group.
type bindFn func(device backends.DeviceNum, launch backends.Launch, args []any) (runGroup func(groupX, groupY int), err error)

// specializeFn builds a native kernel for the defines given at compile time.
type specializeFn func(b *Backend, defines map[string]string) (bindFn, error)

// nativeKernels are the kernels the reference backend knows how to execute, by entry point name.
var nativeKernels = map[string]specializeFn{
	"arrayIndexND": specializeArrayIndex,
}

var kernelDeclRegex = regexp.MustCompile(`__kernel\s+void\s+([A-Za-z_]\w*)\s*\(`)

// Compile implements backends.Compiler.
//
// The source must declare its kernels with "__kernel void <name>(". The declared kernels that have a native
// implementation are specialized with the "-D" defines in options: errors in the defines are reported here, as
// a device compiler would.
func (b *Backend) Compile(deviceNum backends.DeviceNum, source, options string) (backends.Program, error) {
	if _, err := b.device(deviceNum); err != nil {
		return nil, err
	}
	defines, err := parseOptions(options)
	if err != nil {
		return nil, err
	}
	matches := kernelDeclRegex.FindAllStringSubmatch(source, -1)
	if len(matches) == 0 {
		return nil, errors.New("build failed: source declares no kernels")
	}

	p := &Program{
		id:      uuid.New(),
		device:  deviceNum,
		options: options,
		kernels: make(map[string]*Kernel),
	}
	for _, match := range matches {
		name := match[1]
		p.declared = append(p.declared, name)
		specialize, found := nativeKernels[name]
		if !found {
			continue
		}
		bind, err := specialize(b, defines)
		if err != nil {
			return nil, errors.WithMessagef(err, "build failed for kernel %q", name)
		}
		p.kernels[name] = &Kernel{name: name, program: p, bind: bind}
	}
	klog.V(1).Infof("refdevice: built program %s on %s with options %q, kernels %q", p.id, deviceNum, options, p.declared)
	return p, nil
}

// parseOptions parses the compiler options, returning the preprocessor defines.
// Defines without a value are set to "1".
func parseOptions(options string) (map[string]string, error) {
	defines := make(map[string]string)
	fields := strings.Fields(options)
	for ii := 0; ii < len(fields); ii++ {
		field := fields[ii]
		var define string
		switch {
		case field == "-D":
			ii++
			if ii == len(fields) {
				return nil, errors.Errorf("build failed: missing macro name after \"-D\" in options %q", options)
			}
			define = fields[ii]
		case strings.HasPrefix(field, "-D"):
			define = field[2:]
		case strings.HasPrefix(field, "-cl-"), field == "-w", field == "-Werror":
			// Optimization and warning flags don't change the semantics.
			continue
		default:
			return nil, errors.Errorf("build failed: unsupported compiler option %q", field)
		}
		name, value, hasValue := strings.Cut(define, "=")
		if name == "" {
			return nil, errors.Errorf("build failed: empty macro name in options %q", options)
		}
		if !hasValue {
			value = "1"
		}
		defines[name] = value
	}
	return defines, nil
}

// Program implements backends.Program.
type Program struct {
	id        uuid.UUID
	device    backends.DeviceNum
	options   string
	declared  []string
	kernels   map[string]*Kernel
	finalized atomic.Bool
}

// ID uniquely identifies the program.
func (p *Program) ID() uuid.UUID { return p.id }

// Options returns the compiler options the program was built with.
func (p *Program) Options() string { return p.options }

// EntryPoint implements backends.Program.
func (p *Program) EntryPoint(name string) (backends.Kernel, error) {
	if p.finalized.Load() {
		return nil, errors.Errorf("program %s already finalized", p.id)
	}
	k, found := p.kernels[name]
	if found {
		return k, nil
	}
	if slices.Contains(p.declared, name) {
		return nil, errors.Errorf("kernel %q has no native implementation in the %s backend", name, BackendName)
	}
	return nil, errors.Errorf("program %s has no kernel %q, declared kernels are %q", p.id, name, p.declared)
}

// Finalize implements backends.Program. Its kernels can no longer be enqueued.
func (p *Program) Finalize() {
	p.finalized.Store(true)
}

// Kernel implements backends.Kernel.
type Kernel struct {
	name    string
	program *Program
	bind    bindFn
}

// Name implements backends.Kernel.
func (k *Kernel) Name() string { return k.name }

// Program returns the program that owns the kernel.
func (k *Kernel) Program() *Program { return k.program }

// String implements fmt.Stringer.
func (k *Kernel) String() string {
	return fmt.Sprintf("%s@%s", k.name, k.program.id)
}
