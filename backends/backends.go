// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the interface to the compute devices used by arrayindex: a compile service that turns
// kernel source into programs, and a device context that tells the active device and hands out its command queue.
//
// The core packages never implement these interfaces themselves, they only consume them. Backends register
// themselves (usually during package initialization) and are constructed from a configuration string, see
// NewWithConfig.
//
// Backends are free to signal errors either by returning them or by panicking (see package
// github.com/gomlx/exceptions): callers at the arrayindex boundary translate both into their own error kinds.
package backends

import (
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

// Backend is the API that needs to be implemented by a device backend.
type Backend interface {
	// Name returns the short name of the backend. E.g.: "ref" for the reference device.
	Name() string

	// Description is a longer description of the Backend that can be used to pretty-print.
	Description() string

	// NumDevices return the number of devices available for this Backend. It is never larger than MaxDevices.
	NumDevices() DeviceNum

	// Compiler is the sub-interface used to build device programs.
	Compiler

	// DeviceContext is the sub-interface used to select the device and its command queue.
	DeviceContext

	// BufferDeviceNum returns the device where the buffer is resident.
	// It must not change the ownership of the buffer.
	BufferDeviceNum(buffer Buffer) (DeviceNum, error)

	// Finalize releases all the associated resources immediately, and makes the backend invalid.
	Finalize()
}

// Constructor takes a config string (optionally empty) and returns a Backend.
type Constructor func(config string) (Backend, error)

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register backend with the given name, and a default constructor that takes as input a configuration string that is
// passed along to the backend constructor.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// Registered returns the sorted names of the registered backends.
func Registered() []string {
	return slices.Sorted(maps.Keys(registeredConstructors))
}

// DefaultConfig is the name of the default backend configuration to use if specified.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// ConfigEnv is the environment variable with the default backend configuration to use.
//
// The format of config is "<backend_name>:<backend_configuration>".
const ConfigEnv = "ARRAYINDEX_BACKEND"

// New returns a new default Backend.
//
// The default is:
//
// 1. The environment ARRAYINDEX_BACKEND is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered backend is used with an empty configuration.
func New() (Backend, error) {
	config, found := os.LookupEnv(ConfigEnv)
	if found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// NewWithConfig takes a configuration string formatted as "<backend_name>:<backend_configuration>".
//
// The "<backend_name>" is the name of a registered backend (e.g.: "ref") and "<backend_configuration>" is
// backend specific. If there is no ":" in config, the whole string is taken as the backend name, and
// an empty string is given as its configuration.
func NewWithConfig(config string) (Backend, error) {
	if len(registeredConstructors) == 0 {
		return nil, errors.Errorf(`no registered backends for arrayindex -- maybe import the reference one with import _ "github.com/gomlx/arrayindex/backends/refdevice"?`)
	}
	backendName, backendConfig := splitConfig(config)
	constructor, found := registeredConstructors[backendName]
	if !found {
		return nil, errors.Errorf("can't find backend %q for configuration %q given, registered backends are %q",
			backendName, config, Registered())
	}
	backend, err := constructor(backendConfig)
	if err != nil {
		return nil, errors.WithMessagef(err, "backend %q", backendName)
	}
	return backend, nil
}

func splitConfig(config string) (name, backendConfig string) {
	if config == "" {
		return firstRegistered, ""
	}
	if idx := strings.Index(config, ":"); idx != -1 {
		return config[:idx], config[idx+1:]
	}
	return config, ""
}
