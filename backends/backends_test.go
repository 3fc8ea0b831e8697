// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeLayout(t *testing.T) {
	l := MakeLayout(5, 3, 2)
	assert.Equal(t, [MaxRank]int{5, 3, 2, 1}, l.Dims)
	assert.Equal(t, [MaxRank]int{1, 5, 15, 30}, l.Strides)
	assert.Equal(t, 0, l.Offset)
	assert.Equal(t, 30, l.Size())
	assert.Equal(t, 30, l.Span())
	require.NoError(t, l.Validate())

	scalar := MakeLayout()
	assert.Equal(t, [MaxRank]int{1, 1, 1, 1}, scalar.Dims)
	assert.Equal(t, 1, scalar.Span())

	empty := MakeLayout(4, 0, 2)
	assert.Equal(t, 0, empty.Size())
	assert.Equal(t, 0, empty.Span())

	assert.Panics(t, func() { MakeLayout(1, 2, 3, 4, 5) })
	assert.Panics(t, func() { MakeLayout(2, -1) })
}

func TestLayout_Span(t *testing.T) {
	// A strided view: every other column of a 10x4 matrix, starting at column 1.
	l := Layout{Dims: [MaxRank]int{5, 4, 1, 1}, Strides: [MaxRank]int{2, 10, 1, 1}, Offset: 1}
	assert.Equal(t, 1+4*2+3*10+1, l.Span())
	require.NoError(t, l.Validate())

	l.Offset = -1
	assert.Error(t, l.Validate())
	l.Offset = 0
	l.Strides[2] = -1
	assert.Error(t, l.Validate())
}

func TestLaunch(t *testing.T) {
	l := Launch{Global: [2]int{384, 48}, Local: [2]int{32, 8}}
	assert.Equal(t, 384*48, l.NumWorkItems())
	x, y := l.NumGroups()
	assert.Equal(t, 12, x)
	assert.Equal(t, 6, y)
	assert.Equal(t, "global=384x48 local=32x8", l.String())
	assert.Equal(t, "device#3", DeviceNum(3).String())
}

type nopBackend struct {
	Backend
	config string
}

func TestNewWithConfig(t *testing.T) {
	saved, savedFirst := registeredConstructors, firstRegistered
	defer func() { registeredConstructors, firstRegistered = saved, savedFirst }()
	registeredConstructors = make(map[string]Constructor)
	firstRegistered = ""

	_, err := NewWithConfig("")
	require.Error(t, err)

	Register("beta", func(config string) (Backend, error) { return &nopBackend{config: config}, nil })
	Register("alpha", func(config string) (Backend, error) {
		if config == "fail" {
			return nil, errors.New("bad config")
		}
		return &nopBackend{config: "alpha:" + config}, nil
	})
	assert.Equal(t, []string{"alpha", "beta"}, Registered())

	b, err := NewWithConfig("")
	require.NoError(t, err)
	assert.Equal(t, "", b.(*nopBackend).config, "first registered backend should be the default")

	b, err = NewWithConfig("alpha:devices=2,nofp64")
	require.NoError(t, err)
	assert.Equal(t, "alpha:devices=2,nofp64", b.(*nopBackend).config)

	b, err = NewWithConfig("alpha")
	require.NoError(t, err)
	assert.Equal(t, "alpha:", b.(*nopBackend).config)

	_, err = NewWithConfig("alpha:fail")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad config")

	_, err = NewWithConfig("gamma")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gamma")

	t.Setenv(ConfigEnv, "alpha:x")
	b, err = New()
	require.NoError(t, err)
	assert.Equal(t, "alpha:x", b.(*nopBackend).config)
}
