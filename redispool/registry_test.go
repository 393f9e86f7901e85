// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package redispool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_GetPoolReturnsSameInstance(t *testing.T) {
	reg := NewRegistry()

	a, err := reg.GetPool(fastPoolConfig())
	require.NoError(t, err)
	b, err := reg.GetPool(fastPoolConfig())
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestRegistry_ConfigIgnoredAfterFirstCall(t *testing.T) {
	reg := NewRegistry()

	first := fastPoolConfig()
	a, err := reg.GetPool(first)
	require.NoError(t, err)

	other := fastPoolConfig()
	other.Port = 6380
	b, err := reg.GetPool(other)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, first.Port, b.config.Port)
}

func TestRegistry_ResetPoolDiscardsInstance(t *testing.T) {
	reg := NewRegistry()

	a, err := reg.GetPool(fastPoolConfig())
	require.NoError(t, err)

	reg.ResetPool()
	assert.Equal(t, StatusDisconnected, a.Status())

	b, err := reg.GetPool(fastPoolConfig())
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}

func TestRegistry_ResetPoolEmptyIsNoOp(t *testing.T) {
	NewRegistry().ResetPool()
}

func TestRegistry_ConcurrentGetPoolSingleInstance(t *testing.T) {
	reg := NewRegistry()

	const n = 16
	pools := make([]*Pool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := reg.GetPool(fastPoolConfig())
			if err == nil {
				pools[i] = p
			}
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		require.NotNil(t, pools[i])
		assert.Same(t, pools[0], pools[i])
	}
}

func TestRegistry_FirstCallValidationFailureLeavesRegistryEmpty(t *testing.T) {
	reg := NewRegistry()

	bad := fastPoolConfig()
	bad.MaxConnections = 0
	_, err := reg.GetPool(bad)
	require.Error(t, err)

	good, err := reg.GetPool(fastPoolConfig())
	require.NoError(t, err)
	assert.NotNil(t, good)
}
