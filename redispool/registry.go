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

import "sync"

// Registry holds the single shared Pool for an application. Construct
// one Registry at startup and pass it by reference to all consumers;
// tests get isolation by constructing a fresh Registry instead of
// mutating process-global state.
//
// Thread Safety: Safe for concurrent use.
type Registry struct {
	mu   sync.Mutex
	pool *Pool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// GetPool returns the registry's pool, constructing it on first call.
//
// Inputs:
//
//	cfg - Pool configuration. Used only on the first call; ignored once
//	      a pool exists.
//	opts - Construction options, first call only.
//
// Outputs:
//
//	*Pool - The shared pool instance.
//	error - Non-nil if first-call construction fails.
func (r *Registry) GetPool(cfg Config, opts ...Option) (*Pool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pool != nil {
		return r.pool, nil
	}

	pool, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	r.pool = pool
	return pool, nil
}

// ResetPool disconnects and discards the held pool, if any. The next
// GetPool constructs a fresh instance.
func (r *Registry) ResetPool() {
	r.mu.Lock()
	pool := r.pool
	r.pool = nil
	r.mu.Unlock()

	if pool != nil {
		pool.Disconnect()
	}
}
