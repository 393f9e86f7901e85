// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sentinel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FullFile(t *testing.T) {
	path := writeConfig(t, `
pool:
  host: redis.internal
  port: 6380
  db: 2
  password: hunter2
  max_connections: 100
  socket_timeout_seconds: 2.5
  connect_timeout_seconds: 3
  max_retries: 5
  health_check_interval_seconds: 15
watchdog:
  check_interval_seconds: 10
  fragmentation_threshold: 0.2
  failure_threshold: 4
  query_timeout_seconds: 4
  reset_timeout_seconds: 60
  settle_delay_seconds: 5
  tool_path: /usr/bin/nvidia-smi
inference:
  api_key: sk-test
  model: gpt-4o
  qps_limit: 10
  max_retries: 2
  backoff_base: 1.5
`)

	f, err := Load(path)
	require.NoError(t, err)

	pool := f.PoolConfig()
	assert.Equal(t, "redis.internal", pool.Host)
	assert.Equal(t, 6380, pool.Port)
	assert.Equal(t, 2, pool.DB)
	assert.Equal(t, "hunter2", pool.Password)
	assert.Equal(t, 100, pool.MaxConnections)
	assert.Equal(t, 2500*time.Millisecond, pool.SocketTimeout)
	assert.Equal(t, 3*time.Second, pool.ConnectTimeout)
	assert.Equal(t, 5, pool.MaxRetries)
	assert.Equal(t, 15*time.Second, pool.HealthCheckInterval)

	wd := f.WatchdogConfig()
	assert.Equal(t, 10*time.Second, wd.CheckInterval)
	assert.Equal(t, 0.2, wd.FragmentationThreshold)
	assert.Equal(t, 4, wd.FailureThreshold)
	assert.Equal(t, 4*time.Second, wd.QueryTimeout)
	assert.Equal(t, 60*time.Second, wd.ResetTimeout)
	assert.Equal(t, 5*time.Second, wd.SettleDelay)
	assert.Equal(t, "/usr/bin/nvidia-smi", wd.ToolPath)

	chat := f.ChatConfig()
	assert.Equal(t, "sk-test", chat.APIKey)
	assert.Equal(t, "gpt-4o", chat.Model)
	assert.Equal(t, 10, chat.Guard.QPSLimit)
	assert.Equal(t, 2, chat.Guard.Retry.MaxRetries)
	assert.Equal(t, 1.5, chat.Guard.Retry.BackoffBase)
}

func TestLoad_EmptyFileUsesDefaults(t *testing.T) {
	f, err := Load(writeConfig(t, "{}"))
	require.NoError(t, err)

	pool := f.PoolConfig()
	assert.Equal(t, "localhost", pool.Host)
	assert.Equal(t, 6379, pool.Port)
	assert.Equal(t, 50, pool.MaxConnections)

	wd := f.WatchdogConfig()
	assert.Equal(t, 30*time.Second, wd.CheckInterval)
	assert.Equal(t, "nvidia-smi", wd.ToolPath)
}

func TestLoad_InvalidValuesFailImmediately(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"negative pool size", "pool:\n  max_connections: -1\n"},
		{"bad port", "pool:\n  port: 99999\n"},
		{"fragmentation threshold out of range", "watchdog:\n  fragmentation_threshold: 1.5\n"},
		{"query timeout too long", "watchdog:\n  query_timeout_seconds: 10\n"},
		{"negative qps", "inference:\n  qps_limit: -2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "pool: [not a mapping"))
	assert.Error(t, err)
}
