// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the sentinel's YAML configuration file and maps
// it onto the component configs. Intervals and timeouts are expressed in
// seconds in the file. Validation happens at load time; an invalid file
// fails immediately.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/mia-sentinel/gpuwatch"
	"github.com/AleutianAI/mia-sentinel/inference"
	"github.com/AleutianAI/mia-sentinel/redispool"
)

// File is the on-disk configuration schema.
type File struct {
	Pool      PoolSection      `yaml:"pool"`
	Watchdog  WatchdogSection  `yaml:"watchdog"`
	Inference InferenceSection `yaml:"inference"`
}

// PoolSection configures the Redis connection pool.
type PoolSection struct {
	Host              string  `yaml:"host"`
	Port              int     `yaml:"port"`
	DB                int     `yaml:"db"`
	Password          string  `yaml:"password"`
	MaxConnections    int     `yaml:"max_connections"`
	SocketTimeoutSec  float64 `yaml:"socket_timeout_seconds"`
	ConnectTimeoutSec float64 `yaml:"connect_timeout_seconds"`
	MaxRetries        int     `yaml:"max_retries"`
	HealthIntervalSec float64 `yaml:"health_check_interval_seconds"`
}

// WatchdogSection configures the hardware watchdog.
type WatchdogSection struct {
	CheckIntervalSec       float64 `yaml:"check_interval_seconds"`
	FragmentationThreshold float64 `yaml:"fragmentation_threshold"`
	FailureThreshold       int     `yaml:"failure_threshold"`
	QueryTimeoutSec        float64 `yaml:"query_timeout_seconds"`
	ResetTimeoutSec        float64 `yaml:"reset_timeout_seconds"`
	SettleDelaySec         float64 `yaml:"settle_delay_seconds"`
	ToolPath               string  `yaml:"tool_path"`
}

// InferenceSection configures the guarded inference client.
type InferenceSection struct {
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	QPSLimit    int     `yaml:"qps_limit"`
	MaxRetries  int     `yaml:"max_retries"`
	BackoffBase float64 `yaml:"backoff_base"`
}

// Load reads and validates a configuration file.
//
// Inputs:
//
//	path - Path to the YAML file.
//
// Outputs:
//
//	*File - The parsed file with defaults applied.
//	error - Non-nil on read, parse, or validation failure.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &f, nil
}

// Validate maps every section onto its component config and delegates
// validation there.
func (f *File) Validate() error {
	if err := f.PoolConfig().Validate(); err != nil {
		return fmt.Errorf("pool: %w", err)
	}
	if err := f.WatchdogConfig().Validate(); err != nil {
		return fmt.Errorf("watchdog: %w", err)
	}
	if f.Inference.QPSLimit < 0 || f.Inference.MaxRetries < 0 {
		return fmt.Errorf("inference: limits must be non-negative")
	}
	return nil
}

// PoolConfig maps the pool section onto redispool.Config, filling
// defaults for omitted fields.
func (f *File) PoolConfig() redispool.Config {
	cfg := redispool.DefaultConfig()
	s := f.Pool
	if s.Host != "" {
		cfg.Host = s.Host
	}
	if s.Port != 0 {
		cfg.Port = s.Port
	}
	cfg.DB = s.DB
	cfg.Password = s.Password
	if s.MaxConnections != 0 {
		cfg.MaxConnections = s.MaxConnections
	}
	if s.SocketTimeoutSec != 0 {
		cfg.SocketTimeout = secs(s.SocketTimeoutSec)
	}
	if s.ConnectTimeoutSec != 0 {
		cfg.ConnectTimeout = secs(s.ConnectTimeoutSec)
	}
	if s.MaxRetries != 0 {
		cfg.MaxRetries = s.MaxRetries
	}
	if s.HealthIntervalSec != 0 {
		cfg.HealthCheckInterval = secs(s.HealthIntervalSec)
	}
	return cfg
}

// WatchdogConfig maps the watchdog section onto gpuwatch.Config.
func (f *File) WatchdogConfig() gpuwatch.Config {
	cfg := gpuwatch.DefaultConfig()
	s := f.Watchdog
	if s.CheckIntervalSec != 0 {
		cfg.CheckInterval = secs(s.CheckIntervalSec)
	}
	if s.FragmentationThreshold != 0 {
		cfg.FragmentationThreshold = s.FragmentationThreshold
	}
	if s.FailureThreshold != 0 {
		cfg.FailureThreshold = s.FailureThreshold
	}
	if s.QueryTimeoutSec != 0 {
		cfg.QueryTimeout = secs(s.QueryTimeoutSec)
	}
	if s.ResetTimeoutSec != 0 {
		cfg.ResetTimeout = secs(s.ResetTimeoutSec)
	}
	if s.SettleDelaySec != 0 {
		cfg.SettleDelay = secs(s.SettleDelaySec)
	}
	if s.ToolPath != "" {
		cfg.ToolPath = s.ToolPath
	}
	return cfg
}

// ChatConfig maps the inference section onto inference.ChatConfig.
func (f *File) ChatConfig() inference.ChatConfig {
	guard := inference.DefaultGuardConfig()
	s := f.Inference
	if s.QPSLimit != 0 {
		guard.QPSLimit = s.QPSLimit
	}
	if s.MaxRetries != 0 {
		guard.Retry.MaxRetries = s.MaxRetries
	}
	if s.BackoffBase != 0 {
		guard.Retry.BackoffBase = s.BackoffBase
	}

	return inference.ChatConfig{
		APIKey:  s.APIKey,
		BaseURL: s.BaseURL,
		Model:   s.Model,
		Guard:   guard,
	}
}

func secs(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
