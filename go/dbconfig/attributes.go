// Copyright 2026 TechEmpower, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dbconfig holds the immutable connection attributes consumed by
// the pool and the connector, and the viper-backed loader that produces
// them from configuration keys under the "db." prefix.
package dbconfig

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults and bounds for attribute values. Durations configured as bare
// numbers are interpreted as milliseconds (see the loader's decode hook).
const (
	DefaultMinPoolSize = 3

	// DefaultMaxPoolMultiplier sizes the maximum pool when unset:
	// max = multiplier * min.
	DefaultMaxPoolMultiplier = 5

	DefaultTestQuery    = "SELECT 1 AS Result"
	DefaultTestValue    = "1"
	DefaultTestInterval = time.Minute

	// TestInterval is always clamped into [MinTestInterval, MaxTestInterval].
	MinTestInterval = time.Minute
	MaxTestInterval = 24 * time.Hour

	// Programmatic fallbacks applied when attributes are built in code
	// without going through the loader. The loader's documented defaults
	// differ for StaleTimeout (see Load).
	DefaultStaleTimeout = 10 * time.Minute
	DefaultAbortTimeout = time.Hour

	DefaultQueryCountFrequency = 1000

	// DefaultIdentifierQuote is used until driver discovery replaces it.
	DefaultIdentifierQuote = `"`
)

// Attributes is the immutable configuration snapshot for one pool
// generation. Build one with Load (from viper) or fill the fields
// directly and call Normalize; after publication it is never mutated,
// so it may be shared across goroutines without locking.
type Attributes struct {
	// ConnectString is appended to URLPrefix to form the DSN.
	ConnectString string
	// URLPrefix is the driver-specific DSN scheme, e.g. "postgres://".
	// Connection establishment requires both URLPrefix and ConnectString
	// to be non-empty.
	URLPrefix string
	LoginName string
	LoginPass string
	// DriverClass identifies the driver. Legacy class identifiers are
	// aliased to database/sql driver names by the connection layer.
	DriverClass string

	MinPoolSize int
	MaxPoolSize int
	// Affinity tags which logical database this pool serves; it is
	// carried into logs and metric names, nothing more.
	Affinity string

	TestEnabled  bool
	TestQuery    string
	TestValue    string
	TestInterval time.Duration

	// StaleTimeout is the idle age past which an above-minimum pooled
	// connection may be recycled by the sweep.
	StaleTimeout time.Duration
	// AbortTimeout is how long a profile may remain claimed before the
	// sweep force-closes its connection to recover from a hung query.
	AbortTimeout time.Duration

	LogWarnings bool

	QueryCounting       bool
	QueryCountFrequency int

	MaxRetries int
	RetrySleep time.Duration

	SafeMode bool

	// AcquireTimeout bounds how long Acquire waits for a free profile
	// when the pool is exhausted. Zero means fail fast.
	AcquireTimeout time.Duration

	// IdentifierQuote is discovered from the driver at pool start.
	IdentifierQuote string
}

// Normalize fills unset fields with their defaults and clamps
// TestInterval into its documented bounds. It returns the completed copy
// and leaves the receiver untouched.
func (a Attributes) Normalize() Attributes {
	if a.MinPoolSize == 0 {
		a.MinPoolSize = DefaultMinPoolSize
	}
	if a.MaxPoolSize == 0 {
		a.MaxPoolSize = DefaultMaxPoolMultiplier * a.MinPoolSize
	}
	if a.TestQuery == "" {
		a.TestQuery = DefaultTestQuery
	}
	if a.TestValue == "" {
		a.TestValue = DefaultTestValue
	}
	if a.TestInterval == 0 {
		a.TestInterval = DefaultTestInterval
	}
	if a.TestInterval < MinTestInterval {
		a.TestInterval = MinTestInterval
	}
	if a.TestInterval > MaxTestInterval {
		a.TestInterval = MaxTestInterval
	}
	if a.StaleTimeout == 0 {
		a.StaleTimeout = DefaultStaleTimeout
	}
	if a.AbortTimeout == 0 {
		a.AbortTimeout = DefaultAbortTimeout
	}
	if a.QueryCountFrequency == 0 {
		a.QueryCountFrequency = DefaultQueryCountFrequency
	}
	if a.IdentifierQuote == "" {
		a.IdentifierQuote = DefaultIdentifierQuote
	}
	return a
}

// Validate rejects values Normalize cannot repair. Called by Load after
// normalization; direct builders should call it too.
func (a Attributes) Validate() error {
	if a.MinPoolSize < 1 {
		return fmt.Errorf("minimum pool size must be at least 1, got %d", a.MinPoolSize)
	}
	if a.MaxPoolSize < a.MinPoolSize {
		return fmt.Errorf("maximum pool size %d is below minimum %d", a.MaxPoolSize, a.MinPoolSize)
	}
	if a.QueryCountFrequency < 1 {
		return fmt.Errorf("query count frequency must be positive, got %d", a.QueryCountFrequency)
	}
	if a.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d", a.MaxRetries)
	}
	if a.RetrySleep < 0 {
		return fmt.Errorf("retry sleep must not be negative, got %v", a.RetrySleep)
	}
	if a.AcquireTimeout < 0 {
		return fmt.Errorf("acquire timeout must not be negative, got %v", a.AcquireTimeout)
	}
	return nil
}

// CanConnect reports whether enough is configured to establish a
// physical connection. When false, establishment is skipped and logged
// rather than attempted.
func (a Attributes) CanConnect() bool {
	return a.URLPrefix != "" && a.ConnectString != ""
}

// Redacted returns a copy safe for logs and config dumps.
func (a Attributes) Redacted() Attributes {
	if a.LoginPass != "" {
		a.LoginPass = "********"
	}
	return a
}

// YAML renders the effective attributes (password redacted) for the
// config inspection command.
func (a Attributes) YAML() ([]byte, error) {
	r := a.Redacted()
	return yaml.Marshal(yamlAttributes{
		ConnectString:       r.ConnectString,
		URLPrefix:           r.URLPrefix,
		LoginName:           r.LoginName,
		LoginPass:           r.LoginPass,
		DriverClass:         r.DriverClass,
		MinPoolSize:         r.MinPoolSize,
		MaxPoolSize:         r.MaxPoolSize,
		Affinity:            r.Affinity,
		TestEnabled:         r.TestEnabled,
		TestQuery:           r.TestQuery,
		TestValue:           r.TestValue,
		TestInterval:        r.TestInterval.String(),
		StaleTimeout:        r.StaleTimeout.String(),
		AbortTimeout:        r.AbortTimeout.String(),
		LogWarnings:         r.LogWarnings,
		QueryCounting:       r.QueryCounting,
		QueryCountFrequency: r.QueryCountFrequency,
		MaxRetries:          r.MaxRetries,
		RetrySleep:          r.RetrySleep.String(),
		SafeMode:            r.SafeMode,
		AcquireTimeout:      r.AcquireTimeout.String(),
		IdentifierQuote:     r.IdentifierQuote,
	})
}

// yamlAttributes is the render shape for YAML: durations appear in
// time.ParseDuration syntax rather than as nanosecond integers.
type yamlAttributes struct {
	ConnectString string `yaml:"connect_string"`
	URLPrefix     string `yaml:"url_prefix"`
	LoginName     string `yaml:"login_name"`
	LoginPass     string `yaml:"login_pass"`
	DriverClass   string `yaml:"driver_class"`

	MinPoolSize int    `yaml:"min_pool_size"`
	MaxPoolSize int    `yaml:"max_pool_size"`
	Affinity    string `yaml:"affinity,omitempty"`

	TestEnabled  bool   `yaml:"test_enabled"`
	TestQuery    string `yaml:"test_query"`
	TestValue    string `yaml:"test_value"`
	TestInterval string `yaml:"test_interval"`

	StaleTimeout string `yaml:"stale_timeout"`
	AbortTimeout string `yaml:"abort_timeout"`

	LogWarnings bool `yaml:"log_warnings"`

	QueryCounting       bool `yaml:"query_counting"`
	QueryCountFrequency int  `yaml:"query_count_frequency"`

	MaxRetries int    `yaml:"max_retries"`
	RetrySleep string `yaml:"retry_sleep"`

	SafeMode bool `yaml:"safe_mode"`

	AcquireTimeout string `yaml:"acquire_timeout"`

	IdentifierQuote string `yaml:"identifier_quote"`
}
