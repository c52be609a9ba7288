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

package dbconfig

import (
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/afero"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Prefix is the configuration key prefix for every attribute.
const Prefix = "db"

// fileAttributes mirrors the configuration key layout. Field names match
// the documented keys; the public Attributes shape is flat.
type fileAttributes struct {
	ConnectString       string        `mapstructure:"ConnectString"`
	LoginName           string        `mapstructure:"LoginName"`
	LoginPass           string        `mapstructure:"LoginPass"`
	Driver              fileDriver    `mapstructure:"Driver"`
	Affinity            string        `mapstructure:"Affinity"`
	TestEnabled         bool          `mapstructure:"TestEnabled"`
	TestQuery           string        `mapstructure:"TestQuery"`
	TestValue           string        `mapstructure:"TestValue"`
	TestInterval        time.Duration `mapstructure:"TestInterval"`
	LogWarnings         bool          `mapstructure:"LogWarnings"`
	QueryCounting       bool          `mapstructure:"QueryCounting"`
	QueryCountFrequency int           `mapstructure:"QueryCountFrequency"`
	MaxRetries          int           `mapstructure:"MaxRetries"`
	RetrySleep          time.Duration `mapstructure:"RetrySleep"`
	SafeMode            bool          `mapstructure:"SafeMode"`
	AcquireTimeout      time.Duration `mapstructure:"AcquireTimeout"`
}

type fileDriver struct {
	UrlPrefix    string        `mapstructure:"UrlPrefix"`
	Class        string        `mapstructure:"Class"`
	Pooling      int           `mapstructure:"Pooling"`
	MaxPooling   int           `mapstructure:"MaxPooling"`
	StaleTimeout time.Duration `mapstructure:"StaleTimeout"`
	AbortTimeout time.Duration `mapstructure:"AbortTimeout"`
}

func (fa fileAttributes) toAttributes() Attributes {
	return Attributes{
		ConnectString:       fa.ConnectString,
		URLPrefix:           fa.Driver.UrlPrefix,
		LoginName:           fa.LoginName,
		LoginPass:           fa.LoginPass,
		DriverClass:         fa.Driver.Class,
		MinPoolSize:         fa.Driver.Pooling,
		MaxPoolSize:         fa.Driver.MaxPooling,
		Affinity:            fa.Affinity,
		TestEnabled:         fa.TestEnabled,
		TestQuery:           fa.TestQuery,
		TestValue:           fa.TestValue,
		TestInterval:        fa.TestInterval,
		StaleTimeout:        fa.Driver.StaleTimeout,
		AbortTimeout:        fa.Driver.AbortTimeout,
		LogWarnings:         fa.LogWarnings,
		QueryCounting:       fa.QueryCounting,
		QueryCountFrequency: fa.QueryCountFrequency,
		MaxRetries:          fa.MaxRetries,
		RetrySleep:          fa.RetrySleep,
		SafeMode:            fa.SafeMode,
		AcquireTimeout:      fa.AcquireTimeout,
	}
}

// SetDefaults registers the documented default for every key. Registering
// a default also makes the key visible to env and flag overrides.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("db.ConnectString", "")
	v.SetDefault("db.LoginName", "")
	v.SetDefault("db.LoginPass", "")
	v.SetDefault("db.Driver.UrlPrefix", "")
	v.SetDefault("db.Driver.Class", "")
	v.SetDefault("db.Driver.Pooling", DefaultMinPoolSize)
	v.SetDefault("db.Driver.MaxPooling", 0)
	v.SetDefault("db.Driver.StaleTimeout", 3_600_000)
	v.SetDefault("db.Driver.AbortTimeout", 3_600_000)
	v.SetDefault("db.Affinity", "")
	v.SetDefault("db.TestEnabled", false)
	v.SetDefault("db.TestQuery", DefaultTestQuery)
	v.SetDefault("db.TestValue", DefaultTestValue)
	v.SetDefault("db.TestInterval", 60_000)
	v.SetDefault("db.LogWarnings", false)
	v.SetDefault("db.QueryCounting", false)
	v.SetDefault("db.QueryCountFrequency", DefaultQueryCountFrequency)
	v.SetDefault("db.MaxRetries", 0)
	v.SetDefault("db.RetrySleep", 0)
	v.SetDefault("db.SafeMode", false)
	v.SetDefault("db.AcquireTimeout", 0)
}

// envBindings maps configuration keys to their environment variables.
var envBindings = map[string]string{
	"db.ConnectString":       "DB_CONNECTSTRING",
	"db.LoginName":           "DB_LOGINNAME",
	"db.LoginPass":           "DB_LOGINPASS",
	"db.Driver.UrlPrefix":    "DB_DRIVER_URLPREFIX",
	"db.Driver.Class":        "DB_DRIVER_CLASS",
	"db.Driver.Pooling":      "DB_DRIVER_POOLING",
	"db.Driver.MaxPooling":   "DB_DRIVER_MAXPOOLING",
	"db.Driver.StaleTimeout": "DB_DRIVER_STALETIMEOUT",
	"db.Driver.AbortTimeout": "DB_DRIVER_ABORTTIMEOUT",
	"db.Affinity":            "DB_AFFINITY",
	"db.TestEnabled":         "DB_TESTENABLED",
	"db.TestQuery":           "DB_TESTQUERY",
	"db.TestValue":           "DB_TESTVALUE",
	"db.TestInterval":        "DB_TESTINTERVAL",
	"db.LogWarnings":         "DB_LOGWARNINGS",
	"db.QueryCounting":       "DB_QUERYCOUNTING",
	"db.QueryCountFrequency": "DB_QUERYCOUNTFREQUENCY",
	"db.MaxRetries":          "DB_MAXRETRIES",
	"db.RetrySleep":          "DB_RETRYSLEEP",
	"db.SafeMode":            "DB_SAFEMODE",
	"db.AcquireTimeout":      "DB_ACQUIRETIMEOUT",
}

// Load reads the "db." keys from v into a normalized, validated
// Attributes. Defaults and environment bindings are registered on v as a
// side effect, so flags bound to the same keys keep working.
func Load(v *viper.Viper) (Attributes, error) {
	SetDefaults(v)
	for key, env := range envBindings {
		// BindEnv only fails on empty input.
		_ = v.BindEnv(key, env)
	}

	// Unmarshal the whole settings tree rather than UnmarshalKey: the
	// full walk is what merges env and flag bindings in with file values.
	var root struct {
		DB fileAttributes `mapstructure:"db"`
	}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		decodeMillisDuration,
		decodeScalarString,
	))
	if err := v.Unmarshal(&root, hook); err != nil {
		return Attributes{}, fmt.Errorf("unmarshal %q config: %w", Prefix, err)
	}

	attrs := root.DB.toAttributes().Normalize()
	if err := attrs.Validate(); err != nil {
		return Attributes{}, err
	}
	return attrs, nil
}

// LoadFile reads one explicit config file (format inferred from the
// extension) and returns its attributes. The filesystem is injectable so
// tests can run against an in-memory fs.
func LoadFile(fsys afero.Fs, path string) (Attributes, error) {
	v := viper.New()
	v.SetFs(fsys)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Attributes{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return Load(v)
}

var durationType = reflect.TypeOf(time.Duration(0))

// decodeMillisDuration turns configuration numbers into durations,
// interpreting bare numbers as milliseconds. Strings go through
// time.ParseDuration first so "90s" style values also work.
func decodeMillisDuration(from, to reflect.Type, data any) (any, error) {
	if to != durationType || from == durationType {
		return data, nil
	}

	switch from.Kind() {
	case reflect.String:
		s := data.(string)
		if s == "" {
			return time.Duration(0), nil
		}
		if d, err := time.ParseDuration(s); err == nil {
			return d, nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n) * time.Millisecond, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return time.Duration(cast.ToInt64(data)) * time.Millisecond, nil
	}
	return data, nil
}

// decodeScalarString lets numeric and boolean config values land in
// string fields (TestValue is commonly written as a bare 1).
func decodeScalarString(from, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.String || from.Kind() == reflect.String {
		return data, nil
	}
	switch from.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.Bool:
		return cast.ToString(data), nil
	}
	return data, nil
}
