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
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// RegisterFlags installs the database configuration flags. Each flag
// feeds the configuration key it is bound to in BindFlags, with changed
// flags taking precedence over file and environment values.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("db-connect-string", "", "Connect string appended to the driver URL prefix.")
	fs.String("db-login-name", "", "Database login name.")
	fs.String("db-login-pass", "", "Database login password.")
	fs.String("db-url-prefix", "", "Driver URL prefix, e.g. postgres://.")
	fs.String("db-driver-class", "", "Driver identifier (database/sql driver name or legacy class name).")
	fs.Int("db-pooling", DefaultMinPoolSize, "Minimum pool size.")
	fs.Int("db-max-pooling", 0, "Maximum pool size (0 derives 5x the minimum).")
	fs.Duration("db-stale-timeout", time.Hour, "Idle age past which above-minimum connections are recycled.")
	fs.Duration("db-abort-timeout", time.Hour, "Claim age past which the sweep force-closes a hung connection.")
	fs.String("db-affinity", "", "Logical database tag carried into logs and metrics.")
	fs.Bool("db-test-enabled", false, "Probe idle connections with the test query during the sweep.")
	fs.String("db-test-query", DefaultTestQuery, "Keep-alive test query.")
	fs.String("db-test-value", DefaultTestValue, "Expected first-column value of the test query.")
	fs.Duration("db-test-interval", DefaultTestInterval, "Keep-alive sweep interval, clamped to [1m, 24h].")
	fs.Bool("db-log-warnings", false, "Log unmonitored query failures at warning level.")
	fs.Bool("db-query-counting", false, "Count executed queries and log every Nth.")
	fs.Int("db-query-count-frequency", DefaultQueryCountFrequency, "How many counted queries between count log lines.")
	fs.Int("db-max-retries", 0, "Retries the reference listener policy allows per operation.")
	fs.Duration("db-retry-sleep", 0, "Sleep between listener-driven retries.")
	fs.Bool("db-safe-mode", false, "Default Connectors to monitored (error-returning) execution.")
	fs.Duration("db-acquire-timeout", 0, "How long Acquire may wait on an exhausted pool; 0 fails fast.")
}

var flagBindings = map[string]string{
	"db.ConnectString":       "db-connect-string",
	"db.LoginName":           "db-login-name",
	"db.LoginPass":           "db-login-pass",
	"db.Driver.UrlPrefix":    "db-url-prefix",
	"db.Driver.Class":        "db-driver-class",
	"db.Driver.Pooling":      "db-pooling",
	"db.Driver.MaxPooling":   "db-max-pooling",
	"db.Driver.StaleTimeout": "db-stale-timeout",
	"db.Driver.AbortTimeout": "db-abort-timeout",
	"db.Affinity":            "db-affinity",
	"db.TestEnabled":         "db-test-enabled",
	"db.TestQuery":           "db-test-query",
	"db.TestValue":           "db-test-value",
	"db.TestInterval":        "db-test-interval",
	"db.LogWarnings":         "db-log-warnings",
	"db.QueryCounting":       "db-query-counting",
	"db.QueryCountFrequency": "db-query-count-frequency",
	"db.MaxRetries":          "db-max-retries",
	"db.RetrySleep":          "db-retry-sleep",
	"db.SafeMode":            "db-safe-mode",
	"db.AcquireTimeout":      "db-acquire-timeout",
}

// BindFlags connects the flags registered by RegisterFlags to their
// configuration keys on v. Must be called after RegisterFlags on the
// same flag set.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for key, name := range flagBindings {
		flag := fs.Lookup(name)
		if flag == nil {
			return fmt.Errorf("flag %q is not registered", name)
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %q: %w", name, err)
		}
	}
	return nil
}
