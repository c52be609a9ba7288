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

package command

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/TechEmpower/gemini-sub003/go/dbconfig"
	"github.com/TechEmpower/gemini-sub003/go/dblistener"
	"github.com/TechEmpower/gemini-sub003/go/dbmetrics"
	"github.com/TechEmpower/gemini-sub003/go/tools/logutil"

	// Register the SQL drivers the connect string may name.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// PoolcheckCommand holds the state shared by the poolcheck subcommands.
type PoolcheckCommand struct {
	configFile   string
	logConfig    logutil.Config
	statsdAddr   string
	statsdPrefix string

	// flags is the persistent flag set; kept so attribute loading can
	// bind the db-* flags into viper after parsing.
	flags  *pflag.FlagSet
	logger *slog.Logger
}

// GetRootCommand creates and returns the root command for poolcheck with
// all subcommands attached.
func GetRootCommand() *cobra.Command {
	pc := &PoolcheckCommand{
		logConfig: logutil.DefaultConfig(),
	}

	root := &cobra.Command{
		Use:   "poolcheck",
		Short: "Open and exercise a pooled database connection from the command line",
		Long: `poolcheck drives the connection pool the same way an embedding server
would: it loads the database attributes from a config file, environment
variables, and flags (flags win), opens the pool, and runs queries
through it.

Examples:
  # One-shot connectivity probe against the configured database
  poolcheck check --db-url-prefix "postgres://" --db-connect-string "localhost/app?sslmode=disable"

  # Keep a pool open, sweeping and reporting stats, until interrupted
  poolcheck run --config-file pool.yaml

  # Show the effective configuration after defaults and clamping
  poolcheck config --config-file pool.yaml`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Usage stays visible for flag errors, which are raised
			// before this hook runs.
			cmd.SilenceUsage = true
			pc.logger = logutil.Setup(pc.logConfig)
			return nil
		},
	}

	fs := root.PersistentFlags()
	fs.StringVar(&pc.configFile, "config-file", "", "Path to a config file; optional, flags and environment apply on top")
	fs.StringVar(&pc.statsdAddr, "statsd-addr", "", "statsd host:port for metrics export; empty disables export")
	fs.StringVar(&pc.statsdPrefix, "statsd-prefix", "poolcheck", "Prefix prepended to every exported metric name")
	logutil.RegisterFlags(fs, &pc.logConfig)
	dbconfig.RegisterFlags(fs)
	pc.flags = fs

	AddRunCommand(root, pc)
	AddCheckCommand(root, pc)
	AddConfigCommand(root, pc)

	return root
}

// loadAttributes builds the effective database attributes from defaults,
// the optional config file, environment variables, and flags, in
// ascending precedence.
func (pc *PoolcheckCommand) loadAttributes() (dbconfig.Attributes, error) {
	v := viper.New()
	if pc.configFile != "" {
		v.SetConfigFile(pc.configFile)
		if err := v.ReadInConfig(); err != nil {
			return dbconfig.Attributes{}, fmt.Errorf("read config %s: %w", pc.configFile, err)
		}
	}
	if err := dbconfig.BindFlags(v, pc.flags); err != nil {
		return dbconfig.Attributes{}, err
	}
	return dbconfig.Load(v)
}

// newRecorder wires the metrics recorder over the reference retry
// policy, so failed queries are counted and retried per the attributes.
func (pc *PoolcheckCommand) newRecorder(attrs dbconfig.Attributes) *dbmetrics.Recorder {
	policy := &dblistener.RetryPolicy{
		MaxRetries: attrs.MaxRetries,
		Sleep:      attrs.RetrySleep,
	}
	prefix := pc.statsdPrefix
	if attrs.Affinity != "" {
		prefix += "." + attrs.Affinity
	}
	return dbmetrics.NewRecorder(dbmetrics.Config{
		Enabled:      attrs.QueryCounting,
		Frequency:    attrs.QueryCountFrequency,
		StatsdAddr:   pc.statsdAddr,
		StatsdPrefix: prefix,
	}, pc.logger, policy)
}
