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
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/TechEmpower/gemini-sub003/go/dbconfig"
	"github.com/TechEmpower/gemini-sub003/go/pools/connpool"
	"github.com/TechEmpower/gemini-sub003/go/tools/timer"
)

// RunCmd holds the run subcommand configuration.
type RunCmd struct {
	poolcheckCmd *PoolcheckCommand
	statsPeriod  time.Duration
}

// AddRunCommand adds the run subcommand to the root command.
func AddRunCommand(root *cobra.Command, pc *PoolcheckCommand) {
	runCmd := &RunCmd{
		poolcheckCmd: pc,
	}
	root.AddCommand(runCmd.createCommand())
}

func (r *RunCmd) createCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Open the pool and keep it serving until interrupted",
		Long: `Open the connection pool from the effective configuration and hold it
open, sweeping idle connections and reporting pool statistics, until
SIGINT or SIGTERM.

When --config-file is set the file is watched, and edits reconfigure
the pool in place: a replacement pool is built from the new attributes
and swapped in without dropping claimed connections.`,
		Args: cobra.NoArgs,
		RunE: r.run,
	}
	cmd.Flags().DurationVar(&r.statsPeriod, "stats-period", time.Minute, "How often to log and export pool statistics")
	return cmd
}

func (r *RunCmd) run(cmd *cobra.Command, args []string) error {
	if r.statsPeriod <= 0 {
		return fmt.Errorf("--stats-period must be positive, got %v", r.statsPeriod)
	}

	pc := r.poolcheckCmd
	attrs, err := pc.loadAttributes()
	if err != nil {
		return err
	}

	recorder := pc.newRecorder(attrs)
	defer recorder.Close()

	pool, err := connpool.Open(cmd.Context(), attrs,
		connpool.WithLogger(pc.logger),
		connpool.WithListener(recorder),
	)
	if err != nil {
		return err
	}
	defer pool.Close()

	if pc.configFile != "" {
		watcher := dbconfig.NewWatcher(pc.configFile, pc.logger, func(next dbconfig.Attributes) {
			if err := pool.Reconfigure(context.Background(), next); err != nil {
				pc.logger.Error("Reconfiguration failed, keeping the previous pool", "error", err)
			}
		})
		if err := watcher.Start(); err != nil {
			pc.logger.Warn("Config watch failed, live reload disabled", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reporter := timer.NewPeriodicRunner(ctx, r.statsPeriod)
	reporter.Start(func(context.Context) {
		stats := pool.Stats()
		recorder.RecordPoolStats(int64(stats.Connected), int64(stats.Claimed))
		pc.logger.Info("Pool statistics",
			"open", stats.Open,
			"connected", stats.Connected,
			"claimed", stats.Claimed,
			"waiters", stats.Waiters,
			"acquires", stats.Acquires,
			"exhausted", stats.Exhausted,
			"connects", stats.Connects,
			"closes", stats.Closes,
		)
	})
	defer reporter.Stop()

	pc.logger.Info("Pool is serving", "quote", pool.Quote(), "stats_period", r.statsPeriod)
	<-ctx.Done()
	pc.logger.Info("Shutting down")
	return nil
}
