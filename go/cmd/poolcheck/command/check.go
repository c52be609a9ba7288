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
	"time"

	"github.com/spf13/cobra"

	"github.com/TechEmpower/gemini-sub003/go/connector"
	"github.com/TechEmpower/gemini-sub003/go/pools/connpool"
)

// CheckCmd holds the check subcommand configuration.
type CheckCmd struct {
	poolcheckCmd *PoolcheckCommand
	query        string
}

// AddCheckCommand adds the check subcommand to the root command.
func AddCheckCommand(root *cobra.Command, pc *PoolcheckCommand) {
	checkCmd := &CheckCmd{
		poolcheckCmd: pc,
	}
	root.AddCommand(checkCmd.createCommand())
}

func (c *CheckCmd) createCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Connect once, run the test query, and exit",
		Long: `Open a single-connection pool, run the configured test query through a
Connector, and report the result and latency. Exits non-zero when the
connection cannot be established, the query fails, or the returned
value does not match db-test-value.

Suited to health probes and deploy-time smoke checks.`,
		Args: cobra.NoArgs,
		RunE: c.runCheck,
	}
	cmd.Flags().StringVar(&c.query, "query", "", "Query to run instead of db-test-query; skips the value comparison")
	return cmd
}

func (c *CheckCmd) runCheck(cmd *cobra.Command, args []string) error {
	pc := c.poolcheckCmd
	attrs, err := pc.loadAttributes()
	if err != nil {
		return err
	}
	// A probe needs exactly one connection.
	attrs.MinPoolSize = 1
	attrs.MaxPoolSize = 1

	pool, err := connpool.Open(cmd.Context(), attrs, connpool.WithLogger(pc.logger))
	if err != nil {
		return err
	}
	defer pool.Close()

	query := c.query
	compare := query == ""
	if compare {
		query = attrs.TestQuery
	}

	conn := connector.New(pool)
	defer conn.Close(true)
	conn.SetQuery(query)
	// Safe mode surfaces the classified failure instead of retrying.
	conn.SetSafeMode(true)

	started := time.Now()
	if err := conn.RunQuery(cmd.Context()); err != nil {
		return fmt.Errorf("check failed: %w", err)
	}
	elapsed := time.Since(started).Round(time.Microsecond)

	result := conn.Result()
	if result.RowCount() == 0 {
		return fmt.Errorf("check failed: %q returned no rows", query)
	}
	columns := result.Columns()
	if len(columns) == 0 {
		return fmt.Errorf("check failed: %q returned no columns", query)
	}
	value := result.String(columns[0])

	if compare && value != attrs.TestValue {
		return fmt.Errorf("check failed: %q returned %q, want %q", query, value, attrs.TestValue)
	}

	pc.logger.Info("Check passed", "query", query, "value", value, "rows", result.RowCount(), "elapsed", elapsed)
	fmt.Fprintf(cmd.OutOrStdout(), "ok: %d row(s), first value %q, %s\n", result.RowCount(), value, elapsed)
	return nil
}
