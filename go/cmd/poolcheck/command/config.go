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
	"github.com/spf13/cobra"
)

// ConfigCmd holds the config subcommand configuration.
type ConfigCmd struct {
	poolcheckCmd *PoolcheckCommand
}

// AddConfigCommand adds the config subcommand to the root command.
func AddConfigCommand(root *cobra.Command, pc *PoolcheckCommand) {
	configCmd := &ConfigCmd{
		poolcheckCmd: pc,
	}
	root.AddCommand(configCmd.createCommand())
}

func (c *ConfigCmd) createCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Long: `Print the database attributes after merging defaults, the config file,
environment variables, and flags, and after normalization has applied
its clamps. The login password is redacted.`,
		Args: cobra.NoArgs,
		RunE: c.runConfig,
	}
}

func (c *ConfigCmd) runConfig(cmd *cobra.Command, args []string) error {
	attrs, err := c.poolcheckCmd.loadAttributes()
	if err != nil {
		return err
	}
	out, err := attrs.YAML()
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
