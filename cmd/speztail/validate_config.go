// Copyright 2024 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/viktor-pecheniuk/spez2/pkg/config"
)

var printJSON bool

// newValidateConfigCmd loads and validates the config file without starting
// the tailer, so a bad deploy fails in CI rather than on first poll.
func newValidateConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate-config",
		Short: "Load and validate the configuration file, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if printJSON {
				out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(cfg, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}
			fmt.Printf("config %s is valid: table=%s database=%s\n", configPath, cfg.Table, cfg.DatabasePath())
			return nil
		},
	}
	cmd.Flags().BoolVar(&printJSON, "json", false, "print the resolved configuration as JSON")
	return cmd
}
