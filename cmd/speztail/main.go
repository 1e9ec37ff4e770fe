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

// Command speztail is C0, the process supervisor: it loads configuration,
// acquires the single-instance lock, starts the tailer pipeline, and serves
// metrics and debug endpoints until signalled to stop.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "speztail",
		Short: "Change-data-capture tailer for a single Spanner table",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "speztail.toml", "path to the TOML configuration file")

	root.AddCommand(newRunCmd())
	root.AddCommand(newValidateConfigCmd())
	root.AddCommand(newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
