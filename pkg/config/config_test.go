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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.ProjectID = "proj"
	cfg.Instance = "inst"
	cfg.DB = "db"
	cfg.Table = "orders"
	cfg.LptsTable = "lpts"
	cfg.TsColumn = "CommitTs"
	return cfg
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateRejectsMissingRequiredFields(t *testing.T) {
	cfg := validConfig()
	cfg.Table = ""
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveIntervals(t *testing.T) {
	cfg := validConfig()
	cfg.PollIntervalMs = 0
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsMalformedEpoch(t *testing.T) {
	cfg := validConfig()
	cfg.EpochDefault = "not-a-timestamp"
	require.Error(t, cfg.Validate())
}

func TestDatabasePathHonoursAllThreeFields(t *testing.T) {
	cfg := validConfig()
	require.Equal(t, "projects/proj/instances/inst/databases/db", cfg.DatabasePath())
}

func TestDurationHelpersConvertMillisecondFields(t *testing.T) {
	cfg := validConfig()
	cfg.PollIntervalMs = 5000
	cfg.StalenessMs = 250
	require.Equal(t, 5*time.Second, cfg.PollInterval())
	require.Equal(t, 250*time.Millisecond, cfg.Staleness())
}

func TestLoadDecodesTOMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "speztail.toml")
	contents := `
project_id = "proj"
instance = "inst"
db = "db"
table = "orders"
lpts_table = "lpts"
ts_column = "CommitTs"
worker_count = 16
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "orders", cfg.Table)
	require.Equal(t, 16, cfg.WorkerCount)
	// Untouched fields keep their Default() values.
	require.Equal(t, 12, cfg.BucketCount)
	require.NoError(t, cfg.Validate())
}
