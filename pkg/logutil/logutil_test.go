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

package logutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupAcceptsStderrOnlyConfig(t *testing.T) {
	require.NoError(t, Setup(Options{Level: "info"}))
	Infof("hello %s", "world")
	require.NoError(t, Sync())
}

func TestSetupWritesRotatedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tailer.log")
	require.NoError(t, Setup(Options{Path: path, Level: "debug"}))
	Infof("line one")
	require.NoError(t, Sync())
}

func TestSetupRejectsUnknownLevel(t *testing.T) {
	require.Error(t, Setup(Options{Level: "not-a-level"}))
}
