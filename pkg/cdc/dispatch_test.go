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

package cdc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewDispatcherRejectsInvalidConfig(t *testing.T) {
	_, err := NewDispatcher(DispatcherConfig{BucketCount: 0, WorkerCount: 1}, nil, nil, "t")
	require.Error(t, err)

	_, err = NewDispatcher(DispatcherConfig{BucketCount: 1, WorkerCount: 0}, nil, nil, "t")
	require.Error(t, err)
}

func TestNewDispatcherDefaultsLaneDepth(t *testing.T) {
	d, err := NewDispatcher(DispatcherConfig{BucketCount: 4, WorkerCount: 2}, nil, nil, "t")
	require.NoError(t, err)
	require.Equal(t, 64, d.cfg.LaneDepth)
	d.Close(time.Second)
}

func TestDispatcherCloseIsIdempotent(t *testing.T) {
	d, err := NewDispatcher(DispatcherConfig{BucketCount: 2, WorkerCount: 1}, nil, nil, "t")
	require.NoError(t, err)
	d.Close(time.Second)
	require.NotPanics(t, func() { d.Close(time.Second) })
}
