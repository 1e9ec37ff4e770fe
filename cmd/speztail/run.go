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
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/spanner"
	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/felixge/fgprof"
	"github.com/gofrs/flock"
	"github.com/google/gops/agent"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	_ "go.uber.org/automaxprocs"

	"github.com/viktor-pecheniuk/spez2/pkg/cdc"
	"github.com/viktor-pecheniuk/spez2/pkg/common/moerr"
	"github.com/viktor-pecheniuk/spez2/pkg/config"
	"github.com/viktor-pecheniuk/spez2/pkg/logutil"
	"github.com/viktor-pecheniuk/spez2/pkg/metric"
)

// credentialScopes are the scopes required to read Spanner's information
// schema and streaming query API and to publish to Pub/Sub (SPEC_FULL.md §6).
var credentialScopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/spanner.data",
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the tailer and block until signalled to stop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTailer(cmd.Context(), configPath)
		},
	}
}

func runTailer(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := logutil.Setup(logutil.Options{
		Path:       cfg.LogPath,
		Level:      cfg.LogLevel,
		MaxSizeMB:  256,
		MaxBackups: 7,
		MaxAgeDays: 28,
	}); err != nil {
		return err
	}
	defer logutil.Sync()

	if _, err := memlimit.SetGoMemLimitWithOpts(
		memlimit.WithRatio(0.9),
		memlimit.WithProvider(memlimit.FromCgroup),
	); err != nil {
		logutil.Warnf("automemlimit: could not derive GOMEMLIMIT from cgroup, leaving default: %v", err)
	}

	if cfg.LockFile != "" {
		lock := flock.New(cfg.LockFile)
		locked, err := lock.TryLock()
		if err != nil {
			return moerr.NewConfigError("acquire lock file %s: %v", cfg.LockFile, err)
		}
		if !locked {
			return moerr.NewConfigError("another instance holds lock file %s", cfg.LockFile)
		}
		defer lock.Unlock()
	}

	if err := agent.Listen(agent.Options{}); err != nil {
		logutil.Warnf("gops agent failed to start: %v", err)
	}
	defer agent.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	creds, err := google.FindDefaultCredentials(ctx, credentialScopes...)
	if err != nil {
		return moerr.NewConfigError("find default credentials: %v", err)
	}
	clientOpt := option.WithTokenSource(creds.TokenSource)

	spannerClient, err := spanner.NewClient(ctx, cfg.DatabasePath(), clientOpt)
	if err != nil {
		return moerr.NewConfigError("create spanner client: %v", err)
	}
	defer spannerClient.Close()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.ProjectID, clientOpt)
	if err != nil {
		return moerr.NewConfigError("create pubsub client: %v", err)
	}
	defer pubsubClient.Close()

	topic := pubsubClient.Topic(cfg.Table)
	defer topic.Stop()

	tailer, err := cdc.NewTailer(ctx, cfg, spannerClient, topic)
	if err != nil {
		return err
	}

	stopMetrics := serveMetrics(cfg.MetricsAddr)
	defer stopMetrics(context.Background())

	stopDebug := serveDebug(cfg.DebugAddr)
	defer stopDebug(context.Background())

	logutil.Infof("speztail: running, table=%s metrics=%s debug=%s", cfg.Table, cfg.MetricsAddr, cfg.DebugAddr)
	err = tailer.Run(ctx)
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func serveMetrics(addr string) func(context.Context) error {
	if addr == "" {
		return func(context.Context) error { return nil }
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metric.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logutil.Errorf("metrics server: %v", err)
		}
	}()
	return srv.Shutdown
}

func serveDebug(addr string) func(context.Context) error {
	if addr == "" {
		return func(context.Context) error { return nil }
	}
	http.DefaultServeMux.Handle("/debug/fgprof", fgprof.Handler())
	http.DefaultServeMux.HandleFunc("/debug/hoststats", hostStatsHandler)
	srv := &http.Server{Addr: addr, Handler: http.DefaultServeMux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logutil.Errorf("debug server: %v", err)
		}
	}()
	return srv.Shutdown
}

// hostStatsHandler reports this process's own CPU and memory usage, for
// operators diagnosing a tailer that looks stuck or is consuming unexpected
// resources.
func hostStatsHandler(w http.ResponseWriter, r *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	cpuPct, _ := proc.CPUPercent()
	memInfo, _ := proc.MemoryInfo()
	var rss uint64
	if memInfo != nil {
		rss = memInfo.RSS
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"cpu_percent":%f,"rss_bytes":%d}`, cpuPct, rss)
}
