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

// Package logutil wraps zap the way the rest of the corpus does: a single
// process-wide *zap.SugaredLogger reachable through package-level helpers,
// with file output rotated by lumberjack.
package logutil

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

var global = zap.NewNop().Sugar()

// Options configures Setup.
type Options struct {
	Path       string // empty means stderr only
	Level      string // debug|info|warn|error
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Setup installs the process-wide logger. Called once from cmd/speztail at
// startup; every package below calls the package-level helpers afterward.
func Setup(opts Options) error {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return err
		}
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.Lock(zapcore.AddSync(os.Stderr)), level),
	}

	if opts.Path != "" {
		rotate := &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    orDefault(opts.MaxSizeMB, 128),
			MaxBackups: orDefault(opts.MaxBackups, 8),
			MaxAge:     orDefault(opts.MaxAgeDays, 14),
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(rotate), level))
	}

	core := zapcore.NewTee(cores...)
	global = zap.New(core, zap.AddCaller()).Sugar()
	return nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// With returns a child logger carrying the given structured fields, mirroring
// the teacher's per-component logger-with-context convention.
func With(kv ...any) *zap.SugaredLogger { return global.With(kv...) }

func Debugf(format string, args ...any) { global.Debugf(format, args...) }
func Infof(format string, args ...any)  { global.Infof(format, args...) }
func Warnf(format string, args ...any)  { global.Warnf(format, args...) }
func Errorf(format string, args ...any) { global.Errorf(format, args...) }

// Sync flushes any buffered log entries; call from a deferred shutdown hook.
func Sync() error { return global.Sync() }
