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

// Package moerr defines the tailer's error kinds. Every kind is a sentinel
// that can be matched with errors.Is; all constructors wrap the underlying
// cause with github.com/cockroachdb/errors so the error carries a stack
// trace back to the point of failure.
package moerr

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Kind identifies which of the fatal/transient/skip buckets an error
// belongs to, per the propagation policy in §7 of SPEC_FULL.md.
type Kind int

const (
	// KindConfig: invalid option or missing credential, fatal at startup.
	KindConfig Kind = iota
	// KindSchema: catalog malformed or missing commit-timestamp column, fatal at startup.
	KindSchema
	// KindLpts: bookkeeping row malformed, fatal at startup.
	KindLpts
	// KindTransientRead: mid-stream read failure, logged, cycle aborts.
	KindTransientRead
	// KindEncode: type mismatch for a row, logged, row is skipped.
	KindEncode
	// KindDispatchBlocked: hand-off buffer saturated; not a failure, applies back-pressure.
	KindDispatchBlocked
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "ConfigError"
	case KindSchema:
		return "SchemaError"
	case KindLpts:
		return "LptsError"
	case KindTransientRead:
		return "TransientReadError"
	case KindEncode:
		return "EncodeError"
	case KindDispatchBlocked:
		return "DispatchBlocked"
	default:
		return "UnknownError"
	}
}

type tailerError struct {
	kind Kind
	err  error
}

func (e *tailerError) Error() string { return fmt.Sprintf("%s: %s", e.kind, e.err) }
func (e *tailerError) Unwrap() error { return e.err }

// Is makes errors.Is(err, ErrX) work by matching the kind of one of the
// sentinel Err* values below.
func (e *tailerError) Is(target error) bool {
	te, ok := target.(*tailerError)
	return ok && te.kind == e.kind && te.err == nil
}

// sentinels let callers write errors.Is(err, moerr.ErrSchema) etc.
var (
	ErrConfig           = &tailerError{kind: KindConfig}
	ErrSchema           = &tailerError{kind: KindSchema}
	ErrLpts             = &tailerError{kind: KindLpts}
	ErrTransientRead    = &tailerError{kind: KindTransientRead}
	ErrEncode           = &tailerError{kind: KindEncode}
	ErrDispatchBlocked  = &tailerError{kind: KindDispatchBlocked}
)

// NewConfigError reports an invalid configuration option or missing credential.
func NewConfigError(format string, args ...any) error {
	return wrap(KindConfig, format, args...)
}

// NewSchemaError reports a missing table, missing commit-timestamp column,
// or unreachable catalog.
func NewSchemaError(format string, args ...any) error {
	return wrap(KindSchema, format, args...)
}

// NewLptsError reports a malformed bookkeeping row.
func NewLptsError(format string, args ...any) error {
	return wrap(KindLpts, format, args...)
}

// NewTransientReadError reports a mid-stream read failure that does not
// advance the watermark past the offending row.
func NewTransientReadError(format string, args ...any) error {
	return wrap(KindTransientRead, format, args...)
}

// NewEncodeError reports a row whose runtime type does not match its
// declared column type; the caller advances the watermark past it anyway.
func NewEncodeError(format string, args ...any) error {
	return wrap(KindEncode, format, args...)
}

func wrap(kind Kind, format string, args ...any) error {
	return &tailerError{kind: kind, err: errors.Newf(format, args...)}
}

// KindOf extracts the Kind carried by an error produced by this package, and
// reports whether one was found at all (e.g. on an error from a dependency
// that was never wrapped here).
func KindOf(err error) (Kind, bool) {
	var te *tailerError
	if errors.As(err, &te) {
		return te.kind, true
	}
	return 0, false
}

// IsFatal reports whether err belongs to one of the startup-fatal kinds
// (Config, Schema, Lpts) per the propagation policy in §7.
func IsFatal(err error) bool {
	k, ok := KindOf(err)
	if !ok {
		return false
	}
	return k == KindConfig || k == KindSchema || k == KindLpts
}
