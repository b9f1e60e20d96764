// Copyright (c) The Thanos Authors.
// Licensed under the Apache License 2.0.

package tsengine

import "github.com/pkg/errors"

// Sentinel error kinds surfaced to the host as client errors (spec §7).
// Callers should match with Cause (errors.Cause) rather than string
// comparison, since wrapping with errors.Wrap/Wrapf is used liberally
// to add call-site context.
var (
	ErrBadTimestamp      = errors.New("bad timestamp")
	ErrNoSuchSeries      = errors.New("no such series")
	ErrNoSuchRule        = errors.New("no such rule")
	ErrRuleExists        = errors.New("compaction rule already exists")
	ErrDstAlreadyDerived = errors.New("destination is already derived")
	ErrCyclicRule        = errors.New("source is itself a derived series")
	ErrUnknownAggregator = errors.New("unknown aggregator")
	ErrBadArgument       = errors.New("bad argument")
	ErrInvalidSelector   = errors.New("invalid selector")
	ErrSeriesExists      = errors.New("series already exists")
)

// Cause unwraps err to the innermost sentinel, mirroring the way the
// teacher's command layer maps wrapped pkg/errors values back to a
// stable reply kind without string matching.
func Cause(err error) error {
	return errors.Cause(err)
}

// errorsWrap wraps sentinel with call-site context, the way
// pkg/block/index.go wraps sentinel conditions throughout the teacher.
func errorsWrap(sentinel error, format string, args ...interface{}) error {
	return errors.Wrapf(sentinel, format, args...)
}
