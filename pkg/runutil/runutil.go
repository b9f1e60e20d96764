// Copyright (c) The Thanos Authors.
// Licensed under the Apache License 2.0.

// Package runutil provides small helpers for closing resources without
// swallowing the resulting error.
package runutil

import (
	"fmt"
	"io"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// CloseWithLogOnErr closes the given closer and logs an error on failure
// at warn level. Use this when you want to close with best-effort but
// a closer error is not worth propagating to the caller.
func CloseWithLogOnErr(logger log.Logger, closer io.Closer, format string, a ...interface{}) {
	err := closer.Close()
	if err == nil {
		return
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	level.Warn(logger).Log("msg", "detected close error", "err", fmt.Sprintf(format, a...)+": "+err.Error())
}
