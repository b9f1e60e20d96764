// Copyright (c) The Thanos Authors.
// Licensed under the Apache License 2.0.

package runutil

import (
	"bytes"
	"errors"
	"testing"

	"github.com/go-kit/kit/log"
)

type testCloser struct {
	err error
}

func (c testCloser) Close() error {
	return c.err
}

func TestCloseWithLogOnErr(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewLogfmtLogger(&buf)

	CloseWithLogOnErr(logger, testCloser{err: nil}, "close ok")
	if buf.Len() != 0 {
		t.Fatalf("expected no log output on successful close, got %q", buf.String())
	}

	CloseWithLogOnErr(logger, testCloser{err: errors.New("boom")}, "close %s", "thing")
	if buf.Len() == 0 {
		t.Fatal("expected a log line on close error")
	}
}
