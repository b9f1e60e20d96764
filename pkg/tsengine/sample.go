// Copyright (c) The Thanos Authors.
// Licensed under the Apache License 2.0.

package tsengine

import (
	"math"
	"strconv"
)

// Sample is a single (timestamp, value) pair. Timestamps are unsigned,
// millisecond-scale and non-decreasing within a Series.
type Sample struct {
	T uint64
	V float64
}

// formatValue renders v the way TS.RANGE/TS.MRANGE/TS.INFO render sample
// values on the wire: integral floats print without a decimal point,
// everything else prints with the shortest round-tripping representation.
func formatValue(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1<<63 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
