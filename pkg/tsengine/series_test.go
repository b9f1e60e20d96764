// Copyright (c) The Thanos Authors.
// Licensed under the Apache License 2.0.

package tsengine

import (
	"testing"
)

func TestSeriesAppendMonotonic(t *testing.T) {
	s := NewSeries("t", 0, 0, nil, nil)
	for i := uint64(0); i < 5; i++ {
		if err := s.append(i, float64(i)); err != nil {
			t.Fatalf("append(%d): %v", i, err)
		}
	}
	if err := s.append(3, 1); Cause(err) != ErrBadTimestamp {
		t.Fatalf("expected ErrBadTimestamp, got %v", err)
	}
	last, ok := s.LastTimestamp()
	if !ok || last != 4 {
		t.Fatalf("last timestamp = %d, %v, want 4, true", last, ok)
	}
}

// TestSeriesBasicRange mirrors spec §8 scenario 1: 1500 samples of value
// 5 starting at 1511885909, one chunk per 360 samples.
func TestSeriesBasicRange(t *testing.T) {
	s := NewSeries("t", 0, 0, nil, nil)
	const start = uint64(1511885909)
	for i := uint64(0); i < 1500; i++ {
		if err := s.append(start+i, 5); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	got := Range(s, start, start+1500)
	if len(got) != 1500 {
		t.Fatalf("got %d samples, want 1500", len(got))
	}
	for i, smp := range got {
		if smp.T != start+uint64(i) {
			t.Fatalf("sample %d: t = %d, want %d", i, smp.T, start+uint64(i))
		}
		if smp.V != "5" {
			t.Fatalf("sample %d: v = %q, want %q", i, smp.V, "5")
		}
	}
	if got, want := s.ChunkCount(), 5; got != want {
		t.Fatalf("chunk count = %d, want %d", got, want)
	}
}

func TestSeriesRetentionDropsWholeChunks(t *testing.T) {
	s := NewSeries("t", 10, 100, nil, nil)
	for i := uint64(0); i < 35; i++ {
		if err := s.append(i, float64(i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	// lastTimestamp=34, retention=100: nothing should have been dropped
	// yet, since 34-100 < 0.
	if got := s.ChunkCount(); got != 4 {
		t.Fatalf("chunk count = %d, want 4", got)
	}
	if err := s.append(150, 1); err != nil {
		t.Fatalf("append: %v", err)
	}
	// cutoff = 150-100=50: chunks whose last ts < 50 get dropped (the
	// first 3, last ts 9/19/29); ts 150 landed in the 4th, non-full chunk,
	// whose last ts is now 150, so it stays.
	for _, c := range s.chunks {
		if int64(c.lastT()) < int64(s.lastTimestamp)-int64(s.RetentionSecs) {
			t.Fatalf("chunk with lastT=%d should have been evicted", c.lastT())
		}
	}
}

func TestSeriesAppendAutoTimestampOverwrite(t *testing.T) {
	s := NewSeries("t", 0, 0, nil, nil)
	if err := s.appendAutoTimestamp(10, 1); err != nil {
		t.Fatal(err)
	}
	if err := s.appendAutoTimestamp(10, 2); err != nil {
		t.Fatal(err)
	}
	got := Range(s, 0, 100)
	if len(got) != 1 || got[0].V != "2" {
		t.Fatalf("got %v, want single sample with value 2", got)
	}
	if err := s.appendAutoTimestamp(5, 3); Cause(err) != ErrBadTimestamp {
		t.Fatalf("expected ErrBadTimestamp for earlier auto timestamp, got %v", err)
	}
}

func TestSeriesIncrByWithReset(t *testing.T) {
	s := NewSeries("tester", 0, 0, nil, nil)
	const now = uint64(1000)
	for i := 0; i < 1000; i++ {
		if _, err := s.incrDecr(1, 1, now, 10); err != nil {
			t.Fatalf("incrBy #%d: %v", i, err)
		}
	}
	got := Range(s, 0, now+10)
	if len(got) != 1 {
		t.Fatalf("got %d samples, want 1", len(got))
	}
	wantBucket := bucketStart(now, 10)
	if got[0].T != wantBucket {
		t.Fatalf("bucket start = %d, want %d", got[0].T, wantBucket)
	}
	if got[0].V != "1000" {
		t.Fatalf("value = %q, want 1000", got[0].V)
	}
}

func TestSeriesIncrByWithoutReset(t *testing.T) {
	s := NewSeries("counter", 0, 0, nil, nil)
	if _, err := s.incrDecr(5, 1, 100, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := s.incrDecr(5, 1, 100, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := s.incrDecr(5, 1, 101, 0); err != nil {
		t.Fatal(err)
	}
	got := Range(s, 0, 1000)
	if len(got) != 2 {
		t.Fatalf("got %d samples, want 2 (one overwritten pair + one new)", len(got))
	}
	if got[0].V != "10" {
		t.Fatalf("first sample = %q, want 10", got[0].V)
	}
	if got[1].V != "15" {
		t.Fatalf("second sample = %q, want 15", got[1].V)
	}
}

func TestSeriesDecrBy(t *testing.T) {
	s := NewSeries("c", 0, 0, nil, nil)
	if _, err := s.incrDecr(10, 1, 1, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := s.incrDecr(3, -1, 1, 0); err != nil {
		t.Fatal(err)
	}
	got := Range(s, 0, 10)
	if len(got) != 1 || got[0].V != "7" {
		t.Fatalf("got %v, want single sample 7", got)
	}
}
