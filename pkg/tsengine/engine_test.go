// Copyright (c) The Thanos Authors.
// Licensed under the Apache License 2.0.

package tsengine

import "testing"

func mustCreate(t *testing.T, e *Engine, key string, opts CreateOptions) {
	t.Helper()
	if err := e.Create(key, opts); err != nil {
		t.Fatalf("create %q: %v", key, err)
	}
}

func rangeStrings(t *testing.T, e *Engine, key string, from, to uint64) []RangeSample {
	t.Helper()
	got, err := e.QueryRange(key, from, to, AggregationSpec{})
	if err != nil {
		t.Fatalf("range %q: %v", key, err)
	}
	return got
}

func wantSamples(t *testing.T, got []RangeSample, want [][2]string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d samples %v, want %d %v", len(got), got, len(want), want)
	}
	for i, w := range want {
		if formatTS(got[i].T) != w[0] || got[i].V != w[1] {
			t.Fatalf("sample %d = (%s, %s), want (%s, %s)", i, formatTS(got[i].T), got[i].V, w[0], w[1])
		}
	}
}

func formatTS(t uint64) string {
	return formatValue(float64(t))
}

// TestAvgRuleAcrossRestore mirrors spec §8 scenario 2, with the
// intermediate expectation following the ground-truth original's
// visible-open-bucket behavior: the destination's last bucket is upserted
// on every source sample rather than only on rollover, so it already
// shows "6" -> "3" before the still-open bucket gets its final sample.
func TestAvgRuleAcrossRestore(t *testing.T) {
	e := NewEngine(Options{})
	mustCreate(t, e, "t", CreateOptions{})
	mustCreate(t, e, "ta", CreateOptions{})
	if err := e.CreateRule("t", "ta", AggAvg, 3); err != nil {
		t.Fatal(err)
	}

	for _, s := range []Sample{{3, 0}, {4, 1}, {5, 2}, {6, 3}} {
		if _, err := e.Add("t", s.T, s.V, CreateOptions{}); err != nil {
			t.Fatal(err)
		}
	}
	wantSamples(t, rangeStrings(t, e, "ta", 3, 6), [][2]string{{"3", "1"}, {"6", "3"}})

	_, blobs, err := e.Dump()
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	e2 := NewEngine(Options{})
	if err := e2.Restore(blobs); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if _, err := e2.Add("t", 7, 4, CreateOptions{}); err != nil {
		t.Fatal(err)
	}
	wantSamples(t, rangeStrings(t, e2, "ta", 3, 7), [][2]string{{"3", "1"}, {"6", "3.5"}})
}

// TestMinRuleAcrossRestore mirrors spec §8 scenario 3.
func TestMinRuleAcrossRestore(t *testing.T) {
	e := NewEngine(Options{})
	mustCreate(t, e, "t", CreateOptions{})
	mustCreate(t, e, "ta", CreateOptions{})
	if err := e.CreateRule("t", "ta", AggMin, 3); err != nil {
		t.Fatal(err)
	}
	for _, s := range []Sample{{3, 0}, {4, 1}, {5, 2}, {6, 3}} {
		if _, err := e.Add("t", s.T, s.V, CreateOptions{}); err != nil {
			t.Fatal(err)
		}
	}
	_, blobs, err := e.Dump()
	if err != nil {
		t.Fatal(err)
	}
	e2 := NewEngine(Options{})
	if err := e2.Restore(blobs); err != nil {
		t.Fatal(err)
	}
	if _, err := e2.Add("t", 7, 4, CreateOptions{}); err != nil {
		t.Fatal(err)
	}
	wantSamples(t, rangeStrings(t, e2, "ta", 3, 7), [][2]string{{"3", "0"}, {"6", "3"}})
}

// TestCompactionRuleClosedBucketWithoutRollover mirrors the ground-truth
// original's test_agg_min/test_agg_max/test_agg_avg/test_agg_sum/
// test_agg_count (_examples/original_source/src/tests/test_module.py):
// 40 samples at i=10..49, bucket width 10, four buckets each fully
// populated but with no 50th sample ever arriving to trigger a rollover
// of the last one. A finalize-on-rollover-only compaction engine would
// only ever see 3 buckets; the destination must show all 4, since every
// source sample upserts its own bucket's current value.
func TestCompactionRuleClosedBucketWithoutRollover(t *testing.T) {
	values := [10]float64{31, 41, 59, 26, 53, 58, 97, 93, 23, 84}

	run := func(agg Aggregator, want [][2]string) {
		e := NewEngine(Options{})
		mustCreate(t, e, "tester", CreateOptions{})
		mustCreate(t, e, "agg", CreateOptions{})
		if err := e.CreateRule("tester", "agg", agg, 10); err != nil {
			t.Fatal(err)
		}
		for i := uint64(10); i < 50; i++ {
			v := float64(i/10)*100 + values[i%10]
			if _, err := e.Add("tester", i, v, CreateOptions{}); err != nil {
				t.Fatal(err)
			}
		}
		wantSamples(t, rangeStrings(t, e, "agg", 10, 50), want)
	}

	run(AggMin, [][2]string{{"10", "123"}, {"20", "223"}, {"30", "323"}, {"40", "423"}})
	run(AggMax, [][2]string{{"10", "197"}, {"20", "297"}, {"30", "397"}, {"40", "497"}})
	run(AggAvg, [][2]string{{"10", "156.5"}, {"20", "256.5"}, {"30", "356.5"}, {"40", "456.5"}})
	run(AggSum, [][2]string{{"10", "1565"}, {"20", "2565"}, {"30", "3565"}, {"40", "4565"}})
	run(AggCount, [][2]string{{"10", "10"}, {"20", "10"}, {"30", "10"}, {"40", "10"}})
}

// TestAggregatedCount mirrors spec §8 scenario 4.
func TestAggregatedCount(t *testing.T) {
	e := NewEngine(Options{})
	mustCreate(t, e, "t", CreateOptions{})
	const start = uint64(1488823384)
	for i := uint64(0); i < 1500; i++ {
		if _, err := e.Add("t", start+i, 5, CreateOptions{}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := e.QueryRange("t", start, start+1500, AggregationSpec{Present: true, Aggregator: AggCount, BucketSize: 500})
	if err != nil {
		t.Fatal(err)
	}
	wantSamples(t, got, [][2]string{
		{"1488823000", "116"},
		{"1488823500", "500"},
		{"1488824000", "500"},
		{"1488824500", "384"},
	})
}

// TestIncrByWithResetSingleSample mirrors spec §8 scenario 5.
func TestIncrByWithResetSingleSample(t *testing.T) {
	const now = uint64(123456789)
	e := NewEngine(Options{Now: func() uint64 { return now }})
	for i := 0; i < 1000; i++ {
		if _, err := e.IncrBy("tester", 1, 10, CreateOptions{}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := e.QueryRange("tester", 0, now+100, AggregationSpec{})
	if err != nil {
		t.Fatal(err)
	}
	wantSamples(t, got, [][2]string{{formatTS(bucketStart(now, 10)), "1000"}})
}

// TestLabelFilter mirrors spec §8 scenario 6.
func TestLabelFilter(t *testing.T) {
	e := NewEngine(Options{})
	mustCreate(t, e, "s1", CreateOptions{Labels: []Label{{"generation", "x"}, {"name", "a"}, {"class", "low"}}})
	mustCreate(t, e, "s2", CreateOptions{Labels: []Label{{"generation", "x"}, {"name", "b"}, {"class", "middle"}}})
	mustCreate(t, e, "s3", CreateOptions{Labels: []Label{{"generation", "x"}, {"name", "c"}, {"class", "high"}}})

	results, err := e.QueryMultiRange(0, 100, AggregationSpec{}, []string{"generation=x", "class!=middle"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2: %+v", len(results), results)
	}
	if results[0].Key != "s1" || results[1].Key != "s3" {
		t.Fatalf("got keys %q, %q, want s1, s3 in insertion order", results[0].Key, results[1].Key)
	}
}

// TestQueryIndex mirrors spec §8 scenario 7.
func TestQueryIndex(t *testing.T) {
	e := NewEngine(Options{})
	mustCreate(t, e, "s1", CreateOptions{Labels: []Label{{"generation", "x"}, {"class", "low"}}})
	mustCreate(t, e, "s2", CreateOptions{Labels: []Label{{"generation", "x"}, {"class", "middle"}}})
	mustCreate(t, e, "s3", CreateOptions{Labels: []Label{{"generation", "y"}, {"class", "low"}, {"x", "2"}}})
	mustCreate(t, e, "s4", CreateOptions{Labels: []Label{{"generation", "x"}, {"class", "low"}}})

	keys, err := e.QueryIndex([]string{"generation=x", "class!=middle", "x="})
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Fatalf("got %v, want 2 matches", keys)
	}

	if _, err := e.QueryIndex([]string{"z=", "x!=2"}); Cause(err) != ErrInvalidSelector {
		t.Fatalf("expected ErrInvalidSelector, got %v", err)
	}
}

func TestCreateRuleConflicts(t *testing.T) {
	e := NewEngine(Options{})
	mustCreate(t, e, "a", CreateOptions{})
	mustCreate(t, e, "b", CreateOptions{})
	mustCreate(t, e, "c", CreateOptions{})

	if err := e.CreateRule("missing", "b", AggSum, 1); Cause(err) != ErrNoSuchSeries {
		t.Fatalf("expected ErrNoSuchSeries, got %v", err)
	}
	if err := e.CreateRule("a", "b", AggSum, 1); err != nil {
		t.Fatalf("first CreateRule: %v", err)
	}
	if err := e.CreateRule("a", "b", AggSum, 1); Cause(err) != ErrRuleExists {
		t.Fatalf("expected ErrRuleExists, got %v", err)
	}
	if err := e.CreateRule("c", "b", AggSum, 1); Cause(err) != ErrDstAlreadyDerived {
		t.Fatalf("expected ErrDstAlreadyDerived, got %v", err)
	}
	if err := e.CreateRule("b", "c", AggSum, 1); Cause(err) != ErrCyclicRule {
		t.Fatalf("expected ErrCyclicRule, got %v", err)
	}
	if err := e.DeleteRule("a", "b"); err != nil {
		t.Fatal(err)
	}
	if err := e.DeleteRule("a", "b"); Cause(err) != ErrNoSuchRule {
		t.Fatalf("expected ErrNoSuchRule, got %v", err)
	}
}

func TestDeleteCascadesIndexAndRules(t *testing.T) {
	e := NewEngine(Options{})
	mustCreate(t, e, "a", CreateOptions{Labels: []Label{{"k", "v"}}})
	mustCreate(t, e, "b", CreateOptions{})
	if err := e.CreateRule("a", "b", AggSum, 1); err != nil {
		t.Fatal(err)
	}
	if err := e.Delete("a"); err != nil {
		t.Fatal(err)
	}
	keys, err := e.QueryIndex([]string{"k=v"})
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Fatalf("expected no matches after delete, got %v", keys)
	}
	info, err := e.Info("b")
	if err != nil {
		t.Fatal(err)
	}
	if info.LastTimestamp != 0 || info.HasData {
		t.Fatalf("expected b untouched and empty, got %+v", info)
	}
	// b should no longer be marked derived.
	s, err := e.Get("b")
	if err != nil {
		t.Fatal(err)
	}
	if s.IsDerived() {
		t.Fatalf("expected b to no longer be derived after source deletion")
	}
}

func TestExecuteCommandLayer(t *testing.T) {
	e := NewEngine(Options{})
	if r := e.Execute("TS.CREATE", []string{"k", "LABELS", "a", "1"}); r.Kind != ReplyOK {
		t.Fatalf("TS.CREATE: %+v", r)
	}
	if r := e.Execute("TS.ADD", []string{"k", "1", "5"}); r.Kind != ReplyInteger || r.Integer != 1 {
		t.Fatalf("TS.ADD: %+v", r)
	}
	if r := e.Execute("TS.RANGE", []string{"k", "0", "10"}); r.Kind != ReplyArray || len(r.Array) != 1 {
		t.Fatalf("TS.RANGE: %+v", r)
	}
	if r := e.Execute("TS.INFO", []string{"k"}); r.Kind != ReplyArray {
		t.Fatalf("TS.INFO: %+v", r)
	}
	if r := e.Execute("TS.ADD", []string{"k", "0", "1"}); r.Kind != ReplyError {
		t.Fatalf("expected error on non-monotonic add, got %+v", r)
	}
}
