// Copyright (c) The Thanos Authors.
// Licensed under the Apache License 2.0.

package tsengine

import "testing"

func TestEncodeDecodeSeriesRoundTrip(t *testing.T) {
	s := NewSeries("k", 4, 30, []Label{{"a", "1"}, {"b", "2"}}, nil)
	for i := uint64(1); i <= 10; i++ {
		if err := s.append(i, float64(i)*1.5); err != nil {
			t.Fatal(err)
		}
	}
	rule := newCompactionRule("dest", AggSum, 3, func(string) *Series { return nil })
	rule.ctx.onSample(AggSum, 3, 1, 1.5)
	rule.ctx.onSample(AggSum, 3, 2, 3.0)
	s.addRule(rule)

	blob, err := EncodeSeries(s)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, rules, err := DecodeSeries("k", blob, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Key != "k" || decoded.RetentionSecs != 30 || decoded.MaxSamplesPerChunk != 4 {
		t.Fatalf("decoded series metadata mismatch: %+v", decoded)
	}
	if len(decoded.Labels) != 2 || decoded.Labels[0] != (Label{"a", "1"}) {
		t.Fatalf("decoded labels mismatch: %+v", decoded.Labels)
	}
	gotSamples := Range(decoded, 0, 100)
	if len(gotSamples) != 10 {
		t.Fatalf("decoded sample count = %d, want 10", len(gotSamples))
	}
	for i, smp := range gotSamples {
		want := formatValue(float64(i+1) * 1.5)
		if smp.V != want {
			t.Fatalf("sample %d = %q, want %q", i, smp.V, want)
		}
	}
	if len(rules) != 1 {
		t.Fatalf("decoded rule count = %d, want 1", len(rules))
	}
	r := rules[0]
	if r.destKey != "dest" || r.aggregator != AggSum || r.bucketSize != 3 {
		t.Fatalf("decoded rule mismatch: %+v", r)
	}
	if !r.ctx.initialized || r.ctx.bucket != 0 || r.ctx.acc.sum != 4.5 {
		t.Fatalf("decoded agg context mismatch: %+v", r.ctx)
	}
}

func TestEngineDumpRestoreDanglingRule(t *testing.T) {
	e := NewEngine(Options{})
	mustCreate(t, e, "src", CreateOptions{})
	mustCreate(t, e, "dst", CreateOptions{})
	if err := e.CreateRule("src", "dst", AggSum, 1); err != nil {
		t.Fatal(err)
	}
	_, blobs, err := e.Dump()
	if err != nil {
		t.Fatal(err)
	}
	delete(blobs, "dst") // simulate a destination that never got restored
	e2 := NewEngine(Options{})
	if err := e2.Restore(blobs); err != nil {
		t.Fatal(err)
	}
	s, err := e2.Get("src")
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Rules()) != 0 {
		t.Fatalf("expected dangling rule to be dropped, got %+v", s.Rules())
	}
}
