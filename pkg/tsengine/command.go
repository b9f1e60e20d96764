// Copyright (c) The Thanos Authors.
// Licensed under the Apache License 2.0.

package tsengine

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Reply is the host's standard reply shape (spec §6): exactly one of
// the fields is meaningful, selected by Kind.
type ReplyKind int

const (
	ReplyOK ReplyKind = iota
	ReplyInteger
	ReplyBulkString
	ReplyArray
	ReplyError
)

// Reply is a generic command result the host's RESP codec (out of
// scope here) can render directly into its own wire reply kinds.
type Reply struct {
	Kind    ReplyKind
	Integer int64
	Bulk    string
	Array   []Reply
	Err     error
}

func okReply() Reply             { return Reply{Kind: ReplyOK} }
func intReply(v uint64) Reply    { return Reply{Kind: ReplyInteger, Integer: int64(v)} }
func bulkReply(v string) Reply   { return Reply{Kind: ReplyBulkString, Bulk: v} }
func arrayReply(v []Reply) Reply { return Reply{Kind: ReplyArray, Array: v} }
func errReply(err error) Reply   { return Reply{Kind: ReplyError, Err: err} }

// Execute dispatches one text command (spec §6) against the engine and
// returns its reply. args does not include the command token itself.
func (e *Engine) Execute(cmd string, args []string) Reply {
	switch strings.ToUpper(cmd) {
	case "TS.CREATE":
		return e.execCreate(args)
	case "TS.ADD":
		return e.execAdd(args)
	case "TS.INCRBY":
		return e.execIncrDecr(args, 1)
	case "TS.DECRBY":
		return e.execIncrDecr(args, -1)
	case "TS.CREATERULE":
		return e.execCreateRule(args)
	case "TS.DELETERULE":
		return e.execDeleteRule(args)
	case "TS.RANGE":
		return e.execRange(args)
	case "TS.MRANGE":
		return e.execMRange(args)
	case "TS.QUERYINDEX":
		return e.execQueryIndex(args)
	case "TS.INFO":
		return e.execInfo(args)
	case "TS.DEL":
		return e.execDel(args)
	default:
		return errReply(errors.Errorf("unknown command %q", cmd))
	}
}

// parseCreateOptions scans the trailing option clauses shared by
// TS.CREATE/TS.ADD/TS.INCRBY/TS.DECRBY: RETENTION, CHUNK_SIZE, LABELS.
func parseCreateOptions(args []string) (CreateOptions, error) {
	var opts CreateOptions
	i := 0
	for i < len(args) {
		switch strings.ToUpper(args[i]) {
		case "RETENTION":
			if i+1 >= len(args) {
				return opts, errors.Wrap(ErrBadArgument, "RETENTION needs a value")
			}
			secs, err := strconv.ParseUint(args[i+1], 10, 64)
			if err != nil {
				return opts, errors.Wrap(ErrBadArgument, "bad RETENTION value")
			}
			opts.RetentionSecs = secs
			i += 2
		case "CHUNK_SIZE":
			if i+1 >= len(args) {
				return opts, errors.Wrap(ErrBadArgument, "CHUNK_SIZE needs a value")
			}
			n, err := strconv.Atoi(args[i+1])
			if err != nil || n <= 0 {
				return opts, errors.Wrap(ErrBadArgument, "bad CHUNK_SIZE value")
			}
			opts.MaxSamplesPerChunk = n
			i += 2
		case "LABELS":
			i++
			for i+1 < len(args) {
				if isOptionKeyword(args[i]) {
					break
				}
				opts.Labels = append(opts.Labels, Label{Name: args[i], Value: args[i+1]})
				i += 2
			}
		default:
			return opts, errors.Wrapf(ErrBadArgument, "unexpected token %q", args[i])
		}
	}
	return opts, nil
}

func isOptionKeyword(tok string) bool {
	switch strings.ToUpper(tok) {
	case "RETENTION", "CHUNK_SIZE", "LABELS":
		return true
	default:
		return false
	}
}

func (e *Engine) execCreate(args []string) Reply {
	if len(args) < 1 {
		return errReply(errors.Wrap(ErrBadArgument, "TS.CREATE needs a key"))
	}
	opts, err := parseCreateOptions(args[1:])
	if err != nil {
		return errReply(err)
	}
	if err := e.Create(args[0], opts); err != nil {
		return errReply(err)
	}
	return okReply()
}

func (e *Engine) execAdd(args []string) Reply {
	if len(args) < 3 {
		return errReply(errors.Wrap(ErrBadArgument, "TS.ADD needs key, timestamp, value"))
	}
	key, tsTok, valTok := args[0], args[1], args[2]
	v, err := strconv.ParseFloat(valTok, 64)
	if err != nil {
		return errReply(errors.Wrap(ErrBadArgument, "bad value"))
	}
	opts, err := parseCreateOptions(args[3:])
	if err != nil {
		return errReply(err)
	}
	if tsTok == "*" {
		t, err := e.AddAutoTimestamp(key, v, opts)
		if err != nil {
			return errReply(err)
		}
		return intReply(t)
	}
	t, err := strconv.ParseUint(tsTok, 10, 64)
	if err != nil {
		return errReply(errors.Wrap(ErrBadArgument, "bad timestamp"))
	}
	got, err := e.Add(key, t, v, opts)
	if err != nil {
		return errReply(err)
	}
	return intReply(got)
}

func (e *Engine) execIncrDecr(args []string, sign int) Reply {
	if len(args) < 2 {
		return errReply(errors.Wrap(ErrBadArgument, "needs key, delta"))
	}
	key, deltaTok := args[0], args[1]
	delta, err := strconv.ParseFloat(deltaTok, 64)
	if err != nil {
		return errReply(errors.Wrap(ErrBadArgument, "bad delta"))
	}
	rest := args[2:]
	var resetBucket uint64
	if len(rest) >= 2 && strings.ToUpper(rest[0]) == "RESET" {
		rb, err := strconv.ParseUint(rest[1], 10, 64)
		if err != nil {
			return errReply(errors.Wrap(ErrBadArgument, "bad RESET value"))
		}
		resetBucket = rb
		rest = rest[2:]
	}
	opts, err := parseCreateOptions(rest)
	if err != nil {
		return errReply(err)
	}
	var (
		t   uint64
		err2 error
	)
	if sign > 0 {
		t, err2 = e.IncrBy(key, delta, resetBucket, opts)
	} else {
		t, err2 = e.DecrBy(key, delta, resetBucket, opts)
	}
	if err2 != nil {
		return errReply(err2)
	}
	return intReply(t)
}

func (e *Engine) execCreateRule(args []string) Reply {
	if len(args) < 5 || strings.ToUpper(args[2]) != "AGGREGATION" {
		return errReply(errors.Wrap(ErrBadArgument, "usage: TS.CREATERULE src dst AGGREGATION agg bucket"))
	}
	agg, err := ParseAggregator(args[3])
	if err != nil {
		return errReply(err)
	}
	bucket, err := strconv.ParseUint(args[4], 10, 64)
	if err != nil {
		return errReply(errors.Wrap(ErrBadArgument, "bad bucket size"))
	}
	if err := e.CreateRule(args[0], args[1], agg, bucket); err != nil {
		return errReply(err)
	}
	return okReply()
}

func (e *Engine) execDeleteRule(args []string) Reply {
	if len(args) < 2 {
		return errReply(errors.Wrap(ErrBadArgument, "usage: TS.DELETERULE src dst"))
	}
	if err := e.DeleteRule(args[0], args[1]); err != nil {
		return errReply(err)
	}
	return okReply()
}

func parseAggregationClause(args []string) (AggregationSpec, []string, error) {
	if len(args) >= 3 && strings.ToUpper(args[0]) == "AGGREGATION" {
		agg, err := ParseAggregator(args[1])
		if err != nil {
			return AggregationSpec{}, nil, err
		}
		bucket, err := strconv.ParseUint(args[2], 10, 64)
		if err != nil {
			return AggregationSpec{}, nil, errors.Wrap(ErrBadArgument, "bad bucket size")
		}
		return AggregationSpec{Present: true, Aggregator: agg, BucketSize: bucket}, args[3:], nil
	}
	return AggregationSpec{}, args, nil
}

func (e *Engine) execRange(args []string) Reply {
	if len(args) < 3 {
		return errReply(errors.Wrap(ErrBadArgument, "usage: TS.RANGE key from to [AGGREGATION agg bucket]"))
	}
	key := args[0]
	from, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return errReply(errors.Wrap(ErrBadArgument, "bad from"))
	}
	to, err := strconv.ParseUint(args[2], 10, 64)
	if err != nil {
		return errReply(errors.Wrap(ErrBadArgument, "bad to"))
	}
	agg, _, err := parseAggregationClause(args[3:])
	if err != nil {
		return errReply(err)
	}
	samples, err := e.QueryRange(key, from, to, agg)
	if err != nil {
		return errReply(err)
	}
	return arrayReply(samplesToReply(samples))
}

func samplesToReply(samples []RangeSample) []Reply {
	out := make([]Reply, 0, len(samples))
	for _, s := range samples {
		out = append(out, arrayReply([]Reply{intReply(s.T), bulkReply(s.V)}))
	}
	return out
}

func (e *Engine) execMRange(args []string) Reply {
	if len(args) < 2 {
		return errReply(errors.Wrap(ErrBadArgument, "usage: TS.MRANGE from to [AGGREGATION agg bucket] FILTER sel..."))
	}
	from, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return errReply(errors.Wrap(ErrBadArgument, "bad from"))
	}
	to, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return errReply(errors.Wrap(ErrBadArgument, "bad to"))
	}
	rest := args[2:]
	agg, rest, err := parseAggregationClause(rest)
	if err != nil {
		return errReply(err)
	}
	if len(rest) < 1 || strings.ToUpper(rest[0]) != "FILTER" {
		return errReply(errors.Wrap(ErrBadArgument, "expected FILTER"))
	}
	results, err := e.QueryMultiRange(from, to, agg, rest[1:])
	if err != nil {
		return errReply(err)
	}
	out := make([]Reply, 0, len(results))
	for _, r := range results {
		out = append(out, arrayReply([]Reply{
			bulkReply(r.Key),
			arrayReply(labelsToReply(r.Labels)),
			arrayReply(samplesToReply(r.Samples)),
		}))
	}
	return arrayReply(out)
}

func labelsToReply(labels []Label) []Reply {
	out := make([]Reply, 0, len(labels))
	for _, l := range labels {
		out = append(out, arrayReply([]Reply{bulkReply(l.Name), bulkReply(l.Value)}))
	}
	return out
}

func (e *Engine) execQueryIndex(args []string) Reply {
	keys, err := e.QueryIndex(args)
	if err != nil {
		return errReply(err)
	}
	out := make([]Reply, 0, len(keys))
	for _, k := range keys {
		out = append(out, bulkReply(k))
	}
	return arrayReply(out)
}

func (e *Engine) execInfo(args []string) Reply {
	if len(args) < 1 {
		return errReply(errors.Wrap(ErrBadArgument, "TS.INFO needs a key"))
	}
	info, err := e.Info(args[0])
	if err != nil {
		return errReply(err)
	}
	rules := make([]Reply, 0, len(info.Rules))
	for _, r := range info.Rules {
		rules = append(rules, arrayReply([]Reply{
			bulkReply(r.DestKey),
			intReply(r.BucketSize),
			bulkReply(r.Aggregator),
		}))
	}
	var lastTS int64
	if info.HasData {
		lastTS = int64(info.LastTimestamp)
	} else {
		lastTS = -1
	}
	return arrayReply([]Reply{
		bulkReply("lastTimestamp"), Reply{Kind: ReplyInteger, Integer: lastTS},
		bulkReply("retentionSecs"), intReply(info.RetentionSecs),
		bulkReply("chunkCount"), intReply(uint64(info.ChunkCount)),
		bulkReply("maxSamplesPerChunk"), intReply(uint64(info.MaxSamplesPerChunk)),
		bulkReply("labels"), arrayReply(labelsToReply(info.Labels)),
		bulkReply("rules"), arrayReply(rules),
	})
}

func (e *Engine) execDel(args []string) Reply {
	if len(args) < 1 {
		return errReply(errors.Wrap(ErrBadArgument, "TS.DEL needs a key"))
	}
	if err := e.Delete(args[0]); err != nil {
		return errReply(err)
	}
	return okReply()
}
