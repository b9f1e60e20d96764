// Copyright (c) The Thanos Authors.
// Licensed under the Apache License 2.0.

// Command tsengine is a thin demonstration host around pkg/tsengine: a
// line-oriented command REPL over stdin/stdout, a Prometheus /metrics
// endpoint, and an optional synthetic load generator. The real RESP wire
// codec, command dispatcher and snapshot persistence framework belong to
// the host database and are out of scope here (spec.md §1); this binary
// exists only to exercise the engine end-to-end the way cmd/thanos's
// per-component mains exercise Thanos components.
package main

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/oklog/run"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/improbable-eng/tsengine/pkg/runutil"
	"github.com/improbable-eng/tsengine/pkg/tsengine"
)

func main() {
	app := kingpin.New("tsengine", "Embedded time-series storage engine demo host.")

	metricsAddr := app.Flag("metrics-address", "listen host:port for the Prometheus /metrics endpoint").
		Default("127.0.0.1:19201").String()

	seedLoad := app.Flag("seed-load", "spin up N synthetic series and append to them on a timer, exercising retention and compaction under sustained ingest").
		Default("0").Int()

	seedLoadInterval := app.Flag("seed-load-interval", "interval between synthetic appends").
		Default("1s").Duration()

	sortKeys := app.Flag("sort-keys", "natural-sort multi-key replies instead of returning insertion order").
		Default("false").Bool()

	logLevel := app.Flag("log.level", "log filtering level (debug, info, warn, error)").
		Default("info").Enum("debug", "info", "warn", "error")

	kingpin.MustParse(app.Parse(os.Args[1:]))

	logger := newLogger(*logLevel)
	reg := prometheus.NewRegistry()

	engine := tsengine.NewEngine(tsengine.Options{
		Logger:     logger,
		Registerer: reg,
	})
	engine.SortKeys = *sortKeys

	var g run.Group

	{
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: *metricsAddr, Handler: mux}
		g.Add(func() error {
			level.Info(logger).Log("msg", "starting metrics server", "address", *metricsAddr)
			return srv.ListenAndServe()
		}, func(error) {
			runutil.CloseWithLogOnErr(logger, srv, "closing metrics server")
		})
	}

	if *seedLoad > 0 {
		stop := make(chan struct{})
		g.Add(func() error {
			return runSeedLoad(engine, *seedLoad, *seedLoadInterval, stop)
		}, func(error) {
			close(stop)
		})
	}

	{
		stop := make(chan struct{})
		g.Add(func() error {
			return runREPL(engine, os.Stdin, os.Stdout, stop)
		}, func(error) {
			close(stop)
		})
	}

	if err := g.Run(); err != nil {
		level.Error(logger).Log("msg", "exiting", "err", err)
		os.Exit(1)
	}
}

func newLogger(lvl string) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	var filter level.Option
	switch lvl {
	case "debug":
		filter = level.AllowDebug()
	case "warn":
		filter = level.AllowWarn()
	case "error":
		filter = level.AllowError()
	default:
		filter = level.AllowInfo()
	}
	return level.NewFilter(logger, filter)
}

// runSeedLoad drives n synthetic series with one wall-clock (millisecond)
// timestamped append per series every interval, grounded on the repeated-ingest pattern of
// the original Python traffic simulator: a fixed population of series
// appended to on a steady timer, here reimplemented against the Go
// engine rather than the original network client (out of scope).
func runSeedLoad(e *tsengine.Engine, n int, interval time.Duration, stop <-chan struct{}) error {
	keys := make([]string, n)
	for i := 0; i < n; i++ {
		keys[i] = "seed:" + strconv.Itoa(i)
		if err := e.Create(keys[i], tsengine.CreateOptions{
			Labels: []tsengine.Label{{Name: "generation", Value: "seed"}},
		}); err != nil {
			return errors.Wrapf(err, "create seed series %q", keys[i])
		}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return nil
		case <-ticker.C:
			for i, k := range keys {
				if _, err := e.AddAutoTimestamp(k, float64(i), tsengine.CreateOptions{}); err != nil {
					return errors.Wrapf(err, "seed append to %q", k)
				}
			}
		}
	}
}

// runREPL reads one command per line ("TOKEN arg arg ...") from r and
// writes a plain-text rendering of the reply to w, until stop closes or
// EOF is reached.
func runREPL(e *tsengine.Engine, r *os.File, w *os.File, stop <-chan struct{}) error {
	scanner := bufio.NewScanner(r)
	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	for {
		select {
		case <-stop:
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			toks := strings.Fields(line)
			if len(toks) == 0 {
				continue
			}
			reply := e.Execute(toks[0], toks[1:])
			fmt.Fprintln(w, renderReply(reply))
		}
	}
}

func renderReply(r tsengine.Reply) string {
	switch r.Kind {
	case tsengine.ReplyOK:
		return "OK"
	case tsengine.ReplyInteger:
		return strconv.FormatInt(r.Integer, 10)
	case tsengine.ReplyBulkString:
		return r.Bulk
	case tsengine.ReplyError:
		return "ERR " + r.Err.Error()
	case tsengine.ReplyArray:
		parts := make([]string, 0, len(r.Array))
		for _, e := range r.Array {
			parts = append(parts, renderReply(e))
		}
		return "[" + strings.Join(parts, " ") + "]"
	default:
		return ""
	}
}
