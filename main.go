/*
Copyright 2026 The l7mp/interactive team.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"l7mp.io/interactive-engine/internal/buildinfo"
	"l7mp.io/interactive-engine/pkg/command"
	"l7mp.io/interactive-engine/pkg/engine"
	"l7mp.io/interactive-engine/pkg/manager"
	"l7mp.io/interactive-engine/pkg/value"
)

var (
	version    = "dev"
	commitHash = "n/a"
	buildDate  = "<unknown>"
)

// The daemon speaks newline-delimited JSON on stdin/stdout. Each line is
// either a command envelope or an input update; the concrete datum type of
// this binary is unsigned integers with projection expressions.
type wireMessage struct {
	Command *json.RawMessage `json:"command,omitempty"`
	Update  *wireUpdate      `json:"update,omitempty"`
}

type wireUpdate struct {
	Name  string       `json:"name"`
	Tuple []value.Uint `json:"tuple"`
	// Diff defaults to an insertion.
	Diff value.Diff `json:"diff,omitempty"`
	// Time is milliseconds since daemon start; defaults to now.
	Time int64 `json:"time,omitempty"`
}

type wireResult struct {
	ID           string   `json:"id,omitempty"`
	Inputs       []string `json:"inputs,omitempty"`
	Arrangements []string `json:"arrangements,omitempty"`
	Error        string   `json:"error,omitempty"`
}

func main() {
	var metricsAddr string
	var workers, maxIterations int
	var stepInterval time.Duration
	var debug bool

	flag.StringVar(&metricsAddr, "metrics-bind-address", ":8080", "The address the metric endpoint binds to.")
	flag.IntVar(&workers, "workers", 0, "Worker shards per stateful operator, 0 for the number of CPUs.")
	flag.IntVar(&maxIterations, "max-iterations", 10000, "Fixpoint iteration bound, 0 for unbounded.")
	flag.DurationVar(&stepInterval, "step-interval", 500*time.Millisecond, "Interval between computation steps.")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging.")
	flag.Parse()

	zc := zap.NewProductionConfig()
	if debug {
		zc = zap.NewDevelopmentConfig()
	}
	zlog, err := zc.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot build logger: %v\n", err)
		os.Exit(1)
	}
	logger := zapr.NewLogger(zlog).WithName("interactive")
	setupLog := logger.WithName("setup")

	bi := buildinfo.BuildInfo{Version: version, CommitHash: commitHash, BuildDate: buildDate}
	setupLog.Info(fmt.Sprintf("starting the interactive engine %s", bi.String()))

	mgr := manager.New[value.Uint](logger)
	reg := prometheus.NewRegistry()
	if err := mgr.Register(reg); err != nil {
		setupLog.Error(err, "unable to register metrics")
		os.Exit(1)
	}
	eng := engine.New[value.Uint, value.ColRef[value.Uint]](mgr,
		engine.WithWorkers(workers),
		engine.WithMaxIterations(maxIterations),
		engine.WithLogger(logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ms := &http.Server{
		Addr:    metricsAddr,
		Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := ms.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			setupLog.Error(err, "metrics server failed")
		}
	}()
	defer ms.Close()

	start := time.Now()
	out := json.NewEncoder(os.Stdout)

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			res := handleLine(ctx, mgr, eng, line, time.Since(start))
			if err := out.Encode(res); err != nil {
				logger.Error(err, "cannot write result")
			}
		}
		if err := scanner.Err(); err != nil {
			logger.Error(err, "command stream failed")
		}
		stop()
	}()

	ticker := time.NewTicker(stepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			setupLog.Info("shutting down")
			return
		case <-ticker.C:
			if err := eng.Step(ctx, time.Since(start)); err != nil {
				logger.Error(err, "step failed")
			}
		}
	}
}

// handleLine decodes and applies one protocol line. Malformed payloads are
// reported on the result stream and dropped; engine state is unaffected.
func handleLine(ctx context.Context, mgr *manager.Manager[value.Uint],
	eng *engine.Engine[value.Uint, value.ColRef[value.Uint]],
	line []byte, now time.Duration,
) wireResult {
	var msg wireMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return wireResult{Error: command.NewSerializationError("malformed message", err).Error()}
	}

	switch {
	case msg.Update != nil:
		u := msg.Update
		h, err := mgr.GetOrCreateInput(u.Name, len(u.Tuple))
		if err != nil {
			return wireResult{Error: err.Error()}
		}
		diff := u.Diff
		if diff == 0 {
			diff = 1
		}
		t := now
		if u.Time > 0 {
			t = time.Duration(u.Time) * time.Millisecond
		}
		if err := h.Update(u.Tuple, t, diff); err != nil {
			return wireResult{Error: err.Error()}
		}
		return wireResult{ID: u.Name}

	case msg.Command != nil:
		cmd, err := command.Decode[value.Uint, value.ColRef[value.Uint]](*msg.Command)
		if err != nil {
			return wireResult{Error: err.Error()}
		}
		res, err := eng.Do(ctx, cmd)
		if err != nil {
			return wireResult{Error: err.Error()}
		}
		return wireResult{ID: res.ID, Inputs: res.Inputs, Arrangements: res.Arrangements}
	}

	return wireResult{Error: "message must carry a command or an update"}
}
