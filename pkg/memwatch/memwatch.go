/*
Copyright 2025 The KServe Authors.

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

// Package memwatch observes the memory of a running soak from inside the
// process: Go heap statistics from the runtime, resident set size from
// /proc, and optionally the server's resident set scraped from its
// Prometheus endpoint. The collected series feeds a linear growth estimate
// and can be exported as CSV for offline analysis.
package memwatch

import (
	"context"
	"runtime"
	"time"

	"github.com/prometheus/procfs"
	"go.uber.org/zap"
)

// Sample is one point in the memory series. RSSBytes is zero on platforms
// without /proc; ServerRSSBytes is zero unless a remote sampler is attached.
type Sample struct {
	Iteration      int     `csv:"iteration"`
	ElapsedSeconds float64 `csv:"elapsed_seconds"`
	HeapAllocBytes uint64  `csv:"heap_alloc_bytes"`
	HeapObjects    uint64  `csv:"heap_objects"`
	SysBytes       uint64  `csv:"sys_bytes"`
	NumGC          uint32  `csv:"num_gc"`
	RSSBytes       uint64  `csv:"rss_bytes"`
	ServerRSSBytes uint64  `csv:"server_rss_bytes"`
}

// Options configures a Watcher.
type Options struct {
	// Logger receives degradation warnings. Nil means silent.
	Logger *zap.SugaredLogger
	// GCBeforeSample forces a GC pass before reading heap statistics so
	// samples compare live sets, not allocation noise.
	GCBeforeSample bool
	// Remote, when set, is scraped for the server-side resident set on
	// every sample.
	Remote *RemoteSampler
}

// Watcher collects memory samples over a run. Not safe for concurrent use;
// the soak loop is sequential by contract.
type Watcher struct {
	log     *zap.SugaredLogger
	gcFirst bool
	remote  *RemoteSampler

	proc    procfs.Proc
	hasProc bool

	start   time.Time
	samples []Sample
}

// New builds a Watcher. When /proc is unavailable the watcher degrades to
// runtime statistics only and says so once.
func New(opts Options) *Watcher {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	w := &Watcher{
		log:     log,
		gcFirst: opts.GCBeforeSample,
		remote:  opts.Remote,
		start:   time.Now(),
	}
	proc, err := procfs.Self()
	if err != nil {
		log.Warnw("process RSS unavailable, recording runtime statistics only", "error", err)
	} else {
		w.proc = proc
		w.hasProc = true
	}
	return w
}

// Sample records and returns one measurement attributed to iteration.
func (w *Watcher) Sample(ctx context.Context, iteration int) Sample {
	if w.gcFirst {
		runtime.GC()
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	s := Sample{
		Iteration:      iteration,
		ElapsedSeconds: time.Since(w.start).Seconds(),
		HeapAllocBytes: ms.HeapAlloc,
		HeapObjects:    ms.HeapObjects,
		SysBytes:       ms.Sys,
		NumGC:          ms.NumGC,
	}
	if w.hasProc {
		if stat, err := w.proc.Stat(); err != nil {
			w.log.Debugw("unable to read process stat", "error", err)
		} else {
			s.RSSBytes = uint64(stat.ResidentMemory())
		}
	}
	if w.remote != nil {
		if rss, err := w.remote.ResidentMemory(ctx); err != nil {
			w.log.Debugw("unable to scrape server memory", "error", err)
		} else {
			s.ServerRSSBytes = rss
		}
	}
	w.samples = append(w.samples, s)
	return s
}

// Samples returns the series collected so far.
func (w *Watcher) Samples() []Sample { return w.samples }
