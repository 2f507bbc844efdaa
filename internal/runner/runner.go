// Package runner executes a node's command line and reports its exit
// status, the "exec" half of the engine that src/exec_unix.c and
// src/exec_win32.c implement as a fork/exec plus a non-blocking
// select loop over the child's stdout/stderr pipes.
//
// Go's os/exec already multiplexes a subprocess's output without a
// hand-rolled select loop, so Exec keeps only what doesn't come for
// free: environment-variable overlay, signal-death detection via
// syscall.WaitStatus, and the per-job line-buffered output annotation
// src/tty.c's job console performs (here via LineWriter) so concurrent
// jobs' output is never interleaved mid-line.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/google/uuid"

	"github.com/tundra-build/tundra/internal/graph"
)

// LineWriter buffers writes until a newline, then flushes the
// complete line (prefixed by tag) to Out in one call, so two jobs
// writing concurrently to the same sink never interleave mid-line —
// the Go equivalent of src/tty.c's per-job line buffering.
type LineWriter struct {
	Out io.Writer
	Tag string

	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Incomplete line: put it back for the next Write.
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		fmt.Fprintf(w.Out, "[%s] %s", w.Tag, line)
	}
	return len(p), nil
}

// Flush writes out any partial line left in the buffer, called once
// the subprocess has exited.
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		fmt.Fprintf(w.Out, "[%s] %s\n", w.Tag, w.buf.String())
		w.buf.Reset()
	}
}

// Exec runs a node's command through /bin/sh -c, matching the
// original's fixed shell (src/exec_unix.c: `{"/bin/sh", "-c",
// cmd_line}`).
type Exec struct {
	Stdout io.Writer
	Stderr io.Writer

	// EchoCommand, when true, writes the command line itself before
	// running it, matching the original's echo_cmdline flag.
	EchoCommand bool
}

// Run implements job.Runner.
func (e *Exec) Run(ctx context.Context, node *graph.Node) (exitCode int, signalled bool, err error) {
	jobID := uuid.NewString()[:8]

	stdout := e.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := e.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	outW := &LineWriter{Out: stdout, Tag: jobID}
	errW := &LineWriter{Out: stderr, Tag: jobID}
	defer outW.Flush()
	defer errW.Flush()

	if e.EchoCommand {
		fmt.Fprintf(stdout, "[%s] %s\n", jobID, node.Command)
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", node.Command)
	cmd.Env = append(os.Environ(), node.Env...)
	cmd.Stdout = outW
	cmd.Stderr = errW

	runErr := cmd.Run()
	if runErr == nil {
		return 0, false, nil
	}

	var exitErr *exec.ExitError
	if !asExitError(runErr, &exitErr) {
		return -1, false, fmt.Errorf("run %q: %w", node.Annotation, runErr)
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return exitErr.ExitCode(), true, runErr
	}
	return exitErr.ExitCode(), false, runErr
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}
