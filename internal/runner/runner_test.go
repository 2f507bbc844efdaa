package runner

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/tundra-build/tundra/internal/graph"
)

func TestExecRunSucceeds(t *testing.T) {
	var out bytes.Buffer
	e := &Exec{Stdout: &out, Stderr: &out}
	node := &graph.Node{Annotation: "ok", Command: "echo hello"}

	code, signalled, err := e.Run(context.Background(), node)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != 0 || signalled {
		t.Fatalf("expected exit 0, unsignalled; got code=%d signalled=%v", code, signalled)
	}
	if !strings.Contains(out.String(), "hello") {
		t.Fatalf("expected output to contain command's stdout, got %q", out.String())
	}
}

func TestExecRunReportsNonZeroExit(t *testing.T) {
	e := &Exec{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}
	node := &graph.Node{Annotation: "fails", Command: "exit 7"}

	code, signalled, err := e.Run(context.Background(), node)
	if err == nil {
		t.Fatal("expected an error for a non-zero exit")
	}
	if code != 7 || signalled {
		t.Fatalf("expected exit 7, unsignalled; got code=%d signalled=%v", code, signalled)
	}
}

func TestExecRunEchoesCommandLine(t *testing.T) {
	var out bytes.Buffer
	e := &Exec{Stdout: &out, Stderr: &bytes.Buffer{}, EchoCommand: true}
	node := &graph.Node{Annotation: "echoed", Command: "true"}

	if _, _, err := e.Run(context.Background(), node); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "true") {
		t.Fatalf("expected echoed command line in output, got %q", out.String())
	}
}

func TestLineWriterFlushesCompleteLinesOnly(t *testing.T) {
	var out bytes.Buffer
	w := &LineWriter{Out: &out, Tag: "t1"}

	w.Write([]byte("partial"))
	if out.Len() != 0 {
		t.Fatalf("incomplete line must not be flushed yet, got %q", out.String())
	}
	w.Write([]byte(" line\nsecond\n"))
	if out.String() != "[t1] partial line\n[t1] second\n" {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestLineWriterFlushEmitsTrailingPartialLine(t *testing.T) {
	var out bytes.Buffer
	w := &LineWriter{Out: &out, Tag: "t2"}

	w.Write([]byte("no newline yet"))
	w.Flush()
	if out.String() != "[t2] no newline yet\n" {
		t.Fatalf("unexpected output: %q", out.String())
	}
}
