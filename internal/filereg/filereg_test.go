package filereg

import (
	"sync"
	"testing"
	"time"

	"github.com/tundra-build/tundra/internal/signature"
)

func TestSanitizeIdempotent(t *testing.T) {
	cases := []string{
		"a/b/../c",
		"./a/./b",
		"../a/b",
		"a/b/c/../../d",
		"/a/../../b",
		"a//b///c",
		"",
		".",
	}
	for _, c := range cases {
		once := Sanitize(c)
		twice := Sanitize(once)
		if once != twice {
			t.Errorf("Sanitize not idempotent for %q: %q vs %q", c, once, twice)
		}
	}
}

func TestSanitizeCollapsesDotDot(t *testing.T) {
	if got := Sanitize("a/b/../c"); got != "a/c" {
		t.Fatalf("got %q", got)
	}
	if got := Sanitize("../a/b"); got != "../a/b" {
		t.Fatalf("got %q", got)
	}
	if got := Sanitize("/a/b"); got != "/a/b" {
		t.Fatalf("got %q", got)
	}
}

func TestSanitizeNeverGrows(t *testing.T) {
	cases := []string{"a/b/../c", "./a/./././b", "a//b///c/././d"}
	for _, c := range cases {
		if len(Sanitize(c)) > len(c) {
			t.Errorf("Sanitize(%q) grew: %q", c, Sanitize(c))
		}
	}
}

func fakeStat(exists bool) StatFunc {
	return func(path string) (Stat, error) {
		return Stat{Exists: exists, Size: 42, ModTime: time.Now()}, nil
	}
}

func TestGetFileInterns(t *testing.T) {
	r := New(fakeStat(true), signature.Timestamp)
	f1 := r.GetFile("a/b/c", CopyString)
	f2 := r.GetFile("a/b/c", CopyString)
	if f1 != f2 {
		t.Fatal("GetFile must return the same File for the same path")
	}
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}
}

func TestParentDir(t *testing.T) {
	r := New(fakeStat(true), signature.Timestamp)
	f := r.GetFile("a/b/c", CopyString)
	parent, ok := r.ParentDir(f)
	if !ok || parent.Path != "a/b" {
		t.Fatalf("ParentDir = %v, %v", parent, ok)
	}
	root := r.GetFile("c", CopyString)
	if _, ok := r.ParentDir(root); ok {
		t.Fatal("root-relative file must have no parent")
	}
}

func TestStatCachingAndTouch(t *testing.T) {
	calls := 0
	statFn := func(path string) (Stat, error) {
		calls++
		return Stat{Exists: true}, nil
	}
	r := New(statFn, signature.Timestamp)
	f := r.GetFile("a", CopyString)

	f.StatOf(r.Stat)
	f.StatOf(r.Stat)
	if calls != 1 {
		t.Fatalf("expected one stat call, got %d", calls)
	}
	f.Touch()
	f.StatOf(r.Stat)
	if calls != 2 {
		t.Fatalf("expected a second stat call after Touch, got %d", calls)
	}
}

func TestSignatureDryRun(t *testing.T) {
	r := New(fakeStat(true), signature.Timestamp)
	f := r.GetFile("a", CopyString)
	if d := f.Signature(true); !d.IsZero() {
		t.Fatal("dry-run signature must be zero")
	}
}

func TestProducerBackReference(t *testing.T) {
	r := New(fakeStat(true), signature.Timestamp)
	f := r.GetFile("out.o", CopyString)
	if f.Producer() != nil {
		t.Fatal("new file must have no producer")
	}
	f.SetProducer("node-A")
	if f.Producer() != "node-A" {
		t.Fatal("producer not recorded")
	}
}

func TestRegistryConcurrentGetFile(t *testing.T) {
	r := New(fakeStat(true), signature.Timestamp)
	var wg sync.WaitGroup
	paths := []string{"a", "b", "c", "d"}
	for i := 0; i < 50; i++ {
		for _, p := range paths {
			wg.Add(1)
			go func(p string) {
				defer wg.Done()
				r.GetFile(p, CopyString)
			}(p)
		}
	}
	wg.Wait()
	if r.Len() != len(paths) {
		t.Fatalf("Len() = %d, want %d", r.Len(), len(paths))
	}
}
