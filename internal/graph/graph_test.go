package graph

import (
	"testing"

	"github.com/tundra-build/tundra/internal/filereg"
	"github.com/tundra-build/tundra/internal/signature"
)

func newReg() *filereg.Registry {
	return filereg.New(func(p string) (filereg.Stat, error) {
		return filereg.Stat{Exists: true}, nil
	}, signature.Timestamp)
}

func TestGUIDPureFunctionOfThreeStrings(t *testing.T) {
	a := computeGUID("cmd", "ann", "salt")
	b := computeGUID("cmd", "ann", "salt")
	if a != b {
		t.Fatal("GUID must be pure")
	}
	c := computeGUID("cmd2", "ann", "salt")
	if a == c {
		t.Fatal("GUID must depend on command")
	}
}

func TestGUIDUniquenessViolation(t *testing.T) {
	g := New()
	p := g.AddPass("compile", 0)
	n1 := &Node{Command: "same", Annotation: "a"}
	n2 := &Node{Command: "same", Annotation: "a"}
	g.AddNode(n1, p)
	g.AddNode(n2, p)
	err := g.Wire()
	if err == nil {
		t.Fatal("expected GUID collision error")
	}
	if _, ok := err.(*GUIDCollisionError); !ok {
		t.Fatalf("expected *GUIDCollisionError, got %T: %v", err, err)
	}
}

func TestSingleProducerViolation(t *testing.T) {
	reg := newReg()
	g := New()
	p := g.AddPass("p", 0)
	out := reg.GetFile("shared.o", filereg.CopyString)
	n1 := &Node{Command: "a", Outputs: []*filereg.File{out}}
	n2 := &Node{Command: "b", Outputs: []*filereg.File{out}}
	g.AddNode(n1, p)
	g.AddNode(n2, p)
	if err := g.Wire(); err == nil {
		t.Fatal("expected duplicate output error")
	} else if _, ok := err.(*DuplicateOutputError); !ok {
		t.Fatalf("expected *DuplicateOutputError, got %T", err)
	}
}

func TestPassMonotonicityViolation(t *testing.T) {
	reg := newReg()
	g := New()
	early := g.AddPass("early", 0)
	late := g.AddPass("late", 1)

	out := reg.GetFile("a.o", filereg.CopyString)
	producer := &Node{Command: "produce", Outputs: []*filereg.File{out}}
	g.AddNode(producer, late) // producer runs late

	consumer := &Node{Command: "consume", Inputs: []*filereg.File{out}}
	g.AddNode(consumer, early) // but consumer runs early: violation

	if err := g.Wire(); err == nil {
		t.Fatal("expected pass violation")
	} else if _, ok := err.(*PassViolationError); !ok {
		t.Fatalf("expected *PassViolationError, got %T: %v", err, err)
	}
}

func TestCycleDetection(t *testing.T) {
	g := New()
	p := g.AddPass("p", 0)
	a := &Node{Command: "a", Annotation: "a"}
	b := &Node{Command: "b", Annotation: "b"}
	g.AddNode(a, p)
	g.AddNode(b, p)
	a.Deps = append(a.Deps, b)
	b.Deps = append(b.Deps, a)

	err := g.Wire()
	if err == nil {
		t.Fatal("expected a cycle error")
	}
	if _, ok := err.(*CycleError); !ok {
		t.Fatalf("expected *CycleError, got %T: %v", err, err)
	}
}

func TestBarrierMembership(t *testing.T) {
	reg := newReg()
	g := New()
	early := g.AddPass("early", 0)
	late := g.AddPass("late", 1)

	n1 := &Node{Command: "n1"}
	g.AddNode(n1, early)
	n2 := &Node{Command: "n2"}
	g.AddNode(n2, late)
	_ = reg

	if err := g.Wire(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	foundBarrier := false
	for _, d := range n1.Deps {
		if d == early.Barrier {
			foundBarrier = true
		}
	}
	if !foundBarrier {
		t.Fatal("every node must depend on its own pass barrier")
	}

	foundPrevNode := false
	for _, d := range late.Barrier.Deps {
		if d == n1 {
			foundPrevNode = true
		}
	}
	if !foundPrevNode {
		t.Fatal("pass-K barrier must depend on every node in pass K-1")
	}
}

func TestValidGraphWiresCleanly(t *testing.T) {
	reg := newReg()
	g := New()
	p := g.AddPass("p", 0)

	ao := reg.GetFile("a.o", filereg.CopyString)
	a := &Node{Command: "echo > a.o", Outputs: []*filereg.File{ao}}
	g.AddNode(a, p)

	aout := reg.GetFile("a.out", filereg.CopyString)
	b := &Node{Command: "cat a.o > a.out", Inputs: []*filereg.File{ao}, Outputs: []*filereg.File{aout}}
	g.AddNode(b, p)

	if err := g.Wire(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, d := range b.Deps {
		if d == a {
			found = true
		}
	}
	if !found {
		t.Fatal("consumer must depend on its input's producer")
	}
}
