package graph

import (
	"fmt"
	"sort"

	"github.com/tundra-build/tundra/internal/filereg"
)

// Graph owns every Node and Pass constructed during authoring, and
// performs the one-time wiring and validation a graph requires before
// a build can proceed.
type Graph struct {
	Nodes []*Node
	Pass  map[string]*Pass

	guids map[[16]byte]*Node
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{Pass: make(map[string]*Pass)}
}

// AddPass registers a pass at the given build-order. Passes may be
// added in any order; Wire sorts them by BuildOrder.
func (g *Graph) AddPass(name string, buildOrder int) *Pass {
	if p, ok := g.Pass[name]; ok {
		return p
	}
	p := &Pass{Name: name, BuildOrder: buildOrder, Barrier: &Node{Annotation: "<barrier:" + name + ">", IsBarrier: true}}
	g.Pass[name] = p
	return p
}

// AddNode attaches n to the graph under pass p, deriving n's GUID.
// Dependency edges from n's inputs to their producer nodes are wired
// later, by Wire, once every node's outputs have been registered.
func (g *Graph) AddNode(n *Node, p *Pass) {
	n.Pass = p
	n.GUID = computeGUID(n.Command, n.Annotation, n.Salt)
	n.index = len(g.Nodes)
	g.Nodes = append(g.Nodes, n)
	p.Nodes = append(p.Nodes, n)
}

// CycleError names the repeating node and the path that led back to it
// so no node can depend on itself transitively.
type CycleError struct {
	Path []*Node
}

func (e *CycleError) Error() string {
	msg := "dependency cycle: "
	for i, n := range e.Path {
		if i > 0 {
			msg += " -> "
		}
		msg += n.Annotation
	}
	return msg
}

// GUIDCollisionError names the two nodes that collided ("GUID
// uniqueness").
type GUIDCollisionError struct {
	A, B *Node
}

func (e *GUIDCollisionError) Error() string {
	return fmt.Sprintf("GUID collision between %q and %q", e.A.Annotation, e.B.Annotation)
}

// DuplicateOutputError names the file two distinct nodes both claim to
// produce.
type DuplicateOutputError struct {
	File *filereg.File
	A, B *Node
}

func (e *DuplicateOutputError) Error() string {
	return fmt.Sprintf("file %q produced by both %q and %q", e.File.Path, e.A.Annotation, e.B.Annotation)
}

// PassViolationError reports a consumer whose pass runs strictly
// before its producer's pass.
type PassViolationError struct {
	Producer, Consumer *Node
}

func (e *PassViolationError) Error() string {
	return fmt.Sprintf("node %q (pass %s) consumes output of %q (pass %s), which violates pass ordering",
		e.Consumer.Annotation, e.Consumer.Pass.Name, e.Producer.Annotation, e.Producer.Pass.Name)
}

// Wire finalizes the graph: assigns single-producer back-references,
// wires pass barriers, and validates
// every structural invariant. It must be called exactly once, after
// all nodes and passes have been added and before Setup/Build.
func (g *Graph) Wire() error {
	if err := g.assignProducers(); err != nil {
		return err
	}
	g.wireDependencyEdges()
	g.wireBarriers()
	if err := g.checkGUIDUniqueness(); err != nil {
		return err
	}
	if err := g.checkPassMonotonicity(); err != nil {
		return err
	}
	return g.checkAcyclic()
}

func (g *Graph) assignProducers() error {
	for _, n := range g.Nodes {
		for _, out := range n.Outputs {
			if existing, ok := out.Producer().(*Node); ok && existing != nil && existing != n {
				return &DuplicateOutputError{File: out, A: existing, B: n}
			}
			out.SetProducer(n)
		}
	}
	return nil
}

// wireDependencyEdges derives each node's explicit Deps from its
// inputs' producer back-references. Must run after assignProducers,
// since a node authored before its producer has no resolved Producer()
// to find.
func (g *Graph) wireDependencyEdges() {
	for _, n := range g.Nodes {
		for _, in := range n.Inputs {
			if prod, ok := in.Producer().(*Node); ok && prod != nil {
				n.Deps = append(n.Deps, prod)
			}
		}
	}
}

func (g *Graph) wireBarriers() {
	passes := make([]*Pass, 0, len(g.Pass))
	for _, p := range g.Pass {
		passes = append(passes, p)
	}
	sort.Slice(passes, func(i, j int) bool { return passes[i].BuildOrder < passes[j].BuildOrder })

	for _, n := range g.Nodes {
		if n.Pass != nil {
			n.Deps = append(n.Deps, n.Pass.Barrier)
		}
	}
	for i := 1; i < len(passes); i++ {
		prev, cur := passes[i-1], passes[i]
		cur.Barrier.Deps = append(cur.Barrier.Deps, prev.Nodes...)
		cur.Barrier.Deps = append(cur.Barrier.Deps, prev.Barrier)
	}
}

func (g *Graph) checkGUIDUniqueness() error {
	g.guids = make(map[[16]byte]*Node, len(g.Nodes))
	for _, n := range g.Nodes {
		if existing, ok := g.guids[n.GUID]; ok {
			return &GUIDCollisionError{A: existing, B: n}
		}
		g.guids[n.GUID] = n
	}
	return nil
}

func (g *Graph) checkPassMonotonicity() error {
	for _, n := range g.Nodes {
		for _, in := range n.Inputs {
			prod, ok := in.Producer().(*Node)
			if !ok || prod == nil || prod.Pass == nil || n.Pass == nil {
				continue
			}
			if prod.Pass.BuildOrder > n.Pass.BuildOrder {
				return &PassViolationError{Producer: prod, Consumer: n}
			}
		}
	}
	return nil
}

// checkAcyclic walks the dependency graph with an explicit work stack
// rather than host recursion, to avoid stack exhaustion on very broad
// graphs.
const (
	colorWhite = 0
	colorGray  = 1
	colorBlack = 2
)

type stackFrame struct {
	node    *Node
	depIdx  int
}

func (g *Graph) checkAcyclic() error {
	color := make(map[*Node]uint8, len(g.Nodes)+len(g.Pass))
	for _, n := range g.Nodes {
		if color[n] == colorWhite {
			if err := g.visit(n, color); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *Graph) visit(start *Node, color map[*Node]uint8) error {
	var stack []*stackFrame
	stack = append(stack, &stackFrame{node: start})
	color[start] = colorGray

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.depIdx < len(top.node.Deps) {
			dep := top.node.Deps[top.depIdx]
			top.depIdx++
			switch color[dep] {
			case colorWhite:
				color[dep] = colorGray
				stack = append(stack, &stackFrame{node: dep})
			case colorGray:
				path := make([]*Node, 0, len(stack)+1)
				for _, f := range stack {
					path = append(path, f.node)
				}
				path = append(path, dep)
				return &CycleError{Path: path}
			case colorBlack:
				// already fully explored, safe
			}
			continue
		}
		color[top.node] = colorBlack
		stack = stack[:len(stack)-1]
	}
	return nil
}
