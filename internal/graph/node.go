// Package graph implements the node and pass model: content-addressable
// GUIDs, pass ordering barriers, and the acyclicity/monotonicity checks
// that the authoring phase must satisfy before a build can start.
//
// Grounded on src/engine.c (TundraSetupGraph) and src/build_setup.c in
// original_source/. The original builds a pointer-entangled tree from
// an embedded Lua graph-authoring layer; here the
// authoring surface is a plain builder (pkg/nodespec) and Node/Pass
// hold slice-of-pointer dependencies as ordinary Go pointers to
// heap-allocated values rather than raw C pointers, eliminating the
// need for manual lifetime tracking.
package graph

import (
	"crypto/md5"

	"github.com/tundra-build/tundra/internal/filereg"
	"github.com/tundra-build/tundra/internal/signature"
)

// Flags are per-node authoring-time flags.
type Flags uint8

const (
	// Precious prevents a node's outputs from being deleted on failure
	// or non-overwrite preparation.
	Precious Flags = 1 << iota
	// Overwrite declares that the node's action overwrites its outputs
	// in place, so pre-deletion before running is unnecessary.
	Overwrite
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Node is a single build action: the unit the job state machine
// advances through its lifecycle.
type Node struct {
	GUID       signature.Digest
	Annotation string
	Command    string
	Salt       string
	Env        []string // "KEY=VALUE" bindings, passed to the runner verbatim
	Flags      Flags

	Inputs     []*filereg.File
	Outputs    []*filereg.File
	AuxOutputs []*filereg.File

	// Scanner is an optional job.Scanner, held as `any` so this package
	// does not need to import internal/job (which imports graph for
	// *Node). nil means the node has no implicit-dependency scanning.
	Scanner any

	// Deps are explicit dependency nodes. Wire appends the producers of
	// the node's inputs and then the node's pass barrier.
	Deps []*Node

	Pass *Pass

	// IsBarrier marks a pass's synthetic ordering node. Barrier nodes
	// have no GUID, no action, and never enter the ancestor journal or
	// relation cache.
	IsBarrier bool

	// index is this node's position in Graph.Nodes, used for
	// deterministic iteration and cycle-detection bookkeeping.
	index int
}

// Pass is a named ordering layer. Nodes in pass K cannot start running
// until every node in pass K-1 has reached a terminal state; this is
// enforced by each pass's Barrier node depending on all of the prior
// pass's nodes.
type Pass struct {
	Name       string
	BuildOrder int
	Barrier    *Node
	Nodes      []*Node
}

// computeGUID computes a node's content-addressed identity:
//
//	GUID(node) = MD5(command || 0x00 || annotation || 0x00 || salt || 0x00)
//
// Each component contributes its bytes followed by a single NUL
// terminator, so an absent (empty) component still contributes exactly
// one zero byte. This makes the GUID a pure function of those three
// strings, independent of anything else about the node.
func computeGUID(command, annotation, salt string) signature.Digest {
	h := md5.New()
	h.Write([]byte(command))
	h.Write([]byte{0})
	h.Write([]byte(annotation))
	h.Write([]byte{0})
	h.Write([]byte(salt))
	h.Write([]byte{0})
	var d signature.Digest
	copy(d[:], h.Sum(nil))
	return d
}
