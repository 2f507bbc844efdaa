// Package nodespec is the authoring surface external callers use to
// build a graph: a plain builder over explicit fields, replacing the
// original's embedded Lua scripting layer (out of scope here) with
// the kind of fluent constructor the teacher repo favors for building
// up request objects field by field.
package nodespec

import (
	"fmt"

	"github.com/tundra-build/tundra/internal/filereg"
	"github.com/tundra-build/tundra/internal/graph"
	"github.com/tundra-build/tundra/internal/signature"
)

// Builder accumulates one node's fields before it is added to a
// Graph.
type Builder struct {
	reg *filereg.Registry

	annotation string
	command    string
	salt       string
	env        []string
	flags      graph.Flags
	inputs     []*filereg.File
	outputs    []*filereg.File
	aux        []*filereg.File
	scanner    any
	signer     *signature.Signer
}

// New starts a Builder backed by reg for path interning.
func New(reg *filereg.Registry) *Builder { return &Builder{reg: reg} }

// Annotation sets the human-readable description shown in logs and
// error messages.
func (b *Builder) Annotation(a string) *Builder { b.annotation = a; return b }

// Command sets the shell command line the runner executes.
func (b *Builder) Command(c string) *Builder { b.command = c; return b }

// Salt adds extra bytes to the node's GUID computation, letting two
// otherwise-identical nodes coexist (e.g. the same compiler invocation
// for two configurations).
func (b *Builder) Salt(s string) *Builder { b.salt = s; return b }

// Env appends "KEY=VALUE" bindings passed to the command verbatim.
func (b *Builder) Env(kv ...string) *Builder { b.env = append(b.env, kv...); return b }

// Precious marks the node's outputs as exempt from deletion on
// failure or non-overwrite preparation.
func (b *Builder) Precious() *Builder { b.flags |= graph.Precious; return b }

// Overwrite declares that the node's command overwrites its outputs
// in place, skipping pre-deletion.
func (b *Builder) Overwrite() *Builder { b.flags |= graph.Overwrite; return b }

// Input registers path as an input, interning it through the
// builder's registry.
func (b *Builder) Input(path string) *Builder {
	b.inputs = append(b.inputs, b.reg.GetFile(path, filereg.CopyString))
	return b
}

// Output registers path as a primary output.
func (b *Builder) Output(path string) *Builder {
	b.outputs = append(b.outputs, b.reg.GetFile(path, filereg.CopyString))
	return b
}

// AuxOutput registers path as a secondary output (e.g. a compiler's
// dependency-listing side file) that is still cleaned and touched but
// does not participate in pass-ordering checks the way Output does.
func (b *Builder) AuxOutput(path string) *Builder {
	b.aux = append(b.aux, b.reg.GetFile(path, filereg.CopyString))
	return b
}

// ScanWith attaches a scanner for implicit-dependency discovery. sc is
// stored as `any`; the job package type-asserts it to job.Scanner.
func (b *Builder) ScanWith(sc any) *Builder { b.scanner = sc; return b }

// SignWith overrides the signer used for every output this node
// produces; Build sets it on each output file.
func (b *Builder) SignWith(s signature.Signer) *Builder { b.signer = &s; return b }

// Build validates the accumulated fields and returns a graph.Node
// ready for Graph.AddNode.
func (b *Builder) Build() (*graph.Node, error) {
	if b.command == "" {
		return nil, fmt.Errorf("node %q: Command is required", b.annotation)
	}
	if len(b.outputs) == 0 {
		return nil, fmt.Errorf("node %q: at least one Output is required", b.annotation)
	}
	if b.signer != nil {
		for _, out := range b.outputs {
			out.SetSigner(*b.signer)
		}
	}
	return &graph.Node{
		Annotation: b.annotation,
		Command:    b.command,
		Salt:       b.salt,
		Env:        b.env,
		Flags:      b.flags,
		Inputs:     b.inputs,
		Outputs:    b.outputs,
		AuxOutputs: b.aux,
		Scanner:    b.scanner,
	}, nil
}
