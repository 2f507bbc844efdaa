// Package graphfile loads a graph from a declarative yaml description:
// a flat list of already-materialized nodes (annotation, command,
// inputs, outputs, pass), not a scripting language. This is the
// concrete "factory entrypoint" the engine receives fully materialized
// nodes through; the embedded scripting surface the original used to
// build the same data stays out of scope.
package graphfile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tundra-build/tundra/internal/filereg"
	"github.com/tundra-build/tundra/internal/graph"
	"github.com/tundra-build/tundra/pkg/nodespec"
)

// NodeDef is one node's declarative description.
type NodeDef struct {
	Annotation  string   `yaml:"annotation"`
	Command     string   `yaml:"command"`
	Salt        string   `yaml:"salt"`
	Env         []string `yaml:"env"`
	Inputs      []string `yaml:"inputs"`
	Outputs     []string `yaml:"outputs"`
	AuxOutputs  []string `yaml:"aux_outputs"`
	Pass        string   `yaml:"pass"`
	BuildOrder  int      `yaml:"build_order"`
	Precious    bool     `yaml:"precious"`
	Overwrite   bool     `yaml:"overwrite"`
}

// File is the top-level shape of a graph description file.
type File struct {
	Nodes []NodeDef `yaml:"nodes"`
}

// Load parses path and builds a graph.Graph plus a synthetic root node
// depending on every declared node, the conventional "build everything"
// entrypoint a CLI invocation targets.
func Load(path string, reg *filereg.Registry) (*graph.Graph, *graph.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read graph file %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("parse graph file %s: %w", path, err)
	}

	g := graph.New()
	root := &graph.Node{Annotation: "<all>", IsBarrier: true}

	for _, def := range f.Nodes {
		b := nodespec.New(reg).Annotation(def.Annotation).Command(def.Command).Salt(def.Salt)
		if len(def.Env) > 0 {
			b.Env(def.Env...)
		}
		for _, in := range def.Inputs {
			b.Input(in)
		}
		for _, out := range def.Outputs {
			b.Output(out)
		}
		for _, aux := range def.AuxOutputs {
			b.AuxOutput(aux)
		}
		if def.Precious {
			b.Precious()
		}
		if def.Overwrite {
			b.Overwrite()
		}
		n, err := b.Build()
		if err != nil {
			return nil, nil, fmt.Errorf("node %q: %w", def.Annotation, err)
		}

		passName := def.Pass
		if passName == "" {
			passName = "default"
		}
		pass := g.AddPass(passName, def.BuildOrder)
		g.AddNode(n, pass)
		root.Deps = append(root.Deps, n)
	}
	return g, root, nil
}
