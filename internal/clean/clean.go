// Package clean implements the clean path: walk the graph reachable
// from root, delete every non-precious output, then remove whatever
// directories were left empty.
//
// Grounded on src/clean.c in original_source/, which walks the same
// reachable set the build does, skips TD_NODE_PRECIOUS nodes, and
// removes directories in an order that guarantees children are
// removed before their parents.
package clean

import (
	"sort"
	"strings"

	"github.com/tundra-build/tundra/internal/filereg"
	"github.com/tundra-build/tundra/internal/graph"
	"github.com/tundra-build/tundra/internal/osfs"
)

// Result summarizes what Clean did, for reporting.
type Result struct {
	FilesRemoved int
	DirsRemoved  int
}

// Clean removes every output and aux-output reachable from root,
// skipping nodes flagged Precious, then attempts to remove each
// distinct parent directory, deepest first, ignoring failures (almost
// always "directory not empty").
func Clean(fs osfs.FS, reg *filereg.Registry, root *graph.Node) Result {
	visited := make(map[*graph.Node]bool)
	dirs := make(map[string]bool)
	var res Result

	var walk func(n *graph.Node)
	walk = func(n *graph.Node) {
		if visited[n] {
			return
		}
		visited[n] = true

		if !n.IsBarrier && !n.Flags.Has(graph.Precious) {
			for _, out := range append(append([]*filereg.File{}, n.Outputs...), n.AuxOutputs...) {
				if err := fs.Remove(out.Path); err == nil {
					res.FilesRemoved++
				}
				out.Touch()
				if parent, ok := reg.ParentDir(out); ok {
					dirs[parent.Path] = true
				}
			}
		}
		for _, d := range n.Deps {
			walk(d)
		}
	}
	walk(root)

	ordered := make([]string, 0, len(dirs))
	for d := range dirs {
		ordered = append(ordered, d)
	}
	// Deepest directories (most path separators) first, so a child
	// directory is always removed before its parent is attempted.
	sort.Slice(ordered, func(i, j int) bool {
		return strings.Count(ordered[i], "/") > strings.Count(ordered[j], "/")
	})
	for _, d := range ordered {
		if err := fs.Rmdir(d); err == nil {
			res.DirsRemoved++
		}
	}
	return res
}
