package clean

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tundra-build/tundra/internal/filereg"
	"github.com/tundra-build/tundra/internal/graph"
	"github.com/tundra-build/tundra/internal/osfs"
	"github.com/tundra-build/tundra/internal/signature"
)

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCleanRemovesNonPreciousOutputsAndEmptyDirs(t *testing.T) {
	dir := t.TempDir()
	reg := filereg.New(func(p string) (filereg.Stat, error) { return osfs.OS{}.Stat(p) }, signature.Content)

	out := filepath.Join(dir, "obj", "a.o")
	mustWrite(t, out, "object code")

	a := &graph.Node{
		Annotation: "A",
		Outputs:    []*filereg.File{reg.GetFile(out, filereg.CopyString)},
	}
	root := &graph.Node{Annotation: "<all>", IsBarrier: true, Deps: []*graph.Node{a}}

	res := Clean(osfs.OS{}, reg, root)
	if res.FilesRemoved != 1 {
		t.Fatalf("expected 1 file removed, got %d", res.FilesRemoved)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatal("output file must be gone")
	}
	if _, err := os.Stat(filepath.Join(dir, "obj")); !os.IsNotExist(err) {
		t.Fatal("emptied directory must be removed")
	}
}

func TestCleanSkipsPreciousOutputs(t *testing.T) {
	dir := t.TempDir()
	reg := filereg.New(func(p string) (filereg.Stat, error) { return osfs.OS{}.Stat(p) }, signature.Content)

	out := filepath.Join(dir, "keep.log")
	mustWrite(t, out, "do not delete")

	a := &graph.Node{
		Annotation: "A",
		Flags:      graph.Precious,
		Outputs:    []*filereg.File{reg.GetFile(out, filereg.CopyString)},
	}
	root := &graph.Node{Annotation: "<all>", IsBarrier: true, Deps: []*graph.Node{a}}

	res := Clean(osfs.OS{}, reg, root)
	if res.FilesRemoved != 0 {
		t.Fatalf("expected precious output to survive, removed=%d", res.FilesRemoved)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatal("precious output must still exist")
	}
}

func TestCleanLeavesNonEmptyDirectoriesInPlace(t *testing.T) {
	dir := t.TempDir()
	reg := filereg.New(func(p string) (filereg.Stat, error) { return osfs.OS{}.Stat(p) }, signature.Content)

	out := filepath.Join(dir, "shared", "a.o")
	sibling := filepath.Join(dir, "shared", "keepme")
	mustWrite(t, out, "object code")
	mustWrite(t, sibling, "untracked file left behind")

	a := &graph.Node{
		Annotation: "A",
		Outputs:    []*filereg.File{reg.GetFile(out, filereg.CopyString)},
	}
	root := &graph.Node{Annotation: "<all>", IsBarrier: true, Deps: []*graph.Node{a}}

	Clean(osfs.OS{}, reg, root)
	if _, err := os.Stat(filepath.Join(dir, "shared")); err != nil {
		t.Fatal("directory with a surviving file must not be removed")
	}
}

func TestCleanVisitsEachNodeOnce(t *testing.T) {
	dir := t.TempDir()
	reg := filereg.New(func(p string) (filereg.Stat, error) { return osfs.OS{}.Stat(p) }, signature.Content)

	out := filepath.Join(dir, "a.o")
	mustWrite(t, out, "x")
	a := &graph.Node{Annotation: "A", Outputs: []*filereg.File{reg.GetFile(out, filereg.CopyString)}}
	// Two independent paths to A, as a barrier and a direct dependent both reach it.
	mid := &graph.Node{Annotation: "mid", IsBarrier: true, Deps: []*graph.Node{a}}
	root := &graph.Node{Annotation: "<all>", IsBarrier: true, Deps: []*graph.Node{a, mid}}

	res := Clean(osfs.OS{}, reg, root)
	if res.FilesRemoved != 1 {
		t.Fatalf("shared dependency must only be processed once, got %d removals", res.FilesRemoved)
	}
}
