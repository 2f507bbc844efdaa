// Package scanner implements implicit-dependency discovery: reading a
// node's primary input and extracting further files it references
// (e.g. #include lines), memoized in the relation cache so an
// unchanged source is never rescanned.
//
// Grounded on src/scanner.c and src/generic-scanner.c in
// original_source/, which drive a keyword-triggered line scanner
// through the same relation cache this package calls into directly
// (internal/relcache), rather than an interface boundary the original
// never had.
package scanner

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tundra-build/tundra/internal/filereg"
	"github.com/tundra-build/tundra/internal/graph"
	"github.com/tundra-build/tundra/internal/relcache"
)

// Keyword is a generic, language-agnostic implicit-dependency scanner:
// it reads node's first input line by line and, whenever a line
// contains one of Triggers, extracts the following whitespace- or
// quote-delimited token as a path relative to Roots.
//
// This mirrors src/generic-scanner.c's configurable keyword scanner
// (the one scanner implementation the original ships outside
// language-specific ones), kept here as the single concrete scanner
// this engine provides; anything more specific is expected to satisfy
// job.Scanner on its own.
type Keyword struct {
	Registry *filereg.Registry
	Triggers []string
	Roots    []string
}

// Scan implements job.Scanner.
func (k *Keyword) Scan(ctx context.Context, node *graph.Node, rel *relcache.Cache) ([]*filereg.File, error) {
	if len(node.Inputs) == 0 {
		return nil, nil
	}
	primary := node.Inputs[0]
	currentSig := primary.Signature(false)

	salt := strings.Join(k.Triggers, ",")
	if cached, ok := rel.Get(primary.Path, salt, currentSig); ok {
		return k.resolve(cached), nil
	}

	related, err := k.extract(primary.Path)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", primary.Path, err)
	}
	rel.Set(primary.Path, salt, related, currentSig)
	return k.resolve(related), nil
}

func (k *Keyword) extract(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var found []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		for _, kw := range k.Triggers {
			idx := strings.Index(line, kw)
			if idx < 0 {
				continue
			}
			rest := strings.TrimSpace(line[idx+len(kw):])
			rest = strings.Trim(rest, `"<>`)
			if fields := strings.Fields(rest); len(fields) > 0 {
				found = append(found, strings.Trim(fields[0], `"<>`))
			}
		}
	}
	return found, sc.Err()
}

func (k *Keyword) resolve(related []string) []*filereg.File {
	out := make([]*filereg.File, 0, len(related))
	for _, r := range related {
		p := r
		if !filepath.IsAbs(p) {
			for _, root := range k.Roots {
				candidate := filepath.Join(root, r)
				if _, err := os.Stat(candidate); err == nil {
					p = candidate
					break
				}
			}
		}
		out = append(out, k.Registry.GetFile(p, filereg.CopyString))
	}
	return out
}
