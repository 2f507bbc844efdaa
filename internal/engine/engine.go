// Package engine wires every other package into the two operations a
// caller actually invokes: Build and Clean. It owns the lifetime of
// the ancestor journal and relation cache, the graph's one-time wiring
// pass, and the worker pool that drives nodes to completion.
//
// Grounded on src/engine.c (TundraMain's setup/build/teardown
// sequence) in original_source/, restructured around the teacher's
// constructor-returns-object-with-Close idiom (cf. fs.NewLinearFS /
// lfs.Close in internal/cmd/mount.go).
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tundra-build/tundra/internal/abort"
	"github.com/tundra-build/tundra/internal/clean"
	"github.com/tundra-build/tundra/internal/config"
	"github.com/tundra-build/tundra/internal/filereg"
	"github.com/tundra-build/tundra/internal/graph"
	"github.com/tundra-build/tundra/internal/job"
	"github.com/tundra-build/tundra/internal/journal"
	"github.com/tundra-build/tundra/internal/osfs"
	"github.com/tundra-build/tundra/internal/queue"
	"github.com/tundra-build/tundra/internal/relcache"
)

// Engine owns every long-lived piece of state a build or clean run
// needs: the file registry, the persisted journal/relation cache, and
// the abort token shared across the whole invocation.
type Engine struct {
	RunID string

	Config   config.Config
	Registry *filereg.Registry
	Graph    *graph.Graph
	FS       osfs.FS

	journal  *journal.Journal
	relcache *relcache.Cache
	abort    *abort.Token
}

// New constructs an Engine around an already-authored, not-yet-wired
// graph. g.Wire() is called once here, so callers must finish adding
// every node and pass before calling New.
func New(cfg config.Config, reg *filereg.Registry, g *graph.Graph, fs osfs.FS) (*Engine, error) {
	if err := g.Wire(); err != nil {
		return nil, fmt.Errorf("wire graph: %w", err)
	}
	return &Engine{
		RunID:    uuid.NewString(),
		Config:   cfg,
		Registry: reg,
		Graph:    g,
		FS:       fs,
		abort:    abort.New(),
	}, nil
}

// Abort returns the engine-wide cancellation token, so a caller (the
// CLI) can wire signal handling to it.
func (e *Engine) Abort() *abort.Token { return e.abort }

// open loads the ancestor journal and relation cache concurrently,
// fanning both operations' errors through one errgroup.Group — two
// independent file opens that don't need to block each other.
func (e *Engine) open(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		j, err := journal.Open(gctx, e.Config.JournalPath)
		if err != nil {
			return fmt.Errorf("open ancestor journal: %w", err)
		}
		e.journal = j
		return nil
	})
	g.Go(func() error {
		rc, err := relcache.Open(gctx, e.Config.RelCachePath)
		if err != nil {
			return fmt.Errorf("open relation cache: %w", err)
		}
		e.relcache = rc
		return nil
	})
	return g.Wait()
}

// Close releases the journal and relation cache handles.
func (e *Engine) Close() error {
	var err error
	if e.journal != nil {
		if cerr := e.journal.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if e.relcache != nil {
		if cerr := e.relcache.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// BuildResult summarizes one Build invocation.
type BuildResult struct {
	Stats   job.Stats
	Elapsed time.Duration
	Jobs    map[*graph.Node]*job.Job
}

// Build drives every node reachable from root to a terminal state:
// open the persisted state, set up the job machine and ring queue,
// seed the queue with root, run the worker pool to completion, then
// save the journal and relation cache before returning.
func (e *Engine) Build(ctx context.Context, root *graph.Node, scanner job.Scanner, runner job.Runner) (*BuildResult, error) {
	start := time.Now()
	if err := e.open(ctx); err != nil {
		return nil, err
	}
	defer e.Close()

	m := job.NewMachine(e.Graph, e.Registry, e.journal, e.relcache, e.FS, e.abort, job.Config{
		DryRun:           e.Config.DryRun,
		ContinueOnError:  e.Config.ContinueOnError,
		UseDigestSigning: e.Config.UseDigestSigning,
	}, scanner, runner)

	if err := m.Setup(root); err != nil {
		return nil, fmt.Errorf("set up job graph: %w", err)
	}

	q := queue.New(m, len(e.Graph.Nodes)+len(e.Graph.Pass)+1)
	m.SeedRoot(root)
	q.Run(ctx, e.Config.ThreadCount)
	m.CancelRemaining()

	if err := e.journal.Save(ctx, m.AncestorRecords()); err != nil {
		return nil, fmt.Errorf("save ancestor journal: %w", err)
	}
	if err := e.relcache.Save(ctx); err != nil {
		return nil, fmt.Errorf("save relation cache: %w", err)
	}

	return &BuildResult{Stats: m.Stats(), Elapsed: time.Since(start), Jobs: m.Jobs()}, nil
}

// Clean removes every non-precious output reachable from root and
// whatever directories that leaves empty. It does not touch the
// ancestor journal or relation cache, matching src/clean.c, which
// never opens either file.
func (e *Engine) Clean(root *graph.Node) clean.Result {
	return clean.Clean(e.FS, e.Registry, root)
}
