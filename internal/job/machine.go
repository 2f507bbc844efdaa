package job

import (
	"context"
	"crypto/md5"
	"fmt"
	"sync"
	"time"

	"github.com/tundra-build/tundra/internal/abort"
	"github.com/tundra-build/tundra/internal/filereg"
	"github.com/tundra-build/tundra/internal/graph"
	"github.com/tundra-build/tundra/internal/journal"
	"github.com/tundra-build/tundra/internal/osfs"
	"github.com/tundra-build/tundra/internal/relcache"
	"github.com/tundra-build/tundra/internal/signature"
)

// Scanner discovers a node's implicit dependencies (headers pulled in
// by a compile, say) ahead of running its command. Concrete scanners
// live in internal/scanner; this package only needs the contract.
type Scanner interface {
	Scan(ctx context.Context, node *graph.Node, rel *relcache.Cache) ([]*filereg.File, error)
}

// Runner executes a node's command. Concrete runners live in
// internal/runner.
type Runner interface {
	Run(ctx context.Context, node *graph.Node) (exitCode int, signalled bool, err error)
}

// Enqueuer is the single method Machine needs from the ring buffer
// that owns the work queue, injected so this package never imports
// internal/queue.
type Enqueuer interface {
	Enqueue(n *graph.Node)
}

// Job is one node's mutable runtime state. Every field is guarded by
// Machine's lock; nothing here has its own mutex; the queue mutex that
// Machine exposes via Lock/Unlock is the single lock for all
// job-substructure state, matching how the ring buffer in
// internal/queue is built on the very same lock rather than a second
// one.
type Job struct {
	Node *graph.Node

	State State

	BlockCount int
	FailedDeps int
	Queued     bool

	ImplicitDeps   []*filereg.File
	InputSignature signature.Digest
	ScannedPastOK  bool

	Err           error
	RebuildReason RebuildReason

	Started, Ended time.Time
}

// Config carries the handful of per-run choices that change how
// Advance behaves.
type Config struct {
	DryRun           bool
	ContinueOnError  bool
	UseDigestSigning bool
}

// Machine is the shared state every worker goroutine advances nodes
// against: the job table, the dependents index, and the single mutex
// (with its condition variable) that covers all of it.
type Machine struct {
	cond *sync.Cond

	Graph    *graph.Graph
	Registry *filereg.Registry
	Journal  *journal.Journal
	RelCache *relcache.Cache
	FS       osfs.FS
	Abort    *abort.Token
	Config   Config
	Scanner  Scanner
	Runner   Runner

	jobs       map[*graph.Node]*Job
	dependents map[*graph.Node][]*graph.Node
	push       Enqueuer

	runCount      int
	upToDateCount int
	failCount     int
	cancelCount   int
}

// NewMachine builds a Machine over g. Setup must be called before any
// node is advanced.
func NewMachine(g *graph.Graph, reg *filereg.Registry, j *journal.Journal, rc *relcache.Cache, fs osfs.FS, tok *abort.Token, cfg Config, sc Scanner, rn Runner) *Machine {
	return &Machine{
		cond:       sync.NewCond(&sync.Mutex{}),
		Graph:      g,
		Registry:   reg,
		Journal:    j,
		RelCache:   rc,
		FS:         fs,
		Abort:      tok,
		Config:     cfg,
		Scanner:    sc,
		Runner:     rn,
		jobs:       make(map[*graph.Node]*Job),
		dependents: make(map[*graph.Node][]*graph.Node),
	}
}

// SetEnqueuer wires the ring buffer's push callback. internal/queue
// calls this once, after constructing its buffer around m.
func (m *Machine) SetEnqueuer(e Enqueuer) { m.push = e }

// Lock and Unlock expose the single mutex guarding every Job and the
// ring buffer internal/queue builds on top of it.
func (m *Machine) Lock()   { m.cond.L.Lock() }
func (m *Machine) Unlock() { m.cond.L.Unlock() }

// Cond returns the condition variable bound to Lock/Unlock, the
// work-available signal workers wait on when the ring buffer is
// empty.
func (m *Machine) Cond() *sync.Cond { return m.cond }

// Setup walks every node reachable from root, creates its Job, claims
// its ancestor-journal slot, and builds the reverse-dependency index
// Advance uses to unblock dependents. Barrier nodes are included in
// the reachable set (so pass ordering is still enforced) but never
// claim a journal slot, since they have no GUID and no action.
func (m *Machine) Setup(root *graph.Node) error {
	m.Lock()
	defer m.Unlock()

	visited := make(map[*graph.Node]bool)
	var walk func(n *graph.Node) error
	walk = func(n *graph.Node) error {
		if visited[n] {
			return nil
		}
		visited[n] = true

		if !n.IsBarrier {
			if !m.Journal.Claim(n.GUID) {
				return fmt.Errorf("duplicate ancestor claim for node %q", n.Annotation)
			}
		}
		m.jobs[n] = &Job{Node: n, State: StateInitial, BlockCount: len(n.Deps)}
		for _, d := range n.Deps {
			m.dependents[d] = append(m.dependents[d], n)
			if err := walk(d); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(root)
}

// SeedRoot pushes root onto the ring buffer, the starting point for
// every worker's pop-advance-requeue loop.
func (m *Machine) SeedRoot(root *graph.Node) {
	m.Lock()
	defer m.Unlock()
	m.enqueue(root)
}

// Job returns the runtime state for n, or nil if n was not reachable
// from the root Setup was called with.
func (m *Machine) Job(n *graph.Node) *Job { return m.jobs[n] }

// Jobs returns every job created by Setup, in no particular order.
func (m *Machine) Jobs() map[*graph.Node]*Job { return m.jobs }

// enqueue pushes n onto the ring buffer exactly once, guarded by the
// node's Queued flag. Callers must hold the lock.
func (m *Machine) enqueue(n *graph.Node) {
	j := m.jobs[n]
	if j == nil || j.Queued {
		return
	}
	j.Queued = true
	m.push.Enqueue(n)
}

// Advance drives node as far through the state machine as it can go
// without blocking on another node, releasing the lock around
// filesystem and process work and reacquiring it before touching
// shared state again. Callers must NOT hold the lock when calling
// Advance; it manages locking itself.
func (m *Machine) Advance(ctx context.Context, node *graph.Node) {
	m.Lock()
	defer m.Unlock()
	m.advanceLocked(ctx, node)
}

func (m *Machine) advanceLocked(ctx context.Context, node *graph.Node) {
	j := m.jobs[node]
	// Clear the QUEUED flag node was popped under so it can be
	// legitimately re-enqueued once something unblocks it. Every driver
	// of Advance (the ring buffer's worker loop, and tests that call
	// Advance directly) goes through here, so this is the one place
	// that needs to clear it.
	j.Queued = false
	for {
		switch j.State {
		case StateInitial:
			if j.BlockCount > 0 {
				j.State = StateBlocked
				for _, d := range node.Deps {
					m.enqueue(d)
				}
				return
			}
			if node.IsBarrier {
				// Barriers have no action of their own; they exist purely
				// to gate dependents until the prior pass finishes, and
				// only once every dependency they gate has terminated.
				j.State = StateUpToDate
				m.finishTerminal(node, j)
				return
			}
			j.State = StateScanning
			j.Started = time.Now()
			continue

		case StateBlocked:
			if j.BlockCount > 0 {
				return
			}
			if j.FailedDeps > 0 {
				j.State = StateFailed
				j.Err = fmt.Errorf("dependency of %q failed", node.Annotation)
				m.finishTerminal(node, j)
				return
			}
			if node.IsBarrier {
				j.State = StateUpToDate
				m.finishTerminal(node, j)
				return
			}
			j.State = StateScanning
			j.Started = time.Now()
			continue

		case StateScanning:
			if m.Abort.Aborted() {
				j.State = StateCancelled
				m.finishTerminal(node, j)
				return
			}
			m.Unlock()
			deps, err := m.scan(ctx, node)
			m.Lock()
			if err != nil {
				j.State = StateFailed
				j.Err = err
				m.finishTerminal(node, j)
				return
			}
			j.ImplicitDeps = deps
			m.Unlock()
			sig := m.computeInputSignature(node, j)
			m.Lock()
			j.InputSignature = sig
			j.ScannedPastOK = true
			reason := m.rebuildReason(node, j)
			if reason == ReasonNone {
				j.State = StateUpToDate
				m.finishTerminal(node, j)
				return
			}
			j.RebuildReason = reason
			j.State = StateRunning
			continue

		case StateRunning:
			m.Unlock()
			exitCode, signalled, err := m.execute(ctx, node)
			m.Lock()
			j.Ended = time.Now()
			if err == nil && exitCode == 0 {
				j.State = StateCompleted
				m.touchOutputs(node)
				m.runCount++
			} else {
				j.State = StateFailed
				j.Err = err
				m.deleteOutputsUnlessPrecious(node)
				m.touchOutputs(node)
				m.failCount++
				if signalled {
					m.Abort.Set(abort.Signal)
				} else if !m.Config.ContinueOnError {
					m.Abort.Set(abort.FirstError)
				}
			}
			m.finishTerminal(node, j)
			return

		default:
			// Already terminal; nothing left to do.
			return
		}
	}
}

// finishTerminal decrements every dependent's block count, propagates
// failure, and enqueues any dependent that becomes unblocked. Must be
// called with the lock held.
func (m *Machine) finishTerminal(node *graph.Node, j *Job) {
	switch j.State {
	case StateUpToDate:
		m.upToDateCount++
	case StateCancelled:
		m.cancelCount++
	}

	deps := m.dependents[node]
	for _, dep := range deps {
		dj := m.jobs[dep]
		dj.BlockCount--
		if j.State == StateFailed || j.State == StateCancelled {
			dj.FailedDeps++
		}
		if dj.BlockCount == 0 {
			m.enqueue(dep)
		}
	}
	// Always wake idle workers, even when nothing new was unblocked:
	// this may have been the last outstanding job, and a sleeping
	// worker only learns that by re-checking Done after waking.
	m.cond.Broadcast()
}

// Done reports whether every job reachable from the root has reached
// a terminal state. Callers must hold the lock.
func (m *Machine) Done() bool {
	for _, j := range m.jobs {
		if !j.State.Terminal() {
			return false
		}
	}
	return true
}

// scan picks the node's own scanner if nodespec.ScanWith attached one,
// falling back to the machine-wide default every Build invocation is
// given (e.g. the keyword scanner cmd/build.go constructs), so a graph
// file that never names a per-node scanner still gets implicit
// dependency discovery.
func (m *Machine) scan(ctx context.Context, node *graph.Node) ([]*filereg.File, error) {
	sc, _ := node.Scanner.(Scanner)
	if sc == nil {
		sc = m.Scanner
	}
	if sc == nil {
		return nil, nil
	}
	return sc.Scan(ctx, node, m.RelCache)
}

func (m *Machine) execute(ctx context.Context, node *graph.Node) (int, bool, error) {
	if m.Config.DryRun {
		return 0, false, nil
	}
	for _, out := range node.Outputs {
		if err := osfs.EnsureParent(m.FS, out.Path); err != nil {
			return -1, false, err
		}
	}
	// A node not flagged OVERWRITE is assumed to write its outputs from
	// scratch rather than patch them in place, so they're deleted and
	// touched before the command runs: deleting so a command that
	// aborts partway never leaves a stale prior output looking current,
	// touching so a downstream timestamp-signer sees change even when
	// the command goes on to write byte-identical content.
	if !node.Flags.Has(graph.Overwrite) {
		for _, out := range node.Outputs {
			if err := m.FS.Remove(out.Path); err != nil {
				return -1, false, err
			}
			out.Touch()
		}
	}
	return m.Runner.Run(ctx, node)
}

func (m *Machine) touchOutputs(node *graph.Node) {
	for _, out := range node.Outputs {
		out.Touch()
	}
	for _, out := range node.AuxOutputs {
		out.Touch()
	}
}

func (m *Machine) deleteOutputsUnlessPrecious(node *graph.Node) {
	if node.Flags.Has(graph.Precious) {
		return
	}
	for _, out := range node.Outputs {
		m.FS.Remove(out.Path)
	}
}

// computeInputSignature folds every input's and implicit dependency's
// signature into one MD5 digest: the input digests in order, one zero
// byte, then the implicit-dependency digests. Hashing runs with the lock released
// since it may read file contents from disk.
func (m *Machine) computeInputSignature(node *graph.Node, j *Job) signature.Digest {
	h := md5.New()
	for _, in := range node.Inputs {
		d := in.Signature(m.Config.DryRun)
		h.Write(d[:])
	}
	h.Write([]byte{0})
	for _, dep := range j.ImplicitDeps {
		d := dep.Signature(m.Config.DryRun)
		h.Write(d[:])
	}
	var out signature.Digest
	copy(out[:], h.Sum(nil))
	return out
}

// rebuildReason decides whether node is up to date, returning
// ReasonNone when it is. A node is up to date only when every output
// exists, an ancestor record exists, that record's last result was
// not a failure, and its input signature still matches.
func (m *Machine) rebuildReason(node *graph.Node, j *Job) RebuildReason {
	for _, out := range node.Outputs {
		if !out.StatOf(m.Registry.Stat).Exists {
			return ReasonMissingOutput
		}
	}
	rec, ok := m.Journal.Lookup(node.GUID)
	if !ok {
		return ReasonNoAncestor
	}
	if rec.Result == journal.ResultFailed {
		return ReasonFailedLastRun
	}
	if rec.InputSignature != j.InputSignature {
		return ReasonSignatureChanged
	}
	return ReasonNone
}

// AncestorRecords produces the journal.Record set this run should
// persist: one row per non-barrier node that was created by Setup. A
// node that never progressed past SCANNING keeps its previously
// loaded signature instead of a freshly (and possibly incompletely)
// computed one.
func (m *Machine) AncestorRecords() []journal.Record {
	m.Lock()
	defer m.Unlock()

	out := make([]journal.Record, 0, len(m.jobs))
	for n, j := range m.jobs {
		if n.IsBarrier {
			continue
		}
		sig := j.InputSignature
		if !j.ScannedPastOK {
			if rec, ok := m.Journal.Lookup(n.GUID); ok {
				sig = rec.InputSignature
			}
		}
		out = append(out, journal.Record{
			GUID:           n.GUID,
			InputSignature: sig,
			Result:         j.State.journalResult(),
			AccessTime:     time.Now(),
		})
	}
	return out
}

// CancelRemaining marks every job that never reached a terminal state
// as Cancelled, so a build stopped by an abort still satisfies the
// invariant that every reachable node ends in one of the four terminal
// states. Called once after the worker pool has stopped.
func (m *Machine) CancelRemaining() {
	m.Lock()
	defer m.Unlock()
	for _, j := range m.jobs {
		if !j.State.Terminal() {
			j.State = StateCancelled
			m.cancelCount++
		}
	}
}

// Stats is a snapshot of run-wide counters for reporting.
type Stats struct {
	Run, UpToDate, Failed, Cancelled int
}

// Stats returns a snapshot of the run-wide counters accumulated so
// far.
func (m *Machine) Stats() Stats {
	m.Lock()
	defer m.Unlock()
	return Stats{Run: m.runCount, UpToDate: m.upToDateCount, Failed: m.failCount, Cancelled: m.cancelCount}
}
