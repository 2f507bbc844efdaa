// Package queue implements the worker pool: a fixed-size ring buffer
// of runnable nodes, and the goroutines that pop, advance, and requeue
// them until the graph is exhausted or the build is aborted.
//
// Grounded on src/engine.c (BuildQueueInit, BuildQueueRun) in
// original_source/, which sizes a ring to node_count and signals
// work_avail via a pthread condition variable; here that condition
// variable is sync.Cond bound to the same mutex internal/job uses for
// all job-substructure state, so popping a node and decrementing its
// dependents' block counts are never observed out of order.
package queue

import (
	"context"
	"sync"

	"github.com/tundra-build/tundra/internal/graph"
	"github.com/tundra-build/tundra/internal/job"
)

// MaxThreads caps the worker pool regardless of a caller-requested
// thread count, matching the original's hard ceiling.
const MaxThreads = 32

// Queue is the mutex-protected ring buffer of nodes ready to advance.
// It shares its lock with the job.Machine it drives; Queue never locks
// independently.
type Queue struct {
	m *job.Machine

	ring  []*graph.Node
	head  int
	tail  int
	count int
}

// New builds a Queue sized to capacity (the total reachable node
// count) and wires it as m's Enqueuer.
func New(m *job.Machine, capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue{m: m, ring: make([]*graph.Node, capacity)}
	m.SetEnqueuer(q)
	return q
}

// Enqueue pushes n onto the ring. Called by job.Machine with the
// shared lock already held.
func (q *Queue) Enqueue(n *graph.Node) {
	q.ring[q.tail] = n
	q.tail = (q.tail + 1) % len(q.ring)
	q.count++
}

// pop removes and returns the head of the ring. Caller must hold the
// lock.
func (q *Queue) pop() (*graph.Node, bool) {
	if q.count == 0 {
		return nil, false
	}
	n := q.ring[q.head]
	q.ring[q.head] = nil
	q.head = (q.head + 1) % len(q.ring)
	q.count--
	return n, true
}

// Run spawns threads worker goroutines (clamped to [1, MaxThreads])
// that each loop: wait for work or completion, pop a node, advance it,
// and let job.Machine's finishTerminal requeue whatever it unblocks.
// Run blocks until every reachable node has reached a terminal state
// or the build is aborted.
func (q *Queue) Run(ctx context.Context, threads int) {
	if threads < 1 {
		threads = 1
	}
	if threads > MaxThreads {
		threads = MaxThreads
	}

	stop := make(chan struct{})
	go func() {
		select {
		case <-q.m.Abort.Done():
			q.m.Lock()
			q.m.Cond().Broadcast()
			q.m.Unlock()
		case <-stop:
		}
	}()
	defer close(stop)

	var wg sync.WaitGroup
	wg.Add(threads)
	for i := 0; i < threads; i++ {
		go func() {
			defer wg.Done()
			q.worker(ctx)
		}()
	}
	wg.Wait()
}

func (q *Queue) worker(ctx context.Context) {
	for {
		q.m.Lock()
		for q.count == 0 {
			if q.m.Done() || q.m.Abort.Aborted() {
				q.m.Unlock()
				return
			}
			q.m.Cond().Wait()
		}
		n, _ := q.pop()
		q.m.Unlock()

		q.m.Advance(ctx, n)
	}
}
