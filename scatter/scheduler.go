// Package scatter runs the clusters of a sample concurrently and gathers
// their outcomes back into group-id order.
//
// Every cluster runs in its own goroutine, gated by an Admission that
// limits the memory and CPU in use. The outcomes are collected in completion
// order; once every dispatched cluster is terminal, one permutation sorting
// the survivors by group id is computed and applied to every per-group list
// of the result, so that index i of each list refers to the same cluster.
package scatter

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/clusterseq/assembly"
	"github.com/grailbio/clusterseq/cluster"
	"github.com/grailbio/clusterseq/internal/tool"
)

// Runner drives one cluster to a terminal outcome. *assembly.Machine
// implements Runner. A non-nil error marks an attempt that ran out of its
// budget; the attempt may be retried.
type Runner interface {
	Run(ctx context.Context, job assembly.Job, unit cluster.Unit) (assembly.Outcome, error)
}

// Opts controls a Scheduler.
type Opts struct {
	// WorkDir is the root of the per-attempt working directories.
	WorkDir string
	// UnitTimeout bounds a single attempt. Zero means no limit.
	UnitTimeout time.Duration
	// MaxAttempts is the number of times a cluster is tried when it runs
	// out of time or resources.
	MaxAttempts int
	// RetryMemoryFactor multiplies the declared memory on every retry.
	RetryMemoryFactor float64
	// Need returns the resources declared by a cluster. DefaultNeed is used
	// if nil.
	Need func(cluster.Unit) Resources
}

// DefaultOpts are the default scheduler options.
var DefaultOpts = Opts{
	UnitTimeout:       2 * time.Hour,
	MaxAttempts:       2,
	RetryMemoryFactor: 2,
}

// DefaultNeed declares one CPU and memory growing with the cluster size.
func DefaultNeed(u cluster.Unit) Resources {
	return Resources{MemoryBytes: 256<<20 + int64(u.Size)<<20, CPUs: 1}
}

// Diagnostic describes a cluster that produced no consensus.
type Diagnostic struct {
	GroupID  int    `json:"group_id"`
	Reason   string `json:"reason"`
	Attempts int    `json:"attempts"`
}

// Gathered is the result of running all clusters of a sample. GroupIDs,
// Consensus, Sizes and Outcomes are index-aligned and sorted by ascending
// group id. Abandoned clusters appear only in Abandoned.
type Gathered struct {
	SampleID  string
	GroupIDs  []int
	Consensus []string
	Sizes     []int
	Outcomes  []assembly.Outcome
	// Abandoned lists the clusters without a consensus, by group id.
	Abandoned []Diagnostic
	// Dispatched is the number of clusters that were run.
	Dispatched int
	Stats      assembly.Stats
}

// Len returns the number of clusters with a consensus.
func (g *Gathered) Len() int { return len(g.GroupIDs) }

// Validate checks that the per-group lists are aligned and strictly
// ascending. A violation is an errors.Integrity error.
func (g *Gathered) Validate() error {
	n := len(g.GroupIDs)
	if len(g.Consensus) != n || len(g.Sizes) != n || len(g.Outcomes) != n {
		return errors.E(errors.Integrity, fmt.Sprintf("%s: per-group lists have lengths %d/%d/%d/%d",
			g.SampleID, n, len(g.Consensus), len(g.Sizes), len(g.Outcomes)))
	}
	for i, id := range g.GroupIDs {
		if g.Outcomes[i].GroupID != id {
			return errors.E(errors.Integrity, fmt.Sprintf("%s: index %d holds group %d and outcome of group %d",
				g.SampleID, i, id, g.Outcomes[i].GroupID))
		}
		if i > 0 && g.GroupIDs[i-1] >= id {
			return errors.E(errors.Integrity, fmt.Sprintf("%s: group ids %d, %d not strictly ascending",
				g.SampleID, g.GroupIDs[i-1], id))
		}
	}
	if n+len(g.Abandoned) != g.Dispatched {
		return errors.E(errors.Integrity, fmt.Sprintf("%s: %d survivors and %d abandoned of %d dispatched",
			g.SampleID, n, len(g.Abandoned), g.Dispatched))
	}
	return nil
}

// Scheduler runs the clusters of samples.
type Scheduler struct {
	runner Runner
	adm    *Admission
	opts   Opts
}

// New creates a scheduler. The admission may be shared with other schedulers.
func New(runner Runner, adm *Admission, opts Opts) *Scheduler {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.RetryMemoryFactor < 1 {
		opts.RetryMemoryFactor = 1
	}
	if opts.Need == nil {
		opts.Need = DefaultNeed
	}
	return &Scheduler{runner: runner, adm: adm, opts: opts}
}

type unitResult struct {
	out      assembly.Outcome
	attempts int
}

// Run runs every unit of a sample and returns once all of them are terminal.
// A unit that fails never affects its siblings. Zero units yield an empty
// Gathered. Duplicate group ids are an errors.Integrity error, returned
// before anything runs.
func (s *Scheduler) Run(ctx context.Context, sampleID string, units []cluster.Unit) (*Gathered, error) {
	seen := map[int]bool{}
	for _, u := range units {
		if seen[u.GroupID] {
			return nil, errors.E(errors.Integrity, fmt.Sprintf("%s: group %d dispatched twice", sampleID, u.GroupID))
		}
		seen[u.GroupID] = true
	}
	log.Printf("%s: dispatching %d clusters", sampleID, len(units))
	var (
		mu       sync.Mutex
		arrivals []unitResult
		wg       sync.WaitGroup
	)
	for _, u := range units {
		wg.Add(1)
		go func(u cluster.Unit) {
			defer wg.Done()
			res := s.runUnit(ctx, sampleID, u)
			mu.Lock()
			arrivals = append(arrivals, res)
			mu.Unlock()
		}(u)
	}
	wg.Wait()
	g, err := gather(sampleID, len(units), arrivals)
	if err != nil {
		return nil, err
	}
	log.Printf("Stats: %s: %d dispatched, %d finalized, %d abandoned: %+v",
		sampleID, g.Dispatched, g.Len(), len(g.Abandoned), g.Stats)
	return g, nil
}

func (s *Scheduler) runUnit(ctx context.Context, sampleID string, u cluster.Unit) unitResult {
	need := s.opts.Need(u)
	var out assembly.Outcome
	for attempt := 1; ; attempt++ {
		var err error
		out, err = s.attempt(ctx, sampleID, u, attempt, need)
		if err == nil {
			return unitResult{out: out, attempts: attempt}
		}
		if attempt >= s.opts.MaxAttempts || ctx.Err() != nil || !retryable(err) {
			log.Error.Printf("%s: cluster %d: giving up after %d attempts: %v", sampleID, u.GroupID, attempt, err)
			return unitResult{out: out, attempts: attempt}
		}
		need = need.ScaleMemory(s.opts.RetryMemoryFactor)
		log.Printf("%s: cluster %d: attempt %d failed (%v), retrying with %v", sampleID, u.GroupID, attempt, err, need)
	}
}

// retryable tells whether an attempt ran out of time or memory. Programs
// killed by a signal, typically by the OOM killer, are reported by
// internal/tool as errors.Unavailable.
func retryable(err error) bool {
	return errors.Is(errors.Timeout, err) || errors.Is(errors.Unavailable, err)
}

// attempt runs one attempt at u in a fresh working directory. The returned
// outcome is terminal even when err is non-nil.
func (s *Scheduler) attempt(ctx context.Context, sampleID string, u cluster.Unit, attempt int, need Resources) (out assembly.Outcome, err error) {
	abandon := func(reason string) assembly.Outcome {
		return assembly.Outcome{
			SampleID: sampleID,
			GroupID:  u.GroupID,
			Size:     u.Size,
			State:    assembly.Abandoned,
			Reason:   reason,
		}
	}
	release, err := s.adm.Acquire(ctx, need)
	if err != nil {
		return abandon(err.Error()), err
	}
	defer release()
	dir, err := tool.MakeUnitDir(s.opts.WorkDir, sampleID, u.GroupID, attempt)
	if err != nil {
		return abandon(err.Error()), err
	}
	job := assembly.Job{SampleID: sampleID, GroupID: u.GroupID, Attempt: attempt, Dir: dir}
	if s.opts.UnitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.UnitTimeout)
		defer cancel()
	}
	defer func() {
		if e := recover(); e != nil {
			log.Error.Printf("%v: panic: %v\n%s", job, e, debug.Stack())
			out = abandon(fmt.Sprintf("internal error: %v", e))
			err = errors.E(errors.Invalid, fmt.Sprint(e))
		}
	}()
	out, err = s.runner.Run(ctx, job, u)
	if err != nil && ctx.Err() == context.DeadlineExceeded && !errors.Is(errors.Timeout, err) {
		err = errors.E(errors.Timeout, fmt.Sprintf("%v: exceeded %v", job, s.opts.UnitTimeout), err)
	}
	if err == nil && !out.State.Terminal() {
		err = errors.E(errors.Invalid, fmt.Sprintf("%v: runner returned non-terminal state %v", job, out.State))
		out = abandon(err.Error())
	}
	return out, err
}

// gather is the step after the barrier. It computes the single ordering of
// the surviving clusters and applies it to every per-group list.
func gather(sampleID string, dispatched int, arrivals []unitResult) (*Gathered, error) {
	g := &Gathered{SampleID: sampleID, Dispatched: dispatched}
	var survivors []assembly.Outcome
	for _, r := range arrivals {
		g.Stats.Add(r.out)
		if !r.out.OK() {
			g.Abandoned = append(g.Abandoned, Diagnostic{GroupID: r.out.GroupID, Reason: r.out.Reason, Attempts: r.attempts})
			continue
		}
		survivors = append(survivors, r.out)
	}
	perm := make([]int, len(survivors))
	for i := range perm {
		perm[i] = i
	}
	sort.Slice(perm, func(i, j int) bool {
		return survivors[perm[i]].GroupID < survivors[perm[j]].GroupID
	})
	n := len(perm)
	g.GroupIDs = make([]int, n)
	g.Consensus = make([]string, n)
	g.Sizes = make([]int, n)
	g.Outcomes = make([]assembly.Outcome, n)
	for i, p := range perm {
		o := survivors[p]
		g.GroupIDs[i] = o.GroupID
		g.Consensus[i] = o.Consensus
		g.Sizes[i] = o.Size
		g.Outcomes[i] = o
	}
	sort.Slice(g.Abandoned, func(i, j int) bool {
		return g.Abandoned[i].GroupID < g.Abandoned[j].GroupID
	})
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}
