package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/sync/multierror"
	"github.com/grailbio/clusterseq/assembly"
	"github.com/grailbio/clusterseq/classify"
	"github.com/grailbio/clusterseq/cluster"
	"github.com/grailbio/clusterseq/internal/tool"
	"github.com/grailbio/clusterseq/scatter"
	"golang.org/x/sync/errgroup"
)

// SampleResult is everything computed for one sample.
type SampleResult struct {
	SampleID string
	// Reads is the number of reads in the FASTQ file.
	Reads int
	// Rescue is nil when rescue is disabled.
	Rescue   *cluster.RescueStats
	Gathered *scatter.Gathered
	Calls    *classify.Aggregated
	// Abundance weights the calls by cluster size.
	Abundance *classify.Abundance
	// Err is set when the sample failed. Integrity tells whether the
	// failure was a data-integrity violation.
	Err       string
	Integrity bool
}

// Pipeline runs samples. The stage variants (rescue grouper, iterative
// polish, enabled evidence sources) are fixed when it is created.
type Pipeline struct {
	opts       Opts
	runID      string
	sched      *scatter.Scheduler
	collector  *classify.Collector
	newGrouper func(Sample) cluster.Grouper
}

// ExternalTools returns the assembly collaborators backed by external
// programs.
func ExternalTools(opts Opts, runner *tool.Runner) assembly.Tools {
	p := opts.Programs
	tools := assembly.Tools{
		Corrector: assembly.Canu{Runner: runner, Program: p.Canu, GenomeSize: p.GenomeSize, Threads: p.Threads},
		Aligner:   assembly.Minimap2{Runner: runner, Program: p.Minimap2, Threads: p.Threads},
		Polisher:  assembly.Racon{Runner: runner, Program: p.Racon, Threads: p.Threads},
		Finalizer: assembly.Medaka{Runner: runner, Program: p.Medaka, Model: p.MedakaModel, Threads: p.Threads},
	}
	if p.InProcessCompare {
		tools.Comparer = assembly.IdentityComparer{}
	} else {
		tools.Comparer = assembly.FastANI{Runner: runner, Program: p.FastANI, Threads: p.Threads}
	}
	return tools
}

// New creates a pipeline that assembles clusters with tools.
func New(opts Opts, tools assembly.Tools, runner *tool.Runner) (*Pipeline, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	m, err := assembly.NewMachine(tools, opts.Assembly)
	if err != nil {
		return nil, err
	}
	capacity := scatter.DefaultCapacity()
	if opts.CapacityMemory > 0 {
		capacity.MemoryBytes = opts.CapacityMemory
	}
	if opts.CapacityCPUs > 0 {
		capacity.CPUs = opts.CapacityCPUs
	}
	threads := opts.Programs.Threads
	if threads > capacity.CPUs {
		threads = capacity.CPUs
	}
	sched := scatter.New(m, scatter.NewAdmission(capacity), scatter.Opts{
		WorkDir:           opts.WorkDir,
		UnitTimeout:       opts.UnitTimeout,
		MaxAttempts:       opts.MaxAttempts,
		RetryMemoryFactor: opts.RetryMemoryFactor,
		Need: func(u cluster.Unit) scatter.Resources {
			return scatter.Resources{MemoryBytes: opts.UnitMemory + int64(u.Size)*opts.MemoryPerRead, CPUs: threads}
		},
	})
	p := &Pipeline{
		opts:      opts,
		runID:     uuid.New().String(),
		sched:     sched,
		collector: classify.NewCollector(classify.NewInputs(opts.Kraken2, opts.Blast, opts.FastANI, opts.Thresholds)),
	}
	if opts.Rescue {
		switch opts.RescueGrouper {
		case GreedyGrouper:
			p.newGrouper = func(Sample) cluster.Grouper { return cluster.GreedyGrouper{} }
		case VsearchGrouper:
			p.newGrouper = func(s Sample) cluster.Grouper {
				return cluster.VsearchGrouper{
					Runner:  runner,
					Program: opts.Programs.Vsearch,
					Dir:     tool.UnitDir(filepath.Join(opts.WorkDir, "rescue"), s.ID, cluster.Noise, 1),
					Threads: opts.Programs.Threads,
				}
			}
		case MappingGrouper:
			p.newGrouper = func(s Sample) cluster.Grouper {
				return cluster.MappingGrouper{Path: strings.Replace(opts.RescueMapping, "{sample}", s.ID, -1)}
			}
		}
	}
	log.Printf("run %s: stages %v, evidence sources %v, rescue %v, capacity %v",
		p.runID, m.Stages(), p.collector.Sources(), opts.Rescue, capacity)
	return p, nil
}

// RunID returns the identifier stamped on the run's outputs.
func (p *Pipeline) RunID() string { return p.runID }

// RunSample processes one sample and writes its reports. A non-nil error is
// fatal for this sample only.
func (p *Pipeline) RunSample(ctx context.Context, s Sample) (*SampleResult, error) {
	res := &SampleResult{SampleID: s.ID}
	reads, err := ReadFASTQFile(ctx, s.Reads)
	if err != nil {
		return res, errors.E(err, "sample", s.ID)
	}
	res.Reads = len(reads)
	a, err := cluster.ReadAssignmentFile(ctx, s.Assignment)
	if err != nil {
		return res, errors.E(err, "sample", s.ID)
	}
	if p.newGrouper != nil {
		rescued, stats, err := cluster.Rescue(ctx, a, reads, p.newGrouper(s), cluster.RescueOpts{
			Identity: p.opts.RescueIdentity,
			MinSize:  p.opts.RescueMinSize,
		})
		if err != nil {
			return res, errors.E(err, "sample", s.ID, "rescue")
		}
		res.Rescue = &stats
		log.Printf("%s: rescue: %+v", s.ID, stats)
		if rescued != a {
			path := filepath.Join(p.opts.OutDir, s.ID+".assignment.rescued.tsv")
			if err := cluster.WriteAssignmentFile(ctx, path, rescued); err != nil {
				return res, err
			}
		}
		a = rescued
	}
	units := cluster.Split(s.ID, reads, a)
	if res.Gathered, err = p.sched.Run(ctx, s.ID, units); err != nil {
		return res, err
	}
	g := res.Gathered
	evidence, err := p.collector.Collect(ctx, s.ID, g.GroupIDs)
	if err != nil {
		return res, errors.E(err, "sample", s.ID, "collect evidence")
	}
	calls := make([]classify.Consensus, len(g.GroupIDs))
	for i, id := range g.GroupIDs {
		if calls[i], err = classify.Classify(id, evidence[i], nil, p.opts.EM); err != nil {
			return res, errors.E(err, "sample", s.ID)
		}
	}
	if res.Calls, err = classify.Aggregate(s.ID, g.GroupIDs, calls); err != nil {
		return res, err
	}
	if res.Abundance, err = res.Calls.Abundance(g.Sizes); err != nil {
		return res, err
	}
	if err := writeSampleReports(ctx, p.opts.OutDir, res); err != nil {
		return res, err
	}
	log.Printf("%s: %d reads, %d clusters dispatched, %d with consensus, %d abandoned",
		s.ID, res.Reads, g.Dispatched, g.Len(), len(g.Abandoned))
	return res, nil
}

// Run processes samples, Opts.Parallelism at a time, and writes the run
// summary and results.rio. A failed sample does not stop the others; the
// returned error combines the failures of all samples, and the summary lists
// them.
func (p *Pipeline) Run(ctx context.Context, samples []Sample) (*Summary, error) {
	start := time.Now()
	results := make([]*SampleResult, len(samples))
	var (
		errs = multierror.NewMultiError(len(samples) + 1)
		eg   errgroup.Group
	)
	eg.SetLimit(p.opts.Parallelism)
	for i, s := range samples {
		i, s := i, s
		eg.Go(func() error {
			res, err := p.RunSample(ctx, s)
			if err != nil {
				res.Err = err.Error()
				res.Integrity = errors.Is(errors.Integrity, err)
				log.Error.Printf("%s: sample failed (integrity=%v): %v", s.ID, res.Integrity, err)
				errs.Add(err)
			}
			results[i] = res
			return nil
		})
	}
	_ = eg.Wait()
	sum := summarize(p.runID, start, results)
	if err := writeSummary(ctx, filepath.Join(p.opts.OutDir, "summary.json"), sum); err != nil {
		return sum, err
	}
	if err := p.writeResults(ctx, results, sum); err != nil {
		return sum, err
	}
	log.Printf("run %s: %d samples (%d failed), %d clusters dispatched, %d abandoned, %d rescued in %v",
		p.runID, len(samples), sum.FailedSamples, sum.Dispatched, sum.Abandoned, sum.GroupsRescued, time.Since(start))
	return sum, errs.Err()
}

func (p *Pipeline) writeResults(ctx context.Context, results []*SampleResult, sum *Summary) error {
	w, err := NewResultsWriter(ctx, filepath.Join(p.opts.OutDir, "results.rio"), p.runID)
	if err != nil {
		return err
	}
	for _, r := range results {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return w.Close(ctx, sum)
}

// MkdirAll creates the output and work directories of a local run.
// Directories on other file systems are left alone.
func MkdirAll(opts Opts) error {
	for _, dir := range []string{opts.OutDir, opts.WorkDir} {
		if strings.Contains(dir, "://") {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.E(err, fmt.Sprintf("create %s", dir))
		}
	}
	return nil
}
