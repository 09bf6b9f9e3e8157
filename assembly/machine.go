package assembly

import (
	"context"
	"fmt"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/clusterseq/cluster"
	"github.com/grailbio/clusterseq/encoding/fasta"
	"github.com/grailbio/clusterseq/encoding/fastq"
)

const (
	noteSingleDraft = "single corrected sequence"
	noteRoundOK     = "ok"
)

// Opts controls the state machine.
type Opts struct {
	// SubsampleSize bounds the number of reads handed to the corrector.
	SubsampleSize int `yaml:"subsample_size"`
	// PolishRounds is the number of align+polish rounds.
	PolishRounds int `yaml:"polish_rounds"`
	// SkipIterativePolish removes the iterative polish stage.
	SkipIterativePolish bool `yaml:"skip_iterative_polish"`
	// Seed seeds read subsampling. The group id is mixed in so that
	// clusters are subsampled independently.
	Seed int64 `yaml:"seed"`
}

// DefaultOpts are the default assembly options.
var DefaultOpts = Opts{
	SubsampleSize: 500,
	PolishRounds:  2,
}

// Machine drives clusters through the assembly stages. The stage sequence is
// fixed when the Machine is created. A Machine has no mutable state and may
// be used by many goroutines at once.
type Machine struct {
	tools Tools
	opts  Opts
	plan  []stage
}

type stage struct {
	name string
	// run advances r. It returns done=true once r reached a terminal state.
	run func(m *Machine, ctx context.Context, r *unitRun) (done bool, err error)
}

// unitRun is the mutable state of one cluster attempt.
type unitRun struct {
	job       Job
	reads     []fastq.Read
	out       Outcome
	corrected []fasta.Record
	draft     fasta.Record
	mark      time.Time
}

// NewMachine creates a Machine. Corrector and Finalizer are required;
// Comparer defaults to IdentityComparer. Aligner and Polisher are required
// unless iterative polishing is disabled.
func NewMachine(tools Tools, opts Opts) (*Machine, error) {
	if tools.Corrector == nil || tools.Finalizer == nil {
		return nil, errors.E(errors.Invalid, "assembly: corrector and finalizer are required")
	}
	if opts.SubsampleSize <= 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("assembly: subsample size %d must be positive", opts.SubsampleSize))
	}
	if tools.Comparer == nil {
		tools.Comparer = IdentityComparer{}
	}
	m := &Machine{tools: tools, opts: opts}
	m.plan = append(m.plan, stage{"correct", (*Machine).correct}, stage{"select-draft", (*Machine).selectDraft})
	if !opts.SkipIterativePolish && opts.PolishRounds > 0 {
		if tools.Aligner == nil || tools.Polisher == nil {
			return nil, errors.E(errors.Invalid, "assembly: iterative polish needs an aligner and a polisher")
		}
		m.plan = append(m.plan, stage{"polish", (*Machine).polish})
	}
	m.plan = append(m.plan, stage{"finalize", (*Machine).finalize})
	return m, nil
}

// Stages returns the names of the stages run by m, in order.
func (m *Machine) Stages() []string {
	names := make([]string, len(m.plan))
	for i, s := range m.plan {
		names[i] = s.name
	}
	return names
}

// Run drives one cluster to a terminal state. The returned Outcome is always
// terminal. A non-nil error is returned only when the attempt ran out of its
// time or resource budget (or ctx was canceled); the Outcome is then
// Abandoned and the caller may retry with a larger budget.
func (m *Machine) Run(ctx context.Context, job Job, unit cluster.Unit) (Outcome, error) {
	r := &unitRun{
		job:   job,
		reads: unit.Reads,
		out: Outcome{
			SampleID: unit.SampleID,
			GroupID:  unit.GroupID,
			Size:     unit.Size,
			State:    Pending,
		},
		mark: time.Now(),
	}
	for _, s := range m.plan {
		done, err := s.run(m, ctx, r)
		if err != nil {
			r.abandon(ReasonTimeout, fmt.Sprintf("%s: %v", s.name, err))
			return r.out, err
		}
		if done {
			break
		}
	}
	if !r.out.State.Terminal() {
		panic(fmt.Sprintf("%v: stage plan ended in state %v", job, r.out.State))
	}
	if r.out.State == Abandoned {
		log.Error.Printf("%v: abandoned: %s", job, r.out.Reason)
	} else {
		log.Debug.Printf("%v: finalized, %d bp, degraded=%v", job, len(r.out.Consensus), r.out.Degraded)
	}
	return r.out, nil
}

func (r *unitRun) advance(to State, note string) {
	r.record(Transition{To: to, Note: note})
}

// record appends t to the trace, starting from the current state.
func (r *unitRun) record(t Transition) {
	now := time.Now()
	t.From, t.Elapsed = r.out.State, now.Sub(r.mark)
	r.out.Trace = append(r.out.Trace, t)
	r.out.State = t.To
	r.mark = now
}

func (r *unitRun) abandon(reason, note string) {
	r.advance(Abandoned, note)
	r.out.Reason = reason
	r.out.Consensus = ""
}

func (r *unitRun) degrade(format string, args ...interface{}) string {
	r.out.Degraded = true
	msg := fmt.Sprintf(format, args...)
	log.Error.Printf("%v: %s", r.job, msg)
	return msg
}

// overBudget tells whether err means the attempt ran out of time or
// resources rather than a tool failing on its input.
func overBudget(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(errors.Timeout, err) ||
		errors.Is(errors.Unavailable, err) ||
		errors.Is(errors.Canceled, err)
}

func (m *Machine) correct(ctx context.Context, r *unitRun) (bool, error) {
	if len(r.reads) == 0 {
		r.abandon(ReasonNoReads, "cluster has no reads")
		return true, nil
	}
	reads := r.reads
	if len(reads) > m.opts.SubsampleSize {
		var err error
		reads, err = fastq.Subsample(reads, m.opts.SubsampleSize, m.opts.Seed^int64(r.job.GroupID))
		if err != nil {
			return false, err
		}
	}
	recs, err := m.tools.Corrector.Correct(ctx, r.job, reads)
	if err != nil {
		if overBudget(ctx, err) {
			return false, err
		}
		r.abandon(ReasonEmptyCorrection, fmt.Sprintf("correction failed: %v", err))
		return true, nil
	}
	for _, rec := range recs {
		if rec.Seq != "" {
			r.corrected = append(r.corrected, rec)
		}
	}
	if len(r.corrected) == 0 {
		r.abandon(ReasonEmptyCorrection, fmt.Sprintf("%d reads in, no sequence out", len(reads)))
		return true, nil
	}
	r.advance(Corrected, fmt.Sprintf("%d reads in, %d sequences out", len(reads), len(r.corrected)))
	return false, nil
}

func (m *Machine) selectDraft(ctx context.Context, r *unitRun) (bool, error) {
	if len(r.corrected) == 1 {
		r.draft = r.corrected[0]
		r.advance(DraftSelected, noteSingleDraft)
		return false, nil
	}
	sim, err := m.tools.Comparer.Compare(ctx, r.job, r.corrected)
	if err == nil && len(sim) != len(r.corrected) {
		err = errors.E(errors.Invalid, fmt.Sprintf("similarity matrix has %d rows for %d sequences", len(sim), len(r.corrected)))
	}
	if err != nil {
		if overBudget(ctx, err) {
			return false, err
		}
		r.draft = r.corrected[0]
		r.advance(DraftSelected, r.degrade("comparison failed, using first sequence: %v", err))
		return false, nil
	}
	i := SelectDraft(sim)
	r.draft = r.corrected[i]
	r.advance(DraftSelected, fmt.Sprintf("picked %s (%d of %d)", r.draft.Name, i+1, len(r.corrected)))
	return false, nil
}

func (m *Machine) polish(ctx context.Context, r *unitRun) (bool, error) {
	for round := 1; round <= m.opts.PolishRounds; round++ {
		next, err := m.polishRound(ctx, r, round)
		if err != nil {
			if overBudget(ctx, err) {
				return false, err
			}
			r.record(Transition{
				To:     r.out.State,
				Round:  round,
				Failed: true,
				Note:   r.degrade("polish round %d failed, kept previous draft: %v", round, err),
			})
			continue
		}
		r.draft = next
		r.record(Transition{To: PolishedIterative, Round: round, Note: noteRoundOK})
	}
	return false, nil
}

func (m *Machine) polishRound(ctx context.Context, r *unitRun, round int) (fasta.Record, error) {
	aln, err := m.tools.Aligner.Align(ctx, r.job, round, r.draft, r.corrected)
	if err != nil {
		return fasta.Record{}, err
	}
	if aln.Mapped == 0 {
		return fasta.Record{}, errors.E(errors.Invalid, "no reads mapped to draft")
	}
	next, err := m.tools.Polisher.Polish(ctx, r.job, round, r.draft, r.corrected, aln)
	if err != nil {
		return fasta.Record{}, err
	}
	if next.Seq == "" {
		return fasta.Record{}, errors.E(errors.Invalid, "polisher returned an empty sequence")
	}
	return next, nil
}

func (m *Machine) finalize(ctx context.Context, r *unitRun) (bool, error) {
	final, err := m.tools.Finalizer.Finalize(ctx, r.job, r.draft, r.corrected)
	if err == nil && final.Seq == "" {
		err = errors.E(errors.Invalid, "final polish returned an empty sequence")
	}
	note := noteRoundOK
	if err != nil {
		if overBudget(ctx, err) {
			return false, err
		}
		note = r.degrade("final polish failed, kept draft: %v", err)
		final = r.draft
	}
	r.out.Consensus = final.Seq
	r.advance(Finalized, note)
	return true, nil
}
