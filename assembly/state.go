// Package assembly turns the reads of one cluster into a consensus sequence.
//
// Each cluster goes through a small state machine:
//
//	Pending -> Corrected -> DraftSelected -> [PolishedIterative] -> Finalized
//
// with Abandoned as the only terminal failure. Read correction is the only
// stage whose failure abandons the cluster; every later failure degrades to
// the best draft obtained so far. The programs that do the actual work
// (correction, all-vs-all similarity, alignment, polishing) are external
// collaborators behind the interfaces in tools.go.
package assembly

import (
	"fmt"
	"time"
)

// State is a state of the per-cluster state machine.
type State int

const (
	Pending State = iota
	Corrected
	DraftSelected
	PolishedIterative
	Finalized
	Abandoned
)

var stateNames = [...]string{
	Pending:           "PENDING",
	Corrected:         "CORRECTED",
	DraftSelected:     "DRAFT_SELECTED",
	PolishedIterative: "POLISHED_ITERATIVE",
	Finalized:         "FINALIZED",
	Abandoned:         "ABANDONED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool { return s == Finalized || s == Abandoned }

// Reasons recorded for abandoned clusters.
const (
	ReasonEmptyCorrection = "empty correction output"
	ReasonNoReads         = "no reads"
	ReasonTimeout         = "resource or time budget exceeded"
)

// Transition records one step of a cluster through the state machine.
type Transition struct {
	From, To State
	// Round is the iterative polish round of the step, or 0.
	Round int
	// Failed marks a step that kept the previous result. The state does not
	// change: From equals To.
	Failed bool
	// Note describes what happened, including degraded steps ("round 2
	// failed, kept round 1 draft").
	Note    string
	Elapsed time.Duration
}

func (t Transition) String() string {
	step := fmt.Sprintf("%v->%v", t.From, t.To)
	if t.Round > 0 {
		step += fmt.Sprintf(" round %d", t.Round)
	}
	if t.Failed {
		step += " failed"
	}
	return fmt.Sprintf("%s (%s): %s", step, t.Elapsed.Round(time.Millisecond), t.Note)
}

// Outcome is the terminal result of one cluster.
type Outcome struct {
	SampleID string
	GroupID  int
	// Size is the number of reads assigned to the cluster.
	Size  int
	State State
	// Consensus is the consensus sequence. It is empty iff State is Abandoned.
	Consensus string
	// Reason explains why the cluster was abandoned.
	Reason string
	Trace  []Transition
	// Degraded is set when some stage after correction failed and the
	// outcome is the best draft obtained before the failure.
	Degraded bool
}

// OK reports whether the outcome carries a consensus sequence.
func (o Outcome) OK() bool { return o.State == Finalized }

// Job identifies one attempt at one cluster.
type Job struct {
	SampleID string
	GroupID  int
	Attempt  int
	// Dir is a working directory private to this attempt.
	Dir string
}

func (j Job) String() string {
	return fmt.Sprintf("%s/cluster%d#%d", j.SampleID, j.GroupID, j.Attempt)
}
