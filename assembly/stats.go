package assembly

// Stats counts what happened to the clusters processed by a Machine.
type Stats struct {
	// Units is the number of clusters run through the state machine.
	Units int
	// Finalized is the number of clusters that produced a consensus.
	Finalized int
	// Abandoned is the number of clusters without a consensus.
	Abandoned int
	// Degraded counts finalized clusters where some stage failed and an
	// earlier draft was kept.
	Degraded int
	// DraftComparisons is the number of all-pairs comparisons run for draft
	// selection.
	DraftComparisons int
	// PolishRounds is the number of iterative polish rounds attempted;
	// PolishRoundsFailed is the number that fell back to the previous draft.
	PolishRounds       int
	PolishRoundsFailed int
}

// Merge adds the field values of the two Stats objects and creates new Stats.
func (s Stats) Merge(o Stats) Stats {
	s.Units += o.Units
	s.Finalized += o.Finalized
	s.Abandoned += o.Abandoned
	s.Degraded += o.Degraded
	s.DraftComparisons += o.DraftComparisons
	s.PolishRounds += o.PolishRounds
	s.PolishRoundsFailed += o.PolishRoundsFailed
	return s
}

// Add accumulates one outcome.
func (s *Stats) Add(o Outcome) {
	s.Units++
	if o.OK() {
		s.Finalized++
	} else {
		s.Abandoned++
	}
	if o.Degraded {
		s.Degraded++
	}
	for _, t := range o.Trace {
		switch {
		case t.Round > 0:
			s.PolishRounds++
			if t.Failed {
				s.PolishRoundsFailed++
			}
		case t.To == DraftSelected && t.From != DraftSelected:
			if t.Note != noteSingleDraft {
				s.DraftComparisons++
			}
		}
	}
}
