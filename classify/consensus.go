package classify

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// Unclassified is the top taxon of a cluster without evidence.
const Unclassified = "unclassified"

// Level is a confidence level.
type Level string

// Confidence levels, from most to least confident.
const (
	High         Level = "high"
	Medium       Level = "medium"
	Low          Level = "low"
	VeryLowNovel Level = "very_low_novel"
)

// ConfidenceLevel maps a top posterior to a level. A posterior below the
// novelty threshold is always VeryLowNovel, so that the level and the novelty
// flag never disagree.
func ConfidenceLevel(top, novelty float64) Level {
	switch {
	case top < novelty:
		return VeryLowNovel
	case top >= 0.9:
		return High
	case top >= 0.7:
		return Medium
	default:
		return Low
	}
}

// Consensus is the fused call for one cluster.
type Consensus struct {
	GroupID int
	// Candidates and Posterior are index-aligned. Posterior sums to 1
	// unless there are no candidates.
	Candidates []Candidate
	Posterior  []float64
	// Top is the index of the winning candidate, or -1.
	Top        int
	TopTaxon   string
	TopTaxID   string
	Confidence float64
	Level      Level
	IsNovel    bool
	Iterations int
	Converged  bool
}

// Sources returns the sources supporting the top candidate.
func (c Consensus) Sources() string {
	if c.Top < 0 {
		return ""
	}
	return c.Candidates[c.Top].SourceList()
}

// Classified tells whether the cluster has a call.
func (c Consensus) Classified() bool { return c.Top >= 0 }

// Classify fuses the evidence of one cluster. prior maps candidate keys to
// initial weights; nil means uniform. Candidates missing from a non-nil
// prior start at zero. Evidence for another cluster or with a negative or
// non-finite score is an errors.Invalid error. A cluster without usable
// evidence is Unclassified and novel.
func Classify(groupID int, evidence []Evidence, prior map[string]float64, opts EMOpts) (Consensus, error) {
	for _, e := range evidence {
		if e.GroupID != groupID {
			return Consensus{}, errors.E(errors.Invalid,
				fmt.Sprintf("cluster %d: evidence from %s is for cluster %d", groupID, e.Source, e.GroupID))
		}
		if !validScore(e.Score) {
			return Consensus{}, errors.E(errors.Invalid,
				fmt.Sprintf("cluster %d: %s score %v for %s", groupID, e.Source, e.Score, e.Key()))
		}
	}
	c := Consensus{GroupID: groupID, Top: -1, Candidates: Merge(evidence)}
	if len(c.Candidates) == 0 {
		c.TopTaxon = Unclassified
		c.Level = VeryLowNovel
		c.IsNovel = true
		return c, nil
	}
	scores := make([]float64, len(c.Candidates))
	for i, cand := range c.Candidates {
		scores[i] = cand.Score
	}
	var init []float64
	if prior != nil {
		init = make([]float64, len(c.Candidates))
		for i, cand := range c.Candidates {
			init[i] = prior[cand.Key]
		}
		init = normalize(init)
	}
	c.Posterior, c.Iterations, c.Converged = RunEM(scores, init, opts)
	c.Top = 0
	for i, p := range c.Posterior {
		if p > c.Posterior[c.Top] {
			c.Top = i
		}
	}
	top := c.Candidates[c.Top]
	c.TopTaxon = top.Name()
	c.TopTaxID = top.Best.TaxID
	c.Confidence = c.Posterior[c.Top]
	c.Level = ConfidenceLevel(c.Confidence, opts.Novelty)
	c.IsNovel = c.Level == VeryLowNovel
	return c, nil
}

// PosteriorMap returns the posterior keyed by candidate key. It can be fed
// back to Classify as a prior.
func (c Consensus) PosteriorMap() map[string]float64 {
	m := make(map[string]float64, len(c.Candidates))
	for i, cand := range c.Candidates {
		m[cand.Key] = c.Posterior[i]
	}
	return m
}
