package classify

import "strings"

// Candidate is a taxon supported by one or more evidence items.
type Candidate struct {
	Key string
	// Best is the highest-scoring evidence item for the candidate. Its
	// TaxID, Name, Reference and Rank describe the candidate.
	Best Evidence
	// Sources lists the source of every contributing item, in arrival order.
	Sources []string
	// Score is the mean score of the contributing items.
	Score float64
}

// Name returns a display name: the best item's name, else the key.
func (c Candidate) Name() string {
	if c.Best.Name != "" {
		return c.Best.Name
	}
	return c.Key
}

// SourceList returns the comma-joined sources.
func (c Candidate) SourceList() string { return strings.Join(c.Sources, ",") }

// Merge groups evidence by candidate key. Candidates appear in order of
// first appearance. Items with an empty key are dropped.
func Merge(evidence []Evidence) []Candidate {
	var (
		cands  []Candidate
		index  = map[string]int{}
		totals []float64
	)
	for _, e := range evidence {
		key := e.Key()
		if key == "" {
			continue
		}
		i, ok := index[key]
		if !ok {
			i = len(cands)
			index[key] = i
			cands = append(cands, Candidate{Key: key, Best: e})
			totals = append(totals, 0)
		}
		c := &cands[i]
		c.Sources = append(c.Sources, e.Source)
		totals[i] += e.Score
		if e.Score > c.Best.Score {
			c.Best = e
		}
	}
	for i := range cands {
		cands[i].Score = totals[i] / float64(len(cands[i].Sources))
	}
	return cands
}
