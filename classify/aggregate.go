package classify

import (
	"fmt"
	"sort"

	"github.com/grailbio/base/errors"
)

// Aggregated holds the calls of a sample, index-aligned with GroupIDs.
type Aggregated struct {
	SampleID string
	GroupIDs []int
	Calls    []Consensus
}

// Aggregate orders calls by groupIDs, the group order of the gathered
// assembly outcomes. The set of call group ids must equal the set of
// groupIDs; a mismatch or a duplicate is an errors.Integrity error.
func Aggregate(sampleID string, groupIDs []int, calls []Consensus) (*Aggregated, error) {
	byGroup := make(map[int]Consensus, len(calls))
	for _, c := range calls {
		if _, ok := byGroup[c.GroupID]; ok {
			return nil, errors.E(errors.Integrity, fmt.Sprintf("%s: two calls for cluster %d", sampleID, c.GroupID))
		}
		byGroup[c.GroupID] = c
	}
	agg := &Aggregated{SampleID: sampleID, GroupIDs: groupIDs, Calls: make([]Consensus, len(groupIDs))}
	for i, id := range groupIDs {
		c, ok := byGroup[id]
		if !ok {
			return nil, errors.E(errors.Integrity, fmt.Sprintf("%s: no call for cluster %d", sampleID, id))
		}
		agg.Calls[i] = c
		delete(byGroup, id)
	}
	if len(byGroup) > 0 {
		var extra []int
		for id := range byGroup {
			extra = append(extra, id)
		}
		sort.Ints(extra)
		return nil, errors.E(errors.Integrity, fmt.Sprintf("%s: calls for clusters without consensus: %v", sampleID, extra))
	}
	return agg, nil
}

// EMStats summarizes the classifier over a set of calls.
type EMStats struct {
	Groups         int     `json:"groups"`
	Classified     int     `json:"classified"`
	Unclassified   int     `json:"unclassified"`
	Novel          int     `json:"novel"`
	Converged      int     `json:"converged"`
	MeanIterations float64 `json:"mean_iterations"`
	MaxIterations  int     `json:"max_iterations"`
	MeanConfidence float64 `json:"mean_confidence"`
	// Levels counts calls per confidence level.
	Levels map[Level]int `json:"levels"`
}

// Stats summarizes the calls.
func (a *Aggregated) Stats() EMStats {
	s := EMStats{Groups: len(a.Calls), Levels: map[Level]int{}}
	var iters int
	for _, c := range a.Calls {
		if c.Classified() {
			s.Classified++
		} else {
			s.Unclassified++
		}
		if c.IsNovel {
			s.Novel++
		}
		if c.Converged {
			s.Converged++
		}
		iters += c.Iterations
		if c.Iterations > s.MaxIterations {
			s.MaxIterations = c.Iterations
		}
		s.MeanConfidence += c.Confidence
		s.Levels[c.Level]++
	}
	if n := len(a.Calls); n > 0 {
		s.MeanIterations = float64(iters) / float64(n)
		s.MeanConfidence /= float64(n)
	}
	return s
}

// TaxonCount is the number of clusters called as one taxon.
type TaxonCount struct {
	Taxon          string  `json:"taxon"`
	Clusters       int     `json:"clusters"`
	MeanConfidence float64 `json:"mean_confidence"`
}

// Taxa counts clusters per top taxon, most frequent first, ties by name.
func (a *Aggregated) Taxa() []TaxonCount {
	index := map[string]int{}
	var taxa []TaxonCount
	for _, c := range a.Calls {
		i, ok := index[c.TopTaxon]
		if !ok {
			i = len(taxa)
			index[c.TopTaxon] = i
			taxa = append(taxa, TaxonCount{Taxon: c.TopTaxon})
		}
		taxa[i].Clusters++
		taxa[i].MeanConfidence += c.Confidence
	}
	for i := range taxa {
		taxa[i].MeanConfidence /= float64(taxa[i].Clusters)
	}
	sort.Slice(taxa, func(i, j int) bool {
		if taxa[i].Clusters != taxa[j].Clusters {
			return taxa[i].Clusters > taxa[j].Clusters
		}
		return taxa[i].Taxon < taxa[j].Taxon
	})
	return taxa
}
