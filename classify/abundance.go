package classify

import (
	"fmt"
	"math"
	"sort"

	"github.com/grailbio/base/errors"
)

// ClusterAbundance is the read-weighted share of one cluster in its sample.
type ClusterAbundance struct {
	GroupID int `json:"cluster_id"`
	Reads   int `json:"reads"`
	// Relative is Reads over the reads of all clusters with a consensus.
	Relative   float64 `json:"relative_abundance"`
	Taxon      string  `json:"taxon"`
	Confidence float64 `json:"confidence"`
}

// TaxonAbundance is the read-weighted share of one called taxon.
// Unclassified clusters are pooled under Unclassified.
type TaxonAbundance struct {
	Taxon    string  `json:"taxon"`
	Clusters int     `json:"clusters"`
	Reads    int     `json:"reads"`
	Relative float64 `json:"relative_abundance"`
}

// Diversity holds alpha diversity indices over the cluster abundances.
type Diversity struct {
	Clusters int `json:"clusters"`
	Reads    int `json:"reads"`
	Taxa     int `json:"taxa"`
	// Shannon is H = -sum p ln p.
	Shannon float64 `json:"shannon"`
	// Simpson is 1 - D with D = sum p^2.
	Simpson float64 `json:"simpson"`
	// EffectiveShannon is exp(H); EffectiveSimpson is 1/D. Both are 0 for an
	// empty sample.
	EffectiveShannon float64 `json:"effective_species_shannon"`
	EffectiveSimpson float64 `json:"effective_species_simpson"`
}

// Abundance is the composition of one sample.
type Abundance struct {
	Clusters  []ClusterAbundance `json:"clusters"`
	Taxa      []TaxonAbundance   `json:"taxa"`
	Diversity Diversity          `json:"diversity"`
}

// Abundance weights each call by the read count of its cluster. sizes must
// be index-aligned with a.Calls; a length mismatch or a negative size is an
// errors.Integrity error. Taxa are ordered by reads, most first, ties by
// name.
func (a *Aggregated) Abundance(sizes []int) (*Abundance, error) {
	if len(sizes) != len(a.Calls) {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("%s: %d cluster sizes for %d calls", a.SampleID, len(sizes), len(a.Calls)))
	}
	var total int
	for i, n := range sizes {
		if n < 0 {
			return nil, errors.E(errors.Integrity, fmt.Sprintf("%s: cluster %d has size %d", a.SampleID, a.Calls[i].GroupID, n))
		}
		total += n
	}
	ab := &Abundance{Clusters: make([]ClusterAbundance, len(a.Calls))}
	index := map[string]int{}
	var d float64
	for i, c := range a.Calls {
		ca := ClusterAbundance{GroupID: c.GroupID, Reads: sizes[i], Taxon: c.TopTaxon, Confidence: c.Confidence}
		if total > 0 {
			ca.Relative = float64(sizes[i]) / float64(total)
		}
		ab.Clusters[i] = ca
		if p := ca.Relative; p > 0 {
			ab.Diversity.Shannon -= p * math.Log(p)
			d += p * p
		}

		j, ok := index[c.TopTaxon]
		if !ok {
			j = len(ab.Taxa)
			index[c.TopTaxon] = j
			ab.Taxa = append(ab.Taxa, TaxonAbundance{Taxon: c.TopTaxon})
		}
		ab.Taxa[j].Clusters++
		ab.Taxa[j].Reads += sizes[i]
	}
	for j := range ab.Taxa {
		if total > 0 {
			ab.Taxa[j].Relative = float64(ab.Taxa[j].Reads) / float64(total)
		}
	}
	sort.Slice(ab.Taxa, func(i, j int) bool {
		if ab.Taxa[i].Reads != ab.Taxa[j].Reads {
			return ab.Taxa[i].Reads > ab.Taxa[j].Reads
		}
		return ab.Taxa[i].Taxon < ab.Taxa[j].Taxon
	})
	div := &ab.Diversity
	div.Clusters, div.Reads, div.Taxa = len(a.Calls), total, len(ab.Taxa)
	if d > 0 {
		div.Simpson = 1 - d
		div.EffectiveShannon = math.Exp(div.Shannon)
		div.EffectiveSimpson = 1 / d
	}
	return ab, nil
}
