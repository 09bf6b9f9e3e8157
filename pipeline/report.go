package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"blainsmith.com/go/seahash"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/clusterseq/classify"
	"github.com/grailbio/clusterseq/cluster"
	"github.com/grailbio/clusterseq/encoding/fasta"
	"github.com/grailbio/clusterseq/scatter"
	"github.com/klauspost/compress/gzip"
)

// Checksum returns the seahash of a consensus sequence, in hex.
func Checksum(seq string) string {
	h := seahash.New()
	_, _ = h.Write([]byte(seq))
	return strconv.FormatUint(h.Sum64(), 16)
}

// ConsensusRecord returns the FASTA record of the i'th cluster of a sample.
func ConsensusRecord(g *scatter.Gathered, calls *classify.Aggregated, i int) fasta.Record {
	c := calls.Calls[i]
	return fasta.Record{
		Name: fmt.Sprintf("cluster_%d", g.GroupIDs[i]),
		Desc: fmt.Sprintf("taxon=%s confidence=%.2f length=%d", c.TopTaxon, c.Confidence, len(g.Consensus[i])),
		Seq:  g.Consensus[i],
	}
}

// WriteConsensus writes the gzipped consensus FASTA of a sample.
func WriteConsensus(w io.Writer, g *scatter.Gathered, calls *classify.Aggregated) error {
	gz := gzip.NewWriter(w)
	fw := fasta.NewWriter(gz)
	once := errors.Once{}
	for i := range g.GroupIDs {
		if err := fw.Write(ConsensusRecord(g, calls, i)); err != nil {
			once.Set(err)
			break
		}
	}
	once.Set(fw.Flush())
	once.Set(gz.Close())
	return once.Err()
}

// WriteClassification writes one row per cluster with a consensus, in the
// order of the gathered lists.
func WriteClassification(w io.Writer, g *scatter.Gathered, calls *classify.Aggregated) error {
	tw := tsv.NewWriter(w)
	for _, col := range []string{"cluster_id", "size", "length", "checksum", "taxon", "taxid",
		"confidence", "confidence_level", "is_novel", "sources", "candidates", "iterations", "converged", "degraded"} {
		tw.WriteString(col)
	}
	if err := tw.EndLine(); err != nil {
		return err
	}
	for i, id := range g.GroupIDs {
		c := calls.Calls[i]
		tw.WriteInt64(int64(id))
		tw.WriteInt64(int64(g.Sizes[i]))
		tw.WriteInt64(int64(len(g.Consensus[i])))
		tw.WriteString(Checksum(g.Consensus[i]))
		tw.WriteString(c.TopTaxon)
		tw.WriteString(c.TopTaxID)
		tw.WriteString(strconv.FormatFloat(c.Confidence, 'f', 4, 64))
		tw.WriteString(string(c.Level))
		tw.WriteString(strconv.FormatBool(c.IsNovel))
		tw.WriteString(c.Sources())
		tw.WriteInt64(int64(len(c.Candidates)))
		tw.WriteInt64(int64(c.Iterations))
		tw.WriteString(strconv.FormatBool(c.Converged))
		tw.WriteString(strconv.FormatBool(g.Outcomes[i].Degraded))
		if err := tw.EndLine(); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// WriteAbandoned writes the clusters that produced no consensus.
func WriteAbandoned(w io.Writer, g *scatter.Gathered) error {
	tw := tsv.NewWriter(w)
	tw.WriteString("cluster_id")
	tw.WriteString("reason")
	tw.WriteString("attempts")
	if err := tw.EndLine(); err != nil {
		return err
	}
	for _, d := range g.Abandoned {
		tw.WriteInt64(int64(d.GroupID))
		tw.WriteString(d.Reason)
		tw.WriteInt64(int64(d.Attempts))
		if err := tw.EndLine(); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// WriteAbundance writes the read-weighted abundance of each cluster with a
// consensus.
func WriteAbundance(w io.Writer, ab *classify.Abundance) error {
	tw := tsv.NewWriter(w)
	for _, col := range []string{"cluster_id", "reads", "relative_abundance", "taxon", "confidence"} {
		tw.WriteString(col)
	}
	if err := tw.EndLine(); err != nil {
		return err
	}
	for _, c := range ab.Clusters {
		tw.WriteInt64(int64(c.GroupID))
		tw.WriteInt64(int64(c.Reads))
		tw.WriteString(strconv.FormatFloat(c.Relative, 'f', 6, 64))
		tw.WriteString(c.Taxon)
		tw.WriteString(strconv.FormatFloat(c.Confidence, 'f', 4, 64))
		if err := tw.EndLine(); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func writeFile(ctx context.Context, path string, write func(io.Writer) error) error {
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "create", path)
	}
	once := errors.Once{}
	once.Set(write(out.Writer(ctx)))
	once.Set(out.Close(ctx))
	if err := once.Err(); err != nil {
		return errors.E(err, path)
	}
	return nil
}

func writeJSON(ctx context.Context, path string, v interface{}) error {
	return writeFile(ctx, path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

func writeSampleReports(ctx context.Context, dir string, res *SampleResult) error {
	g, calls := res.Gathered, res.Calls
	prefix := filepath.Join(dir, res.SampleID)
	if err := writeFile(ctx, prefix+".consensus.fasta.gz", func(w io.Writer) error {
		return WriteConsensus(w, g, calls)
	}); err != nil {
		return err
	}
	if err := writeFile(ctx, prefix+".classification.tsv", func(w io.Writer) error {
		return WriteClassification(w, g, calls)
	}); err != nil {
		return err
	}
	if err := writeFile(ctx, prefix+".abandoned.tsv", func(w io.Writer) error {
		return WriteAbandoned(w, g)
	}); err != nil {
		return err
	}
	if res.Abundance != nil {
		if err := writeFile(ctx, prefix+".abundance.tsv", func(w io.Writer) error {
			return WriteAbundance(w, res.Abundance)
		}); err != nil {
			return err
		}
	}
	if res.Rescue != nil {
		return writeJSON(ctx, prefix+".rescue.json", res.Rescue)
	}
	return nil
}

// LengthStats summarizes consensus lengths.
type LengthStats struct {
	Sequences  int     `json:"sequences"`
	TotalBases int     `json:"total_bases"`
	MeanLength float64 `json:"mean_length"`
	MinLength  int     `json:"min_length"`
	MaxLength  int     `json:"max_length"`
}

func lengthStats(seqs []string) LengthStats {
	s := LengthStats{Sequences: len(seqs)}
	for i, seq := range seqs {
		n := len(seq)
		s.TotalBases += n
		if i == 0 || n < s.MinLength {
			s.MinLength = n
		}
		if n > s.MaxLength {
			s.MaxLength = n
		}
	}
	if len(seqs) > 0 {
		s.MeanLength = float64(s.TotalBases) / float64(len(seqs))
	}
	return s
}

// SampleSummary is the summary of one sample.
type SampleSummary struct {
	Sample string `json:"sample"`
	// Error is set for failed samples; Integrity tells whether the failure
	// was a data-integrity violation rather than an input problem.
	Error     string `json:"error,omitempty"`
	Integrity bool   `json:"integrity,omitempty"`

	Reads      int                  `json:"reads"`
	Dispatched int                  `json:"dispatched"`
	Finalized  int                  `json:"finalized"`
	Abandoned  []scatter.Diagnostic `json:"abandoned"`
	Rescue     *cluster.RescueStats `json:"rescue,omitempty"`
	Consensus  LengthStats          `json:"consensus"`
	// ClassificationRate is the percentage of clusters with a call.
	ClassificationRate float64               `json:"classification_rate"`
	EM                 classify.EMStats      `json:"em"`
	Taxa               []classify.TaxonCount `json:"taxa"`
	// Abundance and Diversity are read-weighted; see classify.Abundance.
	Abundance []classify.TaxonAbundance `json:"abundance"`
	Diversity *classify.Diversity       `json:"diversity,omitempty"`
}

// Summary is the summary of a run, written to summary.json.
type Summary struct {
	RunID         string          `json:"run_id"`
	Started       time.Time       `json:"started"`
	Elapsed       string          `json:"elapsed"`
	Samples       []SampleSummary `json:"samples"`
	FailedSamples int             `json:"failed_samples"`
	Dispatched    int             `json:"dispatched"`
	Abandoned     int             `json:"abandoned"`
	GroupsRescued int             `json:"groups_rescued"`
}

func summarize(runID string, start time.Time, results []*SampleResult) *Summary {
	sum := &Summary{RunID: runID, Started: start, Elapsed: time.Since(start).Round(time.Second).String()}
	for _, r := range results {
		s := SampleSummary{Sample: r.SampleID, Error: r.Err, Integrity: r.Integrity, Reads: r.Reads, Rescue: r.Rescue}
		if r.Err != "" {
			sum.FailedSamples++
		}
		if r.Rescue != nil {
			sum.GroupsRescued += r.Rescue.GroupsRescued
		}
		if g := r.Gathered; g != nil {
			s.Dispatched = g.Dispatched
			s.Finalized = g.Len()
			s.Abandoned = g.Abandoned
			s.Consensus = lengthStats(g.Consensus)
			sum.Dispatched += g.Dispatched
			sum.Abandoned += len(g.Abandoned)
		}
		if r.Calls != nil {
			s.EM = r.Calls.Stats()
			s.Taxa = r.Calls.Taxa()
			if s.EM.Groups > 0 {
				s.ClassificationRate = float64(s.EM.Classified) / float64(s.EM.Groups) * 100
			}
		}
		if ab := r.Abundance; ab != nil {
			s.Abundance = ab.Taxa
			div := ab.Diversity
			s.Diversity = &div
		}
		sum.Samples = append(sum.Samples, s)
	}
	return sum
}

func writeSummary(ctx context.Context, path string, sum *Summary) error {
	return writeJSON(ctx, path, sum)
}
