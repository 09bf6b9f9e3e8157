package pipeline

import (
	"context"
	"fmt"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/clusterseq/assembly"
	"github.com/grailbio/clusterseq/classify"
	"github.com/grailbio/clusterseq/encoding/fasta"
	"github.com/grailbio/clusterseq/encoding/fastq"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/klauspost/compress/gzip"
)

// readsCorrector returns the cluster's reads as corrected sequences, except
// for the clusters listed in empty.
type readsCorrector struct{ empty map[int]bool }

func (c readsCorrector) Correct(ctx context.Context, job assembly.Job, reads []fastq.Read) ([]fasta.Record, error) {
	if c.empty[job.GroupID] {
		return nil, nil
	}
	var recs []fasta.Record
	for i := range reads {
		recs = append(recs, fasta.Record{Name: reads[i].Name(), Seq: reads[i].Seq})
	}
	return recs, nil
}

type draftFinalizer struct{}

func (draftFinalizer) Finalize(ctx context.Context, job assembly.Job, draft fasta.Record, reads []fasta.Record) (fasta.Record, error) {
	return draft, nil
}

func writeTestFile(t *testing.T, path, data string) {
	t.Helper()
	assert.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	assert.NoError(t, ioutil.WriteFile(path, []byte(data), 0644))
}

// writeSample writes a sample with primary clusters 0 and 1 and six
// identical noise reads.
func writeSample(t *testing.T, dir, id string) Sample {
	var reads, assign strings.Builder
	assign.WriteString("read\tcluster_id\n")
	add := func(name, seq string, cluster int) {
		fmt.Fprintf(&reads, "@%s\n%s\n+\n%s\n", name, seq, strings.Repeat("I", len(seq)))
		fmt.Fprintf(&assign, "%s\t%d\n", name, cluster)
	}
	for i := 0; i < 6; i++ {
		add(fmt.Sprintf("a%d", i), "ACGTACGTACGTACGT", 0)
		add(fmt.Sprintf("b%d", i), "GGGGCCCCGGGGCCCC", 1)
		add(fmt.Sprintf("n%d", i), "TTTTAAAATTTTAAAA", -1)
	}
	s := Sample{
		ID:         id,
		Reads:      filepath.Join(dir, id+".fastq"),
		Assignment: filepath.Join(dir, id+".tsv"),
	}
	writeTestFile(t, s.Reads, reads.String())
	writeTestFile(t, s.Assignment, assign.String())
	return s
}

func testOpts(dir string) Opts {
	opts := DefaultOpts
	opts.OutDir = filepath.Join(dir, "out")
	opts.WorkDir = filepath.Join(dir, "work")
	opts.Rescue = true
	opts.Assembly.SkipIterativePolish = true
	opts.CapacityMemory = 8 << 30
	opts.CapacityCPUs = 2
	opts.Kraken2 = filepath.Join(dir, "kraken2", "{sample}", "cluster_{cluster}.tsv")
	return opts
}

func TestRun(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()

	opts := testOpts(dir)
	writeTestFile(t, filepath.Join(dir, "kraken2", "s1", "cluster_0.tsv"),
		"C\tr1\t562\t0.95\tEscherichia coli\nC\tr2\t562\t0.9\tEscherichia coli\n")
	samples := []Sample{
		writeSample(t, dir, "s1"),
		{ID: "missing", Reads: filepath.Join(dir, "missing.fastq"), Assignment: filepath.Join(dir, "missing.tsv")},
	}
	assert.NoError(t, MkdirAll(opts))
	p, err := New(opts, assembly.Tools{
		Corrector: readsCorrector{empty: map[int]bool{1: true}},
		Finalizer: draftFinalizer{},
	}, nil)
	assert.NoError(t, err)

	sum, err := p.Run(ctx, samples)
	expect.NotNil(t, err)
	assert.NotNil(t, sum)
	expect.EQ(t, sum.RunID, p.RunID())
	expect.EQ(t, sum.FailedSamples, 1)
	expect.EQ(t, sum.Dispatched, 3)
	expect.EQ(t, sum.Abandoned, 1)
	expect.EQ(t, sum.GroupsRescued, 1)
	assert.EQ(t, len(sum.Samples), 2)
	s1 := sum.Samples[0]
	expect.EQ(t, s1.Sample, "s1")
	expect.EQ(t, s1.Reads, 18)
	expect.EQ(t, s1.Finalized, 2)
	expect.EQ(t, s1.Consensus.TotalBases, 32)
	expect.EQ(t, s1.EM.Classified, 1)
	expect.EQ(t, s1.ClassificationRate, 50.0)
	expect.HasSubstr(t, sum.Samples[1].Error, "missing")

	out := func(name string) string {
		data, err := ioutil.ReadFile(filepath.Join(opts.OutDir, name))
		assert.NoError(t, err)
		return string(data)
	}
	lines := strings.Split(strings.TrimSpace(out("s1.classification.tsv")), "\n")
	assert.EQ(t, len(lines), 3)
	expect.True(t, strings.HasPrefix(lines[0], "cluster_id\tsize\tlength\tchecksum\ttaxon"))
	expect.True(t, strings.HasPrefix(lines[1], "0\t6\t16\t"))
	expect.HasSubstr(t, lines[1], "Escherichia coli\t562\t1.0000\thigh")
	expect.True(t, strings.HasPrefix(lines[2], "2\t6\t16\t"))
	expect.HasSubstr(t, lines[2], classify.Unclassified)
	expect.EQ(t, out("s1.abandoned.tsv"), "cluster_id\treason\tattempts\n1\tempty correction output\t1\n")
	expect.HasSubstr(t, out("s1.rescue.json"), `"groups_rescued": 1`)
	expect.HasSubstr(t, out("s1.assignment.rescued.tsv"), "n0\t2\n")
	expect.HasSubstr(t, out("summary.json"), `"failed_samples": 1`)
	abundance := out("s1.abundance.tsv")
	expect.True(t, strings.HasPrefix(abundance, "cluster_id\treads\trelative_abundance\ttaxon\tconfidence\n0\t6\t0.500000\tEscherichia coli\t"))
	expect.HasSubstr(t, abundance, "\n2\t6\t0.500000\t"+classify.Unclassified+"\t")
	assert.NotNil(t, s1.Diversity)
	expect.EQ(t, s1.Diversity.Clusters, 2)
	expect.EQ(t, s1.Diversity.Reads, 12)
	expect.EQ(t, s1.Diversity.Simpson, 0.5)
	expect.True(t, math.Abs(s1.Diversity.Shannon-math.Ln2) < 1e-12, "shannon %v", s1.Diversity.Shannon)
	expect.EQ(t, len(s1.Abundance), 2)

	f, err := os.Open(filepath.Join(opts.OutDir, "s1.consensus.fasta.gz"))
	assert.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	assert.NoError(t, err)
	recs, err := fasta.ReadAll(gz)
	assert.NoError(t, err)
	assert.EQ(t, len(recs), 2)
	expect.EQ(t, recs[0].Name, "cluster_0")
	expect.EQ(t, recs[0].Desc, "taxon=Escherichia coli confidence=1.00 length=16")
	expect.EQ(t, recs[1].Name, "cluster_2")
	expect.EQ(t, recs[1].Seq, "TTTTAAAATTTTAAAA")

	r, err := NewResultsReader(ctx, filepath.Join(opts.OutDir, "results.rio"))
	assert.NoError(t, err)
	expect.EQ(t, r.RunID(), p.RunID())
	var ids []string
	for r.Scan() {
		ids = append(ids, r.Get().SampleID)
	}
	assert.NoError(t, r.Err())
	expect.EQ(t, ids, []string{"s1", "missing"})
	stored, err := r.Summary()
	assert.NoError(t, err)
	expect.EQ(t, stored.Dispatched, 3)
	assert.NoError(t, r.Close(ctx))
}

func TestRunSampleIntegrity(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	opts := testOpts(dir)
	opts.Rescue = false
	assert.NoError(t, MkdirAll(opts))
	s := writeSample(t, dir, "s1")
	// An assignment naming a read twice is rejected before any work starts.
	writeTestFile(t, s.Assignment, "read\tcluster_id\na0\t0\na0\t1\n")
	p, err := New(opts, assembly.Tools{Corrector: readsCorrector{}, Finalizer: draftFinalizer{}}, nil)
	assert.NoError(t, err)
	res, err := p.RunSample(context.Background(), s)
	assert.NotNil(t, err)
	expect.True(t, errors.Is(errors.Integrity, err))
	expect.Nil(t, res.Gathered)
}

func TestNewRejectsInvalidOpts(t *testing.T) {
	opts := DefaultOpts
	opts.Parallelism = 0
	opts.RescueGrouper = "bogus"
	_, err := New(opts, assembly.Tools{Corrector: readsCorrector{}, Finalizer: draftFinalizer{}}, nil)
	assert.NotNil(t, err)
	expect.HasSubstr(t, err.Error(), "parallelism")
	expect.HasSubstr(t, err.Error(), "bogus")
}
