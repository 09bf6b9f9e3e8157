package assembly

import (
	"context"

	"github.com/grailbio/clusterseq/encoding/fasta"
	"github.com/grailbio/clusterseq/encoding/fastq"
)

// Corrector corrects (and possibly assembles) a subsample of a cluster's
// reads. Returning no sequences is the expected result for low-coverage
// clusters and is not an error.
type Corrector interface {
	Correct(ctx context.Context, job Job, reads []fastq.Read) ([]fasta.Record, error)
}

// Comparer computes an all-pairs similarity matrix over seqs. sim[i][j] is
// the similarity of seqs[i] to seqs[j] in [0, 1]; pairs a program does not
// report are 0.
type Comparer interface {
	Compare(ctx context.Context, job Job, seqs []fasta.Record) (sim [][]float64, err error)
}

// Alignment is the result of aligning reads to a draft.
type Alignment struct {
	// Path is a SAM file with the alignments.
	Path string
	// DraftPath and ReadsPath are the FASTA inputs the alignment was made
	// from. Either may be empty if the aligner did not leave them on disk.
	DraftPath string
	ReadsPath string
	// Mapped is the number of mapped primary records in Path.
	Mapped int
}

// Aligner aligns reads to a draft.
type Aligner interface {
	Align(ctx context.Context, job Job, round int, draft fasta.Record, reads []fasta.Record) (Alignment, error)
}

// Polisher produces an improved draft from a draft and reads aligned to it.
type Polisher interface {
	Polish(ctx context.Context, job Job, round int, draft fasta.Record, reads []fasta.Record, aln Alignment) (fasta.Record, error)
}

// Finalizer runs the final consensus polish over a draft using the corrected
// reads.
type Finalizer interface {
	Finalize(ctx context.Context, job Job, draft fasta.Record, reads []fasta.Record) (fasta.Record, error)
}

// Tools bundles the collaborators used by the state machine. Aligner and
// Polisher may be nil when iterative polishing is disabled.
type Tools struct {
	Corrector Corrector
	Comparer  Comparer
	Aligner   Aligner
	Polisher  Polisher
	Finalizer Finalizer
}
