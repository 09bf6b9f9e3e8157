package assembly

import (
	"context"

	"github.com/grailbio/clusterseq/encoding/fasta"
	"github.com/grailbio/clusterseq/util"
)

// SelectDraft returns the index of the sequence with the highest average
// similarity to all other sequences. Ties go to the earlier sequence. The
// diagonal of sim is ignored.
func SelectDraft(sim [][]float64) int {
	n := len(sim)
	if n <= 1 {
		return 0
	}
	best, bestAvg := 0, -1.0
	for i := 0; i < n; i++ {
		var total float64
		for j := 0; j < n; j++ {
			if i == j || j >= len(sim[i]) {
				continue
			}
			total += sim[i][j]
		}
		if avg := total / float64(n-1); avg > bestAvg {
			best, bestAvg = i, avg
		}
	}
	return best
}

// IdentityComparer compares sequences in process using edit-distance
// identity. It is meant for small clusters and tests; large clusters should
// use an external comparer.
type IdentityComparer struct{}

// Compare implements Comparer.
func (IdentityComparer) Compare(ctx context.Context, _ Job, seqs []fasta.Record) ([][]float64, error) {
	sim := make([][]float64, len(seqs))
	for i := range sim {
		sim[i] = make([]float64, len(seqs))
		sim[i][i] = 1
	}
	for i := range seqs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for j := i + 1; j < len(seqs); j++ {
			s := util.Identity(seqs[i].Seq, seqs[j].Seq)
			sim[i][j], sim[j][i] = s, s
		}
	}
	return sim, nil
}
