package assembly

import (
	"context"
	"testing"

	"github.com/grailbio/clusterseq/encoding/fasta"
	"github.com/grailbio/testutil/expect"
)

func TestSelectDraft(t *testing.T) {
	tests := []struct {
		sim  [][]float64
		want int
	}{
		{nil, 0},
		{[][]float64{{1}}, 0},
		{[][]float64{{1, 0.5}, {0.5, 1}}, 0},
		{[][]float64{
			{1, 0.2, 0.2},
			{0.2, 1, 0.9},
			{0.2, 0.9, 1},
		}, 1},
		{[][]float64{
			{1, 0.1, 0.1},
			{0.1, 1, 0.1},
			{0.9, 0.9, 1},
		}, 2},
	}
	for _, test := range tests {
		expect.EQ(t, SelectDraft(test.sim), test.want)
	}
}

func TestIdentityComparer(t *testing.T) {
	seqs := []fasta.Record{{Seq: "ACGTACGT"}, {Seq: "ACGTACGA"}, {Seq: "TTTTTTTT"}}
	sim, err := IdentityComparer{}.Compare(context.Background(), Job{}, seqs)
	expect.NoError(t, err)
	expect.EQ(t, sim[0][0], 1.0)
	expect.EQ(t, sim[0][1], 0.875)
	expect.EQ(t, sim[1][0], sim[0][1])
	expect.EQ(t, SelectDraft(sim), 0)
}
