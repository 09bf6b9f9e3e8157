package fasta_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/grailbio/clusterseq/encoding/fasta"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

const fastaData = ">seq1\n" + "ACGTA\nCGTAC\nGT\n" + ">seq2 A viral sequence\n" + "ACGT\n" + "ACGT\n"

func TestReadAll(t *testing.T) {
	records, err := fasta.ReadAll(strings.NewReader(fastaData))
	assert.NoError(t, err)
	expect.EQ(t, records, []fasta.Record{
		{Name: "seq1", Seq: "ACGTACGTACGT"},
		{Name: "seq2", Desc: "A viral sequence", Seq: "ACGTACGT"},
	})
}

func TestReadAllEmpty(t *testing.T) {
	records, err := fasta.ReadAll(strings.NewReader(""))
	assert.NoError(t, err)
	expect.EQ(t, len(records), 0)

	// A header without sequence is a record with an empty sequence.
	records, err = fasta.ReadAll(strings.NewReader(">empty\n"))
	assert.NoError(t, err)
	expect.EQ(t, records, []fasta.Record{{Name: "empty"}})
}

func TestReadAllMalformed(t *testing.T) {
	_, err := fasta.ReadAll(strings.NewReader("ACGT\n>seq\nACGT\n"))
	expect.NotNil(t, err)
	_, err = fasta.ReadAll(strings.NewReader("> seq\nACGT\n"))
	expect.NotNil(t, err)
}

func TestWriter(t *testing.T) {
	var (
		b   bytes.Buffer
		w   = fasta.NewWriter(&b)
		seq = strings.Repeat("A", fasta.LineWidth) + "CG"
	)
	assert.NoError(t, w.Write(fasta.Record{Name: "cluster_0", Desc: "taxon=E_coli", Seq: seq}))
	assert.NoError(t, w.Write(fasta.Record{Name: "cluster_2", Seq: "ACGT"}))
	assert.NoError(t, w.Flush())
	expect.EQ(t, b.String(), ">cluster_0 taxon=E_coli\n"+strings.Repeat("A", fasta.LineWidth)+"\nCG\n>cluster_2\nACGT\n")

	records, err := fasta.ReadAll(&b)
	assert.NoError(t, err)
	expect.EQ(t, len(records), 2)
	expect.EQ(t, records[0].Seq, seq)
}
