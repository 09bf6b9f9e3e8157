package classify

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/klauspost/compress/gzip"
)

func TestKraken2Parser(t *testing.T) {
	data := "C\tr1\t562\t0.8\tEscherichia coli\n" +
		"U\tr2\t0\t0\tunclassified\n" +
		"C\tr3\t1280\t0.05\tStaphylococcus aureus\n" +
		"C\tr4\t1280\t\tStaphylococcus aureus\n"
	ev, err := Kraken2Parser{MinConfidence: 0.1}.Parse(strings.NewReader(data), 3)
	assert.NoError(t, err)
	assert.EQ(t, ev, []Evidence{{GroupID: 3, Source: Kraken2, TaxID: "562", Name: "Escherichia coli", Score: 0.8}})

	_, err = Kraken2Parser{}.Parse(strings.NewReader("C\tr1\t562\thigh\tE. coli\n"), 3)
	expect.NotNil(t, err)
}

func TestKraken2ParserRaggedRows(t *testing.T) {
	data := "C\tr1\t562\t0.8\tEscherichia coli\n" +
		"C\tr2\t1280\t0.9\tStaphylococcus aureus\t1280:12 0:3\n" +
		"C\tr3\n" +
		"C\tr4\t562\t0.7\tEscherichia coli\n"
	ev, err := Kraken2Parser{}.Parse(strings.NewReader(data), 2)
	assert.NoError(t, err)
	assert.EQ(t, ev, []Evidence{
		{GroupID: 2, Source: Kraken2, TaxID: "562", Name: "Escherichia coli", Score: 0.8},
		{GroupID: 2, Source: Kraken2, TaxID: "1280", Name: "Staphylococcus aureus", Score: 0.9},
		{GroupID: 2, Source: Kraken2, TaxID: "562", Name: "Escherichia coli", Score: 0.7},
	})
}

func TestBlastParser(t *testing.T) {
	data := "562,Escherichia coli,0,1500,2700,99.5\n" +
		"1280,Staphylococcus aureus,1,1500,900,80\n" +
		"9606,Homo sapiens,0,100,50,60\n" +
		"bad,row\n" +
		"1,x,notanumber,1,1,99\n"
	ev, err := BlastParser{MinIdentity: 70}.Parse(strings.NewReader(data), 1)
	assert.NoError(t, err)
	assert.EQ(t, len(ev), 2)
	expect.EQ(t, ev[0].TaxID, "562")
	expect.EQ(t, ev[0].Score, 0.995)
	expect.EQ(t, ev[1].Score, 0.4)
	expect.EQ(t, ev[1].Identity, 80.0)
}

func TestFastANIParser(t *testing.T) {
	data := "/refs/ecoli_k12.fna\tq.fa\t98\t45\t50\n" +
		"/refs/other.fna\tq.fa\t75\t45\t50\n" +
		"/refs/zero.fna\tq.fa\t99\t0\t0\n" +
		"short\tline\n"
	ev, err := FastANIParser{MinANI: 80}.Parse(strings.NewReader(data), 2)
	assert.NoError(t, err)
	assert.EQ(t, len(ev), 1)
	expect.EQ(t, ev[0].Reference, "ecoli_k12")
	expect.EQ(t, ev[0].Key(), "ecoli_k12")
	ani := 98.0
	expect.EQ(t, ev[0].Score, ani/100*45/50)
}

func writeFile(t *testing.T, path, data string) {
	assert.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	if strings.HasSuffix(path, ".gz") {
		f, err := os.Create(path)
		assert.NoError(t, err)
		w := gzip.NewWriter(f)
		_, err = w.Write([]byte(data))
		assert.NoError(t, err)
		assert.NoError(t, w.Close())
		assert.NoError(t, f.Close())
		return
	}
	assert.NoError(t, os.WriteFile(path, []byte(data), 0644))
}

func TestCollector(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	writeFile(t, filepath.Join(dir, "s1", "c0.kraken2.tsv.gz"), "C\tr1\t562\t0.9\tEscherichia coli\n")
	writeFile(t, filepath.Join(dir, "s1", "c0.blast.csv"), "562,Escherichia coli,0,1500,2700,85\n")
	writeFile(t, filepath.Join(dir, "s1", "c2.blast.csv"), "1280,Staphylococcus aureus,0,1500,2700,90\n")

	c := NewCollector(NewInputs(
		filepath.Join(dir, "{sample}", "c{cluster}.kraken2.tsv.gz"),
		filepath.Join(dir, "{sample}", "c{cluster}.blast.csv"),
		"",
		DefaultThresholds))
	expect.EQ(t, c.Sources(), []string{Kraken2, Blast})
	ev, err := c.Collect(context.Background(), "s1", []int{0, 1, 2})
	assert.NoError(t, err)
	assert.EQ(t, len(ev), 3)
	expect.EQ(t, len(ev[0]), 2)
	expect.EQ(t, ev[0][0].Source, Kraken2)
	expect.EQ(t, ev[0][1].Source, Blast)
	expect.EQ(t, len(ev[1]), 0)
	expect.EQ(t, len(ev[2]), 1)
	expect.EQ(t, ev[2][0].GroupID, 2)
}
