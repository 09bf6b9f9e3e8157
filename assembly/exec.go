package assembly

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/clusterseq/encoding/fasta"
	"github.com/grailbio/clusterseq/encoding/fastq"
	"github.com/grailbio/clusterseq/internal/tool"
	"github.com/klauspost/compress/gzip"
)

// Canu corrects reads with "canu -correct". A run that produces no corrected
// reads file (canu stops early on low coverage) yields no sequences.
type Canu struct {
	Runner  *tool.Runner
	Program string
	// GenomeSize is passed as canu's genomeSize, e.g. "1.5k".
	GenomeSize string
	Threads    int
}

// Correct implements Corrector.
func (c Canu) Correct(ctx context.Context, job Job, reads []fastq.Read) ([]fasta.Record, error) {
	in := filepath.Join(job.Dir, "subsample.fastq")
	if err := writeFASTQ(in, reads); err != nil {
		return nil, err
	}
	outDir := filepath.Join(job.Dir, "canu")
	args := []string{
		"-correct",
		"-p", "corrected",
		"-d", outDir,
		"genomeSize=" + orDefault(c.GenomeSize, "1.5k"),
		"stopOnLowCoverage=0",
		"-nanopore", in,
	}
	if c.Threads > 0 {
		args = append(args, "maxThreads="+strconv.Itoa(c.Threads))
	}
	if err := c.Runner.Run(ctx, job.Dir, nil, orDefault(c.Program, "canu"), args...); err != nil {
		return nil, err
	}
	path := filepath.Join(outDir, "corrected.correctedReads.fasta.gz")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	return readFASTA(path)
}

// FastANI compares sequences all-vs-all with fastANI. Pairs fastANI does not
// report (too divergent) have similarity 0.
type FastANI struct {
	Runner  *tool.Runner
	Program string
	Threads int
}

// Compare implements Comparer.
func (f FastANI) Compare(ctx context.Context, job Job, seqs []fasta.Record) ([][]float64, error) {
	dir := filepath.Join(job.Dir, "fastani")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	index := map[string]int{}
	paths := make([]string, len(seqs))
	for i, s := range seqs {
		paths[i] = filepath.Join(dir, fmt.Sprintf("seq%d.fasta", i))
		index[paths[i]] = i
		if err := writeFASTA(paths[i], []fasta.Record{s}); err != nil {
			return nil, err
		}
	}
	list := filepath.Join(dir, "list.txt")
	if err := os.WriteFile(list, []byte(strings.Join(paths, "\n")+"\n"), 0644); err != nil {
		return nil, err
	}
	out := filepath.Join(dir, "ani.tsv")
	args := []string{"--ql", list, "--rl", list, "-o", out}
	if f.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(f.Threads))
	}
	if err := f.Runner.Run(ctx, dir, nil, orDefault(f.Program, "fastANI"), args...); err != nil {
		return nil, err
	}
	in, err := os.Open(out)
	if err != nil {
		return nil, err
	}
	defer in.Close() // nolint: errcheck
	sim, err := parseANIMatrix(in, index)
	if err != nil {
		return nil, errors.E(err, out)
	}
	return sim, nil
}

// parseANIMatrix reads fastANI output lines "query ref ani frags total" into
// a similarity matrix indexed by the given path -> index map.
func parseANIMatrix(r io.Reader, index map[string]int) ([][]float64, error) {
	sim := make([][]float64, len(index))
	for i := range sim {
		sim[i] = make([]float64, len(index))
		sim[i][i] = 1
	}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 3 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("fastANI line %q: want at least 3 columns", scanner.Text()))
		}
		q, qok := index[fields[0]]
		ref, rok := index[fields[1]]
		if !qok || !rok {
			continue
		}
		ani, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("fastANI line %q", scanner.Text()), err)
		}
		sim[q][ref] = ani / 100
	}
	return sim, scanner.Err()
}

// Minimap2 aligns reads to a draft with "minimap2 -ax map-ont".
type Minimap2 struct {
	Runner  *tool.Runner
	Program string
	Threads int
}

// Align implements Aligner.
func (m Minimap2) Align(ctx context.Context, job Job, round int, draft fasta.Record, reads []fasta.Record) (Alignment, error) {
	dir, err := roundDir(job, round)
	if err != nil {
		return Alignment{}, err
	}
	draftPath := filepath.Join(dir, "draft.fasta")
	readsPath := filepath.Join(dir, "reads.fasta")
	if err := writeFASTA(draftPath, []fasta.Record{draft}); err != nil {
		return Alignment{}, err
	}
	if err := writeFASTA(readsPath, reads); err != nil {
		return Alignment{}, err
	}
	aln := Alignment{Path: filepath.Join(dir, "aln.sam"), DraftPath: draftPath, ReadsPath: readsPath}
	args := []string{"-ax", "map-ont"}
	if m.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(m.Threads))
	}
	args = append(args, draftPath, readsPath)
	if err := m.Runner.RunToFile(ctx, dir, aln.Path, orDefault(m.Program, "minimap2"), args...); err != nil {
		return Alignment{}, err
	}
	if aln.Mapped, err = CountMappedFile(aln.Path); err != nil {
		return Alignment{}, err
	}
	return aln, nil
}

// Racon polishes a draft from a SAM alignment.
type Racon struct {
	Runner  *tool.Runner
	Program string
	Threads int
}

// Polish implements Polisher. Inputs missing from aln are written to the
// round directory.
func (p Racon) Polish(ctx context.Context, job Job, round int, draft fasta.Record, reads []fasta.Record, aln Alignment) (fasta.Record, error) {
	dir, err := roundDir(job, round)
	if err != nil {
		return fasta.Record{}, err
	}
	draftPath, readsPath := aln.DraftPath, aln.ReadsPath
	if draftPath == "" {
		draftPath = filepath.Join(dir, "racon.draft.fasta")
		if err := writeFASTA(draftPath, []fasta.Record{draft}); err != nil {
			return fasta.Record{}, err
		}
	}
	if readsPath == "" {
		readsPath = filepath.Join(dir, "racon.reads.fasta")
		if err := writeFASTA(readsPath, reads); err != nil {
			return fasta.Record{}, err
		}
	}
	out := filepath.Join(dir, "polished.fasta")
	args := []string{}
	if p.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(p.Threads))
	}
	args = append(args, readsPath, aln.Path, draftPath)
	if err := p.Runner.RunToFile(ctx, dir, out, orDefault(p.Program, "racon"), args...); err != nil {
		return fasta.Record{}, err
	}
	return firstRecord(out, draft.Name)
}

// Medaka runs medaka_consensus as the final polish.
type Medaka struct {
	Runner  *tool.Runner
	Program string
	// Model is the medaka model; medaka's default if empty.
	Model   string
	Threads int
}

// Finalize implements Finalizer.
func (m Medaka) Finalize(ctx context.Context, job Job, draft fasta.Record, reads []fasta.Record) (fasta.Record, error) {
	dir := filepath.Join(job.Dir, "final")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fasta.Record{}, err
	}
	draftPath := filepath.Join(dir, "draft.fasta")
	readsPath := filepath.Join(dir, "reads.fasta")
	if err := writeFASTA(draftPath, []fasta.Record{draft}); err != nil {
		return fasta.Record{}, err
	}
	if err := writeFASTA(readsPath, reads); err != nil {
		return fasta.Record{}, err
	}
	outDir := filepath.Join(dir, "medaka")
	args := []string{"-i", readsPath, "-d", draftPath, "-o", outDir, "-f"}
	if m.Model != "" {
		args = append(args, "-m", m.Model)
	}
	if m.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(m.Threads))
	}
	if err := m.Runner.Run(ctx, dir, nil, orDefault(m.Program, "medaka_consensus"), args...); err != nil {
		return fasta.Record{}, err
	}
	return firstRecord(filepath.Join(outDir, "consensus.fasta"), draft.Name)
}

func roundDir(job Job, round int) (string, error) {
	dir := filepath.Join(job.Dir, fmt.Sprintf("round%d", round))
	return dir, os.MkdirAll(dir, 0755)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func writeFASTQ(path string, reads []fastq.Read) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	once := errors.Once{}
	once.Set(fastq.WriteAll(out, reads))
	once.Set(out.Close())
	return once.Err()
}

func writeFASTA(path string, recs []fasta.Record) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	w := fasta.NewWriter(out)
	once := errors.Once{}
	for _, r := range recs {
		if err := w.Write(r); err != nil {
			once.Set(err)
			break
		}
	}
	once.Set(w.Flush())
	once.Set(out.Close())
	return once.Err()
}

// readFASTA reads a FASTA file, gunzipping it if the name ends in ".gz".
func readFASTA(path string) ([]fasta.Record, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer in.Close() // nolint: errcheck
	var r io.Reader = in
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(in)
		if err != nil {
			return nil, errors.E(errors.Invalid, path, err)
		}
		defer gz.Close() // nolint: errcheck
		r = gz
	}
	recs, err := fasta.ReadAll(r)
	if err != nil {
		return nil, errors.E(errors.Invalid, path, err)
	}
	return recs, nil
}

// firstRecord returns the first sequence of a FASTA file, renamed to name.
func firstRecord(path, name string) (fasta.Record, error) {
	recs, err := readFASTA(path)
	if err != nil {
		return fasta.Record{}, err
	}
	if len(recs) == 0 {
		return fasta.Record{}, errors.E(errors.Invalid, path, "no sequences")
	}
	rec := recs[0]
	rec.Name = name
	return rec, nil
}
