package cluster

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/clusterseq/encoding/fasta"
	"github.com/grailbio/clusterseq/encoding/fastq"
	"github.com/grailbio/clusterseq/internal/tool"
	"github.com/grailbio/clusterseq/util"
)

// GreedyGrouper is an in-process centroid clusterer in the style of
// "vsearch --cluster_fast": reads are visited longest first, and each read
// joins the first centroid it matches with at least the requested identity,
// or becomes a new centroid.
type GreedyGrouper struct{}

// Group implements Grouper.
func (GreedyGrouper) Group(ctx context.Context, reads []fastq.Read, identity float64) ([][]string, error) {
	order := make([]int, len(reads))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return len(reads[order[i]].Seq) > len(reads[order[j]].Seq)
	})
	var (
		centroids []string
		groups    [][]string
	)
	for n, idx := range order {
		if n%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		r := reads[idx]
		joined := false
		for c, centroid := range centroids {
			// The length ratio bounds the identity from above.
			if float64(len(r.Seq)) < identity*float64(len(centroid)) {
				continue
			}
			if util.Identity(r.Seq, centroid) >= identity {
				groups[c] = append(groups[c], r.Name())
				joined = true
				break
			}
		}
		if !joined {
			centroids = append(centroids, r.Seq)
			groups = append(groups, []string{r.Name()})
		}
	}
	sortGroupsBySize(groups)
	return groups, nil
}

// VsearchGrouper runs "vsearch --cluster_fast" on the reads and parses its
// UC output.
type VsearchGrouper struct {
	Runner *tool.Runner
	// Program is the vsearch binary; "vsearch" if empty.
	Program string
	// Dir is a scratch directory owned by this grouper.
	Dir     string
	Threads int
}

// Group implements Grouper.
func (v VsearchGrouper) Group(ctx context.Context, reads []fastq.Read, identity float64) ([][]string, error) {
	program := v.Program
	if program == "" {
		program = "vsearch"
	}
	threads := v.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	if err := os.MkdirAll(v.Dir, 0755); err != nil {
		return nil, err
	}
	inPath := filepath.Join(v.Dir, "noise.fasta")
	ucPath := filepath.Join(v.Dir, "noise.uc")
	if err := writeReadsFASTA(inPath, reads); err != nil {
		return nil, err
	}
	if err := v.Runner.Run(ctx, v.Dir, nil, program,
		"--cluster_fast", inPath,
		"--id", strconv.FormatFloat(identity, 'f', -1, 64),
		"--uc", ucPath,
		"--threads", strconv.Itoa(threads),
		"--quiet"); err != nil {
		return nil, err
	}
	in, err := os.Open(ucPath)
	if err != nil {
		return nil, err
	}
	defer in.Close() // nolint: errcheck
	labels, err := ParseUC(in)
	if err != nil {
		return nil, errors.E(err, ucPath)
	}
	order := make([]string, len(reads))
	for i, r := range reads {
		order[i] = r.Name()
	}
	groups := GroupsFromLabels(labels, order)
	sortGroupsBySize(groups)
	return groups, nil
}

// ParseUC parses vsearch/usearch UC output into a read -> cluster label map.
// Only centroid (S) and hit (H) records are used; the cluster number is the
// second column and the query label the ninth.
func ParseUC(r io.Reader) (map[string]string, error) {
	labels := map[string]string{}
	scanner := bufio.NewScanner(r)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Text()
		if text == "" {
			continue
		}
		cols := strings.Split(text, "\t")
		if len(cols) < 9 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("uc line %d: expect at least 9 columns, got %d", line, len(cols)))
		}
		if cols[0] != "S" && cols[0] != "H" {
			continue
		}
		query := strings.Fields(cols[8])
		if len(query) == 0 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("uc line %d: empty query label", line))
		}
		labels[query[0]] = cols[1]
	}
	return labels, scanner.Err()
}

// MappingGrouper reads the secondary clustering from a precomputed mapping
// file with one "read_id cluster_label" pair per line.
type MappingGrouper struct {
	Path string
}

// Group implements Grouper. The identity threshold was applied when the
// mapping was produced and is ignored here.
func (m MappingGrouper) Group(ctx context.Context, reads []fastq.Read, _ float64) ([][]string, error) {
	in, err := file.Open(ctx, m.Path)
	if err != nil {
		return nil, errors.E(err, "open rescue mapping", m.Path)
	}
	labels, err := ParseMapping(in.Reader(ctx))
	once := errors.Once{}
	once.Set(err)
	once.Set(in.Close(ctx))
	if err := once.Err(); err != nil {
		return nil, errors.E(err, m.Path)
	}
	order := make([]string, len(reads))
	for i, r := range reads {
		order[i] = r.Name()
	}
	return GroupsFromLabels(labels, order), nil
}

// ParseMapping parses whitespace-separated "read_id cluster_label" lines.
// Blank lines are skipped; any other line without exactly two fields is an
// error.
func ParseMapping(r io.Reader) (map[string]string, error) {
	labels := map[string]string{}
	scanner := bufio.NewScanner(r)
	for line := 1; scanner.Scan(); line++ {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("mapping line %d: expect 'read_id cluster_id', got %q", line, scanner.Text()))
		}
		if prev, ok := labels[fields[0]]; ok && prev != fields[1] {
			return nil, errors.E(errors.Integrity, fmt.Sprintf("mapping line %d: read %s mapped to both %s and %s", line, fields[0], prev, fields[1]))
		}
		labels[fields[0]] = fields[1]
	}
	return labels, scanner.Err()
}

func writeReadsFASTA(path string, reads []fastq.Read) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	w := fasta.NewWriter(out)
	once := errors.Once{}
	for _, r := range reads {
		if err := w.Write(fasta.Record{Name: r.Name(), Seq: r.Seq}); err != nil {
			once.Set(err)
			break
		}
	}
	once.Set(w.Flush())
	once.Set(out.Close())
	return once.Err()
}
