// Package cluster holds read-to-cluster assignments produced by the upstream
// embedding/clustering step, splits them into independent per-cluster work
// units, and rescues reads that the primary clustering left as noise.
package cluster

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
)

// Noise is the cluster id of reads that the primary clustering left
// unassigned.
const Noise = -1

// Assignment is an immutable snapshot of read-id -> cluster-id assignments
// for one sample. A read appears at most once. Cluster ids are either Noise
// or non-negative.
type Assignment struct {
	// reads lists read ids in table order.
	reads []string
	group map[string]int
	// maxGroup is the largest non-noise cluster id, or Noise if there is none.
	maxGroup int
}

// Row is one line of an assignment table. Tables may carry more columns
// (length, embedding coordinates); only these two are read.
type Row struct {
	Read      string `tsv:"read"`
	ClusterID int    `tsv:"cluster_id"`
}

// NewAssignment builds a snapshot from rows. A read listed twice is an
// integrity error: it would be processed by two clusters.
func NewAssignment(rows []Row) (*Assignment, error) {
	a := &Assignment{
		reads:    make([]string, 0, len(rows)),
		group:    make(map[string]int, len(rows)),
		maxGroup: Noise,
	}
	for _, row := range rows {
		if row.Read == "" {
			return nil, errors.E(errors.Invalid, "empty read id in cluster assignment")
		}
		if row.ClusterID < Noise {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("read %s: invalid cluster id %d", row.Read, row.ClusterID))
		}
		if prev, ok := a.group[row.Read]; ok {
			return nil, errors.E(errors.Integrity,
				fmt.Sprintf("read %s assigned twice (clusters %d and %d)", row.Read, prev, row.ClusterID))
		}
		a.reads = append(a.reads, row.Read)
		a.group[row.Read] = row.ClusterID
		if row.ClusterID > a.maxGroup {
			a.maxGroup = row.ClusterID
		}
	}
	return a, nil
}

// Len returns the number of reads in the snapshot.
func (a *Assignment) Len() int { return len(a.reads) }

// Group returns the cluster id of read.
func (a *Assignment) Group(read string) (int, bool) {
	id, ok := a.group[read]
	return id, ok
}

// MaxGroup returns the largest non-noise cluster id, or Noise if every read
// is noise.
func (a *Assignment) MaxGroup() int { return a.maxGroup }

// Rows returns the snapshot in table order.
func (a *Assignment) Rows() []Row {
	rows := make([]Row, len(a.reads))
	for i, read := range a.reads {
		rows[i] = Row{Read: read, ClusterID: a.group[read]}
	}
	return rows
}

// NoiseReads returns the ids of noise reads, in table order.
func (a *Assignment) NoiseReads() []string {
	var reads []string
	for _, read := range a.reads {
		if a.group[read] == Noise {
			reads = append(reads, read)
		}
	}
	return reads
}

// Sizes returns the number of reads in each non-noise cluster.
func (a *Assignment) Sizes() map[int]int {
	sizes := map[int]int{}
	for _, id := range a.group {
		if id != Noise {
			sizes[id]++
		}
	}
	return sizes
}

// GroupIDs returns the non-noise cluster ids in ascending order.
func (a *Assignment) GroupIDs() []int {
	sizes := a.Sizes()
	ids := make([]int, 0, len(sizes))
	for id := range sizes {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// withGroups returns a new snapshot in which every read in update is moved
// from Noise to the given cluster. The receiver is not modified. Moving a
// read that is not noise, or into an id that already exists in the
// receiver, is an integrity error.
func (a *Assignment) withGroups(update map[string]int) (*Assignment, error) {
	b := &Assignment{
		reads:    a.reads,
		group:    make(map[string]int, len(a.group)),
		maxGroup: a.maxGroup,
	}
	for read, id := range a.group {
		b.group[read] = id
	}
	existing := a.Sizes()
	for read, id := range update {
		prev, ok := a.group[read]
		if !ok {
			return nil, errors.E(errors.Integrity, fmt.Sprintf("rescued read %s is not in the assignment", read))
		}
		if prev != Noise {
			return nil, errors.E(errors.Integrity, fmt.Sprintf("read %s already belongs to cluster %d", read, prev))
		}
		if id <= a.maxGroup || existing[id] > 0 {
			return nil, errors.E(errors.Integrity,
				fmt.Sprintf("rescued cluster id %d collides with existing ids (max %d)", id, a.maxGroup))
		}
		b.group[read] = id
		if id > b.maxGroup {
			b.maxGroup = id
		}
	}
	return b, nil
}

// ReadAssignment parses an assignment table. The table must have a header
// row naming at least the "read" and "cluster_id" columns.
func ReadAssignment(r io.Reader) (*Assignment, error) {
	tr := tsv.NewReader(r)
	tr.HasHeaderRow = true
	tr.UseHeaderNames = true
	var rows []Row
	for {
		var row Row
		if err := tr.Read(&row); err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.E(errors.Invalid, "read cluster assignment", err)
		}
		rows = append(rows, row)
	}
	return NewAssignment(rows)
}

// ReadAssignmentFile reads an assignment table from path.
func ReadAssignmentFile(ctx context.Context, path string) (*Assignment, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "open", path)
	}
	a, err := ReadAssignment(in.Reader(ctx))
	once := errors.Once{}
	once.Set(err)
	once.Set(in.Close(ctx))
	if err := once.Err(); err != nil {
		return nil, errors.E(err, path)
	}
	return a, nil
}

// WriteAssignment writes a in the format read by ReadAssignment.
func WriteAssignment(w io.Writer, a *Assignment) error {
	tw := tsv.NewWriter(w)
	tw.WriteString("read")
	tw.WriteString("cluster_id")
	if err := tw.EndLine(); err != nil {
		return err
	}
	for _, row := range a.Rows() {
		tw.WriteString(row.Read)
		tw.WriteInt64(int64(row.ClusterID))
		if err := tw.EndLine(); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// WriteAssignmentFile writes a to path.
func WriteAssignmentFile(ctx context.Context, path string, a *Assignment) error {
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "create", path)
	}
	once := errors.Once{}
	once.Set(WriteAssignment(out.Writer(ctx), a))
	once.Set(out.Close(ctx))
	return once.Err()
}
