package cluster

import (
	"github.com/grailbio/base/log"
	"github.com/grailbio/clusterseq/encoding/fastq"
)

// Unit is the independent unit of work for one cluster of one sample.
type Unit struct {
	SampleID string
	GroupID  int
	// Reads are the reads of the cluster, in input order.
	Reads []fastq.Read
	// Size is the number of reads the assignment places in the cluster. It is
	// computed once here so that size-based decisions downstream never need to
	// rescan the reads. Size may exceed len(Reads) if the read file lacks some
	// assigned reads.
	Size int
}

// Split groups a sample's reads by cluster id and returns one Unit per
// non-noise cluster, in ascending cluster id order. Reads that are noise or
// absent from the assignment are dropped. A sample whose assignment is all
// noise yields no units.
func Split(sampleID string, reads []fastq.Read, a *Assignment) []Unit {
	sizes := a.Sizes()
	ids := a.GroupIDs()
	index := make(map[int]int, len(ids))
	units := make([]Unit, len(ids))
	for i, id := range ids {
		index[id] = i
		units[i] = Unit{
			SampleID: sampleID,
			GroupID:  id,
			Size:     sizes[id],
			Reads:    make([]fastq.Read, 0, sizes[id]),
		}
	}
	var nUnassigned int
	for _, r := range reads {
		id, ok := a.Group(r.Name())
		if !ok {
			nUnassigned++
			continue
		}
		if id == Noise {
			continue
		}
		u := &units[index[id]]
		u.Reads = append(u.Reads, r)
	}
	if nUnassigned > 0 {
		log.Debug.Printf("%s: %d reads have no cluster assignment", sampleID, nUnassigned)
	}
	for _, u := range units {
		if len(u.Reads) < u.Size {
			log.Debug.Printf("%s: cluster %d: %d of %d assigned reads found in the read file",
				sampleID, u.GroupID, len(u.Reads), u.Size)
		}
	}
	return units
}
