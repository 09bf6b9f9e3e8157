package cluster

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/clusterseq/encoding/fastq"
)

// RescueOpts configures noise rescue. The secondary clustering is meant to be
// more permissive than the primary one: a lower similarity threshold and a
// smaller minimum cluster size.
type RescueOpts struct {
	// Identity is the minimum identity for a noise read to join a secondary
	// cluster. It is passed to the Grouper.
	Identity float64
	// MinSize is the minimum number of reads in a secondary cluster. Smaller
	// clusters are discarded and their reads stay noise.
	MinSize int
}

// DefaultRescueOpts are the rescue defaults.
var DefaultRescueOpts = RescueOpts{
	Identity: 0.85,
	MinSize:  5,
}

// RescueStats summarizes one rescue.
type RescueStats struct {
	NoiseIn       int     `json:"noise_in"`
	GroupsRescued int     `json:"groups_rescued"`
	ReadsRescued  int     `json:"reads_rescued"`
	ResidualNoise int     `json:"residual_noise"`
	RescueRate    float64 `json:"rescue_rate"`
	// FirstID is the id given to the first rescued cluster. Rescued clusters
	// are numbered FirstID, FirstID+1, ... It is zero when nothing was
	// rescued.
	FirstID int `json:"first_id"`
}

// Grouper clusters a set of reads. Each returned group lists read names;
// a read may appear in at most one group, and reads left out of every group
// remain unclustered. The order of the returned groups determines the order
// in which new cluster ids are handed out, so it must be deterministic.
type Grouper interface {
	Group(ctx context.Context, reads []fastq.Read, identity float64) ([][]string, error)
}

// Rescue re-clusters the noise reads of a with g and returns a new snapshot
// in which every secondary cluster of at least opts.MinSize reads gets a
// fresh id. Fresh ids start at a.MaxGroup()+1, so they never collide with a
// primary cluster. Reads that already belong to a cluster are never moved.
// The receiver snapshot a is left unchanged.
//
// reads supplies the sequences of the noise reads; noise reads missing from
// it cannot be rescued.
func Rescue(ctx context.Context, a *Assignment, reads []fastq.Read, g Grouper, opts RescueOpts) (*Assignment, RescueStats, error) {
	noise := a.NoiseReads()
	stats := RescueStats{NoiseIn: len(noise), ResidualNoise: len(noise)}
	if len(noise) == 0 {
		return a, RescueStats{}, nil
	}
	noiseSet := make(map[string]bool, len(noise))
	for _, r := range noise {
		noiseSet[r] = true
	}
	var noiseReads []fastq.Read
	for _, r := range reads {
		if noiseSet[r.Name()] {
			noiseReads = append(noiseReads, r)
		}
	}
	if len(noiseReads) < opts.MinSize {
		log.Printf("rescue: %d noise reads with sequence, fewer than min cluster size %d", len(noiseReads), opts.MinSize)
		return a, stats, nil
	}
	groups, err := g.Group(ctx, noiseReads, opts.Identity)
	if err != nil {
		return nil, RescueStats{}, errors.E(err, "secondary clustering")
	}

	var (
		nextID = a.MaxGroup() + 1
		update = map[string]int{}
		seen   = map[string]bool{}
	)
	stats.FirstID = nextID
	for _, group := range groups {
		var members []string
		for _, read := range group {
			if seen[read] {
				return nil, RescueStats{}, errors.E(errors.Integrity,
					fmt.Sprintf("read %s appears in two secondary clusters", read))
			}
			seen[read] = true
			if !noiseSet[read] {
				// The grouper saw only noise reads; anything else is a label
				// mismatch and must not move a clustered read.
				log.Error.Printf("rescue: ignoring read %s, not a noise read", read)
				continue
			}
			members = append(members, read)
		}
		if len(members) < opts.MinSize {
			continue
		}
		for _, read := range members {
			update[read] = nextID
		}
		nextID++
		stats.GroupsRescued++
		stats.ReadsRescued += len(members)
	}
	if stats.GroupsRescued == 0 {
		stats.FirstID = 0
		return a, stats, nil
	}
	b, err := a.withGroups(update)
	if err != nil {
		return nil, RescueStats{}, err
	}
	stats.ResidualNoise = len(b.NoiseReads())
	stats.RescueRate = math.Round(float64(stats.ReadsRescued)/float64(stats.NoiseIn)*100*100) / 100
	log.Printf("rescue: rescued %d/%d noise reads into %d new clusters (%v%%), ids %d..%d",
		stats.ReadsRescued, stats.NoiseIn, stats.GroupsRescued, stats.RescueRate, stats.FirstID, nextID-1)
	return b, stats, nil
}

// GroupsFromLabels converts a read -> label mapping, as written by external
// clustering programs, into groups. Groups are ordered by their smallest
// member index in order, and members keep the order of order. Reads in
// labels but not in order are dropped.
func GroupsFromLabels(labels map[string]string, order []string) [][]string {
	byLabel := map[string][]string{}
	var first []string
	for _, read := range order {
		label, ok := labels[read]
		if !ok {
			continue
		}
		if _, ok := byLabel[label]; !ok {
			first = append(first, label)
		}
		byLabel[label] = append(byLabel[label], read)
	}
	groups := make([][]string, len(first))
	for i, label := range first {
		groups[i] = byLabel[label]
	}
	return groups
}

// sortGroupsBySize orders groups by decreasing size; ties keep their order.
func sortGroupsBySize(groups [][]string) {
	sort.SliceStable(groups, func(i, j int) bool {
		return len(groups[i]) > len(groups[j])
	})
}
