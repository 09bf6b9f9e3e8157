package fastq

import (
	"math/rand"
	"sort"

	"github.com/pkg/errors"
)

// Subsample returns at most n reads chosen uniformly at random from reads.
// Selection is deterministic for a given seed, and the selected reads keep
// their relative input order. If len(reads) <= n, reads is returned as is.
func Subsample(reads []Read, n int, seed int64) ([]Read, error) {
	if n <= 0 {
		return nil, errors.Errorf("subsample size must be positive, got %d", n)
	}
	if len(reads) <= n {
		return reads, nil
	}
	random := rand.New(rand.NewSource(seed))
	// Reservoir of indexes into reads.
	reservoir := make([]int, n)
	for i := range reservoir {
		reservoir[i] = i
	}
	for i := n; i < len(reads); i++ {
		if j := random.Intn(i + 1); j < n {
			reservoir[j] = i
		}
	}
	sort.Ints(reservoir)
	out := make([]Read, n)
	for i, idx := range reservoir {
		out[i] = reads[idx]
	}
	return out, nil
}
