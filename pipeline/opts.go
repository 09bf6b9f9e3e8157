// Package pipeline runs samples end to end: optional noise rescue, splitting
// into clusters, assembly of every cluster, evidence collection,
// classification and reports.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/clusterseq/assembly"
	"github.com/grailbio/clusterseq/classify"
	"github.com/grailbio/clusterseq/cluster"
	"gopkg.in/yaml.v3"
)

// Grouper names for Opts.RescueGrouper.
const (
	GreedyGrouper  = "greedy"
	VsearchGrouper = "vsearch"
	MappingGrouper = "mapping"
)

// Programs names the external programs. Empty names use the defaults.
type Programs struct {
	Canu     string `yaml:"canu"`
	FastANI  string `yaml:"fastani"`
	Minimap2 string `yaml:"minimap2"`
	Racon    string `yaml:"racon"`
	Medaka   string `yaml:"medaka"`
	Vsearch  string `yaml:"vsearch"`
	// MedakaModel is passed to medaka_consensus -m.
	MedakaModel string `yaml:"medaka_model"`
	// GenomeSize is canu's genomeSize.
	GenomeSize string `yaml:"genome_size"`
	// Threads is the thread count of every program. It is also the CPU count
	// declared by each cluster.
	Threads int `yaml:"threads"`
	// InProcessCompare compares corrected sequences by edit distance
	// instead of running fastANI.
	InProcessCompare bool `yaml:"in_process_compare"`
}

// Opts configures a run.
type Opts struct {
	// OutDir receives reports, summary.json and results.rio.
	OutDir string `yaml:"out_dir"`
	// WorkDir holds per-cluster working directories.
	WorkDir string `yaml:"work_dir"`
	// Parallelism is the number of samples processed at once.
	Parallelism int `yaml:"parallelism"`

	// Rescue enables noise rescue.
	Rescue         bool    `yaml:"rescue"`
	RescueIdentity float64 `yaml:"rescue_identity"`
	RescueMinSize  int     `yaml:"rescue_min_size"`
	// RescueGrouper is one of "greedy", "vsearch" or "mapping".
	RescueGrouper string `yaml:"rescue_grouper"`
	// RescueMapping is the path template of precomputed rescue mappings,
	// with "{sample}" replaced by the sample id.
	RescueMapping string `yaml:"rescue_mapping"`

	Assembly assembly.Opts `yaml:"assembly"`
	Programs Programs      `yaml:"programs"`

	// UnitTimeout bounds one attempt at one cluster.
	UnitTimeout       time.Duration `yaml:"unit_timeout"`
	MaxAttempts       int           `yaml:"max_attempts"`
	RetryMemoryFactor float64       `yaml:"retry_memory_factor"`
	// UnitMemory and MemoryPerRead declare the memory of a cluster:
	// UnitMemory + size*MemoryPerRead bytes.
	UnitMemory    int64 `yaml:"unit_memory"`
	MemoryPerRead int64 `yaml:"memory_per_read"`
	// CapacityMemory and CapacityCPUs bound the clusters running at once.
	// Zero means the machine's free memory and CPU count.
	CapacityMemory int64 `yaml:"capacity_memory"`
	CapacityCPUs   int   `yaml:"capacity_cpus"`

	// Kraken2, Blast and FastANI are evidence path templates. "{sample}" and
	// "{cluster}" are replaced by the sample id and group id. An empty
	// template disables the source.
	Kraken2    string              `yaml:"kraken2"`
	Blast      string              `yaml:"blast"`
	FastANI    string              `yaml:"fastani"`
	Thresholds classify.Thresholds `yaml:"thresholds"`
	EM         classify.EMOpts     `yaml:"em"`
}

// DefaultOpts are the default run options.
var DefaultOpts = Opts{
	OutDir:            "out",
	WorkDir:           "work",
	Parallelism:       2,
	RescueIdentity:    cluster.DefaultRescueOpts.Identity,
	RescueMinSize:     cluster.DefaultRescueOpts.MinSize,
	RescueGrouper:     GreedyGrouper,
	Assembly:          assembly.DefaultOpts,
	Programs:          Programs{Threads: 1},
	UnitTimeout:       2 * time.Hour,
	MaxAttempts:       2,
	RetryMemoryFactor: 2,
	UnitMemory:        256 << 20,
	MemoryPerRead:     1 << 20,
	Thresholds:        classify.DefaultThresholds,
	EM:                classify.DefaultEMOpts,
}

// Validate checks that the options are in range.
func (o Opts) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}
	check(o.OutDir != "", "out_dir must be set")
	check(o.WorkDir != "", "work_dir must be set")
	check(o.Parallelism > 0, "parallelism %d must be positive", o.Parallelism)
	check(o.RescueIdentity > 0 && o.RescueIdentity <= 1, "rescue_identity %v must be in (0, 1]", o.RescueIdentity)
	check(o.RescueMinSize > 0, "rescue_min_size %d must be positive", o.RescueMinSize)
	switch o.RescueGrouper {
	case GreedyGrouper, VsearchGrouper:
	case MappingGrouper:
		check(!o.Rescue || o.RescueMapping != "", "rescue_grouper mapping needs rescue_mapping")
	default:
		check(false, "unknown rescue_grouper %q", o.RescueGrouper)
	}
	check(o.Assembly.SubsampleSize > 0, "subsample_size %d must be positive", o.Assembly.SubsampleSize)
	check(o.Assembly.PolishRounds >= 0, "polish_rounds %d must not be negative", o.Assembly.PolishRounds)
	check(o.Programs.Threads > 0, "threads %d must be positive", o.Programs.Threads)
	check(o.UnitTimeout >= 0, "unit_timeout %v must not be negative", o.UnitTimeout)
	check(o.MaxAttempts > 0, "max_attempts %d must be positive", o.MaxAttempts)
	check(o.RetryMemoryFactor >= 1, "retry_memory_factor %v must be at least 1", o.RetryMemoryFactor)
	check(o.UnitMemory >= 0 && o.MemoryPerRead >= 0, "unit memory must not be negative")
	check(o.CapacityMemory >= 0 && o.CapacityCPUs >= 0, "capacity must not be negative")
	check(o.EM.MaxIterations > 0, "em max_iterations %d must be positive", o.EM.MaxIterations)
	check(o.EM.Convergence > 0, "em convergence %v must be positive", o.EM.Convergence)
	check(o.EM.Novelty >= 0 && o.EM.Novelty <= 1, "em novelty %v must be in [0, 1]", o.EM.Novelty)
	check(o.Thresholds.MinBlastIdentity >= 0 && o.Thresholds.MinBlastIdentity <= 100, "min_blast_identity %v must be a percentage", o.Thresholds.MinBlastIdentity)
	check(o.Thresholds.MinANI >= 0 && o.Thresholds.MinANI <= 100, "min_ani %v must be a percentage", o.Thresholds.MinANI)
	check(o.Thresholds.MinKraken2Confidence >= 0 && o.Thresholds.MinKraken2Confidence <= 1, "min_kraken2_confidence %v must be in [0, 1]", o.Thresholds.MinKraken2Confidence)
	if len(problems) > 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("invalid options: %v", problems))
	}
	return nil
}

// LoadConfig overlays the YAML file at path onto opts. Keys missing from the
// file keep their current values.
func LoadConfig(ctx context.Context, path string, opts *Opts) error {
	data, err := file.ReadFile(ctx, path)
	if err != nil {
		return errors.E(err, "read config", path)
	}
	if err := yaml.Unmarshal(data, opts); err != nil {
		return errors.E(errors.Invalid, "parse config", path, err)
	}
	return nil
}
