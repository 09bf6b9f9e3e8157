package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/clusterseq/assembly"
	"github.com/grailbio/clusterseq/internal/tool"
	"github.com/grailbio/clusterseq/pipeline"
	"v.io/x/lib/cmdline"
)

// registerOpts binds the pipeline options to flags. The flag defaults are
// the values in opts.
func registerOpts(fs *flag.FlagSet, opts *pipeline.Opts) {
	fs.StringVar(&opts.OutDir, "out-dir", opts.OutDir, "Directory for the reports.")
	fs.StringVar(&opts.WorkDir, "work-dir", opts.WorkDir, "Directory for per-cluster scratch files.")
	fs.IntVar(&opts.Parallelism, "parallelism", opts.Parallelism, "Number of samples processed at once.")

	fs.BoolVar(&opts.Rescue, "rescue", opts.Rescue, "Regroup noise reads into new clusters before assembly.")
	fs.Float64Var(&opts.RescueIdentity, "rescue-identity", opts.RescueIdentity, "Identity threshold for noise regrouping.")
	fs.IntVar(&opts.RescueMinSize, "rescue-min-size", opts.RescueMinSize, "Minimum size of a rescued cluster.")
	fs.StringVar(&opts.RescueGrouper, "rescue-grouper", opts.RescueGrouper, `How noise reads are regrouped: "greedy", "vsearch" or "mapping".`)
	fs.StringVar(&opts.RescueMapping, "rescue-mapping", opts.RescueMapping,
		`For -rescue-grouper=mapping, path of a "read<TAB>label" file. "{sample}" is replaced by the sample id.`)

	fs.IntVar(&opts.Assembly.SubsampleSize, "subsample", opts.Assembly.SubsampleSize, "Maximum number of reads passed to error correction.")
	fs.IntVar(&opts.Assembly.PolishRounds, "polish-rounds", opts.Assembly.PolishRounds, "Number of iterative polishing rounds.")
	fs.BoolVar(&opts.Assembly.SkipIterativePolish, "skip-polish", opts.Assembly.SkipIterativePolish, "Skip iterative polishing.")
	fs.Int64Var(&opts.Assembly.Seed, "seed", opts.Assembly.Seed, "Subsampling seed.")

	p := &opts.Programs
	fs.StringVar(&p.Canu, "canu", p.Canu, "canu binary.")
	fs.StringVar(&p.FastANI, "fastani-bin", p.FastANI, "fastANI binary.")
	fs.StringVar(&p.Minimap2, "minimap2", p.Minimap2, "minimap2 binary.")
	fs.StringVar(&p.Racon, "racon", p.Racon, "racon binary.")
	fs.StringVar(&p.Medaka, "medaka", p.Medaka, "medaka_consensus binary.")
	fs.StringVar(&p.Vsearch, "vsearch", p.Vsearch, "vsearch binary.")
	fs.StringVar(&p.MedakaModel, "medaka-model", p.MedakaModel, "medaka model name.")
	fs.StringVar(&p.GenomeSize, "genome-size", p.GenomeSize, "Expected consensus length, passed to canu.")
	fs.IntVar(&p.Threads, "threads", p.Threads, "Threads per external program.")
	fs.BoolVar(&p.InProcessCompare, "in-process-compare", p.InProcessCompare, "Compare corrected reads in process instead of running fastANI.")

	fs.DurationVar(&opts.UnitTimeout, "unit-timeout", opts.UnitTimeout, "Time budget of one cluster attempt.")
	fs.IntVar(&opts.MaxAttempts, "max-attempts", opts.MaxAttempts, "Attempts per cluster that runs out of time or memory.")
	fs.Float64Var(&opts.RetryMemoryFactor, "retry-memory-factor", opts.RetryMemoryFactor, "Memory multiplier applied on each retry.")
	fs.Int64Var(&opts.UnitMemory, "unit-memory", opts.UnitMemory, "Base memory reserved per cluster, in bytes.")
	fs.Int64Var(&opts.MemoryPerRead, "memory-per-read", opts.MemoryPerRead, "Additional memory reserved per read, in bytes.")
	fs.Int64Var(&opts.CapacityMemory, "capacity-memory", opts.CapacityMemory, "Memory available to clusters, in bytes. 0 means total system memory.")
	fs.IntVar(&opts.CapacityCPUs, "capacity-cpus", opts.CapacityCPUs, "CPUs available to clusters. 0 means all.")

	registerEvidenceFlags(fs, opts)
}

func registerEvidenceFlags(fs *flag.FlagSet, opts *pipeline.Opts) {
	const placeholders = ` "{sample}" and "{cluster}" are replaced by the sample and cluster id. Empty disables the source.`
	fs.StringVar(&opts.Kraken2, "kraken2", opts.Kraken2, "Per-cluster kraken2 output."+placeholders)
	fs.StringVar(&opts.Blast, "blast", opts.Blast, "Per-cluster BLAST CSV output from -outfmt \"10 staxids sscinames evalue length score pident\"."+placeholders)
	fs.StringVar(&opts.FastANI, "fastani", opts.FastANI, "Per-cluster fastANI output."+placeholders)
	th := &opts.Thresholds
	fs.Float64Var(&th.MinKraken2Confidence, "min-kraken2-confidence", th.MinKraken2Confidence, "Minimum kraken2 confidence.")
	fs.Float64Var(&th.MinBlastIdentity, "min-blast-identity", th.MinBlastIdentity, "Minimum BLAST percent identity.")
	fs.Float64Var(&th.MinANI, "min-ani", th.MinANI, "Minimum fastANI identity.")
	fs.IntVar(&opts.EM.MaxIterations, "em-iterations", opts.EM.MaxIterations, "Maximum EM iterations.")
	fs.Float64Var(&opts.EM.Convergence, "em-convergence", opts.EM.Convergence, "EM convergence threshold.")
	fs.Float64Var(&opts.EM.Novelty, "novelty", opts.EM.Novelty, "Posterior below which a call is flagged novel.")
}

func newCmdRun() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "run",
		Short:    "Rescue, assemble and classify the clusters of every sample in a sample sheet",
		ArgsName: "samples.tsv",
	}
	opts := pipeline.DefaultOpts
	config := cmd.Flags.String("config", "", "YAML file of pipeline options. Flags given on the command line override it.")
	registerOpts(&cmd.Flags, &opts)
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("run takes one sample sheet, but got %v", argv)
		}
		ctx := vcontext.Background()
		if err := applyConfig(ctx, &cmd.Flags, *config, &opts); err != nil {
			return err
		}
		sum, err := runSheet(ctx, opts, argv[0], pipeline.ExternalTools)
		if sum != nil {
			log.Printf("run %s done in %s", sum.RunID, sum.Elapsed)
		}
		return err
	})
	return cmd
}

// applyConfig overlays the YAML file at path onto opts, whose fields are
// bound to fs. The file overrides the defaults; flags already set in fs
// override the file. An empty path leaves opts alone.
func applyConfig(ctx context.Context, fs *flag.FlagSet, path string, opts *pipeline.Opts) error {
	if path == "" {
		return nil
	}
	set := map[string]string{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = f.Value.String() })
	if err := pipeline.LoadConfig(ctx, path, opts); err != nil {
		return err
	}
	for name, value := range set {
		if err := fs.Set(name, value); err != nil {
			return err
		}
	}
	return nil
}

// runSheet runs the pipeline over the samples listed in the sheet at path.
func runSheet(ctx context.Context, opts pipeline.Opts, path string, tools func(pipeline.Opts, *tool.Runner) assembly.Tools) (*pipeline.Summary, error) {
	samples, err := pipeline.ReadSamplesFile(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := pipeline.MkdirAll(opts); err != nil {
		return nil, err
	}
	runner := tool.NewRunner()
	p, err := pipeline.New(opts, tools(opts, runner), runner)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx, samples)
}
