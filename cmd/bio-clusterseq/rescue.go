package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/clusterseq/cluster"
	"github.com/grailbio/clusterseq/internal/tool"
	"github.com/grailbio/clusterseq/pipeline"
	"v.io/x/lib/cmdline"
)

func newCmdRescue() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "rescue",
		Short: "Regroup the noise reads of one sample into new clusters",
		Long: `
Rescue reads a FASTQ file and its cluster assignment, regroups the noise reads
and writes the updated assignment to the output path. Rescue statistics are
printed to stdout as JSON.`,
		ArgsName: "reads.fastq assignment.tsv output.tsv",
	}
	opts := cluster.DefaultRescueOpts
	cmd.Flags.Float64Var(&opts.Identity, "identity", opts.Identity, "Identity threshold for regrouping.")
	cmd.Flags.IntVar(&opts.MinSize, "min-size", opts.MinSize, "Minimum size of a rescued cluster.")
	vsearch := cmd.Flags.String("vsearch", "", "If set, regroup with this vsearch binary instead of the in-process greedy grouper.")
	workDir := cmd.Flags.String("work-dir", "work", "Scratch directory for vsearch.")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 3 {
			return fmt.Errorf("rescue takes reads.fastq assignment.tsv output.tsv, but got %v", argv)
		}
		ctx := vcontext.Background()
		reads, err := pipeline.ReadFASTQFile(ctx, argv[0])
		if err != nil {
			return err
		}
		a, err := cluster.ReadAssignmentFile(ctx, argv[1])
		if err != nil {
			return err
		}
		var g cluster.Grouper = cluster.GreedyGrouper{}
		if *vsearch != "" {
			dir, err := tool.MakeUnitDir(*workDir, argv[0], cluster.Noise, 1)
			if err != nil {
				return err
			}
			g = cluster.VsearchGrouper{Runner: tool.NewRunner(), Program: *vsearch, Dir: dir}
		}
		rescued, stats, err := cluster.Rescue(ctx, a, reads, g, opts)
		if err != nil {
			return err
		}
		if err := cluster.WriteAssignmentFile(ctx, argv[2], rescued); err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	})
	return cmd
}
