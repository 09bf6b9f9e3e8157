package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/clusterseq/pipeline"
	"v.io/x/lib/cmdline"
)

func newCmdDump() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "dump",
		Short:    "Print the contents of a results.rio file",
		ArgsName: "results.rio",
	}
	summaryOnly := cmd.Flags.Bool("summary", false, "Print only the run summary.")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("dump takes one path, but got %v", argv)
		}
		ctx := vcontext.Background()
		r, err := pipeline.NewResultsReader(ctx, argv[0])
		if err != nil {
			return err
		}
		fmt.Printf("run %s\n", r.RunID())
		for !*summaryOnly && r.Scan() {
			res := r.Get()
			if res.Err != "" {
				fmt.Printf("%s\tfailed\t%s\n", res.SampleID, res.Err)
				continue
			}
			g := res.Gathered
			for i, id := range g.GroupIDs {
				c := res.Calls.Calls[i]
				fmt.Printf("%s\t%d\t%d\t%d\t%s\t%.4f\t%s\n", res.SampleID, id, g.Sizes[i], len(g.Consensus[i]),
					c.TopTaxon, c.Confidence, c.Level)
			}
			for _, d := range g.Abandoned {
				fmt.Printf("%s\t%d\tabandoned\t%s\t%d\n", res.SampleID, d.GroupID, d.Reason, d.Attempts)
			}
		}
		if err := r.Err(); err != nil {
			_ = r.Close(ctx)
			return err
		}
		sum, err := r.Summary()
		if err != nil {
			_ = r.Close(ctx)
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(sum); err != nil {
			return err
		}
		return r.Close(ctx)
	})
	return cmd
}
