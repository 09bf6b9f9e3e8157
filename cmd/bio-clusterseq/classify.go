package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/clusterseq/classify"
	"github.com/grailbio/clusterseq/pipeline"
	"v.io/x/lib/cmdline"
)

func newCmdClassify() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "classify",
		Short:    "Classify clusters from existing evidence files and print one call per cluster",
		ArgsName: "sample cluster-id...",
	}
	opts := pipeline.DefaultOpts
	registerEvidenceFlags(&cmd.Flags, &opts)
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) < 2 {
			return fmt.Errorf("classify takes a sample id and at least one cluster id, but got %v", argv)
		}
		sampleID := argv[0]
		var ids []int
		for _, arg := range argv[1:] {
			id, err := strconv.Atoi(arg)
			if err != nil {
				return fmt.Errorf("classify: bad cluster id %q: %v", arg, err)
			}
			ids = append(ids, id)
		}
		collector := classify.NewCollector(classify.NewInputs(opts.Kraken2, opts.Blast, opts.FastANI, opts.Thresholds))
		evidence, err := collector.Collect(vcontext.Background(), sampleID, ids)
		if err != nil {
			return err
		}
		calls := make([]classify.Consensus, len(ids))
		for i, id := range ids {
			if calls[i], err = classify.Classify(id, evidence[i], nil, opts.EM); err != nil {
				return err
			}
		}
		agg, err := classify.Aggregate(sampleID, ids, calls)
		if err != nil {
			return err
		}
		return writeCalls(os.Stdout, agg)
	})
	return cmd
}

func writeCalls(w io.Writer, agg *classify.Aggregated) error {
	tw := tsv.NewWriter(w)
	for _, col := range []string{"cluster_id", "taxon", "taxid", "confidence", "confidence_level", "is_novel", "sources", "posterior"} {
		tw.WriteString(col)
	}
	if err := tw.EndLine(); err != nil {
		return err
	}
	for _, c := range agg.Calls {
		tw.WriteInt64(int64(c.GroupID))
		tw.WriteString(c.TopTaxon)
		tw.WriteString(c.TopTaxID)
		tw.WriteString(strconv.FormatFloat(c.Confidence, 'f', 4, 64))
		tw.WriteString(string(c.Level))
		tw.WriteString(strconv.FormatBool(c.IsNovel))
		tw.WriteString(c.Sources())
		post := make([]string, len(c.Candidates))
		for i, cand := range c.Candidates {
			post[i] = fmt.Sprintf("%s:%.4f", cand.Name(), c.Posterior[i])
		}
		tw.WriteString(strings.Join(post, ","))
		if err := tw.EndLine(); err != nil {
			return err
		}
	}
	return tw.Flush()
}
