// bio-clusterseq assembles one consensus sequence per read cluster and
// classifies each consensus from external taxonomic evidence.
//
// Example: run the whole pipeline on every sample of a sample sheet.
//
//	bio-clusterseq run -out-dir=out -work-dir=work -rescue \
//	    -kraken2='k2/{sample}/cluster_{cluster}.kraken' samples.tsv
//
// The sample sheet is a TSV file with columns "sample", "reads" and
// "assignment".
package main

import (
	"github.com/grailbio/base/grail"
	"v.io/x/lib/cmdline"
)

func main() {
	cleanup := grail.Init()
	defer cleanup()
	cmdline.HideGlobalFlagsExcept()
	cmdline.Main(
		&cmdline.Command{
			Name:     "bio-clusterseq",
			Short:    "Per-cluster consensus assembly and taxonomic classification",
			LookPath: false,
			Children: []*cmdline.Command{
				newCmdRun(),
				newCmdRescue(),
				newCmdClassify(),
				newCmdDump(),
			},
		})
}
