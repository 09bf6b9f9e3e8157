package classify

import (
	"context"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
)

// Input is one enabled evidence source.
type Input struct {
	Parser Parser
	// Path is a path template. "{sample}" and "{cluster}" are replaced with
	// the sample id and the group id.
	Path string
}

// Expand returns the path of the input for one cluster.
func (in Input) Expand(sampleID string, groupID int) string {
	return strings.NewReplacer("{sample}", sampleID, "{cluster}", strconv.Itoa(groupID)).Replace(in.Path)
}

// Thresholds are the per-source evidence filters.
type Thresholds struct {
	MinKraken2Confidence float64 `yaml:"min_kraken2_confidence"`
	MinBlastIdentity     float64 `yaml:"min_blast_identity"`
	MinANI               float64 `yaml:"min_ani"`
}

// DefaultThresholds are the default evidence filters.
var DefaultThresholds = Thresholds{
	MinKraken2Confidence: 0.1,
	MinBlastIdentity:     70,
	MinANI:               80,
}

// NewInputs returns the inputs for the sources whose path template is
// non-empty, in the order kraken2, blast, fastani.
func NewInputs(kraken2, blast, fastani string, th Thresholds) []Input {
	var ins []Input
	if kraken2 != "" {
		ins = append(ins, Input{Kraken2Parser{MinConfidence: th.MinKraken2Confidence}, kraken2})
	}
	if blast != "" {
		ins = append(ins, Input{BlastParser{MinIdentity: th.MinBlastIdentity}, blast})
	}
	if fastani != "" {
		ins = append(ins, Input{FastANIParser{MinANI: th.MinANI}, fastani})
	}
	return ins
}

// Collector gathers the evidence of a sample's clusters from every enabled
// source. The set of sources is fixed at construction.
type Collector struct {
	inputs []Input
}

// NewCollector creates a collector over the given inputs.
func NewCollector(inputs []Input) *Collector {
	return &Collector{inputs: inputs}
}

// Sources returns the names of the enabled sources.
func (c *Collector) Sources() []string {
	names := make([]string, len(c.inputs))
	for i, in := range c.inputs {
		names[i] = in.Parser.Source()
	}
	return names
}

// Collect returns the evidence for each group, index-aligned with groupIDs.
// A missing file is no evidence from that source. A file that cannot be
// read or parsed is logged and contributes whatever it yielded before the
// failure.
func (c *Collector) Collect(ctx context.Context, sampleID string, groupIDs []int) ([][]Evidence, error) {
	ev := make([][]Evidence, len(groupIDs))
	err := traverse.Each(len(groupIDs), func(i int) error {
		for _, in := range c.inputs {
			if err := ctx.Err(); err != nil {
				return err
			}
			path := in.Expand(sampleID, groupIDs[i])
			items, err := parseFile(ctx, in.Parser, path, groupIDs[i])
			if err != nil {
				if notExist(err) {
					log.Debug.Printf("%s: cluster %d: no %s evidence at %s", sampleID, groupIDs[i], in.Parser.Source(), path)
				} else {
					log.Error.Printf("%s: cluster %d: %s: %v", sampleID, groupIDs[i], path, err)
				}
			}
			ev[i] = append(ev[i], items...)
		}
		return nil
	})
	return ev, err
}

func parseFile(ctx context.Context, p Parser, path string, groupID int) (ev []Evidence, err error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if e := f.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	var r io.Reader = f.Reader(ctx)
	if u := compress.NewReaderPath(r, f.Name()); u != nil {
		r = u
	}
	return p.Parse(r, groupID)
}

func notExist(err error) bool {
	return errors.Is(errors.NotExist, err) || os.IsNotExist(err)
}
