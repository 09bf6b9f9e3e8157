package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/clusterseq/classify"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptsValid(t *testing.T) {
	assert.NoError(t, DefaultOpts.Validate())
}

func TestValidate(t *testing.T) {
	for _, test := range []struct {
		name   string
		modify func(*Opts)
		want   string
	}{
		{"no out dir", func(o *Opts) { o.OutDir = "" }, "out_dir"},
		{"identity", func(o *Opts) { o.RescueIdentity = 1.5 }, "rescue_identity"},
		{"mapping path", func(o *Opts) { o.Rescue, o.RescueGrouper = true, MappingGrouper }, "rescue_mapping"},
		{"retry factor", func(o *Opts) { o.RetryMemoryFactor = 0.5 }, "retry_memory_factor"},
		{"novelty", func(o *Opts) { o.EM.Novelty = 2 }, "novelty"},
		{"blast identity", func(o *Opts) { o.Thresholds.MinBlastIdentity = 101 }, "min_blast_identity"},
	} {
		t.Run(test.name, func(t *testing.T) {
			opts := DefaultOpts
			test.modify(&opts)
			err := opts.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(errors.Invalid, err))
			assert.Contains(t, err.Error(), test.want)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := filepath.Join(dir, "config.yaml")
	writeTestFile(t, path, `
out_dir: results
rescue: true
rescue_grouper: vsearch
unit_timeout: 30m
assembly:
  polish_rounds: 3
programs:
  medaka_model: r941_min_high_g360
  threads: 4
thresholds:
  min_ani: 95
em:
  novelty: 0.4
`)
	opts := DefaultOpts
	require.NoError(t, LoadConfig(context.Background(), path, &opts))
	assert.Equal(t, "results", opts.OutDir)
	assert.Equal(t, DefaultOpts.WorkDir, opts.WorkDir)
	assert.True(t, opts.Rescue)
	assert.Equal(t, VsearchGrouper, opts.RescueGrouper)
	assert.Equal(t, 30*time.Minute, opts.UnitTimeout)
	assert.Equal(t, 3, opts.Assembly.PolishRounds)
	assert.Equal(t, DefaultOpts.Assembly.SubsampleSize, opts.Assembly.SubsampleSize)
	assert.Equal(t, "r941_min_high_g360", opts.Programs.MedakaModel)
	assert.Equal(t, 4, opts.Programs.Threads)
	assert.Equal(t, 95.0, opts.Thresholds.MinANI)
	assert.Equal(t, classify.DefaultThresholds.MinBlastIdentity, opts.Thresholds.MinBlastIdentity)
	assert.Equal(t, 0.4, opts.EM.Novelty)
	assert.NoError(t, opts.Validate())

	writeTestFile(t, path, "parallelism: [1, 2]\n")
	err := LoadConfig(context.Background(), path, &opts)
	require.Error(t, err)
	assert.True(t, errors.Is(errors.Invalid, err))
}

func TestReadSamples(t *testing.T) {
	samples, err := ReadSamples(strings.NewReader(
		"sample\treads\tassignment\n" +
			"# comment\n" +
			"s1\ts1.fastq.gz\ts1.tsv\n" +
			"s2\ts2.fastq\ts2.tsv\n"))
	require.NoError(t, err)
	assert.Equal(t, []Sample{
		{ID: "s1", Reads: "s1.fastq.gz", Assignment: "s1.tsv"},
		{ID: "s2", Reads: "s2.fastq", Assignment: "s2.tsv"},
	}, samples)

	_, err = ReadSamples(strings.NewReader("sample\treads\tassignment\ns1\ta\tb\ns1\tc\td\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate sample s1")

	_, err = ReadSamples(strings.NewReader("sample\treads\tassignment\ns1\t\tb\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "incomplete")
}
