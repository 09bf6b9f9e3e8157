package pipeline

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/clusterseq/encoding/fastq"
)

// Sample is one row of a sample sheet.
type Sample struct {
	ID string `tsv:"sample"`
	// Reads is a FASTQ file, optionally compressed.
	Reads string `tsv:"reads"`
	// Assignment is the read-to-cluster table of the sample.
	Assignment string `tsv:"assignment"`
}

// ReadSamples reads a tab-separated sample sheet with the header columns
// "sample", "reads" and "assignment". Sample ids must be unique.
func ReadSamples(r io.Reader) ([]Sample, error) {
	tr := tsv.NewReader(r)
	tr.HasHeaderRow = true
	tr.UseHeaderNames = true
	tr.Comment = '#'
	var (
		samples []Sample
		seen    = map[string]bool{}
	)
	for {
		var s Sample
		if err := tr.Read(&s); err != nil {
			if err == io.EOF {
				return samples, nil
			}
			return nil, errors.E(errors.Invalid, "sample sheet", err)
		}
		s.ID = strings.TrimSpace(s.ID)
		if s.ID == "" || s.Reads == "" || s.Assignment == "" {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("sample sheet: incomplete row %+v", s))
		}
		if seen[s.ID] {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("sample sheet: duplicate sample %s", s.ID))
		}
		seen[s.ID] = true
		samples = append(samples, s)
	}
}

// ReadSamplesFile reads a sample sheet from path.
func ReadSamplesFile(ctx context.Context, path string) (samples []Sample, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if e := in.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	if samples, err = ReadSamples(in.Reader(ctx)); err != nil {
		return nil, errors.E(err, path)
	}
	return samples, nil
}

// ReadFASTQFile reads all reads of a FASTQ file, decompressing it if its
// name says so.
func ReadFASTQFile(ctx context.Context, path string) (reads []fastq.Read, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if e := in.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	var r io.Reader = in.Reader(ctx)
	if u := compress.NewReaderPath(r, in.Name()); u != nil {
		r = u
	}
	if reads, err = fastq.ReadAll(r, fastq.All); err != nil {
		return nil, errors.E(errors.Invalid, path, err)
	}
	return reads, nil
}
