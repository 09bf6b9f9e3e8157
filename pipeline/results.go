package pipeline

// ResultsWriter and ResultsReader store the SampleResults of a run in a
// recordio file, one gob-encoded record per sample, with the run Summary in
// the trailer. "bio-clusterseq dump" prints such a file.

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
)

const (
	// <resultsVersionHeader, resultsVersion> is stored in the recordio header.
	resultsVersionHeader = "clusterseqversion"
	resultsVersion       = "CLUSTERSEQ_V1"
	runIDHeader          = "runid"
)

// ResultsWriter writes SampleResults to a recordio file.
type ResultsWriter struct {
	out file.File
	w   recordio.Writer
}

// NewResultsWriter creates path and writes the header.
func NewResultsWriter(ctx context.Context, path, runID string) (*ResultsWriter, error) {
	recordiozstd.Init()
	out, err := file.Create(ctx, path)
	if err != nil {
		return nil, errors.E(err, "create", path)
	}
	w := recordio.NewWriter(out.Writer(ctx), recordio.WriterOpts{
		Transformers: []string{recordiozstd.Name},
	})
	w.AddHeader(resultsVersionHeader, resultsVersion)
	w.AddHeader(runIDHeader, runID)
	w.AddHeader(recordio.KeyTrailer, true)
	return &ResultsWriter{out: out, w: w}, nil
}

// Write appends the result of one sample.
func (w *ResultsWriter) Write(r *SampleResult) error {
	var b bytes.Buffer
	if err := gob.NewEncoder(&b).Encode(r); err != nil {
		return errors.E(err, "encode result of sample", r.SampleID)
	}
	w.w.Append(b.Bytes())
	return nil
}

// Close stores sum in the trailer and closes the file. It must be called
// exactly once.
func (w *ResultsWriter) Close(ctx context.Context, sum *Summary) error {
	var b bytes.Buffer
	once := errors.Once{}
	once.Set(gob.NewEncoder(&b).Encode(sum))
	w.w.SetTrailer(b.Bytes())
	once.Set(w.w.Finish())
	once.Set(w.out.Close(ctx))
	return once.Err()
}

// ResultsReader reads a file written by ResultsWriter.
type ResultsReader struct {
	in    file.File
	r     recordio.Scanner
	runID string
	res   *SampleResult
	err   error
}

// NewResultsReader opens path and checks its version.
func NewResultsReader(ctx context.Context, path string) (*ResultsReader, error) {
	recordiozstd.Init()
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "open", path)
	}
	r := recordio.NewScanner(in.Reader(ctx), recordio.ScannerOpts{})
	rr := &ResultsReader{in: in, r: r}
	versionFound := false
	for _, kv := range r.Header() {
		switch kv.Key {
		case resultsVersionHeader:
			if v, _ := kv.Value.(string); v != resultsVersion {
				err = errors.E(errors.Invalid, fmt.Sprintf("%s: version %v, want %v", path, kv.Value, resultsVersion))
			}
			versionFound = true
		case runIDHeader:
			rr.runID, _ = kv.Value.(string)
		}
	}
	if err == nil && !versionFound {
		err = errors.E(errors.Invalid, fmt.Sprintf("%s: %s header not found", path, resultsVersionHeader))
	}
	if err == nil {
		err = r.Err()
	}
	if err != nil {
		_ = in.Close(ctx)
		return nil, err
	}
	return rr, nil
}

// RunID returns the run id stored in the header.
func (r *ResultsReader) RunID() string { return r.runID }

// Summary decodes the run summary from the trailer.
func (r *ResultsReader) Summary() (*Summary, error) {
	sum := &Summary{}
	if err := gob.NewDecoder(bytes.NewReader(r.r.Trailer())).Decode(sum); err != nil {
		return nil, errors.E(errors.Invalid, "decode summary", err)
	}
	return sum, nil
}

// Scan reads the next sample result. It returns false at the end of the file
// or on error; see Err.
func (r *ResultsReader) Scan() bool {
	if r.err != nil || !r.r.Scan() {
		return false
	}
	r.res = &SampleResult{}
	if err := gob.NewDecoder(bytes.NewReader(r.r.Get().([]byte))).Decode(r.res); err != nil {
		r.err = errors.E(errors.Invalid, "decode sample result", err)
		return false
	}
	return true
}

// Get returns the result read by the last successful Scan.
func (r *ResultsReader) Get() *SampleResult { return r.res }

// Err returns the first error encountered by Scan.
func (r *ResultsReader) Err() error {
	if r.err != nil {
		return r.err
	}
	return r.r.Err()
}

// Close closes the reader.
func (r *ResultsReader) Close(ctx context.Context) error {
	once := errors.Once{}
	once.Set(r.r.Err())
	once.Set(r.in.Close(ctx))
	return once.Err()
}
