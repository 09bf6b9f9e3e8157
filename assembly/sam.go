package assembly

import (
	"io"
	"os"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
)

// CountMapped counts primary mapped records in SAM data.
func CountMapped(r io.Reader) (int, error) {
	sr, err := sam.NewReader(r)
	if err != nil {
		return 0, errors.E(errors.Invalid, "reading SAM header", err)
	}
	n := 0
	for {
		rec, err := sr.Read()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, errors.E(errors.Invalid, "reading SAM record", err)
		}
		if rec.Flags&(sam.Unmapped|sam.Secondary|sam.Supplementary) != 0 {
			continue
		}
		n++
	}
}

// CountMappedFile is CountMapped on a local file.
func CountMappedFile(path string) (int, error) {
	in, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer in.Close() // nolint: errcheck
	n, err := CountMapped(in)
	if err != nil {
		return n, errors.E(err, path)
	}
	return n, nil
}
