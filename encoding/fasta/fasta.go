// Package fasta reads and writes FASTA files. Briefly, FASTA files consist of
// a number of named sequences that may be interrupted by newlines.  For
// example:
//
// >cluster_3 taxon=Escherichia_coli
// ACGTAC
// GAGGAC
// GCG
// >cluster_4
// ACGT
//
// Note: Sequence names are defined to be the stretch of characters excluding
// spaces immediately after '>'.  Any text after the first space is kept as the
// record description.
package fasta

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"
)

const (
	bufferInitSize = 1024 * 1024 * 300 // 300 MB

	// LineWidth is the number of bases per line written by Writer.
	LineWidth = 80
)

// Record is one named sequence.
type Record struct {
	Name string
	// Desc is the text following the name on the header line, if any.
	Desc string
	Seq  string
}

// ReadAll reads all the records in r, in order of appearance. An empty input
// yields no records and no error: collaborators that produce nothing for a
// low-coverage cluster write empty files.
func ReadAll(r io.Reader) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, bufferInitSize)
	var (
		records []Record
		cur     *Record
		seq     strings.Builder
	)
	flush := func() {
		if cur != nil {
			cur.Seq = seq.String()
			records = append(records, *cur)
			seq.Reset()
		}
	}
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' { // Start a new sequence.
			flush()
			header := line[1:]
			cur = &Record{Name: header}
			if i := strings.IndexAny(header, " \t"); i >= 0 {
				cur.Name, cur.Desc = header[:i], strings.TrimSpace(header[i+1:])
			}
			if cur.Name == "" {
				return nil, errors.Errorf("malformed FASTA file: empty sequence name")
			}
			continue
		}
		if cur == nil {
			return nil, errors.Errorf("malformed FASTA file: sequence data before the first header")
		}
		seq.WriteString(line)
	}
	if scanner.Err() != nil {
		return nil, errors.Wrap(scanner.Err(), "couldn't read FASTA data")
	}
	flush()
	return records, nil
}

// Writer writes FASTA records, wrapping sequences at LineWidth bases.
type Writer struct {
	w   *bufio.Writer
	err error
}

// NewWriter creates a Writer on top of w. Flush must be called after the last
// record.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Write appends one record.
func (w *Writer) Write(r Record) error {
	if w.err != nil {
		return w.err
	}
	w.writeString(">")
	w.writeString(r.Name)
	if r.Desc != "" {
		w.writeString(" ")
		w.writeString(r.Desc)
	}
	w.writeString("\n")
	for i := 0; i < len(r.Seq); i += LineWidth {
		end := i + LineWidth
		if end > len(r.Seq) {
			end = len(r.Seq)
		}
		w.writeString(r.Seq[i:end])
		w.writeString("\n")
	}
	return w.err
}

// Flush flushes buffered data to the underlying writer.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	return w.w.Flush()
}

func (w *Writer) writeString(s string) {
	if w.err == nil {
		_, w.err = w.w.WriteString(s)
	}
}
