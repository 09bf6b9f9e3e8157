package fastq

import (
	"bufio"
	"io"
	"strings"
)

// Writer is a FASTQ file writer.
type Writer struct {
	w   *bufio.Writer
	err error
}

// NewWriter constructs a new FASTQ writer that writes reads to w. Callers
// must call Flush once all reads are written.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Write writes the read r in FASTQ format. A missing '@' on the ID line is
// added, an empty line 3 is written as "+", and a missing quality string is
// written as the lowest quality for every base so that the output is valid
// FASTQ.
func (w *Writer) Write(r *Read) error {
	id := r.ID
	if !strings.HasPrefix(id, "@") {
		id = "@" + id
	}
	unk := r.Unk
	if unk == "" {
		unk = "+"
	}
	qual := r.Qual
	if len(qual) != len(r.Seq) {
		qual = strings.Repeat("!", len(r.Seq))
	}
	w.writeln(id)
	w.writeln(r.Seq)
	w.writeln(unk)
	w.writeln(qual)
	return w.err
}

// Flush flushes buffered output and returns the first error encountered.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	w.err = w.w.Flush()
	return w.err
}

func (w *Writer) writeln(line string) {
	if w.err != nil {
		return
	}
	_, w.err = w.w.WriteString(line)
	if w.err == nil {
		w.err = w.w.WriteByte('\n')
	}
}

// WriteAll writes reads to w in FASTQ format.
func WriteAll(w io.Writer, reads []Read) error {
	fw := NewWriter(w)
	for i := range reads {
		if err := fw.Write(&reads[i]); err != nil {
			return err
		}
	}
	return fw.Flush()
}
