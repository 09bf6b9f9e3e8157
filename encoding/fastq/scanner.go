package fastq

import (
	"bufio"
	"bytes"
	"io"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrShort is the cause of the error returned for a truncated FASTQ file.
	ErrShort = errors.New("short FASTQ file")
	// ErrInvalid is the cause of the error returned for a malformed record.
	ErrInvalid = errors.New("invalid FASTQ file")
)

// maxLineLen bounds a single FASTQ line. Nanopore reads are routinely
// longer than bufio's 64KiB default.
const maxLineLen = 16 << 20

// A Read is one FASTQ record: the "@" header line, the sequence, the "+"
// separator line and the quality string.
type Read struct {
	ID, Seq, Unk, Qual string
}

// Name returns the read name: the ID line without the leading '@' and
// without any description following the first whitespace. This is the
// identifier used by read-to-cluster assignment tables.
func (r *Read) Name() string {
	id := strings.TrimPrefix(r.ID, "@")
	if i := strings.IndexAny(id, " \t"); i >= 0 {
		id = id[:i]
	}
	return id
}

// Field selects the parts of a record that a Scanner fills in.
type Field uint

const (
	// ID fills Read.ID.
	ID Field = 1 << iota
	// Seq fills Read.Seq.
	Seq
	// Unk fills Read.Unk.
	Unk
	// Qual fills Read.Qual.
	Qual
	// All equals ID|Seq|Unk|Qual.
	All = ID | Seq | Unk | Qual
)

// Scanner reads FASTQ records one at a time. Blank lines between records
// and "\r\n" line endings are accepted. A record must start with "@", its
// third line must start with "+", and its sequence and quality must have
// the same length. Errors report the offending line; errors.Cause returns
// ErrInvalid or ErrShort. Scanners are not threadsafe.
type Scanner struct {
	b      *bufio.Scanner
	fields Field
	line   int
	err    error
	done   bool
}

// NewScanner returns a Scanner reading from r that fills in the given
// fields. A typical value is All or ID|Seq.
func NewScanner(r io.Reader, fields Field) *Scanner {
	b := bufio.NewScanner(r)
	b.Buffer(nil, maxLineLen)
	return &Scanner{b: b, fields: fields}
}

// next advances to the next line. skipBlank skips empty lines first.
func (s *Scanner) next(skipBlank bool) ([]byte, bool) {
	for s.b.Scan() {
		s.line++
		line := bytes.TrimSuffix(s.b.Bytes(), []byte{'\r'})
		if skipBlank && len(line) == 0 {
			continue
		}
		return line, true
	}
	s.err = s.b.Err()
	return nil, false
}

func (s *Scanner) fail(cause error, line int, what string) bool {
	s.err = errors.Wrapf(cause, "line %d: %s", line, what)
	return false
}

// Scan reads the next record into read and reports whether it succeeded.
// Once Scan returns false it keeps returning false; Err then tells whether
// the input was exhausted or malformed.
func (s *Scanner) Scan(read *Read) bool {
	if s.err != nil || s.done {
		return false
	}
	id, ok := s.next(true)
	if !ok {
		s.done = true
		return false
	}
	if id[0] != '@' {
		return s.fail(ErrInvalid, s.line, "record does not start with '@'")
	}
	var lines [3][]byte
	for i := range lines {
		if lines[i], ok = s.next(false); !ok {
			if s.err != nil {
				return false
			}
			return s.fail(ErrShort, s.line, "truncated record")
		}
	}
	seq, unk, qual := lines[0], lines[1], lines[2]
	if len(unk) == 0 || unk[0] != '+' {
		return s.fail(ErrInvalid, s.line-1, "separator line does not start with '+'")
	}
	if len(seq) != len(qual) {
		return s.fail(ErrInvalid, s.line, "sequence and quality lengths differ")
	}
	if s.fields&ID != 0 {
		read.ID = string(id)
	}
	if s.fields&Seq != 0 {
		read.Seq = string(seq)
	}
	if s.fields&Unk != 0 {
		read.Unk = string(unk)
	}
	if s.fields&Qual != 0 {
		read.Qual = string(qual)
	}
	return true
}

// Err returns the error that stopped Scan, or nil at the end of the input.
func (s *Scanner) Err() error { return s.err }

// ReadAll scans every read in r. Fields selects the fields to fill in, as in
// NewScanner.
func ReadAll(r io.Reader, fields Field) ([]Read, error) {
	var (
		s     = NewScanner(r, fields)
		reads []Read
		read  Read
	)
	for s.Scan(&read) {
		reads = append(reads, read)
	}
	return reads, s.Err()
}
