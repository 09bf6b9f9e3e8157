package fastq

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

const fq = `@NB500956:89:HW2FHBGX2:1:11101:25648:1069 1:N:0:ATCACG
ATACAGGCCTGANCCACTGTGCCCAGNCTANNTNATTANTGAANANAGAATNGTTNTAAATANANNNNNTNTNNNC
+
AAAAAEEEEEEE#EEAEEEEEEEEEE#EEE##E#EEEE#EEEE#E#EEEEE#EEE#EEEAEE#A#####E#E###E
@NB500956:89:HW2FHBGX2:1:11101:13871:1070 1:N:0:ATCACG
CTCAACTCTGAGNCAGACAGAAATACNTTTNNTNTGAGTTACANCNTTCTTTTTCNACATATNCNNNNNTNGNNNT
+
AAAAAEEEEEEE#EEEEEEEEEEEEE#EEE##E#EEEEEEEEE#E#EEEEEEEEE#EAEEEE#A#####E#A###E
@NB500956:89:HW2FHBGX2:1:11101:9975:1070 1:N:0:ATCACG
GAGTAACCACGTNCCCATGGCCACAGNTGANNGNGTCACACCTNANCCGGGAGAGNCAATCCNGNNNNNGNANNNC
+
AAAAAEEEEEEE#EEEEEEEEEAEEE#EEA##E#EEEEEEEE<#E#<EEEEEEEE#<EEEA/#/#####A#E###A
@NB500956:89:HW2FHBGX2:1:11101:20247:1070 1:N:0:ATCACG
GATCGGAAGAGCNCACGTCTGAACTCNAGTNNCNTCCCGATCTNGNATGCCGTCTNCTGCTTNANNNNNANANNNG
+
AAAAAEEEEEEE#EEEEEEEEEEEEE#AEE##E#A////6AE<#E#EEEEEEEEA#A/EE/E#E#####/#E###E
@NB500956:89:HW2FHBGX2:1:11101:17754:1070 1:N:0:ATCACG
CAAGCAACTTACNTTACTTTAGGCTGNAAANNGNCTGCCTGAANTNCCTGCTCACNAATCCCNCNNNNNCNTNNNT
+
AAAAAEEEEEEE#EEAEEEEEEEEEE#EEE##E#EEEEEEEEE#E#EEEEEEEEE#EAEAEA#/#####E#A###E
@NB500956:89:HW2FHBGX2:1:11101:26223:1070 1:N:0:ATCACG
TCAATTTCAGAACTTTTTATTGGTCTNTTCNNGNATTCATCTTNTNCCTGGTTTANTCTTGGNANNNNNTNTNNNT
+
AAAAAEEEEEEEEEEEEEEEEEEEEE#EEA##E#EEEEEEEEE#E#<EAEEEEEE#EEEEEE#E#####E#E###E
`

func stringScanner(s string) *Scanner {
	return NewScanner(bytes.NewReader([]byte(s)), All)
}

func scanErr(s string) error {
	scan := stringScanner(s)
	var r Read
	for scan.Scan(&r) {
	}
	return scan.Err()
}

func TestFASTQ(t *testing.T) {
	s := stringScanner(fq)
	var r Read
	if !s.Scan(&r) {
		t.Fatal(s.Err())
	}
	expect := Read{
		ID:   "@NB500956:89:HW2FHBGX2:1:11101:25648:1069 1:N:0:ATCACG",
		Seq:  "ATACAGGCCTGANCCACTGTGCCCAGNCTANNTNATTANTGAANANAGAATNGTTNTAAATANANNNNNTNTNNNC",
		Unk:  "+",
		Qual: "AAAAAEEEEEEE#EEAEEEEEEEEEE#EEE##E#EEEE#EEEE#E#EEEEE#EEE#EEEAEE#A#####E#E###E",
	}
	if got, want := r, expect; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	var n int
	for s.Scan(&r) {
		n++
	}
	if got, want := n, 5; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if err := s.Err(); err != nil {
		t.Errorf("unexpected error %v", err)
	}
}

func TestBadFASTQ(t *testing.T) {
	for _, test := range []struct {
		in    string
		cause error
		line  string
	}{
		{"12312#", ErrInvalid, "line 1"},
		{"@1234\n123", ErrShort, "line 2"},
		{"@r1\nACGT\n-\nIIII\n", ErrInvalid, "line 3"},
		{"@r1\nACGT\n+\nIIII\n@r2\nACGT\n+\nIII\n", ErrInvalid, "line 8"},
	} {
		err := scanErr(test.in)
		if got, want := errors.Cause(err), test.cause; got != want {
			t.Errorf("%q: got %v, want %v", test.in, got, want)
		}
		if !strings.Contains(err.Error(), test.line) {
			t.Errorf("%q: error %q does not name %s", test.in, err, test.line)
		}
	}
}

func TestBlankLinesAndCRLF(t *testing.T) {
	data := "\n@r1 desc\r\nACGT\r\n+\r\nIIII\r\n\n\n@r2\nGG\n+\nII\n\n"
	reads, err := ReadAll(strings.NewReader(data), All)
	if err != nil {
		t.Fatal(err)
	}
	want := []Read{{"@r1 desc", "ACGT", "+", "IIII"}, {"@r2", "GG", "+", "II"}}
	if len(reads) != len(want) {
		t.Fatalf("got %v, want %v", reads, want)
	}
	for i := range want {
		if reads[i] != want[i] {
			t.Errorf("read %d: got %v, want %v", i, reads[i], want[i])
		}
	}
}

func TestReadName(t *testing.T) {
	tests := []struct{ id, name string }{
		{"@NB500956:89:HW2FHBGX2:1:11101:25648:1069 1:N:0:ATCACG", "NB500956:89:HW2FHBGX2:1:11101:25648:1069"},
		{"@read7", "read7"},
		{"@0f7c-4a runid=abc\tch=12", "0f7c-4a"},
	}
	for _, test := range tests {
		r := Read{ID: test.id}
		if got := r.Name(); got != test.name {
			t.Errorf("%s: got %v, want %v", test.id, got, test.name)
		}
	}
}

func TestReadAll(t *testing.T) {
	reads, err := ReadAll(bytes.NewReader([]byte(fq)), ID|Seq)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(reads), 6; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := reads[5].Name(), "NB500956:89:HW2FHBGX2:1:11101:26223:1070"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if reads[0].Qual != "" {
		t.Errorf("qual should not be filled in: %v", reads[0].Qual)
	}
}

func TestLongRead(t *testing.T) {
	seq := bytes.Repeat([]byte("ACGT"), 50000)
	qual := bytes.Repeat([]byte("I"), len(seq))
	data := "@long\n" + string(seq) + "\n+\n" + string(qual) + "\n"
	reads, err := ReadAll(bytes.NewReader([]byte(data)), All)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(reads[0].Seq), len(seq); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestWriter(t *testing.T) {
	var (
		s = stringScanner(fq)
		b = new(bytes.Buffer)
		w = NewWriter(b)
		r Read
	)
	for s.Scan(&r) {
		if err := w.Write(&r); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Err(); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	if got, want := b.String(), fq; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestWriteAllFillsMissingFields(t *testing.T) {
	var b bytes.Buffer
	reads := []Read{{ID: "r1", Seq: "ACGT"}, {ID: "@r2 x=1", Seq: "AC", Unk: "+", Qual: "II"}}
	if err := WriteAll(&b, reads); err != nil {
		t.Fatal(err)
	}
	want := "@r1\nACGT\n+\n!!!!\n@r2 x=1\nAC\n+\nII\n"
	if got := b.String(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	back, err := ReadAll(&b, All)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := back[1].Name(), "r2"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
