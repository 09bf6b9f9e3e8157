// Package classify fuses per-cluster taxonomic evidence from several
// classifiers into one call per cluster.
//
// Evidence from each enabled source is reduced to (candidate, score) pairs,
// merged per candidate, and fed to a small expectation-maximization loop that
// yields a posterior distribution over the candidates. The top posterior
// determines the confidence level and whether the cluster is potentially
// novel.
package classify

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
)

// Source names.
const (
	Kraken2 = "kraken2"
	Blast   = "blast"
	FastANI = "fastani"
)

// Evidence is one classifier's opinion about one cluster.
type Evidence struct {
	GroupID int
	Source  string
	// TaxID, Reference and Name identify the candidate; see Key.
	TaxID     string
	Reference string
	Name      string
	Rank      string
	// Score is a likelihood-like weight, larger is better.
	Score float64
	// Identity is the percent identity (BLAST) or ANI (FastANI), if known.
	Identity float64
}

// Key identifies the candidate: the taxid if set, else the reference, else
// the name.
func (e Evidence) Key() string {
	switch {
	case e.TaxID != "":
		return e.TaxID
	case e.Reference != "":
		return e.Reference
	default:
		return e.Name
	}
}

// Parser reduces one source's native output for one cluster to evidence.
type Parser interface {
	// Source returns the source name stamped on the evidence.
	Source() string
	Parse(r io.Reader, groupID int) ([]Evidence, error)
}

// Kraken2Parser parses tab-separated rows of
//
//	C/U  read  taxid  confidence  name
//
// Classified rows with confidence at least MinConfidence become evidence
// scored by their confidence.
type Kraken2Parser struct {
	MinConfidence float64
}

// Source implements Parser.
func (Kraken2Parser) Source() string { return Kraken2 }

// Parse implements Parser. Rows with fewer than five columns are skipped;
// columns past the fifth are ignored.
func (p Kraken2Parser) Parse(r io.Reader, groupID int) ([]Evidence, error) {
	tr := tsv.NewReader(r)
	tr.LazyQuotes = true
	tr.Comment = '#'
	tr.FieldsPerRecord = -1
	var ev []Evidence
	for {
		row, err := tr.Reader.Read()
		if err != nil {
			if err == io.EOF {
				return ev, nil
			}
			return ev, errors.E(errors.Invalid, "kraken2", err)
		}
		if len(row) < 5 || row[0] != "C" {
			continue
		}
		var conf float64
		if c := strings.TrimSpace(row[3]); c != "" {
			if conf, err = strconv.ParseFloat(c, 64); err != nil {
				return ev, errors.E(errors.Invalid, fmt.Sprintf("kraken2: read %s: confidence %q", row[1], c), err)
			}
		}
		if conf < p.MinConfidence {
			continue
		}
		ev = append(ev, Evidence{
			GroupID: groupID,
			Source:  Kraken2,
			TaxID:   row[2],
			Name:    strings.TrimSpace(row[4]),
			Score:   conf,
		})
	}
}

// BlastParser parses comma-separated BLAST rows of
//
//	staxids,sscinames,evalue,length,score,pident
//
// Rows with identity at least MinIdentity become evidence scored
// identity/100 * 1/(1+evalue). Rows that do not parse are skipped.
type BlastParser struct {
	MinIdentity float64
}

// Source implements Parser.
func (BlastParser) Source() string { return Blast }

// Parse implements Parser.
func (p BlastParser) Parse(r io.Reader, groupID int) ([]Evidence, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	var (
		ev      []Evidence
		skipped int
	)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return ev, errors.E(errors.Invalid, "blast", err)
		}
		if len(rec) < 6 {
			skipped++
			continue
		}
		evalue, err1 := strconv.ParseFloat(rec[2], 64)
		_, err2 := strconv.Atoi(rec[3])
		_, err3 := strconv.ParseFloat(rec[4], 64)
		identity, err4 := strconv.ParseFloat(rec[5], 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			skipped++
			continue
		}
		if identity < p.MinIdentity {
			continue
		}
		ev = append(ev, Evidence{
			GroupID:  groupID,
			Source:   Blast,
			TaxID:    rec[0],
			Name:     rec[1],
			Score:    identity / 100 * (1 / (1 + evalue)),
			Identity: identity,
		})
	}
	if skipped > 0 {
		log.Debug.Printf("blast: cluster %d: skipped %d malformed rows", groupID, skipped)
	}
	return ev, nil
}

// FastANIParser parses fastANI output lines
//
//	reference  query  ani  fragments_aligned  total_fragments
//
// The candidate is the reference file name without directory and extension.
// Rows with ANI at least MinANI become evidence scored
// ani/100 * aligned/total. Rows that do not parse, or have no fragments, are
// skipped.
type FastANIParser struct {
	MinANI float64
}

// Source implements Parser.
func (FastANIParser) Source() string { return FastANI }

// Parse implements Parser.
func (p FastANIParser) Parse(r io.Reader, groupID int) ([]Evidence, error) {
	var ev []Evidence
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Split(strings.TrimSpace(scanner.Text()), "\t")
		if len(fields) < 5 {
			continue
		}
		ani, err1 := strconv.ParseFloat(fields[2], 64)
		aligned, err2 := strconv.Atoi(fields[3])
		total, err3 := strconv.Atoi(fields[4])
		if err1 != nil || err2 != nil || err3 != nil || total == 0 {
			continue
		}
		if ani < p.MinANI {
			continue
		}
		ref := referenceStem(fields[0])
		ev = append(ev, Evidence{
			GroupID:   groupID,
			Source:    FastANI,
			Reference: ref,
			Name:      ref,
			Score:     ani / 100 * float64(aligned) / float64(total),
			Identity:  ani,
		})
	}
	if err := scanner.Err(); err != nil {
		return ev, errors.E(errors.Invalid, "fastani", err)
	}
	return ev, nil
}

// referenceStem strips the directory and the last extension.
func referenceStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// validScore tells whether s can be used as a likelihood.
func validScore(s float64) bool {
	return s >= 0 && !math.IsInf(s, 0) && !math.IsNaN(s)
}
