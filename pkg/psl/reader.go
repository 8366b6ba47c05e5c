package psl

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/yumyai/probemapper/pkg/model"
	"github.com/yumyai/probemapper/pkg/sequence"
)

// Columns in a PSL line, without the optional leading bin and trailing
// sequence columns of pslx.
const Columns = 21

var ErrMalformed = errors.New("malformed psl line")

// Reader reads blat PSL output. Hits of the same query share one
// SequenceRecord, typed with Type and sized by the PSL qSize.
type Reader struct {
	r       *bufio.Reader
	line    int
	records map[string]*model.SequenceRecord

	Type model.SequenceType
}

func NewReader(r io.Reader, seqType model.SequenceType) *Reader {
	return &Reader{
		r:       bufio.NewReader(r),
		records: make(map[string]*model.SequenceRecord),
		Type:    seqType,
	}
}

// Read returns the next alignment, or io.EOF when the input is exhausted.
// The psLayout header lines are skipped.
func (p *Reader) Read() (*model.AlignmentHit, error) {
	for {
		line, err := p.r.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, err
		}
		if line == "" && err == io.EOF {
			return nil, io.EOF
		}
		p.line++

		line = strings.TrimRight(line, "\r\n")
		if isHeader(line) {
			if err == io.EOF {
				return nil, io.EOF
			}
			continue
		}
		return p.parse(line)
	}
}

// isHeader is true for blank lines and the psLayout banner, column titles and
// dashed separator, none of which start with a number.
func isHeader(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return true
	}
	return trimmed[0] < '0' || trimmed[0] > '9'
}

func (p *Reader) parse(line string) (*model.AlignmentHit, error) {
	fields := strings.Split(line, "\t")
	switch len(fields) {
	case Columns, Columns + 2:
		// plain, or pslx with qSeq and tSeq following
	case Columns + 1, Columns + 3:
		fields = fields[1:]
	default:
		return nil, fmt.Errorf("%w: line %d: %d columns", ErrMalformed, p.line, len(fields))
	}
	fields = fields[:Columns]
	if !strings.HasPrefix(fields[8], "+") && !strings.HasPrefix(fields[8], "-") {
		return nil, fmt.Errorf("%w: line %d: strand %q", ErrMalformed, p.line, fields[8])
	}

	var ints [15]int64
	for i, col := range []int{0, 1, 2, 3, 4, 5, 6, 7, 10, 11, 12, 14, 15, 16, 17} {
		v, err := strconv.ParseInt(strings.TrimSpace(fields[col]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d column %d: %q", ErrMalformed, p.line, col+1, fields[col])
		}
		ints[i] = v
	}

	h := &model.AlignmentHit{
		Matches:          ints[0],
		Mismatches:       ints[1],
		RepMatches:       ints[2],
		NCount:           ints[3],
		QueryGapCount:    ints[4],
		QueryGapBases:    ints[5],
		TargetGapCount:   ints[6],
		TargetGapBases:   ints[7],
		Strand:           fields[8],
		QuerySize:        ints[8],
		QueryStart:       ints[9],
		QueryEnd:         ints[10],
		TargetChromosome: fields[13],
		TargetSize:       ints[11],
		TargetStart:      ints[12],
		TargetEnd:        ints[13],
		BlockSizes:       fields[18],
		QueryStarts:      fields[19],
		TargetStarts:     fields[20],
	}
	if err := checkBlocks(ints[14], fields[18:21]); err != nil {
		return nil, fmt.Errorf("%w: line %d: %w", ErrMalformed, p.line, err)
	}

	name := fields[9]
	record, ok := p.records[name]
	if !ok {
		record = &model.SequenceRecord{Name: name, Type: p.Type, Length: h.QuerySize}
		p.records[name] = record
	}
	h.Query = record
	return h, nil
}

var blockColumns = [3]string{"blockSizes", "qStarts", "tStarts"}

// checkBlocks holds each of the three block lists to blockCount entries.
func checkBlocks(blockCount int64, lists []string) error {
	for i, list := range lists {
		values, err := sequence.ParseLocations(list)
		if err != nil {
			return err
		}
		if int64(len(values)) != blockCount {
			return fmt.Errorf("blockCount %d does not match %s %q", blockCount, blockColumns[i], list)
		}
	}
	return nil
}

// ReadAll reads every alignment in r.
func ReadAll(r io.Reader, seqType model.SequenceType) ([]*model.AlignmentHit, error) {
	reader := NewReader(r, seqType)
	var hits []*model.AlignmentHit
	for {
		h, err := reader.Read()
		if err == io.EOF {
			return hits, nil
		}
		if err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
}
