package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/yumyai/probemapper/pkg/model"
	"github.com/yumyai/probemapper/pkg/sequence"
)

const locationQuery = `
	SELECT tName, blockSizes, tStarts, qStarts, strand, qSize, matches, misMatches, repMatches, nCount,
		qNumInsert, qBaseInsert, tNumInsert, tBaseInsert, qStart, qEnd, tSize, tStart, tEnd
	FROM %s
	WHERE qName = ?`

// FindSequenceLocations returns the genome alignments GoldenPath holds for a
// GenBank EST or mRNA accession. All hits share one sequence record, taken
// from the biosequence table when present.
func (g *GoldenPath) FindSequenceLocations(ctx context.Context, accession string) ([]*model.AlignmentHit, error) {
	record, err := g.Sequences.Get(ctx, accession)
	var noSeq *NoSequenceError
	if errors.As(err, &noSeq) {
		record = &model.SequenceRecord{Name: accession}
	} else if err != nil {
		return nil, err
	}

	var hits []*model.AlignmentHit
	for _, table := range []string{TableEST, TableMRNA} {
		found, err := g.locationsIn(ctx, table, record)
		if err != nil {
			return nil, err
		}
		if len(found) > 0 && record.Type == model.SequenceTypeUnknown {
			if table == TableEST {
				record.Type = model.SequenceTypeEST
			} else {
				record.Type = model.SequenceTypeMRNA
			}
		}
		hits = append(hits, found...)
	}
	return hits, nil
}

func (g *GoldenPath) locationsIn(ctx context.Context, table string, record *model.SequenceRecord) ([]*model.AlignmentHit, error) {
	stm, err := g.annotationSQL.PrepareContext(ctx, fmt.Sprintf(locationQuery, table))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", table, err)
	}
	defer stm.Close()

	rows, err := stm.QueryContext(ctx, record.Name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", table, err)
	}
	defer rows.Close()

	var hits []*model.AlignmentHit
	for rows.Next() {
		h := &model.AlignmentHit{Query: record}
		if err := rows.Scan(&h.TargetChromosome, &h.BlockSizes, &h.TargetStarts, &h.QueryStarts, &h.Strand,
			&h.QuerySize, &h.Matches, &h.Mismatches, &h.RepMatches, &h.NCount,
			&h.QueryGapCount, &h.QueryGapBases, &h.TargetGapCount, &h.TargetGapBases,
			&h.QueryStart, &h.QueryEnd, &h.TargetSize, &h.TargetStart, &h.TargetEnd); err != nil {
			return nil, fmt.Errorf("%s: failed to scan row: %w", table, err)
		}
		h.TargetChromosome = sequence.DeBlatFormatChromosome(h.TargetChromosome)
		if record.Length == 0 {
			record.Length = h.QuerySize
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", table, err)
	}
	return hits, nil
}
