package db

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/yumyai/probemapper/pkg/mapping"
	"github.com/yumyai/probemapper/pkg/model"
	"github.com/yumyai/probemapper/pkg/sequence"
)

// mRNA alignments carry the symbol of the RefSeq gene they belong to, if any,
// so a rescue only counts mRNAs of the same gene.
const mrnaRegionQuery = `
	SELECT DISTINCT m.qName, COALESCE(r.geneName, ''), m.tName, m.strand, m.tStart, m.tEnd, m.tStarts, m.blockSizes
	FROM all_mrna AS m
	LEFT OUTER JOIN refFlat AS r ON r.name = m.qName
	WHERE %s`

const estRegionQuery = `
	SELECT e.qName, '', e.tName, e.strand, e.tStart, e.tEnd, e.tStarts, e.blockSizes
	FROM all_est AS e
	WHERE %s`

// FindRNAs returns mRNA alignments overlapping the region, as gene products
// whose exons are the alignment blocks.
func (g *GoldenPath) FindRNAs(ctx context.Context, q mapping.RegionQuery) ([]*model.GeneProduct, error) {
	return g.cachedAlignments(ctx, TableMRNA, mrnaRegionQuery, "m", q)
}

// FindESTs is FindRNAs for EST alignments.
func (g *GoldenPath) FindESTs(ctx context.Context, q mapping.RegionQuery) ([]*model.GeneProduct, error) {
	return g.cachedAlignments(ctx, TableEST, estRegionQuery, "e", q)
}

func (g *GoldenPath) cachedAlignments(ctx context.Context, table, tpl, alias string, q mapping.RegionQuery) ([]*model.GeneProduct, error) {
	key := fmt.Sprintf("%s %s||%d||%d%s", table, q.Chromosome, q.Start, q.End, q.Strand)
	if found, ok := g.rescueCache.Get(key); ok {
		return found, nil
	}

	where, args, err := region(alias, q, "tName", "tStart", "tEnd")
	if err != nil {
		return nil, err
	}
	rows, err := g.annotationSQL.QueryContext(ctx, fmt.Sprintf(tpl, where), args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", table, err)
	}
	defer rows.Close()

	var found []*model.GeneProduct
	for rows.Next() {
		var (
			gp            model.GeneProduct
			starts, sizes string
		)
		if err := rows.Scan(&gp.ID, &gp.Gene.OfficialSymbol, &gp.Chromosome, &gp.Strand,
			&gp.Start, &gp.End, &starts, &sizes); err != nil {
			return nil, fmt.Errorf("%s: failed to scan row: %w", table, err)
		}
		gp.Gene.ID = gp.ID
		gp.Chromosome = sequence.DeBlatFormatChromosome(gp.Chromosome)
		gp.Track = table
		if gp.Exons, err = exonsFromSizes(starts, sizes); err != nil {
			g.logger().Warn("Bad alignment blocks", zap.String("accession", gp.ID), zap.Error(err))
			continue
		}
		found = append(found, &gp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", table, err)
	}

	g.rescueCache.Add(key, found)
	return found, nil
}

// overlapRescuer tries mRNA and then EST alignments in the region when the overlap
// with the annotated exons of a gene product is low, keeping the best overlap.
func (g *GoldenPath) overlapRescuer(ctx context.Context, q mapping.RegionQuery, cfg mapping.Config) rescuer {
	starts, sizes, err := sequence.Blocks(q.BlockStarts, q.BlockSizes)
	if err != nil {
		return func(_ *model.GeneProduct, overlap int64) (int64, error) { return overlap, err }
	}
	total := sequence.TotalSize(sizes)
	low := func(overlap int64) bool {
		return total > 0 && float64(overlap)/float64(total) < RecheckOverlapThreshold
	}
	log := g.logger()

	return func(gp *model.GeneProduct, overlap int64) (int64, error) {
		// the evidence has to lie on the gene product's strand
		rq := q
		rq.Strand = gp.Strand

		if cfg.UseMRNAs && low(overlap) {
			mrnas, err := g.FindRNAs(ctx, rq)
			if err != nil {
				return overlap, err
			}
			for _, m := range mrnas {
				if m.Gene.OfficialSymbol != gp.Gene.OfficialSymbol {
					continue
				}
				o, err := sequence.ExonOverlap(starts, sizes, "", m)
				if err != nil {
					return overlap, err
				}
				if o > overlap {
					log.Debug("mRNA overlap was higher than primary transcript",
						zap.String("gene_product", gp.ID), zap.String("mrna", m.ID), zap.Int64("overlap", o))
					overlap = o
				}
			}
		}

		if cfg.UseESTs && low(overlap) {
			ests, err := g.FindESTs(ctx, rq)
			if err != nil {
				return overlap, err
			}
			for _, e := range ests {
				o, err := sequence.ExonOverlap(starts, sizes, "", e)
				if err != nil {
					return overlap, err
				}
				if o > overlap {
					log.Debug("EST overlap was higher than mRNA or primary transcript",
						zap.String("gene_product", gp.ID), zap.String("est", e.ID), zap.Int64("overlap", o))
					overlap = o
				}
			}
		}
		return overlap, nil
	}
}
