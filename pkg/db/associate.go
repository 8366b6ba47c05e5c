package db

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/yumyai/probemapper/pkg/mapping"
	"github.com/yumyai/probemapper/pkg/model"
	"github.com/yumyai/probemapper/pkg/sequence"
)

var errRescue = errors.New("overlap rescue failed")

// RecheckOverlapThreshold is the exon overlap fraction below which mRNA and
// EST alignments are consulted for a better overlap.
const RecheckOverlapThreshold = 0.9

// rescuer improves a low exon overlap using other transcript evidence.
type rescuer func(gp *model.GeneProduct, overlap int64) (int64, error)

// locateInGene computes the exon overlap and three-prime distance of an
// aligned region relative to one gene product.
func locateInGene(q mapping.RegionQuery, gp *model.GeneProduct, starts, sizes []int64, rescue rescuer) (model.Association, error) {
	a := model.Association{GeneProduct: gp, Method: q.Method}

	overlap, err := sequence.ExonOverlap(starts, sizes, q.Strand, gp)
	if err != nil {
		return a, err
	}
	total := sequence.TotalSize(sizes)
	if rescue != nil && total > 0 && float64(overlap)/float64(total) < RecheckOverlapThreshold {
		if overlap, err = rescue(gp, overlap); err != nil {
			return a, fmt.Errorf("%w: %w", errRescue, err)
		}
	}
	a.Overlap = min(overlap, total)

	a.ThreePrimeDistance, err = sequence.ThreePrimeDistance(q.Method, gp, q.Start, q.End, starts, sizes)
	return a, err
}

// associate turns the gene products found for a region into associations,
// dropping zero-overlap ones when an overlap threshold is configured.
func associate(log *zap.Logger, q mapping.RegionQuery, cfg mapping.Config, products []*model.GeneProduct, rescue rescuer) ([]model.Association, error) {
	if q.End < q.Start {
		return nil, fmt.Errorf("region %s:%d-%d: end must not be less than start", q.Chromosome, q.Start, q.End)
	}
	starts, sizes, err := sequence.Blocks(q.BlockStarts, q.BlockSizes)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(products, func(i, j int) bool {
		if products[i].ID != products[j].ID {
			return products[i].ID < products[j].ID
		}
		return products[i].Start < products[j].Start
	})

	var results []model.Association
	for _, gp := range products {
		a, err := locateInGene(q, gp, starts, sizes, rescue)
		if errors.Is(err, sequence.ErrUnsupportedMethod) || errors.Is(err, errRescue) {
			return nil, err
		}
		if err != nil {
			log.Warn("Skipping gene product", zap.Stringer("gene_product", gp), zap.Error(err))
			continue
		}
		if cfg.MinimumExonOverlapFraction > 0 && a.Overlap == 0 {
			log.Debug("No exon overlap", zap.Stringer("gene_product", gp))
			continue
		}
		results = append(results, a)
	}
	return results, nil
}

// dedupe keeps the first gene product per transcript and locus; the same
// transcript can come back from more than one track.
func dedupe(products []*model.GeneProduct) []*model.GeneProduct {
	seen := make(map[string]bool, len(products))
	out := products[:0]
	for _, gp := range products {
		key := fmt.Sprintf("%s|%s|%d", gp.ID, gp.Chromosome, gp.Start)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, gp)
	}
	return out
}
