package db

import (
	"context"
	"fmt"

	"github.com/biogo/store/interval"
	"go.uber.org/zap"

	"github.com/yumyai/probemapper/logger"
	"github.com/yumyai/probemapper/pkg/binning"
	"github.com/yumyai/probemapper/pkg/mapping"
	"github.com/yumyai/probemapper/pkg/model"
	"github.com/yumyai/probemapper/pkg/sequence"
)

// transcriptInterval is a gene product in the interval tree; overlap is
// half-open. bin is the product's UCSC bin, as the txBin column would hold.
type transcriptInterval struct {
	uid uintptr
	bin int
	gp  *model.GeneProduct
}

func (t transcriptInterval) Overlap(b interval.IntRange) bool {
	return int(t.gp.Start) < b.End && b.Start < int(t.gp.End)
}
func (t transcriptInterval) ID() uintptr { return t.uid }
func (t transcriptInterval) Range() interval.IntRange {
	return interval.IntRange{Start: int(t.gp.Start), End: int(t.gp.End)}
}

// regionOverlapper is the query side of a tree lookup.
type regionOverlapper struct {
	start, end int
}

func (r regionOverlapper) Overlap(b interval.IntRange) bool {
	return r.start < b.End && b.Start < r.end
}

// MemoryAnnotations answers annotation lookups from gene products held in
// per-chromosome interval trees. It has no mRNA or EST evidence, so overlaps
// are never rescued. Safe for concurrent lookups once built.
type MemoryAnnotations struct {
	trees  map[string]*interval.IntTree
	count  int
	Logger *zap.Logger
}

// NewMemoryAnnotations indexes products by chromosome.
func NewMemoryAnnotations(products []*model.GeneProduct) (*MemoryAnnotations, error) {
	m := &MemoryAnnotations{
		trees:  make(map[string]*interval.IntTree),
		Logger: logger.L(),
	}
	for i, gp := range products {
		if gp.End <= gp.Start {
			return nil, fmt.Errorf("gene product %s: empty or inverted range %d-%d", gp.ID, gp.Start, gp.End)
		}
		bin, err := binning.BinFromRange(gp.Start, gp.End)
		if err != nil {
			return nil, fmt.Errorf("gene product %s: %w", gp.ID, err)
		}
		chrom := sequence.DeBlatFormatChromosome(gp.Chromosome)
		tree, ok := m.trees[chrom]
		if !ok {
			tree = &interval.IntTree{}
			m.trees[chrom] = tree
		}
		if err := tree.Insert(transcriptInterval{uid: uintptr(i), bin: bin, gp: gp}, true); err != nil {
			return nil, fmt.Errorf("gene product %s: %w", gp.ID, err)
		}
		m.count++
	}
	for _, tree := range m.trees {
		tree.AdjustRanges()
	}
	return m, nil
}

func (m *MemoryAnnotations) Len() int {
	return m.count
}

func trackEnabled(cfg mapping.Config, track string) bool {
	switch track {
	case TrackRefGene, "":
		return cfg.UseRefGene
	case TrackKnownGene:
		return cfg.UseKnownGene
	case TrackEnsembl:
		return cfg.UseEnsembl
	}
	return false
}

// FindGeneProducts returns the products of enabled tracks overlapping the
// region, on the query strand when one is given. Candidates pass the same
// bin restriction the SQL lookup applies.
func (m *MemoryAnnotations) FindGeneProducts(q mapping.RegionQuery, cfg mapping.Config) ([]*model.GeneProduct, error) {
	bins, err := binning.BinsForRange(q.Start, q.End)
	if err != nil {
		return nil, err
	}
	tree, ok := m.trees[sequence.DeBlatFormatChromosome(q.Chromosome)]
	if !ok {
		return nil, nil
	}
	var products []*model.GeneProduct
	for _, hit := range tree.Get(regionOverlapper{start: int(q.Start), end: int(q.End)}) {
		t := hit.(transcriptInterval)
		if !binning.InBins(t.bin, bins) {
			continue
		}
		gp := t.gp
		if q.Strand != "" && gp.Strand != q.Strand {
			continue
		}
		if !trackEnabled(cfg, gp.Track) {
			continue
		}
		products = append(products, gp)
	}
	return dedupe(products), nil
}

// FindAssociations implements mapping.AnnotationLookup.
func (m *MemoryAnnotations) FindAssociations(_ context.Context, q mapping.RegionQuery, cfg mapping.Config) ([]model.Association, error) {
	products, err := m.FindGeneProducts(q, cfg)
	if err != nil || len(products) == 0 {
		return nil, err
	}
	log := m.Logger
	if log == nil {
		log = logger.L()
	}
	return associate(log, q, cfg, products, nil)
}
