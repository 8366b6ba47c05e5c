package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/yumyai/probemapper/logger"
	"github.com/yumyai/probemapper/pkg/binning"
	"github.com/yumyai/probemapper/pkg/mapping"
	"github.com/yumyai/probemapper/pkg/model"
	"github.com/yumyai/probemapper/pkg/sequence"

	_ "modernc.org/sqlite"
)

// RescueCacheSize is the number of mRNA/EST region queries kept in memory.
const RescueCacheSize = 2000

// GoldenPath looks up gene products in a SQLite copy of the UCSC annotation
// tables.
type GoldenPath struct {
	annotationSQL *sql.DB
	Sequences     *SequenceStore
	Logger        *zap.Logger

	rescueCache *lru.Cache[string, []*model.GeneProduct]
}

func NewGoldenPath(db *sql.DB) (*GoldenPath, error) {
	cache, err := lru.New[string, []*model.GeneProduct](RescueCacheSize)
	if err != nil {
		return nil, err
	}
	return &GoldenPath{
		annotationSQL: db,
		Sequences:     NewSequenceStore(db),
		Logger:        logger.L(),
		rescueCache:   cache,
	}, nil
}

// OpenGoldenPath opens the SQLite file at path.
func OpenGoldenPath(path string) (*GoldenPath, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return NewGoldenPath(db)
}

func (g *GoldenPath) DB() *sql.DB {
	return g.annotationSQL
}

func (g *GoldenPath) Close() error {
	return g.annotationSQL.Close()
}

// region is the WHERE fragment shared by the transcript queries: same
// chromosome, overlapping [start, end), bin restricted, optionally stranded.
func region(alias string, q mapping.RegionQuery, chromCol, startCol, endCol string) (string, []any, error) {
	binClause, err := binning.BinRestrictionClause(alias+".bin", q.Start, q.End)
	if err != nil {
		return "", nil, err
	}
	where := fmt.Sprintf("%[1]s.%[2]s = ? AND %[1]s.%[3]s < ? AND %[1]s.%[4]s > ? AND %[5]s",
		alias, chromCol, startCol, endCol, binClause)
	args := []any{sequence.BlatFormatChromosome(q.Chromosome), q.End, q.Start}
	if q.Strand != "" {
		where += fmt.Sprintf(" AND %s.strand = ?", alias)
		args = append(args, q.Strand)
	}
	return where, args, nil
}

// Every transcript query selects: product ID, gene symbol, chrom, strand,
// txStart, txEnd, exonStarts, exonEnds, description.
const (
	refGeneQuery = `
		SELECT r.name, r.geneName, r.chrom, r.strand, r.txStart, r.txEnd, r.exonStarts, r.exonEnds,
			COALESCE(x.description, '')
		FROM refFlat AS r
		LEFT OUTER JOIN kgXref AS x ON r.geneName = x.geneSymbol
		WHERE %s`

	// known genes that map to a RefSeq transcript are reported as that transcript
	knownToRefSeqQuery = `
		SELECT r.name, r.geneName, r.chrom, r.strand, r.txStart, r.txEnd, r.exonStarts, r.exonEnds,
			x.description
		FROM knownGene AS kg
		INNER JOIN knownToRefSeq AS kr ON kr.name = kg.name
		INNER JOIN kgXref AS x ON x.kgID = kg.name
		INNER JOIN refFlat AS r ON r.name = kr.value AND r.chrom = kg.chrom
		WHERE %s`

	knownGeneQuery = `
		SELECT x.mRNA, x.geneSymbol, kg.chrom, kg.strand, kg.txStart, kg.txEnd, kg.exonStarts, kg.exonEnds,
			x.description
		FROM knownGene AS kg
		INNER JOIN kgXref AS x ON kg.name = x.kgID
		LEFT OUTER JOIN knownToRefSeq AS kr ON kr.name = kg.name
		WHERE kr.value IS NULL AND %s`

	ensGeneQuery = `
		SELECT e.name, e.name2, e.chrom, e.strand, e.txStart, e.txEnd, e.exonStarts, e.exonEnds, ''
		FROM ensGene AS e
		WHERE %s`
)

func (g *GoldenPath) queryGeneProducts(ctx context.Context, track, tpl, alias string, q mapping.RegionQuery) ([]*model.GeneProduct, error) {
	where, args, err := region(alias, q, "chrom", "txStart", "txEnd")
	if err != nil {
		return nil, err
	}

	stm, err := g.annotationSQL.PrepareContext(ctx, fmt.Sprintf(tpl, where))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", track, err)
	}
	defer stm.Close()

	rows, err := stm.QueryContext(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", track, err)
	}
	defer rows.Close()

	var products []*model.GeneProduct
	for rows.Next() {
		var (
			gp                   model.GeneProduct
			exonStarts, exonEnds string
		)
		if err := rows.Scan(&gp.ID, &gp.Gene.OfficialSymbol, &gp.Chromosome, &gp.Strand,
			&gp.Start, &gp.End, &exonStarts, &exonEnds, &gp.Gene.Description); err != nil {
			return nil, fmt.Errorf("%s: failed to scan row: %w", track, err)
		}
		if strings.TrimSpace(gp.Gene.OfficialSymbol) == "" {
			// e.g. "abParts" style rows with no usable symbol
			continue
		}
		gp.Gene.ID = gp.Gene.OfficialSymbol
		gp.Chromosome = sequence.DeBlatFormatChromosome(gp.Chromosome)
		gp.Track = track
		if gp.Exons, err = exonsFromEnds(exonStarts, exonEnds); err != nil {
			g.logger().Warn("Bad exon structure", zap.String("gene_product", gp.ID), zap.Error(err))
			continue
		}
		products = append(products, &gp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", track, err)
	}
	return products, nil
}

func exonsFromEnds(starts, ends string) ([]model.Exon, error) {
	s, e, err := sequence.Blocks(starts, ends)
	if err != nil {
		return nil, err
	}
	exons := make([]model.Exon, len(s))
	for i := range s {
		exons[i] = model.Exon{Start: s[i], Length: e[i] - s[i]}
	}
	return exons, nil
}

func exonsFromSizes(starts, sizes string) ([]model.Exon, error) {
	s, z, err := sequence.Blocks(starts, sizes)
	if err != nil {
		return nil, err
	}
	exons := make([]model.Exon, len(s))
	for i := range s {
		exons[i] = model.Exon{Start: s[i], Length: z[i]}
	}
	return exons, nil
}

// FindGeneProducts returns the transcripts of the enabled tracks that overlap
// the region.
func (g *GoldenPath) FindGeneProducts(ctx context.Context, q mapping.RegionQuery, cfg mapping.Config) ([]*model.GeneProduct, error) {
	type trackQuery struct {
		enabled bool
		track   string
		tpl     string
		alias   string
	}
	queries := []trackQuery{
		{cfg.UseRefGene, TrackRefGene, refGeneQuery, "r"},
		{cfg.UseKnownGene, TrackRefGene, knownToRefSeqQuery, "kg"},
		{cfg.UseKnownGene, TrackKnownGene, knownGeneQuery, "kg"},
		{cfg.UseEnsembl, TrackEnsembl, ensGeneQuery, "e"},
	}

	var products []*model.GeneProduct
	for _, tq := range queries {
		if !tq.enabled {
			continue
		}
		found, err := g.queryGeneProducts(ctx, tq.track, tq.tpl, tq.alias, q)
		if err != nil {
			return nil, err
		}
		products = append(products, found...)
	}
	return dedupe(products), nil
}

// FindAssociations implements mapping.AnnotationLookup.
func (g *GoldenPath) FindAssociations(ctx context.Context, q mapping.RegionQuery, cfg mapping.Config) ([]model.Association, error) {
	log := g.logger()
	log.Debug("Seeking gene overlaps",
		zap.String("chrom", q.Chromosome),
		zap.Int64("start", q.Start),
		zap.Int64("end", q.End),
		zap.String("strand", q.Strand))

	if q.End < q.Start {
		return nil, fmt.Errorf("region %s:%d-%d: end must not be less than start", q.Chromosome, q.Start, q.End)
	}
	products, err := g.FindGeneProducts(ctx, q, cfg)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, nil
	}

	var rescue rescuer
	if cfg.UseMRNAs || cfg.UseESTs {
		rescue = g.overlapRescuer(ctx, q, cfg)
	}
	return associate(log, q, cfg, products, rescue)
}

func (g *GoldenPath) logger() *zap.Logger {
	if g.Logger == nil {
		return logger.L()
	}
	return g.Logger
}
