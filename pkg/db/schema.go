package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/yumyai/probemapper/pkg/binning"
	"github.com/yumyai/probemapper/pkg/model"
	"github.com/yumyai/probemapper/pkg/sequence"
)

// Annotation tables, named and shaped after the UCSC GoldenPath dumps. Every
// table carrying genome coordinates has a bin column.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS refFlat (
	bin INTEGER NOT NULL,
	geneName TEXT NOT NULL,
	name TEXT NOT NULL,
	chrom TEXT NOT NULL,
	strand TEXT NOT NULL,
	txStart INTEGER NOT NULL,
	txEnd INTEGER NOT NULL,
	cdsStart INTEGER NOT NULL,
	cdsEnd INTEGER NOT NULL,
	exonCount INTEGER NOT NULL,
	exonStarts TEXT NOT NULL,
	exonEnds TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS refFlat_chrom_bin ON refFlat (chrom, bin);
CREATE INDEX IF NOT EXISTS refFlat_name ON refFlat (name);

CREATE TABLE IF NOT EXISTS knownGene (
	bin INTEGER NOT NULL,
	name TEXT NOT NULL,
	chrom TEXT NOT NULL,
	strand TEXT NOT NULL,
	txStart INTEGER NOT NULL,
	txEnd INTEGER NOT NULL,
	exonCount INTEGER NOT NULL,
	exonStarts TEXT NOT NULL,
	exonEnds TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS knownGene_chrom_bin ON knownGene (chrom, bin);

CREATE TABLE IF NOT EXISTS kgXref (
	kgID TEXT NOT NULL PRIMARY KEY,
	mRNA TEXT NOT NULL,
	geneSymbol TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS knownToRefSeq (
	name TEXT NOT NULL,
	value TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS knownToRefSeq_name ON knownToRefSeq (name);

CREATE TABLE IF NOT EXISTS ensGene (
	bin INTEGER NOT NULL,
	name TEXT NOT NULL,
	name2 TEXT NOT NULL,
	chrom TEXT NOT NULL,
	strand TEXT NOT NULL,
	txStart INTEGER NOT NULL,
	txEnd INTEGER NOT NULL,
	exonCount INTEGER NOT NULL,
	exonStarts TEXT NOT NULL,
	exonEnds TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS ensGene_chrom_bin ON ensGene (chrom, bin);

CREATE TABLE IF NOT EXISTS all_mrna (` + pslColumns + `);
CREATE INDEX IF NOT EXISTS all_mrna_tName_bin ON all_mrna (tName, bin);
CREATE INDEX IF NOT EXISTS all_mrna_qName ON all_mrna (qName);

CREATE TABLE IF NOT EXISTS all_est (` + pslColumns + `);
CREATE INDEX IF NOT EXISTS all_est_tName_bin ON all_est (tName, bin);
CREATE INDEX IF NOT EXISTS all_est_qName ON all_est (qName);

CREATE TABLE IF NOT EXISTS biosequence (
	name TEXT NOT NULL PRIMARY KEY,
	taxon TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL DEFAULT 'UNKNOWN',
	length INTEGER NOT NULL DEFAULT 0,
	fractionRepeats REAL,
	sequence TEXT NOT NULL DEFAULT ''
);
`

const pslColumns = `
	bin INTEGER NOT NULL,
	matches INTEGER NOT NULL,
	misMatches INTEGER NOT NULL,
	repMatches INTEGER NOT NULL,
	nCount INTEGER NOT NULL,
	qNumInsert INTEGER NOT NULL,
	qBaseInsert INTEGER NOT NULL,
	tNumInsert INTEGER NOT NULL,
	tBaseInsert INTEGER NOT NULL,
	strand TEXT NOT NULL,
	qName TEXT NOT NULL,
	qSize INTEGER NOT NULL,
	qStart INTEGER NOT NULL,
	qEnd INTEGER NOT NULL,
	tName TEXT NOT NULL,
	tSize INTEGER NOT NULL,
	tStart INTEGER NOT NULL,
	tEnd INTEGER NOT NULL,
	blockCount INTEGER NOT NULL,
	blockSizes TEXT NOT NULL,
	qStarts TEXT NOT NULL,
	tStarts TEXT NOT NULL
`

// Track names accepted by InsertGeneProduct.
const (
	TrackRefGene   = "refGene"
	TrackKnownGene = "knownGene"
	TrackEnsembl   = "ensGene"
)

// Alignment tables accepted by InsertAlignment.
const (
	TableMRNA = "all_mrna"
	TableEST  = "all_est"
)

// execer is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func CreateSchema(ctx context.Context, db execer) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func exonBlobs(exons []model.Exon) (string, string) {
	starts := make([]int64, len(exons))
	ends := make([]int64, len(exons))
	for i, e := range exons {
		starts[i] = e.Start
		ends[i] = e.End()
	}
	return sequence.FormatLocations(starts), sequence.FormatLocations(ends)
}

// InsertGeneProduct stores gp in the table of the given track. Chromosome
// names are stored in "chr" form. For knownGene the product ID is the UCSC
// known gene ID and the symbol goes to kgXref.
func InsertGeneProduct(ctx context.Context, db execer, track string, gp *model.GeneProduct) error {
	bin, err := binning.BinFromRange(gp.Start, gp.End)
	if err != nil {
		return fmt.Errorf("gene product %s: %w", gp.ID, err)
	}
	chrom := sequence.BlatFormatChromosome(gp.Chromosome)
	starts, ends := exonBlobs(gp.Exons)

	switch track {
	case TrackRefGene:
		_, err = db.ExecContext(ctx, `INSERT INTO refFlat
			(bin, geneName, name, chrom, strand, txStart, txEnd, cdsStart, cdsEnd, exonCount, exonStarts, exonEnds)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			bin, gp.Gene.OfficialSymbol, gp.ID, chrom, gp.Strand, gp.Start, gp.End, gp.Start, gp.End, len(gp.Exons), starts, ends)
	case TrackKnownGene:
		_, err = db.ExecContext(ctx, `INSERT INTO knownGene
			(bin, name, chrom, strand, txStart, txEnd, exonCount, exonStarts, exonEnds)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			bin, gp.ID, chrom, gp.Strand, gp.Start, gp.End, len(gp.Exons), starts, ends)
		if err == nil {
			_, err = db.ExecContext(ctx, `INSERT OR REPLACE INTO kgXref (kgID, mRNA, geneSymbol, description) VALUES (?, ?, ?, ?)`,
				gp.ID, gp.ID, gp.Gene.OfficialSymbol, gp.Gene.Description)
		}
	case TrackEnsembl:
		_, err = db.ExecContext(ctx, `INSERT INTO ensGene
			(bin, name, name2, chrom, strand, txStart, txEnd, exonCount, exonStarts, exonEnds)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			bin, gp.ID, gp.Gene.ID, chrom, gp.Strand, gp.Start, gp.End, len(gp.Exons), starts, ends)
	default:
		return fmt.Errorf("unknown track %q", track)
	}
	if err != nil {
		return fmt.Errorf("insert %s %s: %w", track, gp.ID, err)
	}
	return nil
}

// InsertKnownToRefSeq links a known gene to the RefSeq transcript it matches.
func InsertKnownToRefSeq(ctx context.Context, db execer, knownGeneID, refSeqID string) error {
	if _, err := db.ExecContext(ctx, `INSERT INTO knownToRefSeq (name, value) VALUES (?, ?)`, knownGeneID, refSeqID); err != nil {
		return fmt.Errorf("insert knownToRefSeq %s: %w", knownGeneID, err)
	}
	return nil
}

// InsertAlignment stores a blat alignment of an mRNA or EST.
func InsertAlignment(ctx context.Context, db execer, table string, h *model.AlignmentHit) error {
	if table != TableMRNA && table != TableEST {
		return fmt.Errorf("unknown alignment table %q", table)
	}
	bin, err := binning.BinFromRange(h.TargetStart, h.TargetEnd)
	if err != nil {
		return fmt.Errorf("alignment %s: %w", h, err)
	}
	sizes, err := sequence.ParseLocations(h.BlockSizes)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `INSERT INTO `+table+`
		(bin, matches, misMatches, repMatches, nCount, qNumInsert, qBaseInsert, tNumInsert, tBaseInsert,
		 strand, qName, qSize, qStart, qEnd, tName, tSize, tStart, tEnd, blockCount, blockSizes, qStarts, tStarts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		bin, h.Matches, h.Mismatches, h.RepMatches, h.NCount, h.QueryGapCount, h.QueryGapBases, h.TargetGapCount, h.TargetGapBases,
		h.Strand, h.QueryName(), h.QueryLength(), h.QueryStart, h.QueryEnd,
		sequence.BlatFormatChromosome(h.TargetChromosome), h.TargetSize, h.TargetStart, h.TargetEnd,
		len(sizes), h.BlockSizes, h.QueryStarts, h.TargetStarts)
	if err != nil {
		return fmt.Errorf("insert %s %s: %w", table, h, err)
	}
	return nil
}

func InsertSequence(ctx context.Context, db execer, s *model.SequenceRecord) error {
	var repeats sql.NullFloat64
	if s.FractionRepeats != nil {
		repeats = sql.NullFloat64{Float64: *s.FractionRepeats, Valid: true}
	}
	_, err := db.ExecContext(ctx, `INSERT OR REPLACE INTO biosequence
		(name, taxon, type, length, fractionRepeats, sequence) VALUES (?, ?, ?, ?, ?, ?)`,
		s.Name, s.Taxon, s.Type.String(), s.Length, repeats, s.Sequence)
	if err != nil {
		return fmt.Errorf("insert sequence %s: %w", s.Name, err)
	}
	return nil
}
