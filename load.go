package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/yumyai/probemapper/internal/util"
	"github.com/yumyai/probemapper/logger"
	mydb "github.com/yumyai/probemapper/pkg/db"
	"github.com/yumyai/probemapper/pkg/model"
	"github.com/yumyai/probemapper/pkg/psl"
)

// runLoad builds (or extends) an annotation database from UCSC dumps.
func runLoad(ctx context.Context, args []string) error {
	var dbPath, refFlat, mrna, est, sequences string

	fs := flag.NewFlagSet("probemapper load", flag.ContinueOnError)
	fs.StringVar(&dbPath, "db", os.Getenv("PROBEMAPPER_DB"), "annotation SQLite database to create or extend (PROBEMAPPER_DB)")
	fs.StringVar(&refFlat, "refflat", "", "refFlat.txt dump")
	fs.StringVar(&mrna, "mrna", "", "all_mrna PSL dump")
	fs.StringVar(&est, "est", "", "all_est PSL dump")
	fs.StringVar(&sequences, "sequences", "", "tab-separated name, type, length, fraction repeats (blank if unknown)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if dbPath == "" {
		return errors.New("-db is required")
	}

	golden, err := mydb.OpenGoldenPath(dbPath)
	if err != nil {
		return err
	}
	defer golden.Close()

	tx, err := golden.DB().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := mydb.CreateSchema(ctx, tx); err != nil {
		return err
	}
	if refFlat != "" {
		if err := loadRefFlat(ctx, tx, refFlat); err != nil {
			return err
		}
	}
	if mrna != "" {
		if err := loadAlignments(ctx, tx, mydb.TableMRNA, mrna, model.SequenceTypeMRNA); err != nil {
			return err
		}
	}
	if est != "" {
		if err := loadAlignments(ctx, tx, mydb.TableEST, est, model.SequenceTypeEST); err != nil {
			return err
		}
	}
	if sequences != "" {
		if err := loadSequences(ctx, tx, sequences); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	logger.Info("Database ready", zap.String("DB_LOC", dbPath))
	return nil
}

func openInput(path string) (*os.File, error) {
	if !util.FileExists(path) {
		return nil, fmt.Errorf("%s does not exist", path)
	}
	return os.Open(path)
}

func loadRefFlat(ctx context.Context, tx *sql.Tx, path string) error {
	f, err := openInput(path)
	if err != nil {
		return err
	}
	defer f.Close()

	products, err := mydb.ReadRefFlat(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	for _, gp := range products {
		if err := mydb.InsertGeneProduct(ctx, tx, mydb.TrackRefGene, gp); err != nil {
			return err
		}
	}
	logger.Info("Loaded refFlat", zap.String("path", path), zap.Int("gene_products", len(products)))
	return nil
}

func loadAlignments(ctx context.Context, tx *sql.Tx, table, path string, seqType model.SequenceType) error {
	f, err := openInput(path)
	if err != nil {
		return err
	}
	defer f.Close()

	hits, err := psl.ReadAll(f, seqType)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	for _, h := range hits {
		if err := mydb.InsertAlignment(ctx, tx, table, h); err != nil {
			return err
		}
	}
	logger.Info("Loaded alignments", zap.String("table", table), zap.String("path", path), zap.Int("hits", len(hits)))
	return nil
}

func loadSequences(ctx context.Context, tx *sql.Tx, path string) error {
	f, err := openInput(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var n, lineNo int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		record, err := parseSequenceLine(line)
		if err != nil {
			return fmt.Errorf("%s line %d: %w", path, lineNo, err)
		}
		if err := mydb.InsertSequence(ctx, tx, record); err != nil {
			return err
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	logger.Info("Loaded sequences", zap.String("path", path), zap.Int("sequences", n))
	return nil
}

func parseSequenceLine(line string) (*model.SequenceRecord, error) {
	fields := strings.Split(line, "\t")
	if len(fields) < 2 {
		return nil, fmt.Errorf("expected at least name and type, got %d columns", len(fields))
	}
	t, err := model.ParseSequenceType(fields[1])
	if err != nil {
		return nil, err
	}
	record := &model.SequenceRecord{Name: strings.TrimSpace(fields[0]), Type: t}
	if len(fields) > 2 && strings.TrimSpace(fields[2]) != "" {
		if record.Length, err = strconv.ParseInt(strings.TrimSpace(fields[2]), 10, 64); err != nil {
			return nil, fmt.Errorf("length: %w", err)
		}
	}
	if len(fields) > 3 && strings.TrimSpace(fields[3]) != "" {
		repeats, err := strconv.ParseFloat(strings.TrimSpace(fields[3]), 64)
		if err != nil {
			return nil, fmt.Errorf("fraction repeats: %w", err)
		}
		record.FractionRepeats = &repeats
	}
	return record, nil
}
