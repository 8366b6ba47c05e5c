package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/yumyai/probemapper/internal/util"
	"github.com/yumyai/probemapper/logger"
	mydb "github.com/yumyai/probemapper/pkg/db"
	"github.com/yumyai/probemapper/pkg/mapping"
	"github.com/yumyai/probemapper/pkg/model"
	"github.com/yumyai/probemapper/pkg/psl"
	"github.com/yumyai/probemapper/pkg/render"
)

const VERSION = "0.1.0"

func main() {

	// Establish logger
	if err := logger.InitLogger(zapcore.InfoLevel); err != nil {
		panic(err)
	}

	// Try load env
	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env found, using local environment")
	}
	if level := os.Getenv("PROBEMAPPER_LOG_LEVEL"); level != "" {
		if err := logger.InitLogger(logger.ParseLevel(level)); err != nil {
			panic(err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)

	var err error
	if len(os.Args) > 1 && os.Args[1] == "load" {
		err = runLoad(ctx, os.Args[2:])
	} else {
		err = runMap(ctx, os.Args[1:])
	}
	stop()

	code := 0
	if errors.Is(err, flag.ErrHelp) {
		err = nil
	}
	if err != nil {
		logger.Error("probemapper failed", zap.Error(err))
		code = 1
	}
	logger.Sync() // Make sure that the buffered is flushed.
	os.Exit(code)
}

type mapOptions struct {
	psl        string
	db         string
	refFlat    string
	accessions string
	seqType    string
	method     string
	tracks     string
	format     string
	out        string
	workers    int
	noTrim     bool
}

func runMap(ctx context.Context, args []string) error {
	cfg := mapping.DefaultConfig()
	opts := mapOptions{}

	fs := flag.NewFlagSet("probemapper", flag.ContinueOnError)
	fs.StringVar(&opts.psl, "psl", "", "blat PSL file of probe alignments")
	fs.StringVar(&opts.db, "db", os.Getenv("PROBEMAPPER_DB"), "annotation SQLite database (PROBEMAPPER_DB)")
	fs.StringVar(&opts.refFlat, "refflat", "", "refFlat.txt to map against in memory instead of -db")
	fs.StringVar(&opts.accessions, "accessions", "", "file of GenBank mRNA/EST accessions to map using -db alignments")
	fs.StringVar(&opts.seqType, "type", "", "sequence type of all PSL queries (e.g. OLIGO, AFFY_PROBE, EST)")
	fs.StringVar(&opts.method, "method", "right", "three-prime distance method: right or middle")
	fs.StringVar(&opts.tracks, "tracks", envOr("PROBEMAPPER_TRACKS", cfg.TrackString()), "tracks: r=refGene k=knownGene E=ensGene m=mRNA e=EST (PROBEMAPPER_TRACKS)")
	fs.StringVar(&opts.format, "format", render.FormatTSV, "output format: tsv or json")
	fs.StringVar(&opts.out, "out", "", "output file (default stdout)")
	fs.IntVar(&opts.workers, "workers", 1, "sequences mapped concurrently")
	fs.BoolVar(&opts.noTrim, "no-trim", false, "keep hits on unplaced, random and alternate contigs")
	fs.Float64Var(&cfg.BlatScoreThreshold, "score", cfg.BlatScoreThreshold, "minimum blat score fraction")
	fs.Float64Var(&cfg.IdentityThreshold, "identity", cfg.IdentityThreshold, "minimum identity fraction")
	fs.Float64Var(&cfg.MinimumExonOverlapFraction, "overlap", cfg.MinimumExonOverlapFraction, "minimum fraction of aligned bases in exons")
	fs.Float64Var(&cfg.MaximumRepeatFraction, "repeats", cfg.MaximumRepeatFraction, "maximum repeat fraction of a sequence")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := cfg.ParseTrackConfig(opts.tracks)
	if err != nil {
		return err
	}
	cfg.TrimNonCanonicalChromosomeHits = !opts.noTrim
	method, err := parseMethod(opts.method)
	if err != nil {
		return err
	}

	var (
		lookup mapping.AnnotationLookup
		golden *mydb.GoldenPath
	)
	switch {
	case opts.refFlat != "":
		lookup, err = openRefFlat(opts.refFlat)
	case opts.db != "":
		if !util.FileExists(opts.db) {
			return fmt.Errorf("annotation database %s does not exist", opts.db)
		}
		golden, err = mydb.OpenGoldenPath(opts.db)
		lookup = golden
	default:
		return errors.New("one of -db or -refflat is required")
	}
	if err != nil {
		return err
	}
	if golden != nil {
		defer golden.Close()
		logger.Info("Open database on", zap.String("DB_LOC", opts.db))
	}

	p := mapping.NewPipeline(lookup, cfg)
	p.Method = method
	p.Workers = opts.workers
	logger.Info("Start:", zap.String("Version", VERSION), zap.String("tracks", cfg.TrackString()))

	var results map[string][]model.Association
	switch {
	case opts.accessions != "":
		if golden == nil {
			return errors.New("-accessions needs the alignments in -db")
		}
		accessions, err := readAccessions(opts.accessions)
		if err != nil {
			return err
		}
		results, err = p.MapAccessions(ctx, golden, accessions)
		if err != nil {
			return err
		}
	case opts.psl != "":
		hits, err := readHits(ctx, opts.psl, opts.seqType, golden)
		if err != nil {
			return err
		}
		results, err = p.Run(ctx, hits)
		if err != nil {
			return err
		}
	default:
		return errors.New("one of -psl or -accessions is required")
	}

	return writeResults(opts.out, opts.format, results)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseMethod(name string) (model.ThreePrimeMethod, error) {
	switch strings.ToLower(name) {
	case "right", "":
		return model.ThreePrimeRight, nil
	case "middle":
		return model.ThreePrimeMiddle, nil
	}
	return model.ThreePrimeRight, fmt.Errorf("unsupported three-prime method %q", name)
}

func openRefFlat(path string) (*mydb.MemoryAnnotations, error) {
	if !util.FileExists(path) {
		return nil, fmt.Errorf("refFlat file %s does not exist", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	products, err := mydb.ReadRefFlat(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	logger.Info("Loaded refFlat", zap.String("path", path), zap.Int("gene_products", len(products)))
	return mydb.NewMemoryAnnotations(products)
}

// readHits reads the PSL file and, when a database is open, replaces the
// query records with the stored sequence metadata.
func readHits(ctx context.Context, path, seqType string, golden *mydb.GoldenPath) ([]*model.AlignmentHit, error) {
	if !util.FileExists(path) {
		return nil, fmt.Errorf("PSL file %s does not exist", path)
	}
	t, err := model.ParseSequenceType(seqType)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	hits, err := psl.ReadAll(f, t)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	logger.Info("Read alignments", zap.String("path", path), zap.Int("hits", len(hits)))

	if golden == nil {
		return hits, nil
	}
	err = golden.Sequences.Check(ctx)
	if errors.Is(err, mydb.ErrNoSequenceTable) {
		logger.Warn("No sequence table, using PSL query sizes only")
		return hits, nil
	}
	if err != nil {
		return nil, err
	}
	found, err := golden.Sequences.Annotate(ctx, hits)
	if err != nil {
		return nil, err
	}
	logger.Info("Annotated sequences", zap.Int("found", found))
	return hits, nil
}

func readAccessions(path string) ([]string, error) {
	if !util.FileExists(path) {
		return nil, fmt.Errorf("accession file %s does not exist", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var accessions []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		accessions = append(accessions, strings.Fields(line)[0])
	}
	return accessions, scanner.Err()
}

func writeResults(out, format string, results map[string][]model.Association) error {
	var w io.Writer = os.Stdout
	if out != "" {
		if dir := filepath.Dir(out); !util.DirExists(dir) {
			return fmt.Errorf("output directory %s does not exist", dir)
		}
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	bw := bufio.NewWriter(w)
	if err := render.Render(bw, format, results); err != nil {
		return err
	}
	return bw.Flush()
}
