package mapping

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yumyai/probemapper/logger"
	"github.com/yumyai/probemapper/pkg/model"
	"github.com/yumyai/probemapper/pkg/sequence"
)

// ManyCandidatesWarning is the number of gene products one alignment may hit
// before it is reported.
const ManyCandidatesWarning = 100

// RegionQuery is one aligned region to look up in the annotations.
type RegionQuery struct {
	Chromosome  string // without the "chr" prefix
	Start       int64
	End         int64
	BlockStarts string // comma-delimited target block starts
	BlockSizes  string // comma-delimited block sizes
	Strand      string // "" to ignore orientation
	Method      model.ThreePrimeMethod
}

// AnnotationLookup finds the gene products overlapping an aligned region.
// Returned associations carry the gene product, exon overlap and three-prime
// distance; the pipeline fills in the sequence and hit.
type AnnotationLookup interface {
	FindAssociations(ctx context.Context, q RegionQuery, cfg Config) ([]model.Association, error)
}

// SequenceLocator finds the genome alignments of an already-aligned
// sequence, such as a GenBank accession.
type SequenceLocator interface {
	FindSequenceLocations(ctx context.Context, accession string) ([]*model.AlignmentHit, error)
}

type Pipeline struct {
	Lookup AnnotationLookup
	Config Config
	Method model.ThreePrimeMethod
	// Warnings is shared by every call that uses this Pipeline. When nil,
	// each Run or MapAccessions call gets a budget of its own; the field is
	// never assigned after construction.
	Warnings *WarningBudget
	Logger   *zap.Logger
	// Workers is the number of sequences mapped at once; below 2 runs inline.
	Workers int
}

func NewPipeline(lookup AnnotationLookup, cfg Config) *Pipeline {
	return &Pipeline{
		Lookup:   lookup,
		Config:   cfg,
		Method:   model.ThreePrimeRight,
		Warnings: NewWarningBudget(MaxWarnings),
		Logger:   logger.L(),
		Workers:  1,
	}
}

type sequenceHits struct {
	record *model.SequenceRecord
	hits   []*model.AlignmentHit
}

type sequenceResult struct {
	associations []model.Association
	reason       SkipReason
}

// groupBySequence keeps sequences in the order they are first seen.
func groupBySequence(log *zap.Logger, hits []*model.AlignmentHit) []sequenceHits {
	var groups []sequenceHits
	index := make(map[string]int)
	for _, h := range hits {
		if h == nil {
			continue
		}
		name := h.QueryName()
		if strings.TrimSpace(name) == "" {
			log.Warn("Alignment has no query sequence", zap.Stringer("hit", h))
			continue
		}
		i, ok := index[name]
		if !ok {
			i = len(groups)
			index[name] = i
			groups = append(groups, sequenceHits{record: h.Query})
		}
		groups[i].hits = append(groups[i].hits, h)
	}
	return groups
}

// Run maps a batch of alignments to gene products. The result is keyed by
// sequence name; sequences without associations are left out. Lookup
// failures and context cancellation end the run with an error.
func (p *Pipeline) Run(ctx context.Context, hits []*model.AlignmentHit) (map[string][]model.Association, error) {
	return p.run(ctx, hits, p.warnings())
}

func (p *Pipeline) run(ctx context.Context, hits []*model.AlignmentHit, budget *WarningBudget) (map[string][]model.Association, error) {
	if err := p.Config.Validate(); err != nil {
		return nil, err
	}
	log, runID := withRunID(p.logger())
	start := time.Now()

	groups := groupBySequence(log, hits)
	results := make([]sequenceResult, len(groups))
	log.Info("Mapping sequences",
		zap.Int("sequences", len(groups)),
		zap.Int("hits", len(hits)),
		zap.String("tracks", p.Config.TrackString()))

	if err := p.dispatch(ctx, log, groups, results); err != nil {
		return nil, fmt.Errorf("%s: %w", runID, err)
	}

	stats := RunStats{Sequences: len(groups), Hits: len(hits), Skipped: make(map[SkipReason]int)}
	out := make(map[string][]model.Association)
	for i, g := range groups {
		r := results[i]
		if len(r.associations) == 0 {
			stats.Skipped[r.reason]++
			budget.Log(log, "No mapping for sequence",
				zap.String("sequence", g.record.Name),
				zap.Stringer("reason", r.reason))
			continue
		}
		stats.Mapped++
		out[g.record.Name] = r.associations
	}

	log.Info("Mapping completed", zap.Object("stats", stats), zap.Duration("duration", time.Since(start)))
	return out, nil
}

func (p *Pipeline) dispatch(ctx context.Context, log *zap.Logger, groups []sequenceHits, results []sequenceResult) error {
	run := func(i int) error {
		g := groups[i]
		return timed(log, g.record.Name, func() error {
			r, err := p.mapSequence(ctx, log, g.record, g.hits)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}

	if p.Workers < 2 {
		for i := range groups {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := run(i); err != nil {
				return err
			}
		}
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan int)
	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for w := 0; w < p.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if err := run(i); err != nil {
					once.Do(func() {
						firstErr = err
						cancel()
					})
				}
			}
		}()
	}

feed:
	for i := range groups {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// mapSequence runs filter, lookup, scoring and the exon overlap filter for
// the hits of one sequence.
func (p *Pipeline) mapSequence(ctx context.Context, log *zap.Logger, seq *model.SequenceRecord, hits []*model.AlignmentHit) (sequenceResult, error) {
	cfg := p.Config
	seqLog := log.With(zap.String("sequence", seq.Name))

	if cfg.TrimNonCanonicalChromosomeHits {
		hits = TrimNonCanonical(hits)
	}
	if len(hits) > ManyHitsWarning {
		seqLog.Warn("Sequence has many alignments", zap.Int("hits", len(hits)))
	}

	if reason := ScreenSequence(cfg, seq, hits); reason != NotSkipped {
		seqLog.Debug("Sequence screened out", zap.Stringer("reason", reason), zap.Int("hits", len(hits)))
		return sequenceResult{reason: reason}, nil
	}

	hits = FilterOnScores(seqLog, cfg, hits)
	if len(hits) == 0 {
		return sequenceResult{reason: SkipBelowThreshold}, nil
	}

	var candidates []model.Association
	for _, h := range hits {
		found, err := p.Lookup.FindAssociations(ctx, RegionQuery{
			Chromosome:  sequence.DeBlatFormatChromosome(h.TargetChromosome),
			Start:       h.TargetStart,
			End:         h.TargetEnd,
			BlockStarts: h.TargetStarts,
			BlockSizes:  h.BlockSizes,
			Strand:      LookupStrand(seq, h),
			Method:      p.Method,
		}, cfg)
		if err != nil {
			return sequenceResult{}, fmt.Errorf("looking up %s: %w", h, err)
		}
		if len(found) > ManyCandidatesWarning {
			seqLog.Warn("Alignment hits many gene products", zap.Stringer("hit", h), zap.Int("gene_products", len(found)))
		}
		for _, a := range found {
			a.Sequence = seq
			a.Hit = h
			candidates = append(candidates, a)
		}
	}
	if len(candidates) == 0 {
		return sequenceResult{reason: SkipNoGeneProducts}, nil
	}

	scored, err := ScoreAssociations(candidates)
	if err != nil {
		seqLog.Warn("Could not score associations", zap.Error(err))
		return sequenceResult{reason: SkipScoringFailed}, nil
	}
	if scored.Best != nil {
		seqLog.Debug("Best association",
			zap.String("gene_product", scored.Best.GeneProductID()),
			zap.Int("score", scored.Best.Score))
	}

	kept := scored.Associations
	if cfg.MinimumExonOverlapFraction > 0 {
		kept = kept[:0:0]
		for _, a := range scored.Associations {
			if OverlapFraction(&a) >= cfg.MinimumExonOverlapFraction {
				kept = append(kept, a)
			}
		}
	}
	if len(kept) == 0 {
		return sequenceResult{reason: SkipLowExonOverlap}, nil
	}
	return sequenceResult{associations: kept}, nil
}

// MapAccessions maps sequences that are already aligned in the annotation
// database, looked up by accession. Accessions with no alignments are
// counted against the warning budget and left out.
func (p *Pipeline) MapAccessions(ctx context.Context, locator SequenceLocator, accessions []string) (map[string][]model.Association, error) {
	log := p.logger()
	budget := p.warnings()
	var hits []*model.AlignmentHit
	for _, acc := range accessions {
		acc = strings.TrimSpace(acc)
		if acc == "" {
			continue
		}
		found, err := locator.FindSequenceLocations(ctx, acc)
		if err != nil {
			return nil, fmt.Errorf("locating %s: %w", acc, err)
		}
		if len(found) == 0 {
			budget.Log(log, "No alignments for accession", zap.String("accession", acc))
			continue
		}
		hits = append(hits, found...)
	}
	return p.run(ctx, hits, budget)
}

func (p *Pipeline) logger() *zap.Logger {
	if p.Logger == nil {
		return logger.L()
	}
	return p.Logger
}

func (p *Pipeline) warnings() *WarningBudget {
	if p.Warnings == nil {
		return NewWarningBudget(MaxWarnings)
	}
	return p.Warnings
}
