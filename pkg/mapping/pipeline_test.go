package mapping

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yumyai/probemapper/pkg/model"
	"github.com/yumyai/probemapper/pkg/sequence"
)

// fakeLookup answers by chromosome and start.
type fakeLookup struct {
	regions map[string][]model.Association
	queries []RegionQuery
	err     error
}

func regionKey(chrom string, start int64) string {
	return fmt.Sprintf("%s:%d", chrom, start)
}

func (f *fakeLookup) FindAssociations(_ context.Context, q RegionQuery, _ Config) ([]model.Association, error) {
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	return f.regions[regionKey(q.Chromosome, q.Start)], nil
}

func observed() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func testPipeline(lookup AnnotationLookup) (*Pipeline, *observer.ObservedLogs) {
	log, logs := observed()
	p := NewPipeline(lookup, DefaultConfig())
	p.Logger = log
	return p, logs
}

func TestPipelineRun(t *testing.T) {
	seq := probe("p1", 100)
	lookup := &fakeLookup{regions: map[string][]model.Association{
		regionKey("1", 1000): {
			{GeneProduct: product("NM_A", "GA"), Overlap: 90},
			{GeneProduct: product("NM_A2", "GA"), Overlap: 100},
		},
		regionKey("2", 5000): {
			{GeneProduct: product("NM_B", "GB"), Overlap: 2}, // below the exon overlap threshold
		},
	}}
	p, _ := testPipeline(lookup)

	hits := []*model.AlignmentHit{perfectHit(seq, "chr1", 1000), perfectHit(seq, "chr2", 5000)}
	got, err := p.Run(context.Background(), hits)
	require.NoError(t, err)
	require.Contains(t, got, "p1")

	result := byProductID(got["p1"])
	assert.Len(t, result, 2)
	assert.Contains(t, result, "NM_A")
	assert.Contains(t, result, "NM_A2")
	assert.NotContains(t, result, "NM_B")
	assert.Same(t, seq, result["NM_A"].Sequence)
	assert.Same(t, hits[0], result["NM_A"].Hit)
	assert.Equal(t, 1000, result["NM_A2"].Score)
	// specificity is computed before the overlap filter
	assert.InDelta(t, 1000.0/1020.0, result["NM_A2"].Specificity, 1e-12)

	require.Len(t, lookup.queries, 2)
	assert.Equal(t, "1", lookup.queries[0].Chromosome)
	assert.Equal(t, "1000,", lookup.queries[0].BlockStarts)
	assert.Equal(t, "+", lookup.queries[0].Strand)
}

func TestPipelineZeroOverlapThresholdKeepsAll(t *testing.T) {
	seq := probe("p1", 100)
	lookup := &fakeLookup{regions: map[string][]model.Association{
		regionKey("1", 1000): {{GeneProduct: product("NM_A", "GA"), Overlap: 1}},
	}}
	p, _ := testPipeline(lookup)
	p.Config.MinimumExonOverlapFraction = 0

	got, err := p.Run(context.Background(), []*model.AlignmentHit{perfectHit(seq, "chr1", 1000)})
	require.NoError(t, err)
	assert.Len(t, got["p1"], 1)
}

func TestPipelineStrandPolicy(t *testing.T) {
	est := &model.SequenceRecord{Name: "est", Length: 100, Type: model.SequenceTypeEST}
	lookup := &fakeLookup{}
	p, _ := testPipeline(lookup)

	hit := perfectHit(est, "chr1", 1000)
	hit.Strand = "-"
	_, err := p.Run(context.Background(), []*model.AlignmentHit{hit})
	require.NoError(t, err)
	require.Len(t, lookup.queries, 1)
	assert.Equal(t, "", lookup.queries[0].Strand)
}

func TestPipelineRepeatScreen(t *testing.T) {
	// scenario D
	repeats := 0.5
	seq := &model.SequenceRecord{Name: "rep", Length: 100, Type: model.SequenceTypeOligo, FractionRepeats: &repeats}
	var hits []*model.AlignmentHit
	for i := 0; i < 12; i++ {
		hits = append(hits, perfectHit(seq, fmt.Sprintf("chr%d", i+1), 1000))
	}
	lookup := &fakeLookup{}
	p, logs := testPipeline(lookup)
	p.Config.MaximumRepeatFraction = 0.3
	p.Config.NonSpecificSiteCountThreshold = 10
	p.Config.NonRepeatNonSpecificSiteCountThreshold = 20

	got, err := p.Run(context.Background(), hits)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, lookup.queries)

	skipped := logs.FilterMessage("No mapping for sequence").All()
	require.Len(t, skipped, 1)
	assert.Equal(t, SkipRepeats.String(), skipped[0].ContextMap()["reason"])
	assert.Equal(t, 1, p.Warnings.Count())
}

func TestPipelineNonSpecificScreen(t *testing.T) {
	seq := probe("p1", 100)
	var hits []*model.AlignmentHit
	for i := 0; i < DefaultNonRepeatNonSpecificSites; i++ {
		hits = append(hits, perfectHit(seq, "chr1", int64(i*10000)))
	}
	lookup := &fakeLookup{}
	p, _ := testPipeline(lookup)

	got, err := p.Run(context.Background(), hits)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, lookup.queries)
}

func TestPipelineThresholds(t *testing.T) {
	seq := probe("p1", 100)
	weak := perfectHit(seq, "chr1", 1000)
	weak.Matches = 60
	weak.Mismatches = 40
	broken := perfectHit(&model.SequenceRecord{Name: "p1"}, "chr1", 2000)
	broken.QuerySize = 0

	lookup := &fakeLookup{}
	p, logs := testPipeline(lookup)

	got, err := p.Run(context.Background(), []*model.AlignmentHit{weak, broken})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, lookup.queries)
	assert.Equal(t, 1, logs.FilterMessage("Alignment has no query length").Len())
}

// blockLookup pairs the query blocks the way the database lookups do.
type blockLookup struct {
	staticLookup
}

func (b blockLookup) FindAssociations(ctx context.Context, q RegionQuery, cfg Config) ([]model.Association, error) {
	if _, _, err := sequence.Blocks(q.BlockStarts, q.BlockSizes); err != nil {
		return nil, err
	}
	if q.End <= q.Start {
		return nil, fmt.Errorf("empty region %d-%d", q.Start, q.End)
	}
	return b.staticLookup.FindAssociations(ctx, q, cfg)
}

func TestPipelineDropsMalformedHits(t *testing.T) {
	lookup := blockLookup{staticLookup{
		regionKey("1", 1000): {{GeneProduct: product("NM_A", "GA"), Overlap: 100}},
		regionKey("1", 2000): {{GeneProduct: product("NM_B", "GB"), Overlap: 100}},
		regionKey("1", 3000): {{GeneProduct: product("NM_C", "GC"), Overlap: 100}},
	}}
	p, logs := testPipeline(lookup)
	p.Config.IdentityThreshold = 0

	good := perfectHit(probe("good", 100), "chr1", 1000)
	unpaired := perfectHit(probe("unpaired", 100), "chr1", 2000)
	unpaired.TargetStarts = "2000,2050,"
	inverted := perfectHit(probe("inverted", 100), "chr1", 3000)
	inverted.TargetEnd = inverted.TargetStart

	got, err := p.Run(context.Background(), []*model.AlignmentHit{unpaired, good, inverted})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Len(t, got["good"], 1)
	assert.Equal(t, 2, logs.FilterMessage("Dropping malformed alignment").Len())

	skipped := logs.FilterMessage("No mapping for sequence").All()
	require.Len(t, skipped, 2)
	assert.Equal(t, SkipBelowThreshold.String(), skipped[0].ContextMap()["reason"])

	// a malformed hit next to a good one for the same sequence
	extra := perfectHit(good.Query, "chr1", 2000)
	extra.BlockSizes = "100,20,"
	got, err = p.Run(context.Background(), []*model.AlignmentHit{good, extra})
	require.NoError(t, err)
	assert.Len(t, got["good"], 1)
}

func TestCheckHit(t *testing.T) {
	seq := probe("p1", 100)
	require.NoError(t, CheckHit(perfectHit(seq, "chr1", 1000)))

	tests := []struct {
		name   string
		mutate func(h *model.AlignmentHit)
	}{
		{"inverted range", func(h *model.AlignmentHit) { h.TargetEnd = h.TargetStart - 1 }},
		{"negative start", func(h *model.AlignmentHit) { h.TargetStart = -5 }},
		{"unpaired blocks", func(h *model.AlignmentHit) { h.BlockSizes = "50,50," }},
		{"no blocks", func(h *model.AlignmentHit) { h.TargetStarts, h.BlockSizes = "", "" }},
		{"unparseable", func(h *model.AlignmentHit) { h.TargetStarts = "10x," }},
		{"negative size", func(h *model.AlignmentHit) { h.BlockSizes = "-100," }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := perfectHit(seq, "chr1", 1000)
			tt.mutate(h)
			assert.ErrorIs(t, CheckHit(h), ErrMalformedHit)
		})
	}
}

func TestPipelineTrimsNonCanonical(t *testing.T) {
	seq := probe("p1", 100)
	lookup := &fakeLookup{}
	p, _ := testPipeline(lookup)

	hits := []*model.AlignmentHit{
		perfectHit(seq, "chr6_cox_hap2", 1000),
		perfectHit(seq, "chr6", 1000),
	}
	_, err := p.Run(context.Background(), hits)
	require.NoError(t, err)
	require.Len(t, lookup.queries, 1)
	assert.Equal(t, "6", lookup.queries[0].Chromosome)
}

func TestTrimNonCanonical(t *testing.T) {
	seq := probe("p1", 100)
	onlyAlt := []*model.AlignmentHit{perfectHit(seq, "chrUn_gl000220", 1), perfectHit(seq, "chr1_random", 1)}
	assert.Len(t, TrimNonCanonical(onlyAlt), 2)

	single := []*model.AlignmentHit{perfectHit(seq, "chrUn_gl000220", 1)}
	assert.Len(t, TrimNonCanonical(single), 1)
}

func TestPipelineWarningBudget(t *testing.T) {
	lookup := &fakeLookup{}
	p, logs := testPipeline(lookup)

	var hits []*model.AlignmentHit
	for i := 0; i < MaxWarnings+5; i++ {
		hits = append(hits, perfectHit(probe(fmt.Sprintf("p%d", i), 100), "chr1", 1000))
	}
	got, err := p.Run(context.Background(), hits)
	require.NoError(t, err)
	assert.Empty(t, got)

	assert.Equal(t, MaxWarnings, logs.FilterMessage("No mapping for sequence").Len())
	assert.Equal(t, 1, logs.FilterMessage("Further non-mappings will not be logged").Len())
	assert.Equal(t, MaxWarnings+5, p.Warnings.Count())

	// a shared budget stays exhausted across runs
	_, err = p.Run(context.Background(), hits[:1])
	require.NoError(t, err)
	assert.Equal(t, MaxWarnings, logs.FilterMessage("No mapping for sequence").Len())
}

func TestPipelineNilBudgetPerRun(t *testing.T) {
	p, logs := testPipeline(staticLookup{})
	p.Warnings = nil

	var hits []*model.AlignmentHit
	for i := 0; i < MaxWarnings+2; i++ {
		hits = append(hits, perfectHit(probe(fmt.Sprintf("p%d", i), 100), "chr1", 1000))
	}

	const runs = 4
	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Run(context.Background(), hits)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Nil(t, p.Warnings)
	assert.Equal(t, runs*MaxWarnings, logs.FilterMessage("No mapping for sequence").Len())
	assert.Equal(t, runs, logs.FilterMessage("Further non-mappings will not be logged").Len())
}

func TestPipelineLookupErrorEndsRun(t *testing.T) {
	lookup := &fakeLookup{err: errors.New("database is locked")}
	p, _ := testPipeline(lookup)

	_, err := p.Run(context.Background(), []*model.AlignmentHit{perfectHit(probe("p1", 100), "chr1", 1000)})
	assert.ErrorContains(t, err, "database is locked")
}

func TestPipelineInvalidConfig(t *testing.T) {
	p, _ := testPipeline(&fakeLookup{})
	p.Config.IdentityThreshold = 2
	_, err := p.Run(context.Background(), nil)
	assert.Error(t, err)
}

// staticLookup is read-only, so workers may share it.
type staticLookup map[string][]model.Association

func (s staticLookup) FindAssociations(_ context.Context, q RegionQuery, _ Config) ([]model.Association, error) {
	return s[regionKey(q.Chromosome, q.Start)], nil
}

func TestPipelineWorkersMatchSequential(t *testing.T) {
	lookup := staticLookup{}
	var hits []*model.AlignmentHit
	for i := 0; i < 40; i++ {
		seq := probe(fmt.Sprintf("p%d", i), 100)
		start := int64(1000 * (i + 1))
		lookup[regionKey("1", start)] = []model.Association{
			{GeneProduct: product(fmt.Sprintf("NM_%d", i), fmt.Sprintf("G%d", i)), Overlap: int64(50 + i)},
			{GeneProduct: product(fmt.Sprintf("NM_%d", i+1), fmt.Sprintf("G%d", i+1)), Overlap: 40},
		}
		hits = append(hits, perfectHit(seq, "chr1", start))
	}

	sequential, _ := testPipeline(lookup)
	want, err := sequential.Run(context.Background(), hits)
	require.NoError(t, err)

	parallel, _ := testPipeline(lookup)
	parallel.Workers = 4
	got, err := parallel.Run(context.Background(), hits)
	require.NoError(t, err)

	assert.Equal(t, want, got)
	assert.Len(t, got, 40)
}

func TestPipelineCancelled(t *testing.T) {
	p, _ := testPipeline(staticLookup{})
	p.Workers = 2
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Run(ctx, []*model.AlignmentHit{perfectHit(probe("p1", 100), "chr1", 1000)})
	assert.True(t, errors.Is(err, context.Canceled))
}

type fakeLocator map[string][]*model.AlignmentHit

func (f fakeLocator) FindSequenceLocations(_ context.Context, acc string) ([]*model.AlignmentHit, error) {
	return f[acc], nil
}

func TestMapAccessions(t *testing.T) {
	seq := &model.SequenceRecord{Name: "BC012345", Length: 100, Type: model.SequenceTypeMRNA}
	locator := fakeLocator{"BC012345": {perfectHit(seq, "chr1", 1000)}}
	lookup := staticLookup{regionKey("1", 1000): {{GeneProduct: product("NM_A", "GA"), Overlap: 100}}}
	p, logs := testPipeline(lookup)

	got, err := p.MapAccessions(context.Background(), locator, []string{"BC012345", "AA000001", " "})
	require.NoError(t, err)
	assert.Len(t, got["BC012345"], 1)
	assert.Equal(t, 1, logs.FilterMessage("No alignments for accession").Len())
}

func TestConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "rk", cfg.TrackString())

	all, err := cfg.ParseTrackConfig("rkemE")
	require.NoError(t, err)
	assert.True(t, all.UseRefGene && all.UseKnownGene && all.UseESTs && all.UseMRNAs && all.UseEnsembl)
	assert.Equal(t, "rkemE", all.TrackString())
	// the receiver is a copy
	assert.False(t, cfg.UseESTs)

	_, err = cfg.ParseTrackConfig("rx")
	assert.Error(t, err)

	none := cfg
	none.UseRefGene, none.UseKnownGene = false, false
	assert.Error(t, none.Validate())

	bad := cfg
	bad.NonSpecificSiteCountThreshold = 0
	assert.Error(t, bad.Validate())
}
