package mapping

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yumyai/probemapper/pkg/model"
)

func product(id, gene string) *model.GeneProduct {
	return &model.GeneProduct{ID: id, Gene: model.Gene{ID: gene, OfficialSymbol: gene}, Strand: "+"}
}

// candidate builds an association whose raw score is overlap*10 for a
// perfect hit on a 100 base probe.
func candidate(seq *model.SequenceRecord, hit *model.AlignmentHit, gp *model.GeneProduct, overlap int64) model.Association {
	return model.Association{Sequence: seq, Hit: hit, GeneProduct: gp, Overlap: overlap}
}

func byProductID(as []model.Association) map[string]model.Association {
	m := make(map[string]model.Association, len(as))
	for _, a := range as {
		m[a.GeneProductID()] = a
	}
	return m
}

func TestScoreAssociationsEmpty(t *testing.T) {
	scored, err := ScoreAssociations(nil)
	require.NoError(t, err)
	assert.Empty(t, scored.Associations)
	assert.Nil(t, scored.Best)
}

func TestScoreAssociationsSingleGene(t *testing.T) {
	// scenario B
	seq := probe("p1", 100)
	hit := perfectHit(seq, "chr1", 1000)
	in := []model.Association{
		candidate(seq, hit, product("NM_1", "G1"), 80),
		candidate(seq, hit, product("NM_2", "G1"), 60),
	}

	scored, err := ScoreAssociations(in)
	require.NoError(t, err)
	require.Len(t, scored.Associations, 2)

	got := byProductID(scored.Associations)
	assert.Equal(t, 800, got["NM_1"].Score)
	assert.Equal(t, 600, got["NM_2"].Score)
	for _, a := range scored.Associations {
		assert.Equal(t, 1.0, a.Specificity)
	}
	require.NotNil(t, scored.Best)
	assert.Equal(t, "NM_1", scored.Best.GeneProductID())

	// input untouched
	assert.Equal(t, 0, in[0].Score)
	assert.Equal(t, 0.0, in[0].Specificity)
}

func TestScoreAssociationsTwoClusters(t *testing.T) {
	// scenario C
	seq := probe("p1", 100)
	hitA := perfectHit(seq, "chr1", 1000)
	hitB := perfectHit(seq, "chr2", 5000)
	in := []model.Association{
		candidate(seq, hitA, product("NM_A", "GA"), 90),
		candidate(seq, hitB, product("NM_B", "GB"), 30),
	}

	scored, err := ScoreAssociations(in)
	require.NoError(t, err)
	got := byProductID(scored.Associations)
	assert.InDelta(t, 0.75, got["NM_A"].Specificity, 1e-12)
	assert.InDelta(t, 0.25, got["NM_B"].Specificity, 1e-12)
}

func TestScoreAssociationsSameLocusIsOneCluster(t *testing.T) {
	seq := probe("p1", 100)
	shared := perfectHit(seq, "chr1", 1000)
	other := perfectHit(seq, "chr3", 1000)
	in := []model.Association{
		candidate(seq, shared, product("NM_A", "GA"), 90),
		candidate(seq, shared, product("NM_A2", "GA2"), 40),
		candidate(seq, other, product("NM_B", "GB"), 30),
	}

	scored, err := ScoreAssociations(in)
	require.NoError(t, err)
	got := byProductID(scored.Associations)
	// clusters: {GA, GA2} best 900, {GB} 300
	assert.InDelta(t, 0.75, got["NM_A"].Specificity, 1e-12)
	assert.InDelta(t, 0.75, got["NM_A2"].Specificity, 1e-12)
	assert.InDelta(t, 0.25, got["NM_B"].Specificity, 1e-12)
}

func TestScoreAssociationsKeepsBestPerProduct(t *testing.T) {
	seq := probe("p1", 100)
	h1 := perfectHit(seq, "chr1", 1000)
	h2 := perfectHit(seq, "chr1", 9000)
	h3 := perfectHit(seq, "chr1", 20000)
	gp := product("NM_1", "G1")
	in := []model.Association{
		candidate(seq, h1, gp, 50),
		candidate(seq, h2, gp, 70),
		candidate(seq, h3, gp, 70),
	}

	scored, err := ScoreAssociations(in)
	require.NoError(t, err)
	require.Len(t, scored.Associations, 1)
	assert.Equal(t, 700, scored.Associations[0].Score)
	// tie goes to the earlier candidate
	assert.Same(t, h2, scored.Associations[0].Hit)
}

func TestScoreAssociationsBestTieBreak(t *testing.T) {
	seq := probe("p1", 100)
	hit := perfectHit(seq, "chr1", 1000)
	in := []model.Association{
		candidate(seq, hit, product("NM_9", "G9"), 50),
		candidate(seq, hit, product("NM_1", "G1"), 50),
	}
	scored, err := ScoreAssociations(in)
	require.NoError(t, err)
	assert.Equal(t, "NM_1", scored.Best.GeneProductID())
}

func TestScoreAssociationsZeroTotal(t *testing.T) {
	seq := probe("p1", 100)
	in := []model.Association{
		candidate(seq, perfectHit(seq, "chr1", 1000), product("NM_A", "GA"), 0),
		candidate(seq, perfectHit(seq, "chr2", 1000), product("NM_B", "GB"), 0),
	}
	scored, err := ScoreAssociations(in)
	require.NoError(t, err)
	for _, a := range scored.Associations {
		assert.Equal(t, 0.0, a.Specificity)
	}
}

func TestScoreAssociationsMixedSequences(t *testing.T) {
	s1, s2 := probe("p1", 100), probe("p2", 100)
	in := []model.Association{
		candidate(s1, perfectHit(s1, "chr1", 1000), product("NM_1", "G1"), 50),
		candidate(s2, perfectHit(s2, "chr1", 1000), product("NM_1", "G1"), 50),
	}
	_, err := ScoreAssociations(in)
	assert.True(t, errors.Is(err, ErrMixedSequences))
}

func TestScoreAssociationsProperties(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	for round := 0; round < 200; round++ {
		seq := probe("p", 100)
		var hits []*model.AlignmentHit
		for i := 0; i < 1+r.Intn(4); i++ {
			hits = append(hits, perfectHit(seq, fmt.Sprintf("chr%d", 1+r.Intn(3)), int64(1000*r.Intn(3))))
		}
		var in []model.Association
		for i := 0; i < 1+r.Intn(12); i++ {
			g := r.Intn(4)
			gp := product(fmt.Sprintf("NM_%d_%d", g, r.Intn(3)), fmt.Sprintf("G%d", g))
			in = append(in, candidate(seq, hits[r.Intn(len(hits))], gp, r.Int63n(101)))
		}

		scored, err := ScoreAssociations(in)
		require.NoError(t, err)

		products := make(map[string]bool)
		genes := make(map[string]bool)
		clusterSpecificity := make(map[string]float64)
		geneBest := make(map[string]*model.Association)
		for i := range scored.Associations {
			a := &scored.Associations[i]
			assert.False(t, products[a.GeneProductID()], "duplicate gene product %s", a.GeneProductID())
			products[a.GeneProductID()] = true
			genes[a.GeneID()] = true
			if b, ok := geneBest[a.GeneID()]; !ok || a.Score > b.Score {
				geneBest[a.GeneID()] = a
			}
		}
		if len(genes) == 1 {
			for _, a := range scored.Associations {
				assert.Equal(t, 1.0, a.Specificity)
			}
			continue
		}
		for _, a := range scored.Associations {
			clusterSpecificity[geneBest[a.GeneID()].Hit.Locus()] = a.Specificity
		}
		var sum float64
		for _, s := range clusterSpecificity {
			sum += s
		}
		assert.LessOrEqual(t, sum, 1.0+1e-9)
	}
}
