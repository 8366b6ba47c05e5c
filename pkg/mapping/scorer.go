package mapping

import (
	"errors"
	"fmt"
	"math"

	"github.com/yumyai/probemapper/pkg/model"
)

var ErrMixedSequences = errors.New("associations are for more than one sequence")

// Scored is the outcome of ScoreAssociations.
type Scored struct {
	// Associations holds one association per gene product, in the order the
	// gene products were first seen, with Score and Specificity filled in.
	Associations []model.Association
	// Best is the highest scoring association, ties going to the lowest gene
	// product ID. nil when there were no candidates.
	Best *model.Association
}

func sequenceName(a *model.Association) string {
	if a.Sequence != nil {
		return a.Sequence.Name
	}
	if a.Hit != nil {
		return a.Hit.QueryName()
	}
	return ""
}

// RawScore is round(1000 * score(hit) * overlap / queryLength).
func RawScore(a *model.Association) (int, error) {
	if a.Hit == nil {
		return 0, fmt.Errorf("%w: association has no alignment", ErrInconsistentHit)
	}
	score, err := Score(a.Hit)
	if err != nil {
		return 0, err
	}
	overlapFraction := float64(a.Overlap) / float64(a.Hit.QueryLength())
	return int(math.Round(1000 * score * overlapFraction)), nil
}

// ScoreAssociations reduces the candidates for one sequence to at most one
// association per gene product and sets their specificity. The candidates
// are not modified.
//
// When the survivors belong to a single gene they all get specificity 1.
// Otherwise genes whose best alignment lies at the same locus are counted as
// one cluster, and each survivor gets its cluster's best score divided by the
// sum of all cluster best scores.
func ScoreAssociations(candidates []model.Association) (Scored, error) {
	if len(candidates) == 0 {
		return Scored{}, nil
	}

	name := sequenceName(&candidates[0])
	var survivors []model.Association
	byProduct := make(map[string]int)

	for i := range candidates {
		c := candidates[i]
		if n := sequenceName(&c); n != name {
			return Scored{}, fmt.Errorf("%w: %q and %q", ErrMixedSequences, name, n)
		}
		if c.GeneProduct == nil {
			return Scored{}, fmt.Errorf("%w: association for %q has no gene product", ErrInconsistentHit, name)
		}
		raw, err := RawScore(&c)
		if err != nil {
			return Scored{}, err
		}
		c.Score = raw
		c.Specificity = 1.0

		idx, seen := byProduct[c.GeneProduct.ID]
		if !seen {
			byProduct[c.GeneProduct.ID] = len(survivors)
			survivors = append(survivors, c)
			continue
		}
		// earlier candidate keeps a tie
		if c.Score > survivors[idx].Score {
			survivors[idx] = c
		}
	}

	result := Scored{Associations: survivors}
	for i := range survivors {
		s := &survivors[i]
		if result.Best == nil || s.Score > result.Best.Score ||
			(s.Score == result.Best.Score && s.GeneProductID() < result.Best.GeneProductID()) {
			result.Best = s
		}
	}

	// best survivor per gene, in first-seen gene order
	var genes []string
	geneBest := make(map[string]*model.Association)
	for i := range survivors {
		s := &survivors[i]
		g := s.GeneID()
		b, ok := geneBest[g]
		if !ok {
			genes = append(genes, g)
			geneBest[g] = s
			continue
		}
		if s.Score > b.Score {
			geneBest[g] = s
		}
	}
	if len(genes) == 1 {
		return result, nil
	}

	geneCluster := make(map[string]string, len(genes))
	clusterScore := make(map[string]int)
	for _, g := range genes {
		locus := geneBest[g].Hit.Locus()
		geneCluster[g] = locus
		if cs, ok := clusterScore[locus]; !ok || geneBest[g].Score > cs {
			clusterScore[locus] = geneBest[g].Score
		}
	}

	var total int
	for _, cs := range clusterScore {
		total += cs
	}
	for i := range survivors {
		s := &survivors[i]
		if total == 0 {
			s.Specificity = 0
			continue
		}
		s.Specificity = float64(clusterScore[geneCluster[s.GeneID()]]) / float64(total)
	}
	return result, nil
}
