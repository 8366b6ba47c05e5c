package mapping

import (
	"errors"
	"fmt"
	"math"

	"github.com/yumyai/probemapper/pkg/model"
)

var (
	ErrInconsistentHit = errors.New("inconsistent alignment hit")
	ErrNoQueryLength   = errors.New("alignment hit has no usable query length")
)

// Score is the fraction of the query covered by the alignment, penalised for
// gaps: (matches + repMatches - qGapCount - tGapCount) / queryLength.
// matches+repMatches is first clamped to the query length.
func Score(h *model.AlignmentHit) (float64, error) {
	length := h.QueryLength()
	if length <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoQueryLength, h)
	}

	matched := h.Matches + h.RepMatches
	if matched > length {
		matched = length
	}
	score := float64(matched-h.QueryGapCount-h.TargetGapCount) / float64(length)

	if score < 0 {
		if h.RepMatches == 0 {
			return 0, fmt.Errorf("%w: negative score %g for %s with no repeat matches", ErrInconsistentHit, score, h)
		}
		score = 0
	}
	return math.Min(score, 1), nil
}

// Identity follows blat's pslCalcMilliBad, without the mRNA insert penalty:
// mismatches and query gaps per thousand aligned bases, plus a log penalty
// when the query side of the alignment is longer than the target side.
func Identity(h *model.AlignmentHit) float64 {
	qAliSize := h.QueryEnd - h.QueryStart
	tAliSize := h.TargetEnd - h.TargetStart
	aliSize := min(qAliSize, tAliSize)
	if aliSize <= 0 {
		return 0
	}

	sizeDif := max(0, qAliSize-tAliSize)
	total := h.Matches + h.RepMatches + h.Mismatches

	var milliBad float64
	if total != 0 {
		insertFactor := float64(h.QueryGapCount) + math.Round(3*math.Log(1+float64(sizeDif)))
		milliBad = 1000 * (float64(h.Mismatches) + insertFactor) / float64(total)
	}
	milliBad = math.Max(0, math.Min(1000, milliBad))
	return (100 - milliBad/10) / 100
}
