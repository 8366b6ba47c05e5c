package mapping

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/yumyai/probemapper/pkg/model"
	"github.com/yumyai/probemapper/pkg/sequence"
)

// ManyHitsWarning is the hit count above which a sequence is reported as
// suspicious even when it passes the non-specificity screens.
const ManyHitsWarning = 25

// ErrMalformedHit marks a hit whose target coordinates cannot be placed.
var ErrMalformedHit = errors.New("malformed alignment")

// CheckHit rejects hits with an empty or inverted target range, or with
// target block lists that do not pair up.
func CheckHit(h *model.AlignmentHit) error {
	if h.TargetStart < 0 || h.TargetEnd <= h.TargetStart {
		return fmt.Errorf("%w: target range %d-%d", ErrMalformedHit, h.TargetStart, h.TargetEnd)
	}
	starts, sizes, err := sequence.Blocks(h.TargetStarts, h.BlockSizes)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedHit, err)
	}
	if len(starts) == 0 {
		return fmt.Errorf("%w: no blocks", ErrMalformedHit)
	}
	for i, size := range sizes {
		if starts[i] < 0 || size < 0 {
			return fmt.Errorf("%w: block %d at %d size %d", ErrMalformedHit, i, starts[i], size)
		}
	}
	return nil
}

// SkipReason says why a sequence produced no associations.
type SkipReason int

const (
	NotSkipped SkipReason = iota
	SkipRepeats
	SkipNonSpecific
	SkipBelowThreshold
	SkipNoGeneProducts
	SkipLowExonOverlap
	SkipScoringFailed
)

func (r SkipReason) String() string {
	switch r {
	case SkipRepeats:
		return "too repetitive"
	case SkipNonSpecific:
		return "too many alignments"
	case SkipBelowThreshold:
		return "no well-formed alignment passed the score and identity thresholds"
	case SkipNoGeneProducts:
		return "no gene products found"
	case SkipLowExonOverlap:
		return "no association passed the exon overlap threshold"
	case SkipScoringFailed:
		return "scoring failed"
	default:
		return "not skipped"
	}
}

// TrimNonCanonical drops hits to unplaced, random and haplotype contigs,
// unless that would drop every hit.
func TrimNonCanonical(hits []*model.AlignmentHit) []*model.AlignmentHit {
	if len(hits) <= 1 {
		return hits
	}
	var canonical []*model.AlignmentHit
	for _, h := range hits {
		if sequence.IsCanonicalChromosome(h.TargetChromosome) {
			canonical = append(canonical, h)
		}
	}
	if len(canonical) == 0 || len(canonical) == len(hits) {
		return hits
	}
	return canonical
}

// ScreenSequence applies the whole-sequence screens: repeat content combined
// with the number of sites, and the number of sites alone.
func ScreenSequence(cfg Config, seq *model.SequenceRecord, hits []*model.AlignmentHit) SkipReason {
	if seq != nil && seq.FractionRepeats != nil &&
		*seq.FractionRepeats > cfg.MaximumRepeatFraction &&
		len(hits) >= cfg.NonSpecificSiteCountThreshold {
		return SkipRepeats
	}
	if len(hits) >= cfg.NonRepeatNonSpecificSiteCountThreshold {
		return SkipNonSpecific
	}
	return NotSkipped
}

// FilterOnScores keeps the hits whose score and identity reach the
// thresholds. Hits that cannot be scored or placed are dropped with a
// warning.
func FilterOnScores(log *zap.Logger, cfg Config, hits []*model.AlignmentHit) []*model.AlignmentHit {
	var kept []*model.AlignmentHit
	for _, h := range hits {
		score, err := Score(h)
		if err != nil {
			if errors.Is(err, ErrNoQueryLength) {
				log.Warn("Alignment has no query length", zap.Stringer("hit", h))
			} else {
				log.Warn("Dropping alignment", zap.Stringer("hit", h), zap.Error(err))
			}
			continue
		}
		if err := CheckHit(h); err != nil {
			log.Warn("Dropping malformed alignment", zap.Stringer("hit", h), zap.Error(err))
			continue
		}
		identity := Identity(h)
		if score < cfg.BlatScoreThreshold || identity < cfg.IdentityThreshold {
			log.Debug("Alignment below threshold",
				zap.Stringer("hit", h),
				zap.Float64("score", score),
				zap.Float64("identity", identity))
			continue
		}
		kept = append(kept, h)
	}
	return kept
}

// LookupStrand is the strand to hand to the annotation lookup: the hit's own
// strand for strand-informative sequence types, otherwise "" (ignore).
func LookupStrand(seq *model.SequenceRecord, h *model.AlignmentHit) string {
	if seq == nil || !seq.Type.StrandInformative() {
		return ""
	}
	return h.Strand
}

// OverlapFraction is the fraction of the query covered by exons.
func OverlapFraction(a *model.Association) float64 {
	length := a.Hit.QueryLength()
	if length <= 0 {
		return 0
	}
	return float64(a.Overlap) / float64(length)
}
