package sequence

import (
	"errors"
	"fmt"

	"github.com/yumyai/probemapper/pkg/model"
)

var ErrUnsupportedMethod = errors.New("unsupported three-prime distance method")

// ThreePrimeDistance measures how far the alignment sits from the 3' end of
// the gene product. Alignments overhanging the 3' end get 0, not a negative
// distance.
func ThreePrimeDistance(method model.ThreePrimeMethod, gp *model.GeneProduct, queryStart, queryEnd int64, blockStarts, blockSizes []int64) (int64, error) {
	if gp.Strand != model.StrandPlus && gp.Strand != model.StrandMinus {
		return 0, fmt.Errorf("gene product %s: strand wasn't '+' or '-' (%q)", gp.ID, gp.Strand)
	}

	var left, right int64
	switch method {
	case model.ThreePrimeRight:
		left, right = queryStart, queryEnd
	case model.ThreePrimeMiddle:
		center, err := CenterBase(blockStarts, blockSizes)
		if err != nil {
			return 0, err
		}
		left, right = center, center
	case model.ThreePrimeLeft:
		return 0, fmt.Errorf("%w: left edge measure", ErrUnsupportedMethod)
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedMethod, method)
	}

	if gp.Strand == model.StrandPlus {
		// 3' end is at the end: >>>>>>>>>>*>>>>
		return max(0, gp.End-right), nil
	}
	// 3' end is at the start: <<<<*<<<<<<<<<<
	return max(0, left-gp.Start), nil
}
