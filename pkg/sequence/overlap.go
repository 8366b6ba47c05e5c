package sequence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/yumyai/probemapper/pkg/model"
)

var ErrLocationParse = errors.New("could not parse blat location list")

// Overlap returns the number of bases shared by [aStart, aEnd) and [bStart, bEnd).
// Disjoint or inverted intervals overlap by 0.
func Overlap(aStart, aEnd, bStart, bEnd int64) int64 {
	lo := max(aStart, bStart)
	hi := min(aEnd, bEnd)
	if hi <= lo {
		return 0
	}
	return hi - lo
}

// ParseLocations converts a psl-formatted, comma-delimited list to integers.
// A trailing comma (as blat writes) is allowed; a blank list gives nil.
func ParseLocations(locations string) ([]int64, error) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(locations), ",")
	if trimmed == "" {
		return nil, nil
	}
	fields := strings.Split(trimmed, ",")
	result := make([]int64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseInt(strings.TrimSpace(f), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q from %q", ErrLocationParse, f, locations)
		}
		result[i] = v
	}
	return result, nil
}

// FormatLocations is the inverse of ParseLocations, with blat's trailing comma.
func FormatLocations(values []int64) string {
	var b strings.Builder
	for _, v := range values {
		b.WriteString(strconv.FormatInt(v, 10))
		b.WriteByte(',')
	}
	return b.String()
}

// Blocks pairs parsed starts and sizes, rejecting lists of different lengths.
func Blocks(starts, sizes string) ([]int64, []int64, error) {
	startArray, err := ParseLocations(starts)
	if err != nil {
		return nil, nil, err
	}
	sizeArray, err := ParseLocations(sizes)
	if err != nil {
		return nil, nil, err
	}
	if len(startArray) != len(sizeArray) {
		return nil, nil, fmt.Errorf("%w: %d starts and %d sizes", ErrLocationParse, len(startArray), len(sizeArray))
	}
	return startArray, sizeArray, nil
}

func TotalSize(sizes []int64) int64 {
	var total int64
	for _, s := range sizes {
		total += s
	}
	return total
}

// ExonOverlap counts the aligned bases of the blocks that fall in exons of gp.
// A non-empty strand that disagrees with a known gene product strand gives 0;
// an empty strand means orientation is ignored. The result never exceeds the
// total aligned length.
func ExonOverlap(blockStarts, blockSizes []int64, strand string, gp *model.GeneProduct) (int64, error) {
	if gp == nil {
		return 0, errors.New("exon overlap: nil gene product")
	}
	if len(blockStarts) != len(blockSizes) {
		return 0, fmt.Errorf("%w: %d starts and %d sizes", ErrLocationParse, len(blockStarts), len(blockSizes))
	}
	if strand != "" && gp.Strand != "" && strand != gp.Strand {
		return 0, nil
	}
	if len(gp.Exons) == 0 {
		return 0, nil
	}

	var totalOverlap, totalLength int64
	for i, size := range blockSizes {
		start := blockStarts[i]
		end := start + size
		for _, exon := range gp.Exons {
			totalOverlap += Overlap(start, end, exon.Start, exon.End())
		}
		totalLength += size
	}
	if totalOverlap > totalLength {
		logOvercount(gp, totalOverlap, totalLength)
		return totalLength, nil
	}
	return totalOverlap, nil
}

// CenterBase locates the target coordinate of the middle aligned base.
func CenterBase(blockStarts, blockSizes []int64) (int64, error) {
	if len(blockStarts) != len(blockSizes) || len(blockSizes) == 0 {
		return 0, fmt.Errorf("%w: %d starts and %d sizes", ErrLocationParse, len(blockStarts), len(blockSizes))
	}
	middle := TotalSize(blockSizes) / 2
	var running int64
	for i, size := range blockSizes {
		running += size
		if running >= middle {
			return blockStarts[i] + (middle - (running - size)), nil
		}
	}
	return 0, errors.New("center base: failed to find center")
}
