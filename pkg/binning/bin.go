// Hierarchical genome binning (UCSC binKeeper scheme).
//
// There is a bin for each 128k segment, each 1M, 8M and 64M segment, and one
// for the whole chromosome up to 512M. Chromosomes longer than that use the
// extended scheme, which adds a 4G top level and shifts every bin id by
// BinOffsetOldToExtended so the two schemes never collide.

package binning

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	BinFirstShift = 17 // shift to get to the finest bin
	BinNextShift  = 3  // shift to get to the next larger bin

	BinRangeMaxEnd512M     int64 = 512 * 1024 * 1024
	BinRangeMaxEndExtended int64 = 1 << 32

	BinOffsetOldToExtended = 4681
)

var (
	binOffsets         = []int64{512 + 64 + 8 + 1, 64 + 8 + 1, 8 + 1, 1, 0}
	binOffsetsExtended = []int64{4096 + 512 + 64 + 8 + 1, 512 + 64 + 8 + 1, 64 + 8 + 1, 8 + 1, 1, 0}

	columnPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)
)

var (
	ErrInvalidRange  = errors.New("binning: end must be greater than start")
	ErrRangeTooLarge = errors.New("binning: range out of bin hierarchy")
)

func checkRange(start, end int64) error {
	if start < 0 || end <= start {
		return fmt.Errorf("%w: start %d, end %d", ErrInvalidRange, start, end)
	}
	return nil
}

// BinFromRange assigns [start, end) to the smallest bin it fits in, choosing
// the extended scheme when end is past 512M.
func BinFromRange(start, end int64) (int, error) {
	if end <= BinRangeMaxEnd512M {
		return BinFromRangeStandard(start, end)
	}
	return BinFromRangeExtended(start, end)
}

// BinFromRangeStandard only knows the 512M hierarchy and fails for anything larger.
func BinFromRangeStandard(start, end int64) (int, error) {
	if err := checkRange(start, end); err != nil {
		return 0, err
	}
	if end > BinRangeMaxEnd512M {
		return 0, fmt.Errorf("%w: start %d, end %d (max is 512M)", ErrRangeTooLarge, start, end)
	}
	bin, ok := findBin(start, end, binOffsets)
	if !ok {
		return 0, fmt.Errorf("%w: start %d, end %d (max is 512M)", ErrRangeTooLarge, start, end)
	}
	return int(bin), nil
}

func BinFromRangeExtended(start, end int64) (int, error) {
	if err := checkRange(start, end); err != nil {
		return 0, err
	}
	if end > BinRangeMaxEndExtended {
		return 0, fmt.Errorf("%w: start %d, end %d (max is 4G)", ErrRangeTooLarge, start, end)
	}
	bin, ok := findBin(start, end, binOffsetsExtended)
	if !ok {
		return 0, fmt.Errorf("%w: start %d, end %d (max is 4G)", ErrRangeTooLarge, start, end)
	}
	return int(bin + BinOffsetOldToExtended), nil
}

func findBin(start, end int64, offsets []int64) (int64, bool) {
	startBin := start >> BinFirstShift
	endBin := (end - 1) >> BinFirstShift
	for _, offset := range offsets {
		if startBin == endBin {
			return offset + startBin, true
		}
		startBin >>= BinNextShift
		endBin >>= BinNextShift
	}
	return 0, false
}

// BinRestrictionClause returns a parenthesised SQL boolean expression on
// column that is true for every row whose bin could hold a feature overlapping
// [start, end). column may be qualified ("r.bin") but is otherwise checked to
// be a plain identifier, since it is spliced into the query text.
func BinRestrictionClause(column string, start, end int64) (string, error) {
	if !columnPattern.MatchString(column) {
		return "", fmt.Errorf("binning: invalid column name %q", column)
	}
	if err := checkRange(start, end); err != nil {
		return "", err
	}
	if end > BinRangeMaxEndExtended {
		return "", fmt.Errorf("%w: start %d, end %d (max is 4G)", ErrRangeTooLarge, start, end)
	}

	var b strings.Builder
	b.WriteString("(")
	if end <= BinRangeMaxEnd512M {
		writeLevels(&b, column, start, end, binOffsets, 0)
	} else {
		writeLevels(&b, column, start, end, binOffsetsExtended, BinOffsetOldToExtended)
		b.WriteString(" or ")
		// rows binned with the old scheme only ever reach 512M
		writeLevels(&b, column, start, BinRangeMaxEnd512M, binOffsets, 0)
	}
	fmt.Fprintf(&b, " or %s=%d)", column, BinOffsetOldToExtended)
	return b.String(), nil
}

func writeLevels(b *strings.Builder, column string, start, end int64, offsets []int64, shift int64) {
	startBin := start >> BinFirstShift
	endBin := (end - 1) >> BinFirstShift
	for i, offset := range offsets {
		if i != 0 {
			b.WriteString(" or ")
		}
		if startBin == endBin {
			fmt.Fprintf(b, "%s=%d", column, startBin+offset+shift)
		} else {
			fmt.Fprintf(b, "%s>=%d and %s<=%d", column, startBin+offset+shift, column, endBin+offset+shift)
		}
		startBin >>= BinNextShift
		endBin >>= BinNextShift
	}
}

// BinsForRange lists the bin ranges of BinRestrictionClause as values, for
// lookups that filter in memory rather than in SQL. Each pair is an
// inclusive [lo, hi] range of bin ids.
func BinsForRange(start, end int64) ([][2]int, error) {
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	if end > BinRangeMaxEndExtended {
		return nil, fmt.Errorf("%w: start %d, end %d (max is 4G)", ErrRangeTooLarge, start, end)
	}
	var ranges [][2]int
	collect := func(start, end int64, offsets []int64, shift int64) {
		startBin := start >> BinFirstShift
		endBin := (end - 1) >> BinFirstShift
		for _, offset := range offsets {
			ranges = append(ranges, [2]int{int(startBin + offset + shift), int(endBin + offset + shift)})
			startBin >>= BinNextShift
			endBin >>= BinNextShift
		}
	}
	if end <= BinRangeMaxEnd512M {
		collect(start, end, binOffsets, 0)
	} else {
		collect(start, end, binOffsetsExtended, BinOffsetOldToExtended)
		collect(start, BinRangeMaxEnd512M, binOffsets, 0)
	}
	ranges = append(ranges, [2]int{BinOffsetOldToExtended, BinOffsetOldToExtended})
	return ranges, nil
}

// InBins reports whether bin falls in any of the ranges from BinsForRange.
func InBins(bin int, ranges [][2]int) bool {
	for _, r := range ranges {
		if bin >= r[0] && bin <= r[1] {
			return true
		}
	}
	return false
}
