package db

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/yumyai/probemapper/pkg/binning"
	"github.com/yumyai/probemapper/pkg/model"
	"github.com/yumyai/probemapper/pkg/sequence"
)

// ReadRefFlat parses a UCSC refFlat.txt dump: geneName, name, chrom, strand,
// txStart, txEnd, cdsStart, cdsEnd, exonCount, exonStarts, exonEnds.
// A leading bin column (as in refGene-style dumps with 12 columns) must agree
// with txStart and txEnd.
func ReadRefFlat(r io.Reader) ([]*model.GeneProduct, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var products []*model.GeneProduct
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		bin := ""
		if len(fields) == 12 {
			bin, fields = fields[0], fields[1:]
		}
		if len(fields) != 11 {
			return nil, fmt.Errorf("refFlat line %d: expected 11 columns, got %d", lineNo, len(fields))
		}

		txStart, err := strconv.ParseInt(fields[4], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("refFlat line %d: txStart: %w", lineNo, err)
		}
		txEnd, err := strconv.ParseInt(fields[5], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("refFlat line %d: txEnd: %w", lineNo, err)
		}
		if bin != "" {
			if err := checkBin(bin, txStart, txEnd); err != nil {
				return nil, fmt.Errorf("refFlat line %d: %w", lineNo, err)
			}
		}
		exons, err := exonsFromEnds(fields[9], fields[10])
		if err != nil {
			return nil, fmt.Errorf("refFlat line %d: %w", lineNo, err)
		}

		products = append(products, &model.GeneProduct{
			ID:         fields[1],
			Gene:       model.Gene{ID: fields[0], OfficialSymbol: fields[0]},
			Chromosome: sequence.DeBlatFormatChromosome(fields[2]),
			Strand:     fields[3],
			Start:      txStart,
			End:        txEnd,
			Exons:      exons,
			Track:      TrackRefGene,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func checkBin(column string, start, end int64) error {
	bin, err := strconv.Atoi(column)
	if err != nil {
		return fmt.Errorf("bin: %w", err)
	}
	want, err := binning.BinFromRange(start, end)
	if err != nil {
		return err
	}
	if bin != want {
		return fmt.Errorf("bin %d does not match %d-%d (expected %d)", bin, start, end, want)
	}
	return nil
}
