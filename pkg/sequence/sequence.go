// Package sequence holds interval geometry over alignment blocks and exons,
// and simple nucleotide sequence transforms.
package sequence

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/yumyai/probemapper/logger"
	"github.com/yumyai/probemapper/pkg/model"
)

var ErrUnknownBase = errors.New("no complement for symbol")

type BaseError struct {
	Base     byte
	Position int
}

func (e *BaseError) Error() string {
	return fmt.Sprintf("don't know complement to %q at position %d", e.Base, e.Position)
}

func (e *BaseError) Unwrap() error {
	return ErrUnknownBase
}

// IUPAC complements, see http://www.bio-soft.net/sms/iupac.html
var complement = map[byte]byte{
	'A': 'T', 'T': 'A', 'G': 'C', 'C': 'G',
	'R': 'Y', 'Y': 'R', // A/G  <->  C/T
	'S': 'S', 'W': 'W', // GC   <->  GC   ; AT <-> AT
	'K': 'M', 'M': 'K',
	'B': 'V', 'V': 'B',
	'D': 'H', 'H': 'D',
	'N': 'N', '-': '-', ' ': ' ',
}

func init() {
	// soft-masked (lower case) bases keep their case
	for b, c := range complement {
		if b >= 'A' && b <= 'Z' {
			complement[b+'a'-'A'] = c + 'a' - 'A'
		}
	}
}

// ReverseComplement complements each base and reverses the order.
// Blank input comes back unchanged; an unknown symbol is an error.
func ReverseComplement(seq string) (string, error) {
	if strings.TrimSpace(seq) == "" {
		return seq, nil
	}
	n := len(seq)
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		b := seq[n-1-i]
		c, ok := complement[b]
		if !ok {
			return "", &BaseError{Base: b, Position: n - 1 - i}
		}
		out[i] = c
	}
	return string(out), nil
}

// StripHomopolymerTails removes a 3' run of at least threshold A's and,
// independently, a 5' run of at least threshold T's.
func StripHomopolymerTails(seq string, threshold int) string {
	if threshold <= 0 {
		return seq
	}
	trimmed := strings.TrimRight(seq, "A")
	if len(seq)-len(trimmed) >= threshold {
		seq = trimmed
	}
	trimmed = strings.TrimLeft(seq, "T")
	if len(seq)-len(trimmed) >= threshold {
		seq = trimmed
	}
	return seq
}

// BlatFormatChromosome puts the "chr" prefix on a chromosome name if needed.
func BlatFormatChromosome(chromosome string) string {
	if strings.HasPrefix(chromosome, "chr") {
		return chromosome
	}
	return "chr" + chromosome
}

// DeBlatFormatChromosome removes the "chr" prefix if present.
func DeBlatFormatChromosome(chromosome string) string {
	return strings.TrimPrefix(chromosome, "chr")
}

// IsCanonicalChromosome is false for unplaced, random, alternate-haplotype and
// fix-patch contigs ("chrUn_gl000220", "chr6_cox_hap2", "chr1_KI270706v1_random").
func IsCanonicalChromosome(chromosome string) bool {
	name := DeBlatFormatChromosome(chromosome)
	if name == "" {
		return false
	}
	if strings.Contains(name, "_") {
		return false
	}
	lower := strings.ToLower(name)
	return !strings.HasPrefix(lower, "un") && !strings.HasSuffix(lower, "random")
}

func logOvercount(gp *model.GeneProduct, overlap, length int64) {
	logger.Warn("More overlap than length of sequence, trimming",
		zap.String("gene_product", gp.ID),
		zap.Int64("overlap", overlap),
		zap.Int64("length", length))
}
