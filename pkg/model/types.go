package model

import "fmt"

// SequenceRecord describes the probe (query) sequence an alignment came from.
type SequenceRecord struct {
	Name            string       `json:"name"`
	Taxon           string       `json:"taxon,omitempty"`
	Type            SequenceType `json:"type,omitempty"`
	Length          int64        `json:"length,omitempty"`
	FractionRepeats *float64     `json:"fraction_repeats,omitempty"` // nil when repeat masking was never run
	Sequence        string       `json:"sequence,omitempty"`
}

// AlignmentHit is one alignment of a query sequence to the genome, as
// reported by blat (PSL).
type AlignmentHit struct {
	Query *SequenceRecord `json:"-"`

	QuerySize        int64  `json:"q_size"`
	Matches          int64  `json:"matches"`
	Mismatches       int64  `json:"mismatches"`
	RepMatches       int64  `json:"rep_matches"`
	NCount           int64  `json:"n_count"`
	QueryGapCount    int64  `json:"q_gap_count"`
	QueryGapBases    int64  `json:"q_gap_bases"`
	TargetGapCount   int64  `json:"t_gap_count"`
	TargetGapBases   int64  `json:"t_gap_bases"`
	Strand           string `json:"strand"`
	QueryStart       int64  `json:"q_start"`
	QueryEnd         int64  `json:"q_end"`
	TargetChromosome string `json:"t_name"`
	TargetSize       int64  `json:"t_size"`
	TargetStart      int64  `json:"t_start"`
	TargetEnd        int64  `json:"t_end"`
	BlockSizes       string `json:"block_sizes"`   // comma-delimited, as in PSL
	QueryStarts      string `json:"q_starts"`      // comma-delimited, as in PSL
	TargetStarts     string `json:"target_starts"` // comma-delimited, as in PSL
}

// QueryName returns the name of the query sequence, or "" when the hit has none.
func (h *AlignmentHit) QueryName() string {
	if h.Query == nil {
		return ""
	}
	return h.Query.Name
}

// QueryLength prefers the length of the sequence record and falls back to
// the PSL query size.
func (h *AlignmentHit) QueryLength() int64 {
	if h.Query != nil && h.Query.Length > 0 {
		return h.Query.Length
	}
	if h.Query != nil && h.Query.Sequence != "" {
		return int64(len(h.Query.Sequence))
	}
	return h.QuerySize
}

// Locus is the target-aligned region, used to tell apart hits at different places.
func (h *AlignmentHit) Locus() string {
	return fmt.Sprintf("%s:%d-%d", h.TargetChromosome, h.TargetStart, h.TargetEnd)
}

func (h *AlignmentHit) String() string {
	return fmt.Sprintf("%s@%s(%s)", h.QueryName(), h.Locus(), h.Strand)
}

// Exon is a half-open interval [Start, Start+Length) in target coordinates.
type Exon struct {
	Start  int64 `json:"start"`
	Length int64 `json:"length"`
}

func (e Exon) End() int64 {
	return e.Start + e.Length
}

type Gene struct {
	ID             string `json:"gene_id"`
	OfficialSymbol string `json:"symbol"`
	Description    string `json:"description,omitempty"`
	Taxon          string `json:"taxon,omitempty"`
}

// GeneProduct is a transcript of a gene with its exon structure.
type GeneProduct struct {
	ID         string `json:"gene_product_id"`
	Gene       Gene   `json:"gene"`
	Chromosome string `json:"chromosome"`
	Strand     string `json:"strand"`
	Start      int64  `json:"start"`
	End        int64  `json:"end"`
	Exons      []Exon `json:"exons"`
	Track      string `json:"track,omitempty"`
}

func (gp *GeneProduct) String() string {
	return fmt.Sprintf("%s[%s] %s:%d-%d(%s)", gp.ID, gp.Gene.OfficialSymbol, gp.Chromosome, gp.Start, gp.End, gp.Strand)
}

// Association links a sequence to a gene product through one alignment hit.
type Association struct {
	Sequence           *SequenceRecord  `json:"-"`
	Hit                *AlignmentHit    `json:"-"`
	GeneProduct        *GeneProduct     `json:"gene_product"`
	Overlap            int64            `json:"overlap"`
	ThreePrimeDistance int64            `json:"three_prime_distance"`
	Method             ThreePrimeMethod `json:"three_prime_method"`
	Score              int              `json:"score"`       // 0..1000
	Specificity        float64          `json:"specificity"` // 0..1
}

// GeneID is empty when the association has no gene product.
func (a *Association) GeneID() string {
	if a.GeneProduct == nil {
		return ""
	}
	return a.GeneProduct.Gene.ID
}

func (a *Association) GeneProductID() string {
	if a.GeneProduct == nil {
		return ""
	}
	return a.GeneProduct.ID
}
