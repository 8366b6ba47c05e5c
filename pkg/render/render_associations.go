package render

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"github.com/yumyai/probemapper/logger"
	"github.com/yumyai/probemapper/pkg/model"
	"github.com/yumyai/probemapper/pkg/sequence"
)

const (
	FormatTSV  = "tsv"
	FormatJSON = "json"
)

var tsv_template *template.Template

// Row is one retained association as written out.
type Row struct {
	Sequence           string  `json:"sequence"`
	GeneProduct        string  `json:"gene_product"`
	Gene               string  `json:"gene"`
	Chromosome         string  `json:"chromosome"`
	TargetStart        int64   `json:"target_start"`
	TargetEnd          int64   `json:"target_end"`
	Score              int     `json:"score"`
	Specificity        float64 `json:"specificity"`
	Overlap            int64   `json:"overlap"`
	ThreePrimeDistance int64   `json:"three_prime_distance"`
}

func init() {
	mainTmpl := "sequence\tgene_product\tgene\tchromosome\ttarget_start\ttarget_end\tscore\tspecificity\toverlap\tthree_prime_distance\n" +
		"{{ range . }}" +
		"{{ .Sequence }}\t{{ .GeneProduct }}\t{{ .Gene }}\t{{ .Chromosome }}\t{{ .TargetStart }}\t{{ .TargetEnd }}\t" +
		"{{ .Score }}\t{{ printf \"%.3f\" .Specificity }}\t{{ .Overlap }}\t{{ .ThreePrimeDistance }}\n" +
		"{{ end }}"

	tsv_template = template.Must(template.New("tsv").Parse(mainTmpl))
}

// Rows flattens mapping results, ordered by sequence name and then by
// descending score. Ties are ordered by gene product ID.
func Rows(results map[string][]model.Association) []Row {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	var rows []Row
	for _, name := range names {
		start := len(rows)
		for i := range results[name] {
			rows = append(rows, toRow(name, &results[name][i]))
		}
		block := rows[start:]
		sort.SliceStable(block, func(i, j int) bool {
			if block[i].Score != block[j].Score {
				return block[i].Score > block[j].Score
			}
			return block[i].GeneProduct < block[j].GeneProduct
		})
	}
	return rows
}

func toRow(name string, a *model.Association) Row {
	row := Row{
		Sequence:           name,
		GeneProduct:        a.GeneProductID(),
		Gene:               a.GeneID(),
		Score:              a.Score,
		Specificity:        a.Specificity,
		Overlap:            a.Overlap,
		ThreePrimeDistance: a.ThreePrimeDistance,
	}
	if a.GeneProduct != nil && a.GeneProduct.Gene.OfficialSymbol != "" {
		row.Gene = a.GeneProduct.Gene.OfficialSymbol
	}
	if a.Hit != nil {
		row.Chromosome = sequence.DeBlatFormatChromosome(a.Hit.TargetChromosome)
		row.TargetStart = a.Hit.TargetStart
		row.TargetEnd = a.Hit.TargetEnd
	} else if a.GeneProduct != nil {
		row.Chromosome = a.GeneProduct.Chromosome
	}
	return row
}

func RenderTSV(w io.Writer, rows []Row) error {
	return tsv_template.Execute(w, rows)
}

// RenderJSON writes the rows as one indented JSON array; an empty result is "[]".
func RenderJSON(w io.Writer, rows []Row) error {
	if rows == nil {
		rows = []Row{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

// Render writes results in the named format.
func Render(w io.Writer, format string, results map[string][]model.Association) error {
	rows := Rows(results)
	logger.Debug("Rendering associations", zap.String("format", format), zap.Int("rows", len(rows)))

	switch strings.ToLower(format) {
	case FormatTSV, "":
		return RenderTSV(w, rows)
	case FormatJSON:
		return RenderJSON(w, rows)
	}
	return fmt.Errorf("unknown output format %q", format)
}
