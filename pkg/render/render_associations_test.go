package render

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yumyai/probemapper/pkg/model"
)

func association(id, symbol string, score int, specificity float64, hit *model.AlignmentHit) model.Association {
	return model.Association{
		GeneProduct:        &model.GeneProduct{ID: id, Gene: model.Gene{ID: symbol, OfficialSymbol: symbol}, Chromosome: "1"},
		Hit:                hit,
		Score:              score,
		Specificity:        specificity,
		Overlap:            25,
		ThreePrimeDistance: 120,
	}
}

func testResults() map[string][]model.Association {
	hit := &model.AlignmentHit{TargetChromosome: "chr7", TargetStart: 100, TargetEnd: 125}
	return map[string][]model.Association{
		"probeB": {association("NM_3", "GENE3", 1000, 1, hit)},
		"probeA": {
			association("NM_2", "GENE2", 500, 0.5, hit),
			association("NM_1", "GENE1", 800, 0.5, nil),
			association("NM_0", "GENE1", 800, 0.5, nil),
		},
		"probeC": nil,
	}
}

func TestRows(t *testing.T) {
	rows := Rows(testResults())
	require.Len(t, rows, 4)

	var order []string
	for _, r := range rows {
		order = append(order, r.Sequence+"/"+r.GeneProduct)
	}
	assert.Equal(t, []string{"probeA/NM_0", "probeA/NM_1", "probeA/NM_2", "probeB/NM_3"}, order)

	assert.Equal(t, "7", rows[2].Chromosome)
	assert.Equal(t, int64(100), rows[2].TargetStart)
	assert.Equal(t, int64(125), rows[2].TargetEnd)
	// no hit: gene product chromosome, no coordinates
	assert.Equal(t, "1", rows[0].Chromosome)
	assert.Equal(t, int64(0), rows[0].TargetStart)
}

func TestRenderTSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, FormatTSV, testResults()))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "sequence\tgene_product\tgene\tchromosome\ttarget_start\ttarget_end\tscore\tspecificity\toverlap\tthree_prime_distance", lines[0])
	assert.Equal(t, "probeA\tNM_2\tGENE2\t7\t100\t125\t500\t0.500\t25\t120", lines[3])
	assert.Equal(t, "probeB\tNM_3\tGENE3\t7\t100\t125\t1000\t1.000\t25\t120", lines[4])
}

func TestRenderJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, "JSON", testResults()))

	var rows []Row
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rows))
	require.Len(t, rows, 4)
	assert.Equal(t, Rows(testResults()), rows)

	buf.Reset()
	require.NoError(t, Render(&buf, FormatJSON, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestRenderUnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, Render(&buf, "xml", testResults()))
}
