package rnaseq

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempGMT(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pathways.gmt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadGMT(t *testing.T) {
	content := "PW001\tCell Cycle\tCCNB1\tCDK1\tMKI67\n" +
		"PW002\tApoptosis\tTP53\tBAX\tCASP3\tCASP9\n" +
		"PW_EMPTY\tno genes\n" + // 少于 3 列，跳过
		"\n"
	db, err := LoadGMT("kegg", writeTempGMT(t, content))
	require.NoError(t, err)

	assert.Equal(t, "kegg", db.Name)
	require.Len(t, db.Sets, 2)
	assert.Equal(t, "Cell Cycle", db.Sets["PW001"].Name)
	assert.Equal(t, []string{"TP53", "BAX", "CASP3", "CASP9"}, db.Sets["PW002"].Genes)
}

func TestLoadGMT_Errors(t *testing.T) {
	_, err := LoadGMT("kegg", "/nonexistent/pathways.gmt")
	assert.Error(t, err)

	_, err = LoadGMT("kegg", writeTempGMT(t, "PW001\tonly two columns\n"))
	assert.Error(t, err)
}

func TestEnrich_FindsEnrichedPathway(t *testing.T) {
	// 背景 100 个基因，目标通路 10 个基因全部显著
	background := make([]string, 100)
	for i := range background {
		background[i] = fmt.Sprintf("BG%03d", i)
	}

	targetGenes := background[:10]
	gmt := "PW_TARGET\tTarget Pathway"
	for _, g := range targetGenes {
		gmt += "\t" + g
	}
	// 对照通路与显著集无关
	gmt += "\nPW_OTHER\tOther Pathway\tBG090\tBG091\tBG092\n"

	db, err := LoadGMT("kegg", writeTempGMT(t, gmt+"\n"))
	require.NoError(t, err)

	enriched := db.Enrich(targetGenes, background, "all", EnrichOptions{PathwayFDR: 0.05, TopN: 10})
	require.Len(t, enriched, 1)

	e := enriched[0]
	assert.Equal(t, "PW_TARGET", e.PathwayID)
	assert.Equal(t, "kegg", e.Database)
	assert.Equal(t, "all", e.GeneSet)
	assert.Equal(t, 10, e.OverlapCount)
	assert.Less(t, e.AdjustedPValue, 0.05)
	assert.Greater(t, e.EnrichmentScore, 0.0)
	assert.Len(t, e.Genes, 10)
}

func TestEnrich_NoSignificantGenes(t *testing.T) {
	db := &GeneSetDB{Name: "kegg", Sets: map[string]GeneSet{
		"PW001": {ID: "PW001", Name: "x", Genes: []string{"A", "B", "C"}},
	}}

	assert.Nil(t, db.Enrich(nil, []string{"A", "B"}, "all", EnrichOptions{PathwayFDR: 0.05}))
	// 显著基因不在背景中也视为无输入
	assert.Nil(t, db.Enrich([]string{"Z"}, []string{"A", "B"}, "all", EnrichOptions{PathwayFDR: 0.05}))
}

func TestEnrich_TopNTruncation(t *testing.T) {
	background := make([]string, 50)
	for i := range background {
		background[i] = fmt.Sprintf("G%02d", i)
	}
	sig := background[:8]

	gmt := ""
	for p := 0; p < 5; p++ {
		gmt += fmt.Sprintf("PW%d\tpathway %d", p, p)
		for _, g := range sig {
			gmt += "\t" + g
		}
		gmt += "\n"
	}
	db, err := LoadGMT("go_bp", writeTempGMT(t, gmt))
	require.NoError(t, err)

	enriched := db.Enrich(sig, background, "up", EnrichOptions{PathwayFDR: 0.5, TopN: 2})
	assert.Len(t, enriched, 2)
	// p 值并列时按通路 ID 排序，输出确定
	assert.Equal(t, "PW0", enriched[0].PathwayID)
	assert.Equal(t, "PW1", enriched[1].PathwayID)
}
