package rnaseq

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSCQCFilter(t *testing.T) {
	// 4 个细胞：正常、低基因数、低计数、高线粒体
	m := &Matrix{
		Genes:   []string{"GENE_A", "GENE_B", "GENE_C", "MT-CO1"},
		Samples: []string{"good", "few_genes", "low_counts", "mito"},
		Values: [][]float64{
			{50, 60, 2, 10},
			{40, 0, 2, 10},
			{30, 0, 2, 10},
			{10, 0, 1, 90},
		},
	}
	opts := SCQCOptions{MinGenesPerCell: 3, MinCountsPerCell: 50, MaxMitoPercent: 20}

	res := SCQCFilter(m, opts)
	assert.Equal(t, 4, res.CellsBefore)
	assert.Equal(t, 1, res.CellsAfter)
	require.NotNil(t, res.Filtered)
	assert.Equal(t, []string{"good"}, res.Filtered.Samples)
	assert.Equal(t, 4, res.Filtered.NGenes())
	assert.Equal(t, []float64{50}, res.Filtered.Values[0])
}

func TestSCNormalize(t *testing.T) {
	m := &Matrix{
		Genes:   []string{"A", "B"},
		Samples: []string{"c1", "c2"},
		Values:  [][]float64{{10, 100}, {90, 900}},
	}
	out := SCNormalize(m)

	// 归一化到 1e4 后 log1p
	assert.InDelta(t, math.Log1p(1000), out.Values[0][0], 1e-9)
	assert.InDelta(t, math.Log1p(9000), out.Values[1][0], 1e-9)
	// 两个细胞比例相同，归一化后一致
	assert.InDelta(t, out.Values[0][0], out.Values[0][1], 1e-9)
}

func TestSelectHVGs(t *testing.T) {
	m := &Matrix{
		Genes:   []string{"FLAT", "VARIABLE", "MEDIUM"},
		Samples: []string{"c1", "c2", "c3", "c4"},
		Values: [][]float64{
			{5, 5, 5, 5},
			{1, 50, 2, 60},
			{10, 12, 9, 11},
		},
	}

	out := SelectHVGs(m, 2)
	require.Equal(t, 2, out.NGenes())
	// 保留离散度最高的两个基因且保持原始行序
	assert.Equal(t, []string{"VARIABLE", "MEDIUM"}, out.Genes)
}

func TestKNNGraph(t *testing.T) {
	points := twoBlobs()
	neighbors := KNNGraph(points, 3)
	require.Len(t, neighbors, 8)

	// 团内距离远小于团间距离，近邻都来自同一团
	for i := 0; i < 4; i++ {
		require.Len(t, neighbors[i], 3)
		for _, j := range neighbors[i] {
			assert.Less(t, j, 4)
		}
	}
	for i := 4; i < 8; i++ {
		for _, j := range neighbors[i] {
			assert.GreaterOrEqual(t, j, 4)
		}
	}
}

func TestGraphCluster_TwoCommunities(t *testing.T) {
	neighbors := KNNGraph(twoBlobs(), 3)
	labels := GraphCluster(neighbors, 1.0, 42)
	require.Len(t, labels, 8)

	for i := 1; i < 4; i++ {
		assert.Equal(t, labels[0], labels[i])
	}
	for i := 5; i < 8; i++ {
		assert.Equal(t, labels[4], labels[i])
	}
	assert.NotEqual(t, labels[0], labels[4])

	// 标签按簇大小重编号，从 0 开始
	assert.Contains(t, []int{0, 1}, labels[0])
	assert.Contains(t, []int{0, 1}, labels[4])
}

func TestGraphCluster_Deterministic(t *testing.T) {
	neighbors := KNNGraph(twoBlobs(), 3)
	a := GraphCluster(neighbors, 1.0, 7)
	b := GraphCluster(neighbors, 1.0, 7)
	assert.Equal(t, a, b)
}

func TestEmbed2D(t *testing.T) {
	scores := [][]float64{{0, 0, 5}, {2, 2, 5}, {4, 4, 5}}
	neighbors := [][]int{{1}, {0, 2}, {1}}

	emb := Embed2D(scores, neighbors)
	require.Len(t, emb, 3)
	// 点 0 与邻居 1 平均
	assert.InDelta(t, 1.0, emb[0][0], 1e-9)
	assert.InDelta(t, 1.0, emb[0][1], 1e-9)
	// 点 1 与邻居 0、2 平均
	assert.InDelta(t, 2.0, emb[1][0], 1e-9)
}

func TestRankMarkerGenes(t *testing.T) {
	// 8 个细胞两簇，MARKER 只在簇 0 高表达
	nCells := 8
	labels := []int{0, 0, 0, 0, 1, 1, 1, 1}

	marker := make([]float64, nCells)
	house := make([]float64, nCells)
	for j := 0; j < nCells; j++ {
		if labels[j] == 0 {
			marker[j] = 20 + float64(j)
		} else {
			marker[j] = 0.1
		}
		house[j] = 10 + 0.1*float64(j)
	}

	samples := make([]string, nCells)
	for j := range samples {
		samples[j] = fmt.Sprintf("cell%d", j)
	}
	m := &Matrix{
		Genes:   []string{"MARKER", "HOUSEKEEPING"},
		Samples: samples,
		Values:  [][]float64{marker, house},
	}

	markers := RankMarkerGenes(m, labels, 5)
	require.Contains(t, markers, 0)

	found := false
	for _, mg := range markers[0] {
		if mg.Gene == "MARKER" {
			found = true
			assert.Greater(t, mg.AvgLog2FC, 1.0)
			assert.Equal(t, 100.0, mg.PctIn)
			assert.Less(t, mg.PValue, 0.05)
		}
	}
	assert.True(t, found)
}
