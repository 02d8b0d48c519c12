package rnaseq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoBlobs 平面上两团明显分离的点，前 4 个一团，后 4 个一团
func twoBlobs() [][]float64 {
	return [][]float64{
		{0, 0}, {0.2, 0.1}, {0.1, 0.3}, {0.3, 0.2},
		{10, 10}, {10.2, 10.1}, {10.1, 10.3}, {9.8, 9.9},
	}
}

func TestKMeans_SeparatesBlobs(t *testing.T) {
	points := twoBlobs()
	assignments := KMeans(points, 2, 42)
	require.Len(t, assignments, 8)

	// 同团的点落在同一簇，两团不同簇
	for i := 1; i < 4; i++ {
		assert.Equal(t, assignments[0], assignments[i])
	}
	for i := 5; i < 8; i++ {
		assert.Equal(t, assignments[4], assignments[i])
	}
	assert.NotEqual(t, assignments[0], assignments[4])
}

func TestKMeans_Deterministic(t *testing.T) {
	points := twoBlobs()
	a := KMeans(points, 3, 7)
	b := KMeans(points, 3, 7)
	assert.Equal(t, a, b)
}

func TestKMeans_Edges(t *testing.T) {
	assert.Nil(t, KMeans(nil, 2, 1))
	assert.Nil(t, KMeans(twoBlobs(), 0, 1))

	// k 大于样本数时收敛为每点一簇
	assignments := KMeans([][]float64{{0, 0}, {5, 5}}, 10, 1)
	assert.Len(t, assignments, 2)
}

func TestSilhouetteScore(t *testing.T) {
	points := twoBlobs()
	good := []int{0, 0, 0, 0, 1, 1, 1, 1}
	bad := []int{0, 1, 0, 1, 0, 1, 0, 1}

	goodScore := SilhouetteScore(points, good)
	badScore := SilhouetteScore(points, bad)

	assert.Greater(t, goodScore, 0.9)
	assert.Greater(t, goodScore, badScore)

	// 单簇无轮廓系数
	assert.Equal(t, 0.0, SilhouetteScore(points, []int{0, 0, 0, 0, 0, 0, 0, 0}))
}

func TestChooseKBySilhouette(t *testing.T) {
	res := ChooseKBySilhouette(twoBlobs(), 42)
	assert.Equal(t, 2, res.K)
	assert.Greater(t, res.Silhouette, 0.8)
	assert.Len(t, res.Assignments, 8)
}

func TestChooseKBySilhouette_TooFewSamples(t *testing.T) {
	res := ChooseKBySilhouette([][]float64{{1, 2}, {3, 4}}, 42)
	assert.Equal(t, 1, res.K)
	assert.Equal(t, 0.0, res.Silhouette)
	assert.Equal(t, []int{0, 0}, res.Assignments)
}
