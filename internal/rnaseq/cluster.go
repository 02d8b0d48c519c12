package rnaseq

import (
	"math"
	"math/rand"
)

// ClusteringResult 聚类结果
type ClusteringResult struct {
	K           int     `json:"k"`
	Assignments []int   `json:"assignments"`
	Silhouette  float64 `json:"silhouette"`
}

func euclidean(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return math.Sqrt(s)
}

// KMeans 固定随机种子的 k-means，points 为 [observation][feature]
func KMeans(points [][]float64, k int, seed int64) []int {
	n := len(points)
	if n == 0 || k <= 0 {
		return nil
	}
	if k > n {
		k = n
	}

	rng := rand.New(rand.NewSource(seed))
	dim := len(points[0])

	// 随机选取不重复的初始中心
	perm := rng.Perm(n)
	centroids := make([][]float64, k)
	for i := 0; i < k; i++ {
		centroids[i] = make([]float64, dim)
		copy(centroids[i], points[perm[i]])
	}

	assignments := make([]int, n)
	const maxIter = 100
	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, p := range points {
			best := 0
			bestDist := math.Inf(1)
			for c, cent := range centroids {
				d := euclidean(p, cent)
				if d < bestDist {
					bestDist = d
					best = c
				}
			}
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		// 重新计算中心；空簇保留原中心
		counts := make([]int, k)
		sums := make([][]float64, k)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, p := range points {
			c := assignments[i]
			counts[c]++
			for j, v := range p {
				sums[c][j] += v
			}
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				continue
			}
			for j := 0; j < dim; j++ {
				centroids[c][j] = sums[c][j] / float64(counts[c])
			}
		}
	}
	return assignments
}

// SilhouetteScore 平均轮廓系数，k=1 或任一点无同簇邻居时返回 0
func SilhouetteScore(points [][]float64, assignments []int) float64 {
	n := len(points)
	if n < 2 {
		return 0
	}

	clusters := map[int][]int{}
	for i, c := range assignments {
		clusters[c] = append(clusters[c], i)
	}
	if len(clusters) < 2 {
		return 0
	}

	total := 0.0
	counted := 0
	for i := 0; i < n; i++ {
		own := assignments[i]
		if len(clusters[own]) < 2 {
			continue // 单点簇的轮廓系数记 0
		}

		// a: 与同簇其他点的平均距离
		a := 0.0
		for _, j := range clusters[own] {
			if j != i {
				a += euclidean(points[i], points[j])
			}
		}
		a /= float64(len(clusters[own]) - 1)

		// b: 与最近其他簇的平均距离
		b := math.Inf(1)
		for c, members := range clusters {
			if c == own {
				continue
			}
			d := 0.0
			for _, j := range members {
				d += euclidean(points[i], points[j])
			}
			d /= float64(len(members))
			if d < b {
				b = d
			}
		}

		denom := math.Max(a, b)
		if denom > 0 {
			total += (b - a) / denom
		}
		counted++
	}
	if counted == 0 {
		return 0
	}
	return total / float64(n)
}

// ChooseKBySilhouette 在 k ∈ [2, min(8, n-1)] 内选择平均轮廓系数最大的 k，
// 使用前 3 个主成分作为特征空间。样本数少于 3 时强制 k=1、轮廓系数 0。
func ChooseKBySilhouette(pcaScores [][]float64, seed int64) *ClusteringResult {
	n := len(pcaScores)
	if n < 3 {
		assignments := make([]int, n)
		return &ClusteringResult{K: 1, Assignments: assignments, Silhouette: 0}
	}

	// 截取前 3 个主成分
	dims := 3
	if len(pcaScores[0]) < dims {
		dims = len(pcaScores[0])
	}
	points := make([][]float64, n)
	for i, row := range pcaScores {
		points[i] = row[:dims]
	}

	maxK := 8
	if n-1 < maxK {
		maxK = n - 1
	}

	best := &ClusteringResult{K: 1, Assignments: make([]int, n), Silhouette: 0}
	for k := 2; k <= maxK; k++ {
		assignments := KMeans(points, k, seed)
		score := SilhouetteScore(points, assignments)
		if score > best.Silhouette || best.K == 1 {
			best = &ClusteringResult{K: k, Assignments: assignments, Silhouette: score}
		}
	}
	return best
}
