package rnaseq

import (
	"math"
	"math/rand"
	"sort"
	"strings"
)

// SCQCOptions 单细胞质控阈值
type SCQCOptions struct {
	MinGenesPerCell  int
	MinCountsPerCell float64
	MaxMitoPercent   float64
}

// SCQCResult 单细胞质控统计
type SCQCResult struct {
	CellsBefore int `json:"cells_before"`
	CellsAfter  int `json:"cells_after"`
	Filtered    *Matrix `json:"-"`
}

// SCQCFilter 按每细胞基因数、总计数与线粒体比例过滤细胞。
// 矩阵为基因 × 细胞，线粒体基因按 MT- 前缀识别。
func SCQCFilter(m *Matrix, opts SCQCOptions) *SCQCResult {
	nCells := m.NSamples()
	keep := []int{}

	mitoRows := []int{}
	for i, g := range m.Genes {
		upper := strings.ToUpper(g)
		if strings.HasPrefix(upper, "MT-") || strings.HasPrefix(upper, "MT_") {
			mitoRows = append(mitoRows, i)
		}
	}

	for j := 0; j < nCells; j++ {
		genesDetected := 0
		total := 0.0
		mito := 0.0
		for i := range m.Genes {
			v := m.Values[i][j]
			if v > 0 {
				genesDetected++
			}
			total += v
		}
		for _, i := range mitoRows {
			mito += m.Values[i][j]
		}

		if genesDetected < opts.MinGenesPerCell {
			continue
		}
		if total < opts.MinCountsPerCell {
			continue
		}
		if total > 0 && mito/total*100 > opts.MaxMitoPercent {
			continue
		}
		keep = append(keep, j)
	}

	filtered := &Matrix{Genes: m.Genes}
	for _, j := range keep {
		filtered.Samples = append(filtered.Samples, m.Samples[j])
	}
	filtered.Values = make([][]float64, len(m.Genes))
	for i := range m.Genes {
		row := make([]float64, len(keep))
		for k, j := range keep {
			row[k] = m.Values[i][j]
		}
		filtered.Values[i] = row
	}

	return &SCQCResult{CellsBefore: nCells, CellsAfter: len(keep), Filtered: filtered}
}

// SCNormalize 库大小归一化到 1e4 后做 log1p 变换
func SCNormalize(m *Matrix) *Matrix {
	totals := make([]float64, m.NSamples())
	for _, row := range m.Values {
		for j, v := range row {
			totals[j] += v
		}
	}

	out := &Matrix{Genes: m.Genes, Samples: m.Samples, Values: make([][]float64, len(m.Values))}
	for i, row := range m.Values {
		t := make([]float64, len(row))
		for j, v := range row {
			if totals[j] > 0 {
				t[j] = math.Log1p(v / totals[j] * 1e4)
			}
		}
		out.Values[i] = t
	}
	return out
}

// SelectHVGs 高变基因选择：按离散度（方差/均值）降序取前 topN
func SelectHVGs(m *Matrix, topN int) *Matrix {
	type geneDisp struct {
		idx  int
		disp float64
	}
	disps := make([]geneDisp, 0, len(m.Genes))
	for i, row := range m.Values {
		mu := mean(row)
		if mu <= 0 {
			continue
		}
		disps = append(disps, geneDisp{idx: i, disp: variance(row) / mu})
	}
	sort.Slice(disps, func(a, b int) bool {
		if disps[a].disp != disps[b].disp {
			return disps[a].disp > disps[b].disp
		}
		return disps[a].idx < disps[b].idx
	})
	if len(disps) > topN {
		disps = disps[:topN]
	}
	// 恢复原始行序，保证输出稳定
	sort.Slice(disps, func(a, b int) bool { return disps[a].idx < disps[b].idx })

	out := &Matrix{Samples: m.Samples}
	for _, d := range disps {
		out.Genes = append(out.Genes, m.Genes[d.idx])
		out.Values = append(out.Values, m.Values[d.idx])
	}
	return out
}

// KNNGraph 在 PCA 得分空间上构建 k 近邻图，返回每个点的邻居索引
func KNNGraph(points [][]float64, k int) [][]int {
	n := len(points)
	if k >= n {
		k = n - 1
	}
	neighbors := make([][]int, n)
	for i := 0; i < n; i++ {
		type nd struct {
			idx  int
			dist float64
		}
		dists := make([]nd, 0, n-1)
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			dists = append(dists, nd{j, euclidean(points[i], points[j])})
		}
		sort.Slice(dists, func(a, b int) bool {
			if dists[a].dist != dists[b].dist {
				return dists[a].dist < dists[b].dist
			}
			return dists[a].idx < dists[b].idx
		})
		for c := 0; c < k && c < len(dists); c++ {
			neighbors[i] = append(neighbors[i], dists[c].idx)
		}
	}
	return neighbors
}

// GraphCluster 在 kNN 图上做社区发现（局部移动的模块度优化，带分辨率参数）。
// 固定随机种子决定遍历顺序，保证可复现。返回按簇大小降序重编号的标签。
func GraphCluster(neighbors [][]int, resolution float64, seed int64) []int {
	n := len(neighbors)
	if n == 0 {
		return nil
	}

	// 无向化边权
	type edge map[int]float64
	adj := make([]edge, n)
	for i := range adj {
		adj[i] = edge{}
	}
	for i, nbs := range neighbors {
		for _, j := range nbs {
			adj[i][j] += 1
			adj[j][i] += 1
		}
	}

	degree := make([]float64, n)
	m2 := 0.0 // 2m
	for i := range adj {
		for _, w := range adj[i] {
			degree[i] += w
		}
		m2 += degree[i]
	}
	if m2 == 0 {
		return make([]int, n)
	}

	labels := make([]int, n)
	for i := range labels {
		labels[i] = i
	}
	commDegree := make([]float64, n)
	copy(commDegree, degree)

	rng := rand.New(rand.NewSource(seed))
	order := rng.Perm(n)

	const maxPasses = 20
	for pass := 0; pass < maxPasses; pass++ {
		moved := false
		for _, i := range order {
			cur := labels[i]

			// 各邻接社区的连接权重
			links := map[int]float64{}
			for j, w := range adj[i] {
				links[labels[j]] += w
			}

			commDegree[cur] -= degree[i]

			bestComm := cur
			bestGain := links[cur] - resolution*commDegree[cur]*degree[i]/m2
			for comm, w := range links {
				if comm == cur {
					continue
				}
				gain := w - resolution*commDegree[comm]*degree[i]/m2
				if gain > bestGain || (gain == bestGain && comm < bestComm) {
					bestGain = gain
					bestComm = comm
				}
			}

			commDegree[bestComm] += degree[i]
			if bestComm != cur {
				labels[i] = bestComm
				moved = true
			}
		}
		if !moved {
			break
		}
	}

	return renumberBySize(labels)
}

// renumberBySize 将社区标签重编号为 0..k-1，按成员数降序
func renumberBySize(labels []int) []int {
	counts := map[int]int{}
	for _, l := range labels {
		counts[l]++
	}
	type comm struct {
		label, count int
	}
	comms := []comm{}
	for l, c := range counts {
		comms = append(comms, comm{l, c})
	}
	sort.Slice(comms, func(a, b int) bool {
		if comms[a].count != comms[b].count {
			return comms[a].count > comms[b].count
		}
		return comms[a].label < comms[b].label
	})
	remap := map[int]int{}
	for i, c := range comms {
		remap[c.label] = i
	}
	out := make([]int, len(labels))
	for i, l := range labels {
		out[i] = remap[l]
	}
	return out
}

// Embed2D 确定性二维嵌入：邻居平均平滑后的前两个主成分坐标
func Embed2D(pcaScores [][]float64, neighbors [][]int) [][2]float64 {
	n := len(pcaScores)
	out := make([][2]float64, n)
	for i := 0; i < n; i++ {
		x := pcaScores[i][0]
		y := 0.0
		if len(pcaScores[i]) > 1 {
			y = pcaScores[i][1]
		}
		for _, j := range neighbors[i] {
			x += pcaScores[j][0]
			if len(pcaScores[j]) > 1 {
				y += pcaScores[j][1]
			}
		}
		d := float64(len(neighbors[i]) + 1)
		out[i] = [2]float64{x / d, y / d}
	}
	return out
}

// MarkerGene 簇标志基因
type MarkerGene struct {
	Gene           string  `json:"gene"`
	ClusterID      int     `json:"cluster_id"`
	PValue         float64 `json:"p_value"`
	AdjustedPValue float64 `json:"adjusted_p_value"`
	AvgLog2FC      float64 `json:"avg_log2fc"`
	PctIn          float64 `json:"pct_in"`
	PctOut         float64 `json:"pct_out"`
}

// RankMarkerGenes 每簇对其余细胞做秩和检验，返回每簇按 p 值升序的前 topN 个标志基因
func RankMarkerGenes(m *Matrix, labels []int, topN int) map[int][]MarkerGene {
	nClusters := 0
	for _, l := range labels {
		if l+1 > nClusters {
			nClusters = l + 1
		}
	}

	out := map[int][]MarkerGene{}
	for c := 0; c < nClusters; c++ {
		inIdx := []int{}
		outIdx := []int{}
		for j, l := range labels {
			if l == c {
				inIdx = append(inIdx, j)
			} else {
				outIdx = append(outIdx, j)
			}
		}
		if len(inIdx) == 0 || len(outIdx) == 0 {
			continue
		}

		markers := []MarkerGene{}
		pvalues := []float64{}
		for gi, row := range m.Values {
			inVals := pick(row, inIdx)
			outVals := pick(row, outIdx)
			mIn, mOut := mean(inVals), mean(outVals)
			if mIn <= mOut {
				continue // 标志基因只看上调
			}
			p := RankSumTest(outVals, inVals)
			markers = append(markers, MarkerGene{
				Gene:      m.Genes[gi],
				ClusterID: c,
				PValue:    p,
				AvgLog2FC: math.Log2((mIn + 1) / (mOut + 1)),
				PctIn:     pctExpressed(inVals),
				PctOut:    pctExpressed(outVals),
			})
			pvalues = append(pvalues, p)
		}

		adjusted := BenjaminiHochberg(pvalues)
		for i := range markers {
			markers[i].AdjustedPValue = adjusted[i]
		}
		sort.Slice(markers, func(a, b int) bool {
			if markers[a].PValue != markers[b].PValue {
				return markers[a].PValue < markers[b].PValue
			}
			return markers[a].AvgLog2FC > markers[b].AvgLog2FC
		})
		if len(markers) > topN {
			markers = markers[:topN]
		}
		out[c] = markers
	}
	return out
}

func pctExpressed(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	n := 0
	for _, v := range vals {
		if v > 0 {
			n++
		}
	}
	return float64(n) / float64(len(vals)) * 100
}
