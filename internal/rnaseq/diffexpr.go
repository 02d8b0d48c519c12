package rnaseq

import (
	"math"
	"sort"
)

// GroupAssignment 差异表达的样本分组
type GroupAssignment struct {
	Group1     []int    `json:"group1"` // 样本列索引
	Group2     []int    `json:"group2"`
	Group1Name string   `json:"group1_name"`
	Group2Name string   `json:"group2_name"`
	Synthetic  bool     `json:"synthetic"` // 是否为单条件下的合成拆分
}

// DeriveGroups 从样本条件标签推导两组。条件数不足 2 时返回按原始顺序对半
// 拆分的合成分组并置 Synthetic=true，由调用方决定是否需要用户确认。
func DeriveGroups(samples []string, conditions map[string]string) *GroupAssignment {
	distinct := []string{}
	seen := map[string]bool{}
	for _, s := range samples {
		c := conditions[s]
		if c != "" && !seen[c] {
			seen[c] = true
			distinct = append(distinct, c)
		}
	}
	sort.Strings(distinct)

	if len(distinct) >= 2 {
		// 取前两个条件（字典序），多余条件的样本忽略
		g := &GroupAssignment{Group1Name: distinct[0], Group2Name: distinct[1]}
		for i, s := range samples {
			switch conditions[s] {
			case g.Group1Name:
				g.Group1 = append(g.Group1, i)
			case g.Group2Name:
				g.Group2 = append(g.Group2, i)
			}
		}
		return g
	}

	// 单条件：按原始顺序对半拆分
	half := len(samples) / 2
	g := &GroupAssignment{Group1Name: "group_1", Group2Name: "group_2", Synthetic: true}
	for i := range samples {
		if i < half {
			g.Group1 = append(g.Group1, i)
		} else {
			g.Group2 = append(g.Group2, i)
		}
	}
	return g
}

// DEGene 单个基因的差异表达结果
type DEGene struct {
	Gene           string  `json:"gene"`
	Log2FoldChange float64 `json:"log2_fold_change"`
	PValue         float64 `json:"p_value"`
	AdjustedPValue float64 `json:"adjusted_p_value"`
	MeanExpression float64 `json:"mean_expression"`
	Mean1          float64 `json:"mean_group1"`
	Mean2          float64 `json:"mean_group2"`
	Significant    bool    `json:"significant"`
}

// DEResult 差异表达分析结果
type DEResult struct {
	Genes            []DEGene `json:"genes"`
	Group1Name       string   `json:"group1_name"`
	Group2Name       string   `json:"group2_name"`
	SyntheticGroups  bool     `json:"synthetic_groups"`
	TestedGenes      int      `json:"tested_genes"`
	SignificantCount int      `json:"significant_count"`
	UpregulatedTop   []DEGene `json:"upregulated_top"`
	DownregulatedTop []DEGene `json:"downregulated_top"`
}

// DEOptions 差异表达阈值
type DEOptions struct {
	FDRThreshold    float64
	Log2FCThreshold float64
	MinMeanCount    float64 // 两组均值都低于该值的基因被剔除
}

// DifferentialExpression 对 counts 矩阵做两组差异表达分析。
// 检验为 group2 对 group1 的 Welch t 检验，BH 校正。
func DifferentialExpression(m *Matrix, groups *GroupAssignment, opts DEOptions) *DEResult {
	if opts.MinMeanCount <= 0 {
		opts.MinMeanCount = 1.0
	}

	res := &DEResult{
		Group1Name:      groups.Group1Name,
		Group2Name:      groups.Group2Name,
		SyntheticGroups: groups.Synthetic,
	}

	pvalues := []float64{}
	for gi, row := range m.Values {
		g1 := pick(row, groups.Group1)
		g2 := pick(row, groups.Group2)
		m1, m2 := mean(g1), mean(g2)

		// 两组均值都过低的基因剔除
		if m1 < opts.MinMeanCount && m2 < opts.MinMeanCount {
			continue
		}

		p := 1.0
		if len(g1) >= 2 && len(g2) >= 2 {
			p = WelchTTest(g1, g2)
		}

		res.Genes = append(res.Genes, DEGene{
			Gene:           m.Genes[gi],
			Log2FoldChange: math.Log2((m2 + 1) / (m1 + 1)),
			PValue:         p,
			MeanExpression: mean(row),
			Mean1:          m1,
			Mean2:          m2,
		})
		pvalues = append(pvalues, p)
	}
	res.TestedGenes = len(res.Genes)

	adjusted := BenjaminiHochberg(pvalues)
	for i := range res.Genes {
		g := &res.Genes[i]
		g.AdjustedPValue = adjusted[i]
		g.Significant = g.AdjustedPValue < opts.FDRThreshold &&
			math.Abs(g.Log2FoldChange) > opts.Log2FCThreshold
		if g.Significant {
			res.SignificantCount++
		}
	}

	res.UpregulatedTop = topByFoldChange(res.Genes, true, 10)
	res.DownregulatedTop = topByFoldChange(res.Genes, false, 10)
	return res
}

// SignificantGenes 显著基因名列表（up=nil 取全部，否则按方向过滤）
func (r *DEResult) SignificantGenes(up *bool) []string {
	genes := []string{}
	for _, g := range r.Genes {
		if !g.Significant {
			continue
		}
		if up != nil {
			if *up && g.Log2FoldChange <= 0 {
				continue
			}
			if !*up && g.Log2FoldChange >= 0 {
				continue
			}
		}
		genes = append(genes, g.Gene)
	}
	return genes
}

func pick(row []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, j := range idx {
		out[i] = row[j]
	}
	return out
}

func topByFoldChange(genes []DEGene, up bool, limit int) []DEGene {
	filtered := []DEGene{}
	for _, g := range genes {
		if !g.Significant {
			continue
		}
		if up && g.Log2FoldChange > 0 {
			filtered = append(filtered, g)
		} else if !up && g.Log2FoldChange < 0 {
			filtered = append(filtered, g)
		}
	}
	sort.Slice(filtered, func(a, b int) bool {
		return math.Abs(filtered[a].Log2FoldChange) > math.Abs(filtered[b].Log2FoldChange)
	})
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered
}
