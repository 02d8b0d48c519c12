package rnaseq

import "sort"

// SignatureResult 单个基因签名的打分结果
type SignatureResult struct {
	Name             string             `json:"name"`
	OverlapGenes     []string           `json:"overlap_genes"`
	SampleScores     map[string]float64 `json:"sample_scores"`     // 样本 -> 签名基因平均表达
	GeneCorrelations map[string]float64 `json:"gene_correlations"` // 基因 -> 与签名均值的相关性
	EnrichmentPValue float64            `json:"enrichment_p_value"`
	Skipped          bool               `json:"skipped"`
	SkipReason       string             `json:"skip_reason,omitempty"`
}

// minSignatureOverlap 签名与矩阵至少需要重叠的基因数
const minSignatureOverlap = 3

// ScoreSignature 对单个基因签名打分：
// 每个样本的签名得分为重叠基因的平均表达；每个签名基因与签名均值求相关；
// 并对签名基因在显著基因集内的富集做超几何检验。
// 重叠基因不足 3 个时跳过（Skipped=true），不报错。
func ScoreSignature(name string, signatureGenes []string, m *Matrix, significantGenes []string) *SignatureResult {
	idx := m.GeneIndex()

	overlap := []string{}
	for _, g := range signatureGenes {
		if _, ok := idx[g]; ok {
			overlap = append(overlap, g)
		}
	}
	if len(overlap) < minSignatureOverlap {
		return &SignatureResult{
			Name:       name,
			Skipped:    true,
			SkipReason: "签名与表达矩阵重叠基因不足 3 个",
		}
	}

	res := &SignatureResult{
		Name:             name,
		OverlapGenes:     overlap,
		SampleScores:     map[string]float64{},
		GeneCorrelations: map[string]float64{},
	}

	// 每个样本的签名均值
	nSamples := m.NSamples()
	meansBySample := make([]float64, nSamples)
	for _, g := range overlap {
		row := m.Values[idx[g]]
		for j, v := range row {
			meansBySample[j] += v
		}
	}
	for j := range meansBySample {
		meansBySample[j] /= float64(len(overlap))
		res.SampleScores[m.Samples[j]] = meansBySample[j]
	}

	// 各签名基因与签名均值的相关性
	for _, g := range overlap {
		res.GeneCorrelations[g] = PearsonCorrelation(m.Values[idx[g]], meansBySample)
	}

	// 签名基因在显著基因集内的过表示检验
	sig := map[string]bool{}
	for _, g := range significantGenes {
		sig[g] = true
	}
	observed := 0
	for _, g := range overlap {
		if sig[g] {
			observed++
		}
	}
	res.EnrichmentPValue = HypergeometricSF(observed, m.NGenes(), len(overlap), len(significantGenes))

	return res
}

// ScoreSignatures 批量打分，跳过的签名不出现在返回值里，而是记录到 skipped
func ScoreSignatures(signatures map[string][]string, m *Matrix, significantGenes []string) (results []*SignatureResult, skipped []string) {
	names := make([]string, 0, len(signatures))
	for name := range signatures {
		names = append(names, name)
	}
	// map 遍历无序，排序保证输出确定
	sort.Strings(names)

	for _, name := range names {
		r := ScoreSignature(name, signatures[name], m, significantGenes)
		if r.Skipped {
			skipped = append(skipped, name)
			continue
		}
		results = append(results, r)
	}
	return results, skipped
}
