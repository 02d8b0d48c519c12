package rnaseq

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
)

// GeneSetDB 通路基因集数据库（GMT 格式加载）
type GeneSetDB struct {
	Name string
	Sets map[string]GeneSet
}

// GeneSet 单条通路
type GeneSet struct {
	ID    string
	Name  string
	Genes []string
}

// LoadGMT 加载 GMT 基因集文件：每行 tab 分隔，前两列为 ID 与描述，其余为基因
func LoadGMT(name, path string) (*GeneSetDB, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开基因集文件失败: %w", err)
	}
	defer f.Close()

	db := &GeneSetDB{Name: name, Sets: map[string]GeneSet{}}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 3 {
			continue // 跳过无基因的行
		}
		genes := []string{}
		for _, g := range fields[2:] {
			if g != "" {
				genes = append(genes, g)
			}
		}
		db.Sets[fields[0]] = GeneSet{ID: fields[0], Name: fields[1], Genes: genes}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("读取基因集文件失败: %w", err)
	}
	if len(db.Sets) == 0 {
		return nil, fmt.Errorf("基因集文件 %s 不包含任何通路", path)
	}
	return db, nil
}

// EnrichedPathway 单条富集结果
type EnrichedPathway struct {
	PathwayID       string   `json:"pathway_id"`
	PathwayName     string   `json:"pathway_name"`
	Database        string   `json:"database"`
	GeneSet         string   `json:"gene_set"` // all, up, down
	PValue          float64  `json:"p_value"`
	AdjustedPValue  float64  `json:"adjusted_p_value"`
	OverlapCount    int      `json:"overlap_count"`
	Genes           []string `json:"genes"`
	EnrichmentScore float64  `json:"enrichment_score"`
}

// EnrichOptions 富集参数
type EnrichOptions struct {
	PathwayFDR float64
	TopN       int
}

// Enrich 对显著基因列表做超几何过表示检验。
// background 为表达矩阵中的全部基因（总体），geneSetTag 标记输入来源（all/up/down）。
// 返回仅保留 BH 校正后 p 值低于阈值的通路，按校正 p 值升序，截断 TopN。
func (db *GeneSetDB) Enrich(significant, background []string, geneSetTag string, opts EnrichOptions) []EnrichedPathway {
	if opts.TopN <= 0 {
		opts.TopN = 10
	}

	bg := map[string]bool{}
	for _, g := range background {
		bg[g] = true
	}
	sig := map[string]bool{}
	for _, g := range significant {
		if bg[g] {
			sig[g] = true
		}
	}
	if len(sig) == 0 {
		return nil
	}

	results := []EnrichedPathway{}
	pvalues := []float64{}
	for _, set := range db.Sets {
		// 与总体和显著集的交集
		inBg := 0
		overlap := []string{}
		for _, g := range set.Genes {
			if bg[g] {
				inBg++
				if sig[g] {
					overlap = append(overlap, g)
				}
			}
		}
		if len(overlap) == 0 {
			continue
		}
		sort.Strings(overlap)

		p := HypergeometricSF(len(overlap), len(bg), inBg, len(sig))

		// 组合富集分数：-log10(p) * (observed/expected)
		expected := float64(inBg) * float64(len(sig)) / float64(len(bg))
		score := 0.0
		if expected > 0 && p > 0 {
			score = -math.Log10(p) * float64(len(overlap)) / expected
		}

		results = append(results, EnrichedPathway{
			PathwayID:       set.ID,
			PathwayName:     set.Name,
			Database:        db.Name,
			GeneSet:         geneSetTag,
			PValue:          p,
			OverlapCount:    len(overlap),
			Genes:           overlap,
			EnrichmentScore: score,
		})
		pvalues = append(pvalues, p)
	}

	adjusted := BenjaminiHochberg(pvalues)
	kept := []EnrichedPathway{}
	for i := range results {
		results[i].AdjustedPValue = adjusted[i]
		if results[i].AdjustedPValue < opts.PathwayFDR {
			kept = append(kept, results[i])
		}
	}

	sort.Slice(kept, func(a, b int) bool {
		if kept[a].AdjustedPValue != kept[b].AdjustedPValue {
			return kept[a].AdjustedPValue < kept[b].AdjustedPValue
		}
		return kept[a].PathwayID < kept[b].PathwayID // p 值并列按 ID 保证确定性
	})
	if len(kept) > opts.TopN {
		kept = kept[:opts.TopN]
	}
	return kept
}
