package rnaseq

import (
	"fmt"
	"math"
	"sort"
)

// PCAResult 主成分分析结果
type PCAResult struct {
	NComponents       int         `json:"n_components"`
	Scores            [][]float64 `json:"scores"`             // [sample][component]
	VarianceExplained []float64   `json:"variance_explained"` // 各主成分解释的方差比例
	CumulativeVarPC5  float64     `json:"cumulative_var_pc5"` // 前 5 个主成分累计方差比例
	TopGenes          [][]GeneLoading `json:"top_genes"`      // 各主成分载荷绝对值前 10 的基因
}

// GeneLoading 基因在某主成分上的载荷
type GeneLoading struct {
	Gene    string  `json:"gene"`
	Loading float64 `json:"loading"`
}

// standardizeColumns 将 [sample][gene] 布局的数据列标准化（零均值单位方差）。
// 方差为零的列置零。
func standardizeColumns(data [][]float64) {
	if len(data) == 0 {
		return
	}
	n := len(data)
	p := len(data[0])
	for j := 0; j < p; j++ {
		col := make([]float64, n)
		for i := 0; i < n; i++ {
			col[i] = data[i][j]
		}
		m := mean(col)
		sd := math.Sqrt(variance(col))
		for i := 0; i < n; i++ {
			if sd > 0 {
				data[i][j] = (data[i][j] - m) / sd
			} else {
				data[i][j] = 0
			}
		}
	}
}

// PCA 对 log 变换后的表达矩阵做主成分分析。
// 输入矩阵为基因 × 样本；样本作为观测、基因作为特征。
// 主成分数 = min(maxComponents, n_samples-1, n_genes)。
func PCA(m *Matrix, maxComponents int) (*PCAResult, error) {
	n := m.NSamples()
	p := m.NGenes()
	if n < 2 {
		return nil, fmt.Errorf("PCA 至少需要 2 个样本")
	}

	k := maxComponents
	if n-1 < k {
		k = n - 1
	}
	if p < k {
		k = p
	}
	if k < 1 {
		k = 1
	}

	// 转置为 [sample][gene] 并标准化
	data := make([][]float64, n)
	for i := 0; i < n; i++ {
		data[i] = make([]float64, p)
		for j := 0; j < p; j++ {
			data[i][j] = m.Values[j][i]
		}
	}
	standardizeColumns(data)

	// n×n Gram 矩阵 XX^T，其特征分解给出与 X^T X 相同的非零特征值
	gram := make([][]float64, n)
	for i := 0; i < n; i++ {
		gram[i] = make([]float64, n)
		for j := i; j < n; j++ {
			s := 0.0
			for g := 0; g < p; g++ {
				s += data[i][g] * data[j][g]
			}
			gram[i][j] = s
			gram[j][i] = s
		}
	}

	eigvals, eigvecs := jacobiEigen(gram)

	// 按特征值降序
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return eigvals[order[a]] > eigvals[order[b]] })

	totalVar := 0.0
	for _, v := range eigvals {
		if v > 0 {
			totalVar += v
		}
	}

	res := &PCAResult{
		NComponents:       k,
		Scores:            make([][]float64, n),
		VarianceExplained: make([]float64, k),
		TopGenes:          make([][]GeneLoading, k),
	}
	for i := range res.Scores {
		res.Scores[i] = make([]float64, k)
	}

	for c := 0; c < k; c++ {
		idx := order[c]
		lambda := eigvals[idx]
		if lambda < 0 {
			lambda = 0
		}
		sigma := math.Sqrt(lambda)

		if totalVar > 0 {
			res.VarianceExplained[c] = lambda / totalVar
		}

		// 样本得分 T = U * sigma
		for i := 0; i < n; i++ {
			res.Scores[i][c] = eigvecs[i][idx] * sigma
		}

		// 基因载荷 V = X^T U / sigma
		loadings := make([]GeneLoading, p)
		for g := 0; g < p; g++ {
			l := 0.0
			if sigma > 0 {
				for i := 0; i < n; i++ {
					l += data[i][g] * eigvecs[i][idx]
				}
				l /= sigma
			}
			loadings[g] = GeneLoading{Gene: m.Genes[g], Loading: l}
		}
		sort.Slice(loadings, func(a, b int) bool {
			return math.Abs(loadings[a].Loading) > math.Abs(loadings[b].Loading)
		})
		top := 10
		if p < top {
			top = p
		}
		res.TopGenes[c] = loadings[:top]
	}

	upto := 5
	if k < upto {
		upto = k
	}
	for c := 0; c < upto; c++ {
		res.CumulativeVarPC5 += res.VarianceExplained[c]
	}

	return res, nil
}

// jacobiEigen 对称矩阵的 Jacobi 特征分解，返回特征值与列特征向量
func jacobiEigen(a [][]float64) ([]float64, [][]float64) {
	n := len(a)

	// 工作副本
	m := make([][]float64, n)
	v := make([][]float64, n)
	for i := 0; i < n; i++ {
		m[i] = make([]float64, n)
		copy(m[i], a[i])
		v[i] = make([]float64, n)
		v[i][i] = 1
	}

	const maxSweeps = 100
	for sweep := 0; sweep < maxSweeps; sweep++ {
		off := 0.0
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				off += m[i][j] * m[i][j]
			}
		}
		if off < 1e-18 {
			break
		}

		for p := 0; p < n-1; p++ {
			for q := p + 1; q < n; q++ {
				if math.Abs(m[p][q]) < 1e-15 {
					continue
				}
				theta := (m[q][q] - m[p][p]) / (2 * m[p][q])
				t := 1 / (math.Abs(theta) + math.Sqrt(theta*theta+1))
				if theta < 0 {
					t = -t
				}
				c := 1 / math.Sqrt(t*t+1)
				s := t * c

				for i := 0; i < n; i++ {
					mip := m[i][p]
					miq := m[i][q]
					m[i][p] = c*mip - s*miq
					m[i][q] = s*mip + c*miq
				}
				for i := 0; i < n; i++ {
					mpi := m[p][i]
					mqi := m[q][i]
					m[p][i] = c*mpi - s*mqi
					m[q][i] = s*mpi + c*mqi
				}
				for i := 0; i < n; i++ {
					vip := v[i][p]
					viq := v[i][q]
					v[i][p] = c*vip - s*viq
					v[i][q] = s*vip + c*viq
				}
			}
		}
	}

	eigvals := make([]float64, n)
	for i := 0; i < n; i++ {
		eigvals[i] = m[i][i]
	}
	return eigvals, v
}
