package rnaseq

import (
	"math"
	"sort"
)

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// variance 样本方差（n-1）
func variance(xs []float64) float64 {
	n := len(xs)
	if n < 2 {
		return 0
	}
	m := mean(xs)
	sum := 0.0
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return sum / float64(n-1)
}

// WelchTTest 两样本 Welch t 检验（不等方差），返回双侧 p 值。
// 任一组样本数 < 2 时不可检验，p = 1。
func WelchTTest(group1, group2 []float64) float64 {
	n1, n2 := len(group1), len(group2)
	if n1 < 2 || n2 < 2 {
		return 1.0
	}

	m1, m2 := mean(group1), mean(group2)
	v1, v2 := variance(group1), variance(group2)

	se := v1/float64(n1) + v2/float64(n2)
	if se == 0 {
		if m1 == m2 {
			return 1.0
		}
		return 0.0
	}

	t := (m2 - m1) / math.Sqrt(se)

	// Welch–Satterthwaite 自由度
	num := se * se
	den := (v1/float64(n1))*(v1/float64(n1))/float64(n1-1) +
		(v2/float64(n2))*(v2/float64(n2))/float64(n2-1)
	if den == 0 {
		return 1.0
	}
	df := num / den

	return 2 * studentTSF(math.Abs(t), df)
}

// studentTSF P(T > t)，t >= 0
func studentTSF(t, df float64) float64 {
	if t <= 0 {
		return 0.5
	}
	x := df / (df + t*t)
	return 0.5 * regIncBeta(df/2, 0.5, x)
}

// regIncBeta 正则化不完全贝塔函数 I_x(a, b)
func regIncBeta(a, b, x float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}

	lbeta, _ := math.Lgamma(a + b)
	la, _ := math.Lgamma(a)
	lb, _ := math.Lgamma(b)
	front := math.Exp(lbeta - la - lb + a*math.Log(x) + b*math.Log(1-x))

	// 对称区间选择，保证连分式收敛
	if x < (a+1)/(a+b+2) {
		return front * betaCF(a, b, x) / a
	}
	return 1 - (front*betaCF(b, a, 1-x))/b
}

// betaCF Lentz 连分式
func betaCF(a, b, x float64) float64 {
	const maxIter = 200
	const eps = 3e-14
	const tiny = 1e-30

	qab := a + b
	qap := a + 1
	qam := a - 1
	c := 1.0
	d := 1 - qab*x/qap
	if math.Abs(d) < tiny {
		d = tiny
	}
	d = 1 / d
	h := d

	for m := 1; m <= maxIter; m++ {
		fm := float64(m)
		m2 := 2 * fm

		aa := fm * (b - fm) * x / ((qam + m2) * (a + m2))
		d = 1 + aa*d
		if math.Abs(d) < tiny {
			d = tiny
		}
		c = 1 + aa/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		d = 1 / d
		h *= d * c

		aa = -(a + fm) * (qab + fm) * x / ((a + m2) * (qap + m2))
		d = 1 + aa*d
		if math.Abs(d) < tiny {
			d = tiny
		}
		c = 1 + aa/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		d = 1 / d
		del := d * c
		h *= del
		if math.Abs(del-1) < eps {
			break
		}
	}
	return h
}

// BenjaminiHochberg BH 多重检验校正。
// 返回与输入等长的校正 p 值，保持原顺序；每个校正值 >= 原始值，且按 p 排序后单调不减。
func BenjaminiHochberg(pvalues []float64) []float64 {
	n := len(pvalues)
	if n == 0 {
		return nil
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return pvalues[order[a]] < pvalues[order[b]]
	})

	adjusted := make([]float64, n)
	minSoFar := 1.0
	for rank := n - 1; rank >= 0; rank-- {
		idx := order[rank]
		adj := pvalues[idx] * float64(n) / float64(rank+1)
		if adj > 1 {
			adj = 1
		}
		if adj < minSoFar {
			minSoFar = adj
		} else {
			adj = minSoFar
		}
		adjusted[idx] = adj
	}
	return adjusted
}

// logChoose log(C(n, k))
func logChoose(n, k int) float64 {
	if k < 0 || k > n {
		return math.Inf(-1)
	}
	ln, _ := math.Lgamma(float64(n + 1))
	lk, _ := math.Lgamma(float64(k + 1))
	lnk, _ := math.Lgamma(float64(n - k + 1))
	return ln - lk - lnk
}

// HypergeometricSF 超几何分布单侧（过表示）检验：
// 总体 population 个基因中有 successes 个属于基因集，抽取 draws 个，观察到 >= observed 个的概率。
func HypergeometricSF(observed, population, successes, draws int) float64 {
	if observed <= 0 {
		return 1.0
	}
	upper := draws
	if successes < upper {
		upper = successes
	}
	if observed > upper {
		return 0.0
	}

	denom := logChoose(population, draws)
	p := 0.0
	for k := observed; k <= upper; k++ {
		logP := logChoose(successes, k) + logChoose(population-successes, draws-k) - denom
		p += math.Exp(logP)
	}
	if p > 1 {
		p = 1
	}
	return p
}

// RankSumTest Wilcoxon 秩和检验（Mann-Whitney U，正态近似 + tie 校正），返回双侧 p 值
func RankSumTest(group1, group2 []float64) float64 {
	n1, n2 := len(group1), len(group2)
	if n1 == 0 || n2 == 0 {
		return 1.0
	}

	type obs struct {
		v     float64
		group int
	}
	all := make([]obs, 0, n1+n2)
	for _, v := range group1 {
		all = append(all, obs{v, 1})
	}
	for _, v := range group2 {
		all = append(all, obs{v, 2})
	}
	sort.Slice(all, func(a, b int) bool { return all[a].v < all[b].v })

	// 平均秩处理并列值，同时累计 tie 校正项
	n := n1 + n2
	ranks := make([]float64, n)
	tieTerm := 0.0
	for i := 0; i < n; {
		j := i
		for j < n && all[j].v == all[i].v {
			j++
		}
		avgRank := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			ranks[k] = avgRank
		}
		t := float64(j - i)
		if t > 1 {
			tieTerm += t*t*t - t
		}
		i = j
	}

	r1 := 0.0
	for i, o := range all {
		if o.group == 1 {
			r1 += ranks[i]
		}
	}

	u1 := r1 - float64(n1*(n1+1))/2
	mu := float64(n1) * float64(n2) / 2
	nf := float64(n)
	sigma2 := float64(n1) * float64(n2) / 12 * ((nf + 1) - tieTerm/(nf*(nf-1)))
	if sigma2 <= 0 {
		return 1.0
	}

	z := (u1 - mu) / math.Sqrt(sigma2)
	return math.Erfc(math.Abs(z) / math.Sqrt2)
}

// PearsonCorrelation 皮尔逊相关系数
func PearsonCorrelation(xs, ys []float64) float64 {
	if len(xs) != len(ys) || len(xs) < 2 {
		return 0
	}
	mx, my := mean(xs), mean(ys)
	var sxy, sxx, syy float64
	for i := range xs {
		dx := xs[i] - mx
		dy := ys[i] - my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return 0
	}
	return sxy / math.Sqrt(sxx*syy)
}
