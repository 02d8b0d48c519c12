package rnaseq

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// Matrix 基因 × 样本表达矩阵
type Matrix struct {
	Genes   []string    // 行名
	Samples []string    // 列名
	Values  [][]float64 // [gene][sample]
}

// NGenes 基因数
func (m *Matrix) NGenes() int { return len(m.Genes) }

// NSamples 样本数
func (m *Matrix) NSamples() int { return len(m.Samples) }

// Row 按基因名取一行，找不到返回 nil
func (m *Matrix) Row(gene string) []float64 {
	for i, g := range m.Genes {
		if g == gene {
			return m.Values[i]
		}
	}
	return nil
}

// GeneIndex 基因名 -> 行号
func (m *Matrix) GeneIndex() map[string]int {
	idx := make(map[string]int, len(m.Genes))
	for i, g := range m.Genes {
		idx[g] = i
	}
	return idx
}

// ParseMatrix 解析表达矩阵（TSV 或 CSV，首行样本名，首列基因名）
func ParseMatrix(r io.Reader) (*Matrix, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)

	if !scanner.Scan() {
		return nil, fmt.Errorf("矩阵文件为空")
	}

	header := scanner.Text()
	sep := detectSeparator(header)
	cols := strings.Split(strings.TrimRight(header, "\r\n"), sep)
	if len(cols) < 2 {
		return nil, fmt.Errorf("矩阵至少需要一列样本")
	}

	samples := make([]string, 0, len(cols)-1)
	for _, c := range cols[1:] {
		name := strings.TrimSpace(c)
		if name == "" {
			return nil, fmt.Errorf("样本名不能为空")
		}
		samples = append(samples, name)
	}

	m := &Matrix{Samples: samples}
	lineNo := 1
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}
		fields := strings.Split(line, sep)
		if len(fields) != len(samples)+1 {
			return nil, fmt.Errorf("第 %d 行列数不匹配: 期望 %d 列, 实际 %d 列", lineNo, len(samples)+1, len(fields))
		}
		row := make([]float64, len(samples))
		for j, f := range fields[1:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
			if err != nil {
				return nil, fmt.Errorf("第 %d 行存在非数值: %q", lineNo, f)
			}
			row[j] = v
		}
		m.Genes = append(m.Genes, strings.TrimSpace(fields[0]))
		m.Values = append(m.Values, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("读取矩阵失败: %w", err)
	}
	if len(m.Genes) == 0 {
		return nil, fmt.Errorf("矩阵不包含基因行")
	}

	return m, nil
}

// LoadMatrix 从文件加载表达矩阵
func LoadMatrix(path string) (*Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseMatrix(f)
}

func detectSeparator(header string) string {
	if strings.Count(header, "\t") >= strings.Count(header, ",") {
		return "\t"
	}
	return ","
}

// FilterByMeanExpression 按行均值过滤基因
func (m *Matrix) FilterByMeanExpression(minMean float64) *Matrix {
	out := &Matrix{Samples: m.Samples}
	for i, row := range m.Values {
		if mean(row) >= minMean {
			out.Genes = append(out.Genes, m.Genes[i])
			out.Values = append(out.Values, row)
		}
	}
	return out
}

// Log2Transform 返回 log2(x+1) 变换后的副本
func (m *Matrix) Log2Transform() *Matrix {
	out := &Matrix{
		Genes:   m.Genes,
		Samples: m.Samples,
		Values:  make([][]float64, len(m.Values)),
	}
	for i, row := range m.Values {
		t := make([]float64, len(row))
		for j, v := range row {
			t[j] = math.Log2(v + 1)
		}
		out.Values[i] = t
	}
	return out
}

// CPMNormalize 按样本库大小归一化为 counts-per-million
func (m *Matrix) CPMNormalize() *Matrix {
	totals := make([]float64, m.NSamples())
	for _, row := range m.Values {
		for j, v := range row {
			totals[j] += v
		}
	}

	out := &Matrix{
		Genes:   m.Genes,
		Samples: m.Samples,
		Values:  make([][]float64, len(m.Values)),
	}
	for i, row := range m.Values {
		t := make([]float64, len(row))
		for j, v := range row {
			if totals[j] > 0 {
				t[j] = v / totals[j] * 1e6
			}
		}
		out.Values[i] = t
	}
	return out
}

// WriteCSV 导出为 CSV
func (m *Matrix) WriteCSV(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "gene,%s\n", strings.Join(m.Samples, ","))
	for i, row := range m.Values {
		fields := make([]string, len(row)+1)
		fields[0] = m.Genes[i]
		for j, v := range row {
			fields[j+1] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if _, err := bw.WriteString(strings.Join(fields, ",") + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}
