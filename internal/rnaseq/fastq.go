package rnaseq

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"
)

// FastqStats 单个 FASTQ 文件的质量统计
type FastqStats struct {
	TotalReads  int64   `json:"total_reads"`
	TotalBases  int64   `json:"total_bases"`
	MeanQuality float64 `json:"mean_quality"`
	GCPercent   float64 `json:"gc_percent"`
	MeanLength  float64 `json:"mean_length"`
}

// openMaybeGzip 打开可能为 gzip 压缩的文件
func openMaybeGzip(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return &gzipReadCloser{gz: gz, f: f}, nil
	}
	return f, nil
}

type gzipReadCloser struct {
	gz *gzip.Reader
	f  *os.File
}

func (g *gzipReadCloser) Read(p []byte) (int, error) { return g.gz.Read(p) }

func (g *gzipReadCloser) Close() error {
	g.gz.Close()
	return g.f.Close()
}

// CheckFastq 校验 FASTQ 结构：非空、记录以 @ 开头、四行一组、序列与质量等长。
// 只读取前 maxRecords 条记录（0 表示全部）。
func CheckFastq(path string, maxRecords int) error {
	r, err := openMaybeGzip(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("missing_file: %s", path)
		}
		return fmt.Errorf("unreadable: %s: %w", path, err)
	}
	defer r.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	records := 0
	for scanner.Scan() {
		header := scanner.Text()
		if header == "" {
			continue
		}
		if !strings.HasPrefix(header, "@") {
			return fmt.Errorf("invalid_format: 第 %d 条记录头缺少 @ 标记", records+1)
		}
		if !scanner.Scan() {
			return fmt.Errorf("invalid_format: 第 %d 条记录缺少序列行", records+1)
		}
		seq := scanner.Text()
		if !scanner.Scan() || !strings.HasPrefix(scanner.Text(), "+") {
			return fmt.Errorf("invalid_format: 第 %d 条记录缺少 + 分隔行", records+1)
		}
		if !scanner.Scan() {
			return fmt.Errorf("invalid_format: 第 %d 条记录缺少质量行", records+1)
		}
		qual := scanner.Text()
		if len(seq) != len(qual) {
			return fmt.Errorf("invalid_format: 第 %d 条记录序列与质量长度不一致", records+1)
		}
		records++
		if maxRecords > 0 && records >= maxRecords {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("unreadable: %s: %w", path, err)
	}
	if records == 0 {
		return fmt.Errorf("invalid_format: 文件不包含任何 FASTQ 记录")
	}
	return nil
}

// ScanFastq 统计 FASTQ 文件的读数、碱基质量与 GC 含量（Phred+33）
func ScanFastq(path string) (*FastqStats, error) {
	r, err := openMaybeGzip(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	stats := &FastqStats{}
	var qualSum, gcCount int64

	line := 0
	for scanner.Scan() {
		text := scanner.Text()
		switch line % 4 {
		case 0:
			if text != "" {
				stats.TotalReads++
			}
		case 1:
			stats.TotalBases += int64(len(text))
			for i := 0; i < len(text); i++ {
				switch text[i] {
				case 'G', 'C', 'g', 'c':
					gcCount++
				}
			}
		case 3:
			for i := 0; i < len(text); i++ {
				qualSum += int64(text[i]) - 33
			}
		}
		line++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if stats.TotalBases > 0 {
		stats.MeanQuality = float64(qualSum) / float64(stats.TotalBases)
		stats.GCPercent = float64(gcCount) / float64(stats.TotalBases) * 100
	}
	if stats.TotalReads > 0 {
		stats.MeanLength = float64(stats.TotalBases) / float64(stats.TotalReads)
	}
	return stats, nil
}
