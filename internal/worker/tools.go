package worker

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/qs3c/rnaseq_go_server/config"
	"github.com/qs3c/rnaseq_go_server/internal/model"
	"github.com/qs3c/rnaseq_go_server/internal/rnaseq"
)

// FastpOutput fastp 调用的参数与产物路径
type FastpOutput struct {
	Args       []string
	TrimmedR1  string
	TrimmedR2  string
	JSONReport string
	HTMLReport string
}

// BuildFastpCommand 构建 fastp 修剪命令
func BuildFastpCommand(p *config.PipelineConfig, sample *model.SampleFile, outDir string) *FastpOutput {
	out := &FastpOutput{
		TrimmedR1:  filepath.Join(outDir, sample.SampleID+"_R1.trimmed.fastq.gz"),
		JSONReport: filepath.Join(outDir, sample.SampleID+".fastp.json"),
		HTMLReport: filepath.Join(outDir, sample.SampleID+".fastp.html"),
	}

	args := []string{
		"-i", sample.Read1Path,
		"-o", out.TrimmedR1,
		"--cut_right",
		"--cut_right_window_size", strconv.Itoa(p.Trimming.WindowSize),
		"--cut_right_mean_quality", strconv.Itoa(p.Trimming.WindowQuality),
		"--length_required", strconv.Itoa(p.Trimming.MinLength),
		"--thread", strconv.Itoa(p.Tools.Threads),
		"--json", out.JSONReport,
		"--html", out.HTMLReport,
	}
	if p.Trimming.LeadingQuality > 0 {
		args = append(args, "--cut_front", "--cut_front_mean_quality", strconv.Itoa(p.Trimming.LeadingQuality))
	}
	if p.Trimming.TrailingQuality > 0 {
		args = append(args, "--cut_tail", "--cut_tail_mean_quality", strconv.Itoa(p.Trimming.TrailingQuality))
	}

	if sample.Read2Path != "" {
		out.TrimmedR2 = filepath.Join(outDir, sample.SampleID+"_R2.trimmed.fastq.gz")
		args = append(args, "-I", sample.Read2Path, "-O", out.TrimmedR2)
	}

	out.Args = args
	return out
}

// FastpReport fastp JSON 报告中关心的部分
type FastpReport struct {
	ReadsBefore     int64   `json:"reads_before"`
	ReadsAfter      int64   `json:"reads_after"`
	BasesBefore     int64   `json:"bases_before"`
	BasesAfter      int64   `json:"bases_after"`
	Q30RateAfter    float64 `json:"q30_rate_after"`
	DuplicationRate float64 `json:"duplication_rate"`
}

// ParseFastpReport 解析 fastp 的 JSON 报告
func ParseFastpReport(path string) (*FastpReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fastp report: %w", err)
	}

	var raw struct {
		Summary struct {
			BeforeFiltering struct {
				TotalReads int64 `json:"total_reads"`
				TotalBases int64 `json:"total_bases"`
			} `json:"before_filtering"`
			AfterFiltering struct {
				TotalReads int64   `json:"total_reads"`
				TotalBases int64   `json:"total_bases"`
				Q30Rate    float64 `json:"q30_rate"`
			} `json:"after_filtering"`
		} `json:"summary"`
		Duplication struct {
			Rate float64 `json:"rate"`
		} `json:"duplication"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse fastp report: %w", err)
	}

	return &FastpReport{
		ReadsBefore:     raw.Summary.BeforeFiltering.TotalReads,
		ReadsAfter:      raw.Summary.AfterFiltering.TotalReads,
		BasesBefore:     raw.Summary.BeforeFiltering.TotalBases,
		BasesAfter:      raw.Summary.AfterFiltering.TotalBases,
		Q30RateAfter:    raw.Summary.AfterFiltering.Q30Rate,
		DuplicationRate: raw.Duplication.Rate,
	}, nil
}

// Hisat2Output HISAT2 调用的参数与产物路径
type Hisat2Output struct {
	Args    []string
	SAMPath string
}

// BuildHisat2Command 构建 HISAT2 比对命令
func BuildHisat2Command(p *config.PipelineConfig, org *config.OrganismConfig, reference string, sample *model.SampleFile, trimmedR1, trimmedR2, outDir string) *Hisat2Output {
	if reference == "" {
		reference = org.DefaultReference
	}
	indexPrefix := filepath.Join(org.IndexDir, reference)
	samPath := filepath.Join(outDir, sample.SampleID+".sam")

	args := []string{
		"-x", indexPrefix,
		"-p", strconv.Itoa(p.Tools.Threads),
		"-S", samPath,
		"--new-summary",
	}
	if trimmedR2 != "" {
		args = append(args, "-1", trimmedR1, "-2", trimmedR2)
	} else {
		args = append(args, "-U", trimmedR1)
	}

	return &Hisat2Output{Args: args, SAMPath: samPath}
}

// Hisat2Summary HISAT2 比对统计
type Hisat2Summary struct {
	TotalReads   int64   `json:"total_reads"`
	AlignedZero  int64   `json:"aligned_zero"`
	AlignedOnce  int64   `json:"aligned_once"`
	AlignedMulti int64   `json:"aligned_multi"`
	OverallRate  float64 `json:"overall_rate"` // 百分比
}

// ParseHisat2Summary 从 HISAT2 stderr 输出解析比对统计。
// 三类比对数之和必须等于总读数，不守恒说明比对过程异常。
func ParseHisat2Summary(output string) (*Hisat2Summary, error) {
	s := &Hisat2Summary{}
	found := false

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasSuffix(line, "reads; of these:"):
			s.TotalReads = leadingInt(line)
			found = true
		case strings.Contains(line, "aligned 0 times") ||
			strings.Contains(line, "aligned concordantly 0 times"):
			s.AlignedZero = leadingInt(line)
		case strings.Contains(line, "aligned exactly 1 time") ||
			strings.Contains(line, "aligned concordantly exactly 1 time"):
			s.AlignedOnce = leadingInt(line)
		case strings.Contains(line, "aligned >1 times") ||
			strings.Contains(line, "aligned concordantly >1 times"):
			s.AlignedMulti = leadingInt(line)
		case strings.HasSuffix(line, "overall alignment rate"):
			fields := strings.Fields(line)
			if len(fields) > 0 {
				rate := strings.TrimSuffix(fields[0], "%")
				s.OverallRate, _ = strconv.ParseFloat(rate, 64)
			}
		}
	}

	if !found {
		return nil, fmt.Errorf("no read count found in HISAT2 output")
	}
	if s.AlignedZero+s.AlignedOnce+s.AlignedMulti != s.TotalReads {
		return nil, fmt.Errorf("HISAT2 read counts do not add up: %d+%d+%d != %d",
			s.AlignedZero, s.AlignedOnce, s.AlignedMulti, s.TotalReads)
	}

	return s, nil
}

// leadingInt 取行首的整数
func leadingInt(line string) int64 {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return 0
	}
	n, _ := strconv.ParseInt(fields[0], 10, 64)
	return n
}

// FeatureCountsOutput featureCounts 调用的参数与产物路径
type FeatureCountsOutput struct {
	Args       []string
	CountsPath string
}

// BuildFeatureCountsCommand 构建 featureCounts 定量命令，一次传入全部样本的 SAM
func BuildFeatureCountsCommand(p *config.PipelineConfig, org *config.OrganismConfig, samPaths []string, pairedEnd bool, outDir string) *FeatureCountsOutput {
	countsPath := filepath.Join(outDir, "counts.txt")

	args := []string{
		"-a", org.AnnotationGTF,
		"-o", countsPath,
		"-T", strconv.Itoa(p.Tools.Threads),
		"-t", "exon",
		"-g", "gene_id",
	}
	if pairedEnd {
		args = append(args, "-p", "--countReadPairs")
	}
	args = append(args, samPaths...)

	return &FeatureCountsOutput{Args: args, CountsPath: countsPath}
}

// ParseFeatureCountsMatrix 将 featureCounts 输出转为表达矩阵。
// 文件前 6 列为注释信息，第 7 列起为各样本计数；样本名取自 SAM 文件名。
func ParseFeatureCountsMatrix(path string, sampleNames []string) (*rnaseq.Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open counts file: %w", err)
	}
	defer f.Close()

	m := &rnaseq.Matrix{Samples: sampleNames}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	headerSeen := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if !headerSeen {
			headerSeen = true
			if len(fields) != 6+len(sampleNames) {
				return nil, fmt.Errorf("counts file has %d columns, expected %d", len(fields), 6+len(sampleNames))
			}
			continue
		}
		if len(fields) < 7 {
			continue
		}

		values := make([]float64, len(sampleNames))
		for i, v := range fields[6:] {
			values[i], err = strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid count for gene %s: %q", fields[0], v)
			}
		}
		m.Genes = append(m.Genes, fields[0])
		m.Values = append(m.Values, values)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read counts file: %w", err)
	}

	if len(m.Genes) == 0 {
		return nil, fmt.Errorf("counts file contains no genes")
	}
	return m, nil
}
