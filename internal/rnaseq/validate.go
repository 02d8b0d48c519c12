package rnaseq

import (
	"os"
	"strings"
)

// 校验失败原因
const (
	ReasonInvalidFormat      = "invalid_format"
	ReasonMissingFile        = "missing_file"
	ReasonUnreadable         = "unreadable"
	ReasonMalformedMatrix    = "malformed_matrix"
	ReasonMissingSampleFiles = "missing_sample_files"
)

// ValidationError 单条校验错误
type ValidationError struct {
	Reason   string `json:"reason"`
	SampleID string `json:"sample_id,omitempty"`
	File     string `json:"file,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// SampleInput 待校验的样本声明
type SampleInput struct {
	SampleID string
	Read1    string
	Read2    string
}

// checkRecords 校验时读取的记录条数上限
const checkRecords = 1000

// ValidateFastqFiles 校验原始测序输入：每个声明的样本必须有完整的文件对，
// 每个文件必须存在、可读且为合法 FASTQ 结构。无副作用，只返回错误列表。
func ValidateFastqFiles(samples []SampleInput, pairedEnd bool) []ValidationError {
	errs := []ValidationError{}
	for _, s := range samples {
		files := []string{s.Read1}
		if pairedEnd {
			if s.Read2 == "" {
				errs = append(errs, ValidationError{
					Reason:   ReasonMissingSampleFiles,
					SampleID: s.SampleID,
					Detail:   "双端测序缺少 read2 文件",
				})
				continue
			}
			files = append(files, s.Read2)
		}
		if s.Read1 == "" {
			errs = append(errs, ValidationError{
				Reason:   ReasonMissingSampleFiles,
				SampleID: s.SampleID,
				Detail:   "缺少 read1 文件",
			})
			continue
		}

		for _, f := range files {
			if err := CheckFastq(f, checkRecords); err != nil {
				errs = append(errs, ValidationError{
					Reason:   classifyFastqError(err),
					SampleID: s.SampleID,
					File:     f,
					Detail:   err.Error(),
				})
			}
		}
	}
	return errs
}

func classifyFastqError(err error) string {
	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "missing_file"):
		return ReasonMissingFile
	case strings.HasPrefix(msg, "unreadable"):
		return ReasonUnreadable
	default:
		return ReasonInvalidFormat
	}
}

// ValidateMatrixFile 校验表达矩阵：可解析为二维数值表，至少一个样本列和一个基因行，
// 声明的样本必须全部出现在列头中。
func ValidateMatrixFile(path string, declaredSamples []string) []ValidationError {
	if _, err := os.Stat(path); err != nil {
		return []ValidationError{{Reason: ReasonMissingFile, File: path, Detail: err.Error()}}
	}

	m, err := LoadMatrix(path)
	if err != nil {
		return []ValidationError{{Reason: ReasonMalformedMatrix, File: path, Detail: err.Error()}}
	}

	errs := []ValidationError{}
	present := map[string]bool{}
	for _, s := range m.Samples {
		present[s] = true
	}
	for _, s := range declaredSamples {
		if !present[s] {
			errs = append(errs, ValidationError{
				Reason:   ReasonMissingSampleFiles,
				SampleID: s,
				File:     path,
				Detail:   "样本在矩阵列头中缺失",
			})
		}
	}
	return errs
}
