package worker

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// PipelineError 流水线错误，包含用户友好消息和原始错误
type PipelineError struct {
	UserMessage string // 中文，给用户看
	RawError    error  // 原始错误，写日志
	Transient   bool   // 暂时性错误才值得重试
}

func (e *PipelineError) Error() string {
	return e.UserMessage
}

func (e *PipelineError) Unwrap() error {
	return e.RawError
}

func newPipelineError(userMsg string, raw error, transient bool) *PipelineError {
	return &PipelineError{UserMessage: userMsg, RawError: raw, Transient: transient}
}

// ToolRunner 执行外部流水线工具。测试中用假实现替换真实进程调用。
type ToolRunner interface {
	Run(ctx context.Context, tool string, args []string, workDir string) (string, *PipelineError)
}

// ExecToolRunner 通过子进程执行工具，带超时控制
type ExecToolRunner struct {
	TimeoutSeconds int
}

func NewExecToolRunner(timeoutSeconds int) *ExecToolRunner {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 3600
	}
	return &ExecToolRunner{TimeoutSeconds: timeoutSeconds}
}

func (r *ExecToolRunner) Run(ctx context.Context, tool string, args []string, workDir string) (string, *PipelineError) {
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(r.TimeoutSeconds)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(runCtx, tool, args...)
	if workDir != "" {
		cmd.Dir = workDir
	}

	output, err := cmd.CombinedOutput()
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return string(output), newPipelineError(
				fmt.Sprintf("工具 %s 执行超时", tool),
				fmt.Errorf("%s timed out after %ds: %w", tool, r.TimeoutSeconds, err),
				true,
			)
		}
		return string(output), classifyToolError(tool, string(output), err)
	}

	return string(output), nil
}

// classifyToolError 根据工具输出分类错误，返回中文用户提示。
// 工具未安装或输入文件缺失视为永久性错误，不重试。
func classifyToolError(tool, output string, err error) *PipelineError {
	lower := strings.ToLower(output + " " + err.Error())
	raw := fmt.Errorf("%s failed: %w, output: %s", tool, err, truncateOutput(output))

	switch {
	case strings.Contains(lower, "executable file not found") ||
		strings.Contains(lower, "no such file or directory") && strings.Contains(lower, tool):
		return newPipelineError(
			fmt.Sprintf("分析工具 %s 未安装，请联系管理员", tool), raw, false)
	case strings.Contains(lower, "permission denied"):
		return newPipelineError(
			fmt.Sprintf("工具 %s 无执行权限，请联系管理员", tool), raw, false)
	case strings.Contains(lower, "no such file") ||
		strings.Contains(lower, "cannot open") ||
		strings.Contains(lower, "does not exist"):
		return newPipelineError(
			"输入文件缺失或已被清理，请重新上传后再试", raw, false)
	case strings.Contains(lower, "out of memory") ||
		strings.Contains(lower, "cannot allocate"):
		return newPipelineError(
			"服务器资源不足，请稍后重试", raw, true)
	case strings.Contains(lower, "signal: killed"):
		return newPipelineError(
			fmt.Sprintf("工具 %s 被系统中止，请稍后重试", tool), raw, true)
	default:
		return newPipelineError(
			fmt.Sprintf("工具 %s 执行失败", tool), raw, true)
	}
}

// truncateOutput 截断过长的工具输出，只保留末尾的报错部分
func truncateOutput(output string) string {
	const maxLen = 2000
	output = strings.TrimSpace(output)
	if len(output) <= maxLen {
		return output
	}
	return "..." + output[len(output)-maxLen:]
}
