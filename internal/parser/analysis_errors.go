package parser

import (
	"errors"
	"fmt"
)

// 分析失败的基础错误变体，重试策略通过errors.Is区分，不做字符串匹配
var (
	// ErrQuotaExhausted 服务端配额/限流信号，立即终止且不重试
	ErrQuotaExhausted = errors.New("模型服务配额耗尽")
	// ErrMalformedReply 回复无法通过结构校验，按瞬时失败参与重试
	ErrMalformedReply = errors.New("模型回复结构非法")
	// ErrServiceUnavailable 模型服务瞬时不可用，参与重试
	ErrServiceUnavailable = errors.New("模型服务暂时不可用")
	// ErrUnsupportedFormat 文本提取不支持的格式
	ErrUnsupportedFormat = errors.New("不支持的文档格式")
	// ErrExtractionFailed 文本提取失败或提取结果为空
	ErrExtractionFailed = errors.New("文档文本提取失败")
)

// AnalysisError 携带上下文的分析错误
type AnalysisError struct {
	DocumentUUID string
	Op           string
	BaseErr      error
	Detail       string
}

func (e *AnalysisError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (操作:%s, UUID:%s): %s", e.BaseErr, e.Op, e.DocumentUUID, e.Detail)
	}
	return fmt.Sprintf("%s (操作:%s, UUID:%s)", e.BaseErr, e.Op, e.DocumentUUID)
}

func (e *AnalysisError) Unwrap() error {
	return e.BaseErr
}

// Is 实现 errors.Is 接口以支持错误变体比较
func (e *AnalysisError) Is(target error) bool {
	return errors.Is(e.BaseErr, target)
}

// 错误构造函数
func NewQuotaError(uuid, detail string) error {
	return &AnalysisError{
		DocumentUUID: uuid,
		Op:           "invoke",
		BaseErr:      ErrQuotaExhausted,
		Detail:       detail,
	}
}

func NewMalformedReplyError(uuid, detail string) error {
	return &AnalysisError{
		DocumentUUID: uuid,
		Op:           "parse_reply",
		BaseErr:      ErrMalformedReply,
		Detail:       detail,
	}
}

func NewServiceError(uuid, detail string) error {
	return &AnalysisError{
		DocumentUUID: uuid,
		Op:           "invoke",
		BaseErr:      ErrServiceUnavailable,
		Detail:       detail,
	}
}

func NewExtractionError(uuid, detail string) error {
	return &AnalysisError{
		DocumentUUID: uuid,
		Op:           "extract",
		BaseErr:      ErrExtractionFailed,
		Detail:       detail,
	}
}
