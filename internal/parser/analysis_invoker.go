package parser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/model"
	einoschema "github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"resume-analyzer-go/internal/constants"
	"resume-analyzer-go/internal/logger"
	"resume-analyzer-go/internal/ratelimit"
	"resume-analyzer-go/internal/tracing"
	"resume-analyzer-go/internal/types"
)

// systemInstruction 固定的system消息，具体指令全部在用户侧prompt中
const systemInstruction = "You are an expert technical recruiter producing structured candidate evaluations. Reply with JSON only."

// Limiter 调用前的节流接口
type Limiter interface {
	Wait(ctx context.Context) error
}

// AnalysisInvoker 调用外部模型并将回复解析为结构化结果
// 重试策略: 瞬时失败与结构失败按倍增退避重试，配额信号立即终止不重试
type AnalysisInvoker struct {
	llmModel   model.ToolCallingChatModel
	limiter    Limiter
	maxRetries int           // 首次调用之外允许的重试次数
	retryWait  time.Duration // 首次重试等待时间，之后每次翻倍
	timeout    time.Duration // 单次调用超时
}

// AnalysisInvokerOption 调用器配置选项
type AnalysisInvokerOption func(*AnalysisInvoker)

// WithRetryPolicy 设置重试次数与首次退避时间
func WithRetryPolicy(maxRetries int, retryWait time.Duration) AnalysisInvokerOption {
	return func(inv *AnalysisInvoker) {
		inv.maxRetries = maxRetries
		inv.retryWait = retryWait
	}
}

// WithCallTimeout 设置单次调用超时
func WithCallTimeout(timeout time.Duration) AnalysisInvokerOption {
	return func(inv *AnalysisInvoker) {
		inv.timeout = timeout
	}
}

// WithLimiter 设置调用前节流器
func WithLimiter(limiter Limiter) AnalysisInvokerOption {
	return func(inv *AnalysisInvoker) {
		inv.limiter = limiter
	}
}

// NewAnalysisInvoker 创建分析调用器
func NewAnalysisInvoker(llmModel model.ToolCallingChatModel, options ...AnalysisInvokerOption) *AnalysisInvoker {
	inv := &AnalysisInvoker{
		llmModel:   llmModel,
		limiter:    ratelimit.NewTokenBucket(600, 0),
		maxRetries: 3,
		retryWait:  1 * time.Second,
		timeout:    60 * time.Second,
	}
	for _, opt := range options {
		opt(inv)
	}
	return inv
}

// Invoke 执行模型调用与结构化解析，返回结果和实际调用次数
// 调用次数用于计费审计，配额失败时恒为1
func (inv *AnalysisInvoker) Invoke(ctx context.Context, documentUUID string, prompt string) (*types.AnalysisResult, int, error) {
	if inv.llmModel == nil {
		return nil, 0, NewServiceError(documentUUID, "模型客户端未初始化")
	}

	log := zerolog.Ctx(ctx)
	if log.GetLevel() == zerolog.Disabled {
		log = &logger.Logger
	}
	span := trace.SpanFromContext(ctx)

	messages := []*einoschema.Message{
		einoschema.SystemMessage(systemInstruction),
		einoschema.UserMessage(prompt),
	}

	attempts := 0
	var lastErr error
	for retry := 0; retry <= inv.maxRetries; retry++ {
		if retry > 0 {
			// 倍增退避: wait, 2*wait, 4*wait ...
			backoff := inv.retryWait * time.Duration(1<<uint(retry-1))
			select {
			case <-ctx.Done():
				return nil, attempts, NewServiceError(documentUUID, ctx.Err().Error())
			case <-time.After(backoff):
			}
		}

		if inv.limiter != nil {
			if err := inv.limiter.Wait(ctx); err != nil {
				return nil, attempts, NewServiceError(documentUUID, fmt.Sprintf("等待限流令牌失败: %v", err))
			}
		}

		attempts++
		result, err := inv.invokeOnce(ctx, messages)
		if err == nil {
			log.Debug().Str("document_uuid", documentUUID).Int("attempts", attempts).Msg("模型分析调用成功")
			return result, attempts, nil
		}
		lastErr = err

		// 配额信号立即终止，调用方据此展示不同的用户提示
		if errors.Is(err, ErrQuotaExhausted) {
			tracing.RecordLLMError(span, err, attempts)
			return nil, attempts, &AnalysisError{
				DocumentUUID: documentUUID,
				Op:           "invoke",
				BaseErr:      ErrQuotaExhausted,
				Detail:       err.Error(),
			}
		}

		log.Warn().
			Err(err).
			Str("document_uuid", documentUUID).
			Int("attempt", attempts).
			Msg("模型分析调用失败，准备重试")
	}

	tracing.RecordLLMError(span, lastErr, attempts)
	if errors.Is(lastErr, ErrMalformedReply) {
		return nil, attempts, &AnalysisError{
			DocumentUUID: documentUUID,
			Op:           "parse_reply",
			BaseErr:      ErrMalformedReply,
			Detail:       lastErr.Error(),
		}
	}
	return nil, attempts, &AnalysisError{
		DocumentUUID: documentUUID,
		Op:           "invoke",
		BaseErr:      ErrServiceUnavailable,
		Detail:       lastErr.Error(),
	}
}

// invokeOnce 单次调用与结构校验
func (inv *AnalysisInvoker) invokeOnce(ctx context.Context, messages []*einoschema.Message) (*types.AnalysisResult, error) {
	callCtx := ctx
	if inv.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, inv.timeout)
		defer cancel()
	}

	response, err := inv.llmModel.Generate(callCtx, messages)
	if err != nil {
		return nil, err
	}
	if response == nil || response.Content == "" {
		return nil, fmt.Errorf("%w: 模型返回空回复", ErrServiceUnavailable)
	}

	return parseAnalysisReply(response.Content)
}

// rawAnalysisReply 解析用的中间结构
// fitScore用指针区分"缺失"与"值为0"
type rawAnalysisReply struct {
	Skills          []string               `json:"skills"`
	YearsExperience types.FlexibleYears    `json:"yearsExperience"`
	Education       []types.EducationEntry `json:"education"`
	FitScore        *int                   `json:"fitScore"`
	Justification   string                 `json:"justification"`
	Warnings        []string               `json:"warnings"`
}

// parseAnalysisReply 清理并解析模型的原始文本回复
// 回复可能被代码围栏包裹或夹杂前后缀文字
func parseAnalysisReply(raw string) (*types.AnalysisResult, error) {
	cleaned := sanitizeReply(raw)

	jsonStr := extractJSONObject(cleaned)
	if jsonStr == "" {
		return nil, fmt.Errorf("%w: 回复中没有完整的JSON对象: %s", ErrMalformedReply, tracing.SafeModelReply(raw))
	}

	if !utf8.ValidString(jsonStr) {
		jsonStr = strings.ToValidUTF8(jsonStr, "")
	}

	var reply rawAnalysisReply
	if err := json.Unmarshal([]byte(jsonStr), &reply); err != nil {
		return nil, fmt.Errorf("%w: JSON解析失败: %v", ErrMalformedReply, err)
	}

	// fitScore是强制字段，缺失或越界都是结构失败
	if reply.FitScore == nil {
		return nil, fmt.Errorf("%w: 缺少fitScore字段", ErrMalformedReply)
	}
	if *reply.FitScore < constants.MinFitScore || *reply.FitScore > constants.MaxFitScore {
		return nil, fmt.Errorf("%w: fitScore越界: %d", ErrMalformedReply, *reply.FitScore)
	}

	return &types.AnalysisResult{
		Skills:          reply.Skills,
		YearsExperience: reply.YearsExperience,
		Education:       reply.Education,
		FitScore:        *reply.FitScore,
		Justification:   reply.Justification,
		Warnings:        reply.Warnings,
	}, nil
}

// sanitizeReply 剥离BOM与代码围栏标记
func sanitizeReply(raw string) string {
	cleaned := strings.TrimPrefix(raw, "\uFEFF")
	cleaned = strings.TrimSpace(cleaned)

	if strings.HasPrefix(cleaned, "```json") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
	} else if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```")
	}
	cleaned = strings.TrimLeft(cleaned, "\r\n")
	cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")

	return strings.TrimSpace(cleaned)
}

// extractJSONObject 从文本中定位第一个括号配平的JSON对象
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}
	level := 0
	inStr := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inStr {
				escaped = true
			}
		case '"':
			inStr = !inStr
		case '{':
			if !inStr {
				level++
			}
		case '}':
			if !inStr {
				level--
				if level == 0 {
					return text[start : i+1]
				}
			}
		}
	}
	return ""
}
