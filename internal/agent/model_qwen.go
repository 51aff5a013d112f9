package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"resume-analyzer-go/internal/logger"
	"resume-analyzer-go/internal/parser"
	"resume-analyzer-go/internal/tracing"
)

const (
	// DashScope的OpenAI兼容端点
	openAICompatibleAPIURL = "https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions"
	defaultModelName       = "qwen-plus"

	// 生成参数边界，低温度优先确定性输出
	defaultTemperature = 0.1
	defaultMaxTokens   = 2000
	maxTokensCeiling   = 8192
)

// QwenChatModel 通过OpenAI兼容协议访问通义千问，实现 model.ToolCallingChatModel 接口
// 配额/限流信号被映射为独立的错误变体，调用方不重试
type QwenChatModel struct {
	apiKey      string
	modelName   string
	apiURL      string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

// QwenOption 模型客户端配置选项
type QwenOption func(*QwenChatModel)

// WithGenerationParams 设置采样温度和生成token上限
func WithGenerationParams(temperature float64, maxTokens int) QwenOption {
	return func(m *QwenChatModel) {
		if temperature >= 0 && temperature <= 2 {
			m.temperature = temperature
		}
		if maxTokens > 0 {
			if maxTokens > maxTokensCeiling {
				maxTokens = maxTokensCeiling
			}
			m.maxTokens = maxTokens
		}
	}
}

// WithHTTPClient 替换HTTP客户端，测试时注入
func WithHTTPClient(client *http.Client) QwenOption {
	return func(m *QwenChatModel) {
		if client != nil {
			m.httpClient = client
		}
	}
}

// NewQwenChatModel 创建通义千问模型客户端
func NewQwenChatModel(apiKey string, modelName string, apiURL string, options ...QwenOption) (*QwenChatModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API 密钥不能为空")
	}
	if strings.TrimSpace(modelName) == "" {
		modelName = defaultModelName
	}
	if strings.TrimSpace(apiURL) == "" {
		apiURL = openAICompatibleAPIURL
	}

	m := &QwenChatModel{
		apiKey:      apiKey,
		modelName:   modelName,
		apiURL:      apiURL,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
		httpClient:  &http.Client{},
	}
	for _, opt := range options {
		opt(m)
	}

	logger.Info().Str("api_url", m.apiURL).Str("model", m.modelName).Msg("通义千问客户端初始化完成")
	return m, nil
}

// --- OpenAI兼容请求/响应结构 ---

type chatCompletionRequest struct {
	Model       string            `json:"model"`
	Messages    []*schema.Message `json:"messages"`
	Temperature float64           `json:"temperature"`
	MaxTokens   int               `json:"max_tokens"`
}

type chatMessage struct {
	Role    string  `json:"role"`
	Content *string `json:"content"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatCompletionResponse struct {
	Id      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Generate 实现 model.ToolCallingChatModel 接口
func (m *QwenChatModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	reqPayload := chatCompletionRequest{
		Model:       m.modelName,
		Messages:    messages,
		Temperature: m.temperature,
		MaxTokens:   m.maxTokens,
	}

	jsonData, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求体失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("创建 HTTP 请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", parser.ErrServiceUnavailable, err)
	}
	defer httpResp.Body.Close()

	bodyBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, m.classifyAPIError(httpResp.StatusCode, bodyBytes)
	}

	var apiResp chatCompletionResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, fmt.Errorf("反序列化 API 响应失败: %w。响应体: %s", err, tracing.TruncateString(string(bodyBytes), 300))
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("%w: 从 API 收到空选项", parser.ErrServiceUnavailable)
	}

	apiMessage := apiResp.Choices[0].Message
	content := ""
	if apiMessage.Content != nil {
		content = *apiMessage.Content
	}

	role := schema.RoleType(apiMessage.Role)
	if role == "" {
		role = schema.Assistant
	}
	return &schema.Message{Role: role, Content: content}, nil
}

// classifyAPIError 将HTTP错误映射为可供重试策略区分的错误变体
// 429与配额类错误码立即终止，5xx按瞬时失败处理
func (m *QwenChatModel) classifyAPIError(statusCode int, body []byte) error {
	var apiErr apiErrorResponse
	_ = json.Unmarshal(body, &apiErr)

	detail := apiErr.Error.Message
	if detail == "" {
		detail = tracing.TruncateString(string(body), 300)
	}

	if statusCode == http.StatusTooManyRequests || isQuotaErrorCode(apiErr.Error.Code) {
		return fmt.Errorf("%w: HTTP %d, %s", parser.ErrQuotaExhausted, statusCode, detail)
	}
	if statusCode >= 500 {
		return fmt.Errorf("%w: HTTP %d, %s", parser.ErrServiceUnavailable, statusCode, detail)
	}
	// 4xx类配置错误重试也无济于事，但统一走瞬时失败路径由上层收敛
	return fmt.Errorf("%w: HTTP %d, %s", parser.ErrServiceUnavailable, statusCode, detail)
}

// 服务端返回的配额类错误码
var quotaErrorCodes = map[string]bool{
	"insufficient_quota":         true,
	"quota_exceeded":             true,
	"Throttling":                 true,
	"Throttling.RateQuota":       true,
	"Throttling.AllocationQuota": true,
}

func isQuotaErrorCode(code string) bool {
	return quotaErrorCodes[code]
}

// Stream 实现 model.ToolCallingChatModel 接口，本服务不使用流式回复
func (m *QwenChatModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("QwenChatModel 的 Stream 方法未实现")
}

// WithTools 实现 model.ToolCallingChatModel 接口，分析流程不绑定工具
func (m *QwenChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

var _ model.ToolCallingChatModel = (*QwenChatModel)(nil)
