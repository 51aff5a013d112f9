package parser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 测试用LLM模型模拟器
type MockAnalysisModel struct {
	// 依次返回的回复内容，用完后重复最后一项
	responses []string
	// 依次返回的错误，nil表示该次调用成功
	errs []error
	// 记录实际调用次数
	CallCount int
}

func (m *MockAnalysisModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	idx := m.CallCount
	m.CallCount++

	if idx < len(m.errs) && m.errs[idx] != nil {
		return nil, m.errs[idx]
	}

	content := ""
	if len(m.responses) > 0 {
		if idx >= len(m.responses) {
			idx = len(m.responses) - 1
		}
		content = m.responses[idx]
	}
	return &schema.Message{Role: "assistant", Content: content}, nil
}

func (m *MockAnalysisModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, nil
}

func (m *MockAnalysisModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

const validReply = `{"skills":["React"],"yearsExperience":"3","education":[],"fitScore":6,"justification":"partial match","warnings":["Missing Node"]}`

func newTestInvoker(m model.ToolCallingChatModel) *AnalysisInvoker {
	// 测试中退避降到毫秒级
	return NewAnalysisInvoker(m,
		WithRetryPolicy(3, 1*time.Millisecond),
		WithLimiter(nil),
	)
}

func TestInvoke_Success(t *testing.T) {
	mock := &MockAnalysisModel{responses: []string{validReply}}
	inv := newTestInvoker(mock)

	result, attempts, err := inv.Invoke(context.Background(), "doc-1", "prompt")
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 6, result.FitScore)
	assert.Equal(t, []string{"React"}, result.Skills)
	assert.Equal(t, "3", result.YearsExperience.Value)
	assert.Contains(t, result.Warnings, "Missing Node")
}

func TestInvoke_FencedReplyWithProse(t *testing.T) {
	// 回复被围栏包裹且前后夹杂文字
	fenced := "Sure, here is the evaluation:\n```json\n" + validReply + "\n```\nLet me know if you need more."
	mock := &MockAnalysisModel{responses: []string{fenced}}
	inv := newTestInvoker(mock)

	result, _, err := inv.Invoke(context.Background(), "doc-1", "prompt")
	require.NoError(t, err)
	assert.Equal(t, 6, result.FitScore)
	assert.Equal(t, "partial match", result.Justification)
}

func TestInvoke_QuotaFailureNotRetried(t *testing.T) {
	mock := &MockAnalysisModel{errs: []error{NewQuotaError("doc-1", "429")}}
	inv := newTestInvoker(mock)

	_, attempts, err := inv.Invoke(context.Background(), "doc-1", "prompt")
	require.Error(t, err)
	// 配额失败立即终止，调用次数恒为1
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, mock.CallCount)
	assert.ErrorIs(t, err, ErrQuotaExhausted)
	assert.NotErrorIs(t, err, ErrServiceUnavailable)
}

func TestInvoke_TransientFailureRetriedThenSucceeds(t *testing.T) {
	mock := &MockAnalysisModel{
		errs:      []error{errors.New("connection reset"), errors.New("connection reset"), nil},
		responses: []string{"", "", validReply},
	}
	inv := newTestInvoker(mock)

	result, attempts, err := inv.Invoke(context.Background(), "doc-1", "prompt")
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 6, result.FitScore)
}

func TestInvoke_ExhaustedAfterRetryCeiling(t *testing.T) {
	mock := &MockAnalysisModel{errs: []error{
		errors.New("boom"), errors.New("boom"), errors.New("boom"), errors.New("boom"), errors.New("boom"),
	}}
	inv := newTestInvoker(mock)

	_, attempts, err := inv.Invoke(context.Background(), "doc-1", "prompt")
	require.Error(t, err)
	// 首次调用 + 3次重试
	assert.Equal(t, 4, attempts)
	assert.ErrorIs(t, err, ErrServiceUnavailable)
}

func TestInvoke_MalformedReplyRetriedAsTransient(t *testing.T) {
	// 前两次回复结构非法，第三次合法
	mock := &MockAnalysisModel{responses: []string{"no json here", `{"fitScore":`, validReply}}
	inv := newTestInvoker(mock)

	result, attempts, err := inv.Invoke(context.Background(), "doc-1", "prompt")
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 6, result.FitScore)
}

func TestInvoke_MalformedReplyExhausts(t *testing.T) {
	mock := &MockAnalysisModel{responses: []string{"still not json"}}
	inv := newTestInvoker(mock)

	_, attempts, err := inv.Invoke(context.Background(), "doc-1", "prompt")
	require.Error(t, err)
	assert.Equal(t, 4, attempts)
	assert.ErrorIs(t, err, ErrMalformedReply)
}

func TestParseAnalysisReply_MandatoryFitScore(t *testing.T) {
	_, err := parseAnalysisReply(`{"skills":["Go"],"justification":"x"}`)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedReply)

	_, err = parseAnalysisReply(`{"fitScore":0}`)
	require.Error(t, err, "fitScore低于下界应被拒绝")

	_, err = parseAnalysisReply(`{"fitScore":11}`)
	require.Error(t, err, "fitScore高于上界应被拒绝")
}

func TestParseAnalysisReply_NoBalancedObject(t *testing.T) {
	for _, raw := range []string{"", "plain text", "{\"fitScore\": 5", "}{"} {
		_, err := parseAnalysisReply(raw)
		require.Error(t, err, "raw %q should fail", raw)
		assert.ErrorIs(t, err, ErrMalformedReply)
	}
}

func TestParseAnalysisReply_BOMAndBracesInStrings(t *testing.T) {
	// BOM前缀 + 字符串里出现花括号不应干扰配平
	raw := "\uFEFF" + `{"skills":["C{"],"fitScore":5,"justification":"uses } a lot","warnings":[]}`
	result, err := parseAnalysisReply(raw)
	require.NoError(t, err)
	assert.Equal(t, 5, result.FitScore)
	assert.Equal(t, []string{"C{"}, result.Skills)
}

func TestParseAnalysisReply_FlexibleYears(t *testing.T) {
	cases := []struct {
		name  string
		raw   string
		value string
		valid bool
	}{
		{"integer", `{"fitScore":5,"yearsExperience":3}`, "3", true},
		{"range", `{"fitScore":5,"yearsExperience":"3-5"}`, "3-5", true},
		{"open_ended", `{"fitScore":5,"yearsExperience":"10+"}`, "10+", true},
		{"null", `{"fitScore":5,"yearsExperience":null}`, "", false},
		{"absent", `{"fitScore":5}`, "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := parseAnalysisReply(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.value, result.YearsExperience.Value)
			assert.Equal(t, tc.valid, result.YearsExperience.Valid)
		})
	}
}
