package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"resume-analyzer-go/internal/constants"
	"resume-analyzer-go/internal/logger"
	"resume-analyzer-go/internal/parser"
	"resume-analyzer-go/internal/storage"
	"resume-analyzer-go/internal/storage/models"
	"resume-analyzer-go/internal/tracing"
	"resume-analyzer-go/internal/types"
)

var orchestratorTracer = otel.Tracer("resume-analyzer-go/processor")

// Components 编排器依赖的组件集合
type Components struct {
	Documents DocumentStore
	Files     FileStore
	JobCache  JobCache // 可为nil，nil时每次直连数据库
	Extractor parser.TextExtractor
	Prompts   *parser.PromptBuilder
	Invoker   AnalysisModel
	Scrubber  *parser.PIIScrubber
}

// Settings 编排器运行参数
type Settings struct {
	// 完成事件的投递目标
	CompletedExchange   string
	CompletedRoutingKey string
}

// AnalysisOrchestrator 简历分析编排器
// 驱动状态机 UPLOADED -> EXTRACTING -> PROCESSING -> COMPLETED/ERROR，
// 同一文档同一时刻至多一条在途分析
type AnalysisOrchestrator struct {
	comp Components
	set  Settings
}

// NewAnalysisOrchestrator 创建分析编排器
func NewAnalysisOrchestrator(comp Components, set Settings) (*AnalysisOrchestrator, error) {
	if comp.Documents == nil || comp.Files == nil || comp.Extractor == nil || comp.Invoker == nil {
		return nil, fmt.Errorf("编排器缺少必要组件")
	}
	if comp.Prompts == nil {
		comp.Prompts = parser.NewPromptBuilder()
	}
	if comp.Scrubber == nil {
		comp.Scrubber = parser.NewPIIScrubber()
	}
	return &AnalysisOrchestrator{comp: comp, set: set}, nil
}

// Analyze 执行一次完整的简历分析
// 返回error表示基础设施层面的瞬时失败，调用方应将消息重新入队；
// 业务失败（岗位缺失、提取失败、模型失败）在内部收敛到ERROR状态并返回nil
func (o *AnalysisOrchestrator) Analyze(ctx context.Context, msg *storage.AnalysisTaskMessage) error {
	ctx, span := orchestratorTracer.Start(ctx, "orchestrator.Analyze")
	defer span.End()
	span.SetAttributes(attribute.String("document.uuid", msg.DocumentUUID))

	log := logger.Ctx(ctx).With().Str("document_uuid", msg.DocumentUUID).Logger()

	// 轻量状态预检: 重复投递命中在途或已终结的文档时，
	// 不用读完整记录就能放弃
	status, err := o.comp.Documents.GetDocumentStatus(ctx, msg.DocumentUUID)
	if err != nil {
		if errors.Is(err, storage.ErrDocumentNotFound) {
			// 记录不存在的消息无法通过重试恢复，直接丢弃
			log.Warn().Msg("分析任务指向不存在的文档，丢弃消息")
			return nil
		}
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return fmt.Errorf("读取文档状态失败: %w", err)
	}
	if status != constants.StatusUploaded && status != constants.StatusError {
		log.Info().Str("status", status).Msg("文档已有在途或已终结的分析，跳过")
		return nil
	}

	doc, err := o.comp.Documents.GetResumeDocument(ctx, msg.DocumentUUID)
	if err != nil {
		if errors.Is(err, storage.ErrDocumentNotFound) {
			log.Warn().Msg("分析任务指向不存在的文档，丢弃消息")
			return nil
		}
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return fmt.Errorf("读取文档记录失败: %w", err)
	}

	// 准入: 只有从UPLOADED或ERROR出发才能赢得本次分析，
	// 并发重复投递时RowsAffected=0的一方直接放弃
	admitted, err := o.comp.Documents.TransitionStatus(ctx, msg.DocumentUUID,
		[]string{constants.StatusUploaded, constants.StatusError},
		constants.StatusExtracting, nil)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return fmt.Errorf("状态推进失败: %w", err)
	}
	if !admitted {
		log.Info().Str("status", doc.ProcessingStatus).Msg("文档已有在途或已终结的分析，跳过")
		return nil
	}

	// 岗位要求缺失是不可重试的业务失败
	if doc.JobID == nil || *doc.JobID == "" {
		o.markFailed(ctx, msg, constants.DiagJobMissing)
		log.Warn().Msg("文档未绑定岗位，标记为ERROR")
		return nil
	}
	requirements, err := o.loadJobRequirements(ctx, *doc.JobID)
	if err != nil {
		if errors.Is(err, storage.ErrJobNotFound) {
			o.markFailed(ctx, msg, constants.DiagJobMissing)
			log.Warn().Str("job_id", *doc.JobID).Msg("岗位不存在，标记为ERROR")
			return nil
		}
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		o.revertAdmission(ctx, msg.DocumentUUID)
		return fmt.Errorf("读取岗位要求失败: %w", err)
	}

	// 下载原始文件并提取文本
	content, err := o.comp.Files.GetResumeFile(ctx, doc.OriginalFilePathOSS)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeStorage)
		o.revertAdmission(ctx, msg.DocumentUUID)
		return fmt.Errorf("下载原始简历失败: %w", err)
	}
	text, err := o.comp.Extractor.Extract(content, doc.MediaType)
	if err != nil {
		if errors.Is(err, parser.ErrUnsupportedFormat) || errors.Is(err, parser.ErrExtractionFailed) {
			tracing.RecordError(span, err, tracing.ErrorTypeExtraction)
			o.markFailed(ctx, msg, constants.DiagExtractionFailed)
			log.Warn().Err(err).Msg("文本提取失败，标记为ERROR")
			return nil
		}
		tracing.RecordError(span, err, tracing.ErrorTypeExtraction)
		o.revertAdmission(ctx, msg.DocumentUUID)
		return fmt.Errorf("文本提取异常: %w", err)
	}
	span.SetAttributes(attribute.String("resume.text_preview", tracing.SafeResumeContent(text)))

	// 提取文本落对象存储，失败不阻断分析
	if textPath, upErr := o.comp.Files.UploadExtractedText(ctx, msg.DocumentUUID, text); upErr != nil {
		log.Warn().Err(upErr).Msg("提取文本上传失败，继续分析")
	} else if pathErr := o.comp.Documents.SetExtractedTextPath(ctx, msg.DocumentUUID, textPath); pathErr != nil {
		log.Warn().Err(pathErr).Msg("记录提取文本路径失败")
	}

	ok, err := o.comp.Documents.TransitionStatus(ctx, msg.DocumentUUID,
		[]string{constants.StatusExtracting},
		constants.StatusProcessing,
		map[string]interface{}{"error_details": ""})
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		o.revertAdmission(ctx, msg.DocumentUUID)
		return fmt.Errorf("状态推进失败: %w", err)
	}
	if !ok {
		log.Warn().Msg("文档已离开EXTRACTING状态，放弃本次分析")
		return nil
	}

	prompt := o.comp.Prompts.Build(text, requirements)
	result, attempts, err := o.comp.Invoker.Invoke(ctx, msg.DocumentUUID, prompt)
	if err != nil {
		tracing.RecordLLMError(span, err, attempts)
		diagnostic := classifyInvocationFailure(err)
		o.markFailed(ctx, msg, diagnostic)
		log.Warn().Err(err).Int("attempts", attempts).Str("diagnostic", diagnostic).Msg("模型调用失败，标记为ERROR")
		return nil
	}

	scrubbed := o.comp.Scrubber.Scrub(result)

	event, err := o.buildCompletedEvent(msg, constants.StatusCompleted, scrubbed.FitScore, "")
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeInternal)
		return err
	}
	if err := o.comp.Documents.MarkCompleted(ctx, msg.DocumentUUID, scrubbed.FitScore, scrubbed, event); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		// 结果已就绪但无法落库，尽力收敛到ERROR后让消息重试
		if markErr := o.comp.Documents.MarkError(ctx, msg.DocumentUUID, constants.DiagPersistenceFailed); markErr != nil {
			log.Error().Err(markErr).Msg("持久化失败后标记错误状态也失败")
		}
		return fmt.Errorf("持久化分析结果失败: %w", err)
	}

	log.Info().
		Int("fit_score", scrubbed.FitScore).
		Int("attempts", attempts).
		Int("warnings", len(scrubbed.Warnings)).
		Msg("简历分析完成")
	return nil
}

// loadJobRequirements 旁路缓存读取岗位要求
func (o *AnalysisOrchestrator) loadJobRequirements(ctx context.Context, jobID string) (*types.JobRequirements, error) {
	if o.comp.JobCache != nil {
		if req, err := o.comp.JobCache.GetCachedJobRequirements(ctx, jobID); err == nil {
			return req, nil
		} else if !errors.Is(err, storage.ErrNotFound) {
			logger.Ctx(ctx).Warn().Err(err).Str("job_id", jobID).Msg("读取岗位要求缓存失败，回退数据库")
		}
	}

	req, err := o.comp.Documents.GetJobRequirements(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if o.comp.JobCache != nil {
		if err := o.comp.JobCache.CacheJobRequirements(ctx, req); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("job_id", jobID).Msg("回填岗位要求缓存失败")
		}
	}
	return req, nil
}

// revertAdmission 基础设施瞬时失败时把文档退回UPLOADED，
// 重投递的消息可以重新赢得准入，文档不会滞留在EXTRACTING
func (o *AnalysisOrchestrator) revertAdmission(ctx context.Context, documentUUID string) {
	ok, err := o.comp.Documents.TransitionStatus(ctx, documentUUID,
		[]string{constants.StatusExtracting},
		constants.StatusUploaded, nil)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("document_uuid", documentUUID).Msg("回退准入状态失败")
		return
	}
	if !ok {
		logger.Ctx(ctx).Warn().Str("document_uuid", documentUUID).Msg("文档已离开EXTRACTING状态，无需回退")
	}
}

// markFailed 收敛到ERROR并尽力投递错误事件，二者失败都只记日志
func (o *AnalysisOrchestrator) markFailed(ctx context.Context, msg *storage.AnalysisTaskMessage, diagnostic string) {
	if err := o.comp.Documents.MarkError(ctx, msg.DocumentUUID, diagnostic); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("document_uuid", msg.DocumentUUID).Msg("标记错误状态失败")
		return
	}

	event, err := o.buildCompletedEvent(msg, constants.StatusError, 0, diagnostic)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("构造错误事件失败")
		return
	}
	if err := o.comp.Documents.CreateOutboxMessage(nil, event); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("document_uuid", msg.DocumentUUID).Msg("写入错误事件失败")
	}
}

// buildCompletedEvent 构造分析终结事件的发件箱条目
func (o *AnalysisOrchestrator) buildCompletedEvent(msg *storage.AnalysisTaskMessage, status string, fitScore int, errorDetails string) (*models.OutboxMessage, error) {
	payload, err := json.Marshal(storage.AnalysisCompletedEvent{
		DocumentUUID: msg.DocumentUUID,
		TargetJobID:  msg.TargetJobID,
		Status:       status,
		FitScore:     fitScore,
		ErrorDetails: errorDetails,
		CompletedAt:  time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("序列化分析事件失败: %w", err)
	}

	return &models.OutboxMessage{
		AggregateID:      msg.DocumentUUID,
		EventType:        "resume.analysis." + status,
		Payload:          string(payload),
		TargetExchange:   o.set.CompletedExchange,
		TargetRoutingKey: o.set.CompletedRoutingKey,
	}, nil
}

// classifyInvocationFailure 将模型调用失败映射为面向HR的固定诊断文案
func classifyInvocationFailure(err error) string {
	switch {
	case errors.Is(err, parser.ErrQuotaExhausted):
		return constants.DiagQuotaExhausted
	case errors.Is(err, parser.ErrMalformedReply):
		return constants.DiagMalformedReply
	default:
		return constants.DiagServiceUnavailable
	}
}
