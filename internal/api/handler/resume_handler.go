package handler

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"resume-analyzer-go/internal/config"
	"resume-analyzer-go/internal/constants"
	"resume-analyzer-go/internal/logger"
	"resume-analyzer-go/internal/processor"
	"resume-analyzer-go/internal/storage"
	"resume-analyzer-go/internal/storage/models"
	"resume-analyzer-go/internal/types"
	"resume-analyzer-go/internal/validator"
)

// ResumeHandler 简历处理器，协调上传入库与分析消费链路
type ResumeHandler struct {
	cfg          *config.Config
	storage      *storage.Storage
	orchestrator *processor.AnalysisOrchestrator
	validator    *validator.FileValidator
}

// NewResumeHandler 创建简历处理器
func NewResumeHandler(
	cfg *config.Config,
	storage *storage.Storage,
	orchestrator *processor.AnalysisOrchestrator,
	fileValidator *validator.FileValidator,
) *ResumeHandler {
	return &ResumeHandler{
		cfg:          cfg,
		storage:      storage,
		orchestrator: orchestrator,
		validator:    fileValidator,
	}
}

// ResumeUploadResponse 简历上传响应
type ResumeUploadResponse struct {
	DocumentUUID string `json:"document_uuid"`
	Status       string `json:"status"`
}

// DocumentStatusResponse 文档状态查询响应
type DocumentStatusResponse struct {
	DocumentUUID string `json:"document_uuid"`
	Status       string `json:"status"`
	Score        *int   `json:"score,omitempty"`
	ErrorDetails string `json:"error_details,omitempty"`
}

// HandleResumeUpload 处理简历上传请求
// 校验 -> MD5去重 -> 对象存储 -> 落库UPLOADED -> 投递分析任务，
// 投递失败时回滚去重记录与已上传对象
func (h *ResumeHandler) HandleResumeUpload(ctx context.Context, reader io.Reader, fileSize int64,
	filename string, mediaType string, targetJobID string, ownerUserID string) (*ResumeUploadResponse, error) {

	// 声明大小超限的请求直接拒绝，不缓冲文件内容
	if err := h.validator.CheckDeclaredSize(fileSize); err != nil {
		return nil, err
	}

	fileBytes, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("读取上传文件内容失败: %w", err)
	}

	// 1. 文件安全校验，任何一项未通过都拒绝接收
	if err := h.validator.Validate(validator.Upload{
		Filename:  filename,
		MediaType: mediaType,
		Content:   fileBytes,
	}); err != nil {
		return nil, err
	}

	// 2. 原始文件MD5去重，Lua脚本保证检查与写入原子
	sum := md5.Sum(fileBytes)
	fileMD5Hex := hex.EncodeToString(sum[:])
	exists, err := h.storage.Redis.CheckAndAddRawFileMD5(ctx, fileMD5Hex)
	if err != nil {
		logger.Error().Err(err).Str("md5", fileMD5Hex).Msg("查询文件MD5去重集合失败")
		return nil, fmt.Errorf("检查文件重复性失败: %w", err)
	}
	if exists {
		existingUUID, lookupErr := h.storage.Redis.GetMD5ToDocumentUUID(ctx, fileMD5Hex)
		if lookupErr != nil && !errors.Is(lookupErr, storage.ErrNotFound) {
			logger.Warn().Err(lookupErr).Str("md5", fileMD5Hex).Msg("查询重复文件对应UUID失败")
		}
		logger.Info().Str("md5", fileMD5Hex).Str("filename", filename).Msg("检测到重复文件，跳过处理")
		return &ResumeUploadResponse{
			DocumentUUID: existingUUID,
			Status:       "DUPLICATE_FILE_SKIPPED",
		}, nil
	}

	// 3. UUIDv7保证主键按时间有序
	uuidV7, err := uuid.NewV7()
	if err != nil {
		h.rollbackMD5(ctx, fileMD5Hex)
		return nil, fmt.Errorf("生成UUIDv7失败: %w", err)
	}
	documentUUID := uuidV7.String()

	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = ".pdf"
	}

	// 4. 原始文件入对象存储
	objectPath, err := h.storage.MinIO.UploadResumeFile(ctx, documentUUID, ext, fileBytes, mediaType)
	if err != nil {
		h.rollbackMD5(ctx, fileMD5Hex)
		return nil, fmt.Errorf("上传简历到对象存储失败: %w", err)
	}

	// 5. 落库UPLOADED状态
	doc := &models.ResumeDocument{
		DocumentUUID:        documentUUID,
		OwnerUserID:         ownerUserID,
		OriginalFilename:    filename,
		MediaType:           mediaType,
		OriginalFilePathOSS: objectPath,
		RawFileMD5:          fileMD5Hex,
		ProcessingStatus:    constants.StatusUploaded,
	}
	if targetJobID != "" {
		doc.JobID = &targetJobID
	}
	if err := h.storage.MySQL.CreateResumeDocument(ctx, doc); err != nil {
		h.rollbackMD5(ctx, fileMD5Hex)
		h.rollbackObject(ctx, objectPath)
		return nil, fmt.Errorf("写入简历文档记录失败: %w", err)
	}

	// MD5到UUID的映射供重复上传时回查，失败不阻断
	if err := h.storage.Redis.SetMD5ToDocumentUUID(ctx, fileMD5Hex, documentUUID); err != nil {
		logger.Warn().Err(err).Str("md5", fileMD5Hex).Msg("记录MD5到UUID映射失败")
	}

	// 6. 投递分析任务
	message := storage.AnalysisTaskMessage{
		DocumentUUID:     documentUUID,
		SubmittedAt:      time.Now().UTC(),
		TargetJobID:      targetJobID,
		OriginalFilename: filename,
		OriginalFilePath: objectPath,
		RawFileMD5:       fileMD5Hex,
	}
	err = h.storage.RabbitMQ.PublishJSON(
		ctx,
		h.cfg.RabbitMQ.AnalysisExchange,
		h.cfg.RabbitMQ.AnalysisRoutingKey,
		message,
		true,
	)
	if err != nil {
		h.rollbackMD5(ctx, fileMD5Hex)
		h.rollbackObject(ctx, objectPath)
		return nil, fmt.Errorf("投递分析任务失败: %w", err)
	}

	return &ResumeUploadResponse{
		DocumentUUID: documentUUID,
		Status:       "SUBMITTED_FOR_ANALYSIS",
	}, nil
}

func (h *ResumeHandler) rollbackMD5(ctx context.Context, md5Hex string) {
	if err := h.storage.Redis.RemoveRawFileMD5(ctx, md5Hex); err != nil {
		logger.Warn().Err(err).Str("md5", md5Hex).Msg("回滚MD5去重记录失败")
	}
}

func (h *ResumeHandler) rollbackObject(ctx context.Context, objectPath string) {
	if err := h.storage.MinIO.DeleteResumeFile(ctx, objectPath); err != nil {
		logger.Warn().Err(err).Str("object_path", objectPath).Msg("回滚已上传对象失败")
	}
}

// GetDocumentStatus 查询文档处理状态
func (h *ResumeHandler) GetDocumentStatus(ctx context.Context, documentUUID string) (*DocumentStatusResponse, error) {
	doc, err := h.storage.MySQL.GetResumeDocument(ctx, documentUUID)
	if err != nil {
		return nil, err
	}

	resp := &DocumentStatusResponse{
		DocumentUUID: doc.DocumentUUID,
		Status:       doc.ProcessingStatus,
	}
	switch doc.ProcessingStatus {
	case constants.StatusCompleted:
		resp.Score = doc.Score
	case constants.StatusError:
		resp.ErrorDetails = doc.ErrorDetails
	}
	return resp, nil
}

// GetJobCandidates 查询岗位下的候选人排名
func (h *ResumeHandler) GetJobCandidates(ctx context.Context, jobID string) ([]types.RankedCandidate, error) {
	if _, err := h.storage.MySQL.GetJobByID(ctx, jobID); err != nil {
		return nil, err
	}
	return h.orchestrator.RankJobCandidates(ctx, jobID)
}

// StartAnalysisConsumer 启动分析任务消费者
// ConsumerWorkers控制并行消费者数量，每个消费者独占一条channel
func (h *ResumeHandler) StartAnalysisConsumer(ctx context.Context) error {
	mq := h.storage.RabbitMQ
	cfg := h.cfg.RabbitMQ

	if err := mq.EnsureExchange(cfg.AnalysisExchange, "direct", true); err != nil {
		return fmt.Errorf("确保分析交换机存在失败: %w", err)
	}
	if err := mq.EnsureExchange(cfg.CompletedExchange, "topic", true); err != nil {
		return fmt.Errorf("确保完成事件交换机存在失败: %w", err)
	}
	if err := mq.EnsureQueue(cfg.AnalysisQueue, true); err != nil {
		return fmt.Errorf("确保分析队列存在失败: %w", err)
	}
	if err := mq.BindQueue(cfg.AnalysisQueue, cfg.AnalysisExchange, cfg.AnalysisRoutingKey); err != nil {
		return fmt.Errorf("绑定分析队列失败: %w", err)
	}

	// 消费者上下文显式携带全局记录器，编排器内的日志不会被静默丢弃
	consumerCtx := logger.WithContext(ctx)

	workers := cfg.ConsumerWorkers
	if workers < 1 {
		workers = 1
	}
	prefetch := cfg.PrefetchCount
	if prefetch < 1 {
		prefetch = 1
	}

	for i := 0; i < workers; i++ {
		_, err := mq.StartConsumer(cfg.AnalysisQueue, prefetch, func(data []byte) bool {
			var message storage.AnalysisTaskMessage
			if err := json.Unmarshal(data, &message); err != nil {
				logger.Error().Err(err).Msg("解析分析任务消息失败，丢弃")
				return true
			}
			if message.DocumentUUID == "" {
				logger.Error().Msg("分析任务消息缺少document_uuid，丢弃")
				return true
			}

			if err := h.orchestrator.Analyze(consumerCtx, &message); err != nil {
				logger.Error().
					Err(err).
					Str("document_uuid", message.DocumentUUID).
					Msg("分析任务瞬时失败，重新入队")
				return false
			}
			return true
		})
		if err != nil {
			return fmt.Errorf("启动分析消费者失败: %w", err)
		}
	}

	logger.Info().
		Str("queue", cfg.AnalysisQueue).
		Int("workers", workers).
		Int("prefetch", prefetch).
		Msg("分析任务消费者就绪")
	return nil
}
