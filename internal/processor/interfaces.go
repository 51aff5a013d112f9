package processor

import (
	"context"

	"gorm.io/gorm"

	"resume-analyzer-go/internal/storage/models"
	"resume-analyzer-go/internal/types"
)

//
// 编排器依赖的窄接口，便于在测试中替换为内存实现
//

// DocumentStore 简历文档与岗位的持久化访问
type DocumentStore interface {
	// GetDocumentStatus 只读取文档当前状态
	GetDocumentStatus(ctx context.Context, documentUUID string) (string, error)

	// GetResumeDocument 按UUID读取文档记录
	GetResumeDocument(ctx context.Context, documentUUID string) (*models.ResumeDocument, error)

	// TransitionStatus 状态的原子条件推进，返回是否赢得推进
	TransitionStatus(ctx context.Context, documentUUID string, expected []string, next string, extraUpdates map[string]interface{}) (bool, error)

	// MarkCompleted 写入成功结果，event非空时同事务写入发件箱
	MarkCompleted(ctx context.Context, documentUUID string, score int, analysis *types.AnalysisResult, event *models.OutboxMessage) error

	// MarkError 收敛到ERROR状态并写入短诊断
	MarkError(ctx context.Context, documentUUID string, diagnostic string) error

	// SetExtractedTextPath 记录提取文本对象路径
	SetExtractedTextPath(ctx context.Context, documentUUID string, path string) error

	// GetJobRequirements 读取岗位要求
	GetJobRequirements(ctx context.Context, jobID string) (*types.JobRequirements, error)

	// GetCompletedDocumentsByJob 读取岗位下全部COMPLETED文档，分数倒序
	GetCompletedDocumentsByJob(ctx context.Context, jobID string) ([]models.ResumeDocument, error)

	// CreateOutboxMessage 写入发件箱条目，tx为nil时使用默认连接
	CreateOutboxMessage(tx *gorm.DB, msg *models.OutboxMessage) error
}

// FileStore 原始简历与提取文本的对象存储访问
type FileStore interface {
	GetResumeFile(ctx context.Context, objectPath string) ([]byte, error)
	UploadExtractedText(ctx context.Context, documentUUID string, text string) (string, error)
}

// JobCache 岗位要求的旁路缓存，允许为nil
type JobCache interface {
	GetCachedJobRequirements(ctx context.Context, jobID string) (*types.JobRequirements, error)
	CacheJobRequirements(ctx context.Context, req *types.JobRequirements) error
}

// AnalysisModel 带重试策略的LLM调用入口，返回结果与实际调用次数
type AnalysisModel interface {
	Invoke(ctx context.Context, documentUUID string, prompt string) (*types.AnalysisResult, int, error)
}
