package constants

import "time"

// ProcessingStatus 简历文档处理状态机
// UPLOADED -> EXTRACTING -> PROCESSING -> COMPLETED / ERROR
const (
	StatusUploaded   = "UPLOADED"
	StatusExtracting = "EXTRACTING"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusError      = "ERROR"
)

// 分析失败时写入文档记录的固定诊断文案
// 面向HR展示，保持英文且不携带任何内部细节
const (
	DiagQuotaExhausted     = "Analysis failed: provider quota exhausted"
	DiagMalformedReply     = "Analysis failed: model returned unusable output"
	DiagServiceUnavailable = "Analysis failed: model service unavailable"
	DiagExtractionFailed   = "Analysis failed: could not extract text from document"
	DiagJobMissing         = "Analysis failed: job requirements not found"
	DiagPersistenceFailed  = "Analysis failed: could not persist result"
)

// 文件校验边界
const (
	MinResumeFileSize = 1 * 1024        // 1 KiB，低于此值视为空壳文件
	MaxResumeFileSize = 5 * 1024 * 1024 // 5 MiB
)

// 评分边界，LLM回复中fitScore必须落在该闭区间内
const (
	MinFitScore = 1
	MaxFitScore = 10
)

// StandoutFraction 排名读取路径中标记为突出候选的比例
const StandoutFraction = 0.2

const (
	// JobCacheDuration 岗位要求缓存时长
	JobCacheDuration = 24 * time.Hour

	// DefaultAnalyzerVer 写入分析结果元数据的版本标识
	DefaultAnalyzerVer = "1.0"
)
