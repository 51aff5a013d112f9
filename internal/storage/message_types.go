package storage

import "time"

// AnalysisTaskMessage 简历分析任务消息，上传成功后投递到分析队列
type AnalysisTaskMessage struct {
	// 与数据库表字段一致的主要字段
	DocumentUUID     string    `json:"document_uuid"`          // 文档UUID，主键
	SubmittedAt      time.Time `json:"submitted_at"`           // 提交时间戳
	TargetJobID      string    `json:"target_job_id"`          // 目标岗位ID
	OriginalFilename string    `json:"original_filename"`      // 原始文件名
	OriginalFilePath string    `json:"original_file_path"`     // MinIO中的对象路径
	RawFileMD5       string    `json:"raw_file_md5,omitempty"` // 原始文件的MD5，用于失败时回滚
}

// AnalysisCompletedEvent 分析完成事件，通过outbox中继发往下游
type AnalysisCompletedEvent struct {
	DocumentUUID string    `json:"document_uuid"`
	TargetJobID  string    `json:"target_job_id"`
	Status       string    `json:"status"` // COMPLETED 或 ERROR
	FitScore     int       `json:"fit_score,omitempty"`
	ErrorDetails string    `json:"error_details,omitempty"`
	CompletedAt  time.Time `json:"completed_at"`
}
