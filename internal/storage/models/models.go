package models

import (
	"time"

	"gorm.io/datatypes"
)

// Job 岗位信息表
type Job struct {
	JobID              string         `gorm:"type:char(36);primaryKey"`
	JobTitle           string         `gorm:"type:varchar(255);not null"`
	JobDescriptionText string         `gorm:"type:text;not null"`
	MustHaveSkillsJSON datatypes.JSON `gorm:"type:json"`
	FocusAreasJSON     datatypes.JSON `gorm:"type:json"`
	Status             string         `gorm:"type:varchar(50);default:'ACTIVE';index:idx_jobs_status"`
	CreatedByUserID    string         `gorm:"type:char(36)"`
	CreatedAt          time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt          time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (Job) TableName() string {
	return "jobs"
}

// ResumeDocument 简历文档主表，一份上传文件绑定一个岗位
// ProcessingStatus 只由分析编排器推进: UPLOADED -> EXTRACTING -> PROCESSING -> COMPLETED/ERROR
type ResumeDocument struct {
	DocumentUUID     string  `gorm:"type:char(36);primaryKey"`
	OwnerUserID      string  `gorm:"type:char(36);not null;index:idx_rd_owner_user_id"`
	JobID            *string `gorm:"type:char(36);index:idx_rd_job_id"`
	OriginalFilename string  `gorm:"type:varchar(255)"`
	MediaType        string  `gorm:"type:varchar(100)"`
	// 对象存储路径: 原始文件与提取文本分桶存放
	OriginalFilePathOSS  string `gorm:"type:varchar(1024)"`
	ExtractedTextPathOSS string `gorm:"type:varchar(1024)"`
	RawFileMD5           string `gorm:"type:char(32);index:idx_rd_raw_file_md5"`
	ProcessingStatus     string `gorm:"type:varchar(50);default:'UPLOADED';index:idx_rd_processing_status"`
	// ErrorDetails 仅在ERROR状态下非空，存放面向HR的短诊断
	ErrorDetails string `gorm:"type:varchar(512)"`
	// Score 仅在COMPLETED状态下非空
	Score        *int           `gorm:"type:int;index:idx_rd_job_id_score,priority:2"`
	AnalysisJSON datatypes.JSON `gorm:"type:json"`
	AnalyzerVer  string         `gorm:"type:varchar(50)"`
	CreatedAt    time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt    time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`

	Job *Job `gorm:"foreignKey:JobID;references:JobID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
}

func (ResumeDocument) TableName() string {
	return "resume_documents"
}
