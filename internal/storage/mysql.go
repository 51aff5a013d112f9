package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"resume-analyzer-go/internal/config"
	"resume-analyzer-go/internal/constants"
	"resume-analyzer-go/internal/logger"
	"resume-analyzer-go/internal/storage/models"
	"resume-analyzer-go/internal/tracing"
	"resume-analyzer-go/internal/types"
)

var mysqlTracer = otel.Tracer("resume-analyzer-go/storage/mysql")

// ErrDocumentNotFound 文档不存在
var ErrDocumentNotFound = errors.New("简历文档不存在")

// ErrJobNotFound 岗位不存在
var ErrJobNotFound = errors.New("岗位不存在")

type gormSpanKey struct{}

// GormTracingPlugin 是一个GORM插件，用于向OpenTelemetry中添加数据库操作的追踪点
type GormTracingPlugin struct {
	tracer   trace.Tracer
	dbName   string
	dbSystem string
}

// Name 返回插件名称
func (p *GormTracingPlugin) Name() string {
	return "GormOpenTelemetryPlugin"
}

// Initialize 注册GORM回调以启用追踪
func (p *GormTracingPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()

	if err := cb.Create().Before("gorm:create").Register("otel:before_create", p.before("CREATE")); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Register("otel:after_create", p.after()); err != nil {
		return err
	}

	if err := cb.Query().Before("gorm:query").Register("otel:before_query", p.before("SELECT")); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register("otel:after_query", p.after()); err != nil {
		return err
	}

	if err := cb.Update().Before("gorm:update").Register("otel:before_update", p.before("UPDATE")); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("otel:after_update", p.after()); err != nil {
		return err
	}

	if err := cb.Delete().Before("gorm:delete").Register("otel:before_delete", p.before("DELETE")); err != nil {
		return err
	}
	if err := cb.Delete().After("gorm:delete").Register("otel:after_delete", p.after()); err != nil {
		return err
	}

	if err := cb.Raw().Before("gorm:raw").Register("otel:before_raw", p.before("RAW")); err != nil {
		return err
	}
	return cb.Raw().After("gorm:raw").Register("otel:after_raw", p.after())
}

// before 返回在GORM操作之前执行的回调函数
func (p *GormTracingPlugin) before(operation string) func(db *gorm.DB) {
	return func(db *gorm.DB) {
		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}

		tableName := db.Statement.Table
		if tableName == "" {
			tableName = "unknown"
		}

		spanName := fmt.Sprintf("%s %s", operation, tableName)
		newCtx, span := p.tracer.Start(ctx, spanName,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				semconv.DBSystemMySQL,
				attribute.String("db.name", p.dbName),
				attribute.String("db.operation", operation),
				attribute.String("db.sql.table", tableName),
			),
		)
		db.Statement.Context = context.WithValue(newCtx, gormSpanKey{}, span)
	}
}

// after 返回在GORM操作之后执行的回调函数
func (p *GormTracingPlugin) after() func(db *gorm.DB) {
	return func(db *gorm.DB) {
		span, ok := db.Statement.Context.Value(gormSpanKey{}).(trace.Span)
		if !ok {
			return
		}
		defer span.End()

		span.SetAttributes(
			attribute.Int64("db.rows_affected", db.Statement.RowsAffected),
			attribute.String("db.statement", tracing.SafeSQL(db.Statement.SQL.String())),
		)

		if db.Error != nil {
			if errors.Is(db.Error, gorm.ErrRecordNotFound) {
				// 未命中是业务正常情况，不标记为错误
				span.SetAttributes(attribute.String("error.type", "record_not_found"))
				span.SetStatus(codes.Ok, "record not found")
			} else {
				span.SetAttributes(
					attribute.String("error.type", "database_error"),
					attribute.String("error.message", db.Error.Error()),
				)
				span.RecordError(db.Error)
				span.SetStatus(codes.Error, db.Error.Error())
			}
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
}

// NewGormTracingPlugin 创建一个新的GORM追踪插件
func NewGormTracingPlugin(dbName string) *GormTracingPlugin {
	return &GormTracingPlugin{
		tracer:   mysqlTracer,
		dbName:   dbName,
		dbSystem: "mysql",
	}
}

// MySQL 提供关系数据库功能
type MySQL struct {
	db  *gorm.DB
	cfg *config.MySQLConfig
}

// NewMySQL 创建MySQL客户端并自动迁移表结构
func NewMySQL(cfg *config.MySQLConfig) (*MySQL, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MySQL配置不能为空")
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=%ds&readTimeout=%ds&writeTimeout=%ds",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		cfg.ConnectTimeoutSeconds, cfg.ReadTimeoutSeconds, cfg.WriteTimeoutSeconds)

	var logLevel gormlogger.LogLevel
	switch cfg.LogLevel {
	case 1:
		logLevel = gormlogger.Silent
	case 2:
		logLevel = gormlogger.Error
	case 3:
		logLevel = gormlogger.Warn
	default:
		logLevel = gormlogger.Info
	}

	gormConfig := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormlogger.Default.LogMode(logLevel),
		PrepareStmt:                              true,
		NowFunc: func() time.Time {
			return time.Now().Local()
		},
	}

	db, err := gorm.Open(mysql.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute)

	if err := db.Use(NewGormTracingPlugin(cfg.Database)); err != nil {
		return nil, fmt.Errorf("注册追踪插件失败: %w", err)
	}

	m := &MySQL{db: db, cfg: cfg}
	if err := m.autoMigrateSchema(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("自动迁移数据库结构失败: %w", err)
	}

	logger.Info().Str("database", cfg.Database).Msg("成功连接到MySQL并完成结构迁移")
	return m, nil
}

func (m *MySQL) autoMigrateSchema() error {
	return m.db.AutoMigrate(
		&models.Job{},
		&models.ResumeDocument{},
		&models.OutboxMessage{},
	)
}

// DB 返回GORM数据库连接实例
func (m *MySQL) DB() *gorm.DB {
	return m.db
}

// Close 关闭数据库连接
func (m *MySQL) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateResumeDocument 创建处于UPLOADED状态的文档记录
func (m *MySQL) CreateResumeDocument(ctx context.Context, doc *models.ResumeDocument) error {
	if doc.ProcessingStatus == "" {
		doc.ProcessingStatus = constants.StatusUploaded
	}
	return m.db.WithContext(ctx).Create(doc).Error
}

// GetResumeDocument 按UUID读取文档
func (m *MySQL) GetResumeDocument(ctx context.Context, documentUUID string) (*models.ResumeDocument, error) {
	var doc models.ResumeDocument
	err := m.db.WithContext(ctx).Where("document_uuid = ?", documentUUID).First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	return &doc, nil
}

// GetDocumentStatus 读取当前处理状态，编排器的廉价预检
func (m *MySQL) GetDocumentStatus(ctx context.Context, documentUUID string) (string, error) {
	var status string
	err := m.db.WithContext(ctx).
		Model(&models.ResumeDocument{}).
		Where("document_uuid = ?", documentUUID).
		Pluck("processing_status", &status).Error
	if err != nil {
		return "", err
	}
	if status == "" {
		return "", ErrDocumentNotFound
	}
	return status, nil
}

// TransitionStatus 状态的原子条件推进
// 仅当当前状态属于expected集合时更新成功，RowsAffected=0表示前置条件不满足，
// 并发触发同一文档时只有一方能赢得推进
func (m *MySQL) TransitionStatus(ctx context.Context, documentUUID string, expected []string, next string, extraUpdates map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{
		"processing_status": next,
	}
	for k, v := range extraUpdates {
		updates[k] = v
	}

	result := m.db.WithContext(ctx).
		Model(&models.ResumeDocument{}).
		Where("document_uuid = ? AND processing_status IN ?", documentUUID, expected).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkCompleted 持久化成功结果: 分析JSON + 分数 + COMPLETED，错误详情清空
// event非空时与状态推进同事务写入发件箱，保证完成事件不丢失
func (m *MySQL) MarkCompleted(ctx context.Context, documentUUID string, score int, analysis *types.AnalysisResult, event *models.OutboxMessage) error {
	payload, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("序列化分析结果失败: %w", err)
	}

	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.ResumeDocument{}).
			Where("document_uuid = ? AND processing_status = ?", documentUUID, constants.StatusProcessing).
			Updates(map[string]interface{}{
				"processing_status": constants.StatusCompleted,
				"score":             score,
				"analysis_json":     datatypes.JSON(payload),
				"error_details":     "",
				"analyzer_ver":      constants.DefaultAnalyzerVer,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("文档 %s 不在PROCESSING状态，无法标记完成", documentUUID)
		}
		if event != nil {
			return m.CreateOutboxMessage(tx, event)
		}
		return nil
	})
}

// MarkError 从任意非终结状态收敛到ERROR，写入短诊断
func (m *MySQL) MarkError(ctx context.Context, documentUUID string, diagnostic string) error {
	ok, err := m.TransitionStatus(ctx, documentUUID,
		[]string{constants.StatusUploaded, constants.StatusExtracting, constants.StatusProcessing},
		constants.StatusError,
		map[string]interface{}{
			"error_details": diagnostic,
		})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("文档 %s 已处于终结状态，无法标记错误", documentUUID)
	}
	return nil
}

// SetExtractedTextPath 记录提取文本在对象存储中的路径
func (m *MySQL) SetExtractedTextPath(ctx context.Context, documentUUID string, path string) error {
	return m.db.WithContext(ctx).
		Model(&models.ResumeDocument{}).
		Where("document_uuid = ?", documentUUID).
		Update("extracted_text_path_oss", path).Error
}

// GetJobByID 通过JobID获取岗位记录
func (m *MySQL) GetJobByID(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	err := m.db.WithContext(ctx).Where("job_id = ?", jobID).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

// GetJobRequirements 读取岗位要求并解包JSON字段
func (m *MySQL) GetJobRequirements(ctx context.Context, jobID string) (*types.JobRequirements, error) {
	job, err := m.GetJobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	req := &types.JobRequirements{
		JobID:       job.JobID,
		Description: job.JobDescriptionText,
	}
	if len(job.MustHaveSkillsJSON) > 0 {
		if err := json.Unmarshal(job.MustHaveSkillsJSON, &req.MustHaveSkills); err != nil {
			return nil, fmt.Errorf("解析岗位必备技能失败: %w", err)
		}
	}
	if len(job.FocusAreasJSON) > 0 {
		if err := json.Unmarshal(job.FocusAreasJSON, &req.FocusAreas); err != nil {
			return nil, fmt.Errorf("解析岗位关注领域失败: %w", err)
		}
	}
	return req, nil
}

// GetCompletedDocumentsByJob 读取指定岗位的全部COMPLETED文档，分数倒序
func (m *MySQL) GetCompletedDocumentsByJob(ctx context.Context, jobID string) ([]models.ResumeDocument, error) {
	var docs []models.ResumeDocument
	err := m.db.WithContext(ctx).
		Where("job_id = ? AND processing_status = ?", jobID, constants.StatusCompleted).
		Order("score DESC, document_uuid ASC").
		Find(&docs).Error
	return docs, err
}

// CreateOutboxMessage 在给定事务中写入发件箱条目
func (m *MySQL) CreateOutboxMessage(tx *gorm.DB, msg *models.OutboxMessage) error {
	if tx == nil {
		tx = m.db
	}
	return tx.Create(msg).Error
}
