package outbox

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"resume-analyzer-go/internal/config"
	"resume-analyzer-go/internal/logger"
	"resume-analyzer-go/internal/storage"
	"resume-analyzer-go/internal/storage/models"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultBatchSize    = 10
	defaultMaxAttempts  = 5
)

// MessageRelay 轮询发件箱表并将事件发布到消息代理
type MessageRelay struct {
	db           *gorm.DB
	publisher    *storage.RabbitMQ
	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
	done         chan struct{}
	tracer       trace.Tracer
}

// NewMessageRelay 创建发件箱中继
func NewMessageRelay(db *gorm.DB, publisher *storage.RabbitMQ, cfg *config.OutboxConfig) *MessageRelay {
	relay := &MessageRelay{
		db:           db,
		publisher:    publisher,
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
		maxAttempts:  defaultMaxAttempts,
		done:         make(chan struct{}),
		tracer:       otel.Tracer("resume-analyzer-go/outbox"),
	}
	if cfg != nil {
		relay.pollInterval = config.GetDuration(cfg.PollInterval, defaultPollInterval)
		if cfg.BatchSize > 0 {
			relay.batchSize = cfg.BatchSize
		}
		if cfg.MaxAttempts > 0 {
			relay.maxAttempts = cfg.MaxAttempts
		}
	}
	return relay
}

// Start 启动轮询循环
func (r *MessageRelay) Start() {
	logger.Info().Dur("poll_interval", r.pollInterval).Int("batch_size", r.batchSize).Msg("发件箱中继启动")
	ticker := time.NewTicker(r.pollInterval)

	go func() {
		for {
			select {
			case <-r.done:
				ticker.Stop()
				logger.Info().Msg("发件箱中继已停止")
				return
			case <-ticker.C:
				if err := r.processPendingMessages(context.Background()); err != nil {
					logger.Error().Err(err).Msg("发件箱批处理失败")
				}
			}
		}
	}()
}

// Stop 优雅停止中继
func (r *MessageRelay) Stop() {
	close(r.done)
}

// processPendingMessages 在单个事务中取出并处理一批PENDING事件
func (r *MessageRelay) processPendingMessages(ctx context.Context) error {
	var messages []models.OutboxMessage

	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer tx.Rollback()

	// FOR UPDATE SKIP LOCKED 跳过其他实例正在处理的行，支持水平扩展
	err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ?", "PENDING").
		Order("created_at asc").
		Limit(r.batchSize).
		Find(&messages).Error
	if err != nil {
		return err
	}

	// 空轮询不创建追踪Span
	if len(messages) == 0 {
		return tx.Commit().Error
	}

	ctx, span := r.tracer.Start(ctx, "outbox.ProcessBatch",
		trace.WithAttributes(
			attribute.Int("messaging.batch.message_count", len(messages)),
		),
	)
	defer span.End()

	for _, msg := range messages {
		err := r.publisher.PublishMessage(
			ctx,
			msg.TargetExchange,
			msg.TargetRoutingKey,
			[]byte(msg.Payload),
			true,
		)
		if err != nil {
			logger.Warn().
				Err(err).
				Uint64("message_id", msg.ID).
				Str("aggregate_id", msg.AggregateID).
				Int("retry_count", msg.RetryCount+1).
				Msg("发件箱事件发布失败")
			msg.RetryCount++
			msg.ErrorMessage = err.Error()
			if msg.RetryCount >= r.maxAttempts {
				msg.Status = "FAILED"
			}
		} else {
			msg.Status = "SENT"
			now := time.Now()
			msg.ProcessedAt = &now
			msg.ErrorMessage = ""
		}

		// 更新失败时整个事务回滚，该批消息下次轮询重新拾取
		if err := tx.Save(&msg).Error; err != nil {
			return err
		}
	}

	return tx.Commit().Error
}
