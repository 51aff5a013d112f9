package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"resume-analyzer-go/internal/config"
	"resume-analyzer-go/internal/constants"
	"resume-analyzer-go/internal/tracing"
	"resume-analyzer-go/internal/types"
)

// ErrNotFound key不存在，包装redis.Nil便于上层判断
var ErrNotFound = redis.Nil

// 为Redis操作定义专用tracer
var redisTracer = otel.Tracer("resume-analyzer-go/storage/redis")

// Redis 封装Redis客户端
type Redis struct {
	Client *redis.Client
	config *config.RedisConfig
}

// NewRedisAdapter 创建Redis客户端连接
func NewRedisAdapter(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis配置不能为空")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis地址不能为空")
	}

	opt := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,

		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,
	}

	client := redis.NewClient(opt)

	// 添加OpenTelemetry钩子，记录所有Redis操作
	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("为Redis启用OpenTelemetry失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("连接Redis %s 失败: %w", cfg.Address, err)
	}

	return &Redis{Client: client, config: cfg}, nil
}

// Close 关闭Redis连接
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// Ping 检查Redis连接
func (r *Redis) Ping(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}
	return r.Client.Ping(ctx).Err()
}

// GetMD5ExpireDuration 返回配置的MD5记录过期时间
func (r *Redis) GetMD5ExpireDuration() time.Duration {
	days := r.config.MD5RecordExpireDays
	if days <= 0 {
		days = 365
	}
	return time.Duration(days) * 24 * time.Hour
}

// CheckAndAddRawFileMD5 原子地检查并登记原始文件MD5，返回是否已存在
// 上传去重的核心: 两个相同文件并发上传时只有一方看到exists=false
func (r *Redis) CheckAndAddRawFileMD5(ctx context.Context, md5Hex string) (exists bool, err error) {
	ctx, span := redisTracer.Start(ctx, "Redis.CheckAndAddRawFileMD5",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		semconv.DBSystemRedis,
		attribute.String("net.peer.name", r.config.Address),
		attribute.String("db.operation", "EVAL"),
		attribute.String("db.redis.key", tracing.SafeRedisKey(constants.KeyFileMD5Set)),
	)

	if r.Client == nil {
		err = fmt.Errorf("redis客户端未初始化")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}

	// Lua脚本保证检查与登记的原子性
	script := `
		local exists = redis.call('SISMEMBER', KEYS[1], ARGV[1])
		redis.call('SADD', KEYS[1], ARGV[1])
		redis.call('EXPIRE', KEYS[1], ARGV[2])
		return exists
	`
	expiry := int64(r.GetMD5ExpireDuration().Seconds())

	res, err := r.Client.Eval(ctx, script, []string{constants.KeyFileMD5Set}, md5Hex, expiry).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("执行原子检查和添加操作失败: %w", err)
	}

	existsVal, ok := res.(int64)
	if !ok {
		err := fmt.Errorf("意外的Redis返回类型: %T", res)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}

	exists = existsVal == 1
	span.SetAttributes(attribute.Bool("already_exists", exists))
	span.SetStatus(codes.Ok, "")
	return exists, nil
}

// RemoveRawFileMD5 移除已登记的文件MD5，上传链路失败时回滚去重记录
func (r *Redis) RemoveRawFileMD5(ctx context.Context, md5Hex string) error {
	if r.Client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}
	return r.Client.SRem(ctx, constants.KeyFileMD5Set, md5Hex).Err()
}

// SetMD5ToDocumentUUID 记录MD5到文档UUID的映射，重复上传时返回已有文档
func (r *Redis) SetMD5ToDocumentUUID(ctx context.Context, md5Hex string, documentUUID string) error {
	if r.Client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}
	key := fmt.Sprintf(constants.KeyFileMD5ToDocumentUUID, md5Hex)
	return r.Client.Set(ctx, key, documentUUID, r.GetMD5ExpireDuration()).Err()
}

// GetMD5ToDocumentUUID 查询MD5对应的文档UUID，未命中返回ErrNotFound
func (r *Redis) GetMD5ToDocumentUUID(ctx context.Context, md5Hex string) (string, error) {
	if r.Client == nil {
		return "", fmt.Errorf("redis客户端未初始化")
	}
	key := fmt.Sprintf(constants.KeyFileMD5ToDocumentUUID, md5Hex)
	return r.Client.Get(ctx, key).Result()
}

// CacheJobRequirements 缓存岗位要求，分析路径的热点读取
func (r *Redis) CacheJobRequirements(ctx context.Context, req *types.JobRequirements) error {
	if r.Client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("序列化岗位要求失败: %w", err)
	}
	key := fmt.Sprintf(constants.KeyJobRequirements, req.JobID)
	return r.Client.Set(ctx, key, payload, constants.JobCacheDuration).Err()
}

// GetCachedJobRequirements 读取岗位要求缓存，未命中返回ErrNotFound
func (r *Redis) GetCachedJobRequirements(ctx context.Context, jobID string) (*types.JobRequirements, error) {
	if r.Client == nil {
		return nil, fmt.Errorf("redis客户端未初始化")
	}
	key := fmt.Sprintf(constants.KeyJobRequirements, jobID)
	payload, err := r.Client.Get(ctx, key).Result()
	if err != nil {
		return nil, err
	}

	var req types.JobRequirements
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return nil, fmt.Errorf("解析岗位要求缓存失败: %w", err)
	}
	return &req, nil
}
