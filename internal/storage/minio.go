package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"resume-analyzer-go/internal/config"
	"resume-analyzer-go/internal/logger"
)

// ObjectStorage 对象存储接口
type ObjectStorage interface {
	// UploadResumeFile 上传原始简历文件，返回对象路径
	UploadResumeFile(ctx context.Context, documentUUID string, fileExt string, content []byte, contentType string) (string, error)

	// UploadExtractedText 上传提取后的纯文本，返回对象路径
	UploadExtractedText(ctx context.Context, documentUUID string, text string) (string, error)

	// GetResumeFile 按对象路径下载原始简历
	GetResumeFile(ctx context.Context, objectPath string) ([]byte, error)

	// GetExtractedText 按对象路径下载提取文本
	GetExtractedText(ctx context.Context, objectPath string) (string, error)

	// DeleteResumeFile 删除原始简历，上传链路失败时回滚
	DeleteResumeFile(ctx context.Context, objectPath string) error
}

// 确保MinIO实现了ObjectStorage接口
var _ ObjectStorage = (*MinIO)(nil)

// MinIO 提供对象存储功能，原始文件与提取文本分桶存放
type MinIO struct {
	client          *minio.Client
	cfg             *config.MinIOConfig
	originalsBucket string
	extractedBucket string
}

// NewMinIO 创建MinIO客户端并确保存储桶存在
func NewMinIO(cfg *config.MinIOConfig) (*MinIO, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MinIO配置不能为空")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	originalsBucket := cfg.OriginalsBucket
	if originalsBucket == "" {
		originalsBucket = "resume-originals"
	}
	extractedBucket := cfg.ExtractedTextBucket
	if extractedBucket == "" {
		extractedBucket = "resume-extracted-text"
	}

	m := &MinIO{
		client:          client,
		cfg:             cfg,
		originalsBucket: originalsBucket,
		extractedBucket: extractedBucket,
	}

	for _, bucket := range []string{originalsBucket, extractedBucket} {
		if err := m.ensureBucketExists(bucket, cfg.Location); err != nil {
			return nil, fmt.Errorf("确保存储桶 %s 存在失败: %w", bucket, err)
		}
	}

	logger.Info().
		Str("endpoint", cfg.Endpoint).
		Str("originals_bucket", originalsBucket).
		Str("extracted_bucket", extractedBucket).
		Msg("MinIO客户端初始化完成")
	return m, nil
}

func (m *MinIO) ensureBucketExists(bucketName, location string) error {
	ctx := context.Background()
	exists, err := m.client.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("检查存储桶是否存在失败: %w", err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{Region: location}); err != nil {
		return fmt.Errorf("创建存储桶失败: %w", err)
	}
	return nil
}

// UploadResumeFile 上传原始简历，对象路径按 {uuid}{ext} 组织
func (m *MinIO) UploadResumeFile(ctx context.Context, documentUUID string, fileExt string, content []byte, contentType string) (string, error) {
	if !strings.HasPrefix(fileExt, ".") {
		fileExt = "." + fileExt
	}
	objectPath := documentUUID + fileExt

	_, err := m.client.PutObject(ctx, m.originalsBucket, objectPath,
		bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("上传原始简历失败: %w", err)
	}
	return objectPath, nil
}

// UploadExtractedText 上传提取文本
func (m *MinIO) UploadExtractedText(ctx context.Context, documentUUID string, text string) (string, error) {
	objectPath := documentUUID + ".txt"

	_, err := m.client.PutObject(ctx, m.extractedBucket, objectPath,
		strings.NewReader(text), int64(len(text)),
		minio.PutObjectOptions{ContentType: "text/plain; charset=utf-8"})
	if err != nil {
		return "", fmt.Errorf("上传提取文本失败: %w", err)
	}
	return objectPath, nil
}

// GetResumeFile 下载原始简历
func (m *MinIO) GetResumeFile(ctx context.Context, objectPath string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.originalsBucket, objectPath, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("获取原始简历对象失败: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("读取原始简历内容失败: %w", err)
	}
	return data, nil
}

// GetExtractedText 下载提取文本
func (m *MinIO) GetExtractedText(ctx context.Context, objectPath string) (string, error) {
	obj, err := m.client.GetObject(ctx, m.extractedBucket, objectPath, minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("获取提取文本对象失败: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return "", fmt.Errorf("读取提取文本内容失败: %w", err)
	}
	return string(data), nil
}

// DeleteResumeFile 删除原始简历对象
func (m *MinIO) DeleteResumeFile(ctx context.Context, objectPath string) error {
	return m.client.RemoveObject(ctx, m.originalsBucket, objectPath, minio.RemoveObjectOptions{})
}
