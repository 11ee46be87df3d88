package oss

import (
	"bytes"
	"fmt"
	"log"
	"path"
	"strings"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"

	"github.com/qs3c/anal_graph_server/config"
)

const (
	snapshotPrefix   = "snapshots"
	uploadRetries    = 3
	uploadRetryDelay = time.Second
)

type Client struct {
	client     *oss.Client
	bucket     *oss.Bucket
	bucketName string
	cdnDomain  string
}

// Enabled 是否配置了 OSS
func Enabled(cfg *config.OSSConfig) bool {
	return cfg != nil && cfg.Endpoint != "" && cfg.BucketName != ""
}

func NewClient(cfg *config.OSSConfig) (*Client, error) {
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create OSS client: %w", err)
	}

	bucket, err := client.Bucket(cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket: %w", err)
	}

	return &Client{
		client:     client,
		bucket:     bucket,
		bucketName: cfg.BucketName,
		cdnDomain:  cfg.CDNDomain,
	}, nil
}

// SnapshotKey 分析快照的 object key
func SnapshotKey(repositoryID, jobID int64) string {
	return fmt.Sprintf("%s/%d/%d.json", snapshotPrefix, repositoryID, jobID)
}

// UploadSnapshot 上传一次分析的原始结果快照
func (c *Client) UploadSnapshot(repositoryID, jobID int64, data []byte) (string, error) {
	objectKey := SnapshotKey(repositoryID, jobID)

	err := c.bucket.PutObject(objectKey, bytes.NewReader(data), oss.ContentType("application/json"))
	if err != nil {
		return "", fmt.Errorf("failed to upload snapshot: %w", err)
	}

	return c.GetURL(objectKey), nil
}

// UploadSnapshotWithRetry 带重试的快照上传
func (c *Client) UploadSnapshotWithRetry(repositoryID, jobID int64, data []byte) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= uploadRetries; attempt++ {
		url, err := c.UploadSnapshot(repositoryID, jobID, data)
		if err == nil {
			return url, nil
		}
		lastErr = err
		log.Printf("OSS: snapshot upload for job %d failed (attempt %d/%d): %v", jobID, attempt, uploadRetries, err)
		if attempt < uploadRetries {
			time.Sleep(time.Duration(attempt) * uploadRetryDelay)
		}
	}
	return "", lastErr
}

// Delete 删除文件
func (c *Client) Delete(objectKey string) error {
	err := c.bucket.DeleteObject(objectKey)
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// GetURL 获取文件访问 URL
func (c *Client) GetURL(objectKey string) string {
	if c.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", c.cdnDomain, objectKey)
	}
	return fmt.Sprintf("https://%s.%s/%s", c.bucketName, c.client.Config.Endpoint, objectKey)
}

// GetSignedURL 生成带签名的临时访问URL（默认1小时有效）
func (c *Client) GetSignedURL(objectKey string, expireSeconds ...int64) (string, error) {
	expire := int64(3600) // 默认1小时
	if len(expireSeconds) > 0 && expireSeconds[0] > 0 {
		expire = expireSeconds[0]
	}

	signedURL, err := c.bucket.SignURL(objectKey, oss.HTTPGet, expire)
	if err != nil {
		return "", fmt.Errorf("failed to generate signed URL: %w", err)
	}

	return signedURL, nil
}

// ExtractObjectKey 从 URL 中提取 object key
func (c *Client) ExtractObjectKey(url string) string {
	// 处理 CDN 域名
	if c.cdnDomain != "" {
		prefix := fmt.Sprintf("https://%s/", c.cdnDomain)
		if strings.HasPrefix(url, prefix) {
			return url[len(prefix):]
		}
	}

	// 处理标准 OSS URL: https://bucket-name.endpoint/path/to/object
	parts := strings.Split(url, "/")
	if len(parts) >= 4 {
		return strings.Join(parts[3:], "/")
	}

	return path.Base(url)
}
