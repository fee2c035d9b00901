package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"nutflow/pkg/errs"
	"nutflow/pkg/provider"
	"nutflow/pkg/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Adapter 实现了 provider.Provider 接口
// 客户端在第一次使用时才创建 (不是在构造时)
type Adapter struct {
	cfg Config

	mu     sync.Mutex
	client *s3.Client
}

// Config 用于初始化 Adapter
type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	Prefix          string // 可选，所有标识符都相对于这个 key 前缀
	AccessKeyID     string
	SecretAccessKey string
}

// NewAdapter 只校验配置，不发起网络请求
func NewAdapter(cfg Config) (*Adapter, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.Prefix != "" && !strings.HasSuffix(cfg.Prefix, "/") {
		cfg.Prefix += "/"
	}
	return &Adapter{cfg: cfg}, nil
}

// Build 供 provider.Registry 使用
func Build(_ context.Context, settings provider.Settings) (provider.Provider, error) {
	return NewAdapter(Config{
		Endpoint:        settings.Get("endpoint", ""),
		Region:          settings.Get("region", "us-east-1"),
		Bucket:          settings.Get("bucket", ""),
		Prefix:          settings.Get("prefix", ""),
		AccessKeyID:     settings.Get("access_key", ""),
		SecretAccessKey: settings.Get("secret_key", ""),
	})
}

// connect 懒加载客户端 (适配 AWS SDK v2 最新规范)
func (s *Adapter) connect(ctx context.Context) (*s3.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}

	// 1. 加载基础配置 (Region 和 Credentials)
	opts := []func(*config.LoadOptions) error{config.WithRegion(s.cfg.Region)}
	if s.cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.cfg.AccessKeyID, s.cfg.SecretAccessKey, "",
		)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	// 2. 创建 S3 客户端时，注入特定于 S3 的配置
	s.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// 如果指定了 Endpoint (比如 MinIO 的 localhost:9000)，则覆盖默认值
		if s.cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(s.cfg.Endpoint)
			// MinIO 必须强制使用 Path Style
			o.UsePathStyle = true
		}
	})
	return s.client, nil
}

// transformKey 将标识符转换为 S3 Key
func (s *Adapter) transformKey(id string) string {
	return s.cfg.Prefix + provider.CleanID(id)
}

func (s *Adapter) List(ctx context.Context, pattern string) ([]string, error) {
	pat, err := provider.CompilePattern(pattern)
	if err != nil {
		return nil, errs.Lookup(pattern, err)
	}
	client, err := s.connect(ctx)
	if err != nil {
		return nil, errs.Lookup(pattern, err)
	}

	// 字面路径走 HEAD，避免 List 的开销
	if lit, ok := pat.Literal(); ok {
		found, err := s.Exists(ctx, lit)
		if err != nil {
			return nil, errs.Lookup(pattern, err)
		}
		if !found {
			return nil, nil
		}
		return []string{lit}, nil
	}

	var ids []string
	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(s.cfg.Prefix + pat.Prefix()),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errs.Lookup(pattern, fmt.Errorf("s3 list failed: %w", err))
		}
		for _, obj := range page.Contents {
			id := strings.TrimPrefix(aws.ToString(obj.Key), s.cfg.Prefix)
			if pat.Match(id) {
				ids = append(ids, id)
			}
		}
	}
	// ListObjectsV2 按 key 的 UTF-8 字节序返回，已经有序
	return ids, nil
}

func (s *Adapter) Open(ctx context.Context, id string) (io.ReadCloser, int64, error) {
	client, err := s.connect(ctx)
	if err != nil {
		return nil, 0, errs.Transport("open", id, err)
	}

	resp, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.transformKey(id)),
	})
	if err != nil {
		// 将 AWS 的 NoSuchKey 错误映射为我们自己的 ErrNotFound
		if isNotFound(err) {
			return nil, 0, errs.NotFound("open", id)
		}
		return nil, 0, errs.Transport("open", id, fmt.Errorf("s3 get failed: %w", err))
	}
	return resp.Body, aws.ToInt64(resp.ContentLength), nil
}

// LastChanged 用 HEAD 拿 ETag，不下载内容
func (s *Adapter) LastChanged(ctx context.Context, id string) (types.Version, error) {
	head, err := s.head(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return "", errs.NotFound("lastChanged", id)
		}
		return "", errs.Transport("lastChanged", id, err)
	}
	if etag := strings.Trim(aws.ToString(head.ETag), `"`); etag != "" {
		return types.Version(etag), nil
	}
	// 某些 S3 兼容实现不返回 ETag，退化为修改时间
	return types.Version(aws.ToTime(head.LastModified).UTC().Format("20060102T150405.000000000Z")), nil
}

func (s *Adapter) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.head(ctx, id)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, errs.Transport("exists", id, err)
}

func (s *Adapter) Save(ctx context.Context, id string, r io.Reader) error {
	client, err := s.connect(ctx)
	if err != nil {
		return errs.Transport("save", id, err)
	}
	// SDK 计算校验和需要可 Seek 的 Body，先读进内存
	data, err := io.ReadAll(r)
	if err != nil {
		return errs.Transport("save", id, err)
	}
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.transformKey(id)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return errs.Transport("save", id, fmt.Errorf("s3 put failed: %w", err))
	}
	return nil
}

func (s *Adapter) head(ctx context.Context, id string) (*s3.HeadObjectOutput, error) {
	client, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	return client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.transformKey(id)),
	})
}

func isNotFound(err error) bool {
	var notFound *s3types.NotFound
	var noKey *s3types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noKey) {
		return true
	}
	// 兼容性：某些 S3 实现可能返回 generic 404 error string
	return strings.Contains(err.Error(), "StatusCode: 404")
}
