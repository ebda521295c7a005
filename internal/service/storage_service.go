package service

import (
	"context"
	"net/url"
	"path"
	"strings"
	"time"
	"toothquest_backend/internal/config"
	"toothquest_backend/internal/util"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// StorageProvider 题目图片等静态资源的访问地址
type StorageProvider interface {
	GetURL(ctx context.Context, key string) (string, error)
}

// LocalStorageProvider 本地目录，由 gin 以 /uploads 静态路由提供
type LocalStorageProvider struct {
	Config *config.StorageConfig
}

func (p *LocalStorageProvider) GetURL(ctx context.Context, key string) (string, error) {
	return "/uploads/" + strings.TrimPrefix(path.Clean("/"+key), "/"), nil
}

// MinioStorageProvider 返回预签名下载地址
type MinioStorageProvider struct {
	Config *config.StorageConfig
	Client *minio.Client
}

func NewMinioStorageProvider(cfg *config.StorageConfig) (*MinioStorageProvider, error) {
	// 指定 Region 后签名不需要访问服务端查询桶位置
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessID, cfg.MinioSecret, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, err
	}
	return &MinioStorageProvider{Config: cfg, Client: client}, nil
}

func (p *MinioStorageProvider) GetURL(ctx context.Context, key string) (string, error) {
	expiry := time.Duration(p.Config.URLExpiryMinutes) * time.Minute
	if expiry <= 0 {
		expiry = time.Hour
	}
	u, err := p.Client.PresignedGetObject(ctx, p.Config.MinioBucket, key, expiry, url.Values{})
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// StorageService 存储服务
type StorageService struct {
	Provider StorageProvider
}

// NewStorageService minio 初始化失败时返回错误，不静默降级为本地存储
func NewStorageService(cfg *config.Config) (*StorageService, error) {
	var provider StorageProvider
	switch cfg.Storage.Type {
	case util.StorageMinio:
		p, err := NewMinioStorageProvider(&cfg.Storage)
		if err != nil {
			return nil, err
		}
		provider = p
	default:
		provider = &LocalStorageProvider{Config: &cfg.Storage}
	}

	return &StorageService{Provider: provider}, nil
}

// ResolveURL 空 key 返回空字符串
func (s *StorageService) ResolveURL(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	return s.Provider.GetURL(ctx, key)
}
