package imagecontext

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/daytonaio/sdk-go/internal/api"
)

type minioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore 用控制面下发的临时凭证创建 S3 兼容的对象存储。
func NewMinioStore(access *api.StorageAccess) (ObjectStore, error) {
	u, err := url.Parse(access.StorageURL)
	if err != nil {
		return nil, fmt.Errorf("parse storage url: %w", err)
	}
	host := u.Host
	if host == "" {
		host = access.StorageURL
	}
	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(access.AccessKey, access.Secret, access.SessionToken),
		Secure: u.Scheme != "http",
	})
	if err != nil {
		return nil, err
	}
	bucket := access.Bucket
	if bucket == "" {
		bucket = "daytona-volume-builds"
	}
	return &minioStore{client: client, bucket: bucket}, nil
}

func (s *minioStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	return false, err
}

func (s *minioStore) Put(ctx context.Context, key string, r io.Reader) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, r, -1, minio.PutObjectOptions{
		ContentType: "application/x-tar",
	})
	return err
}
