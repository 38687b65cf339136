package imagecontext

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/daytonaio/sdk-go/internal/api"
)

// ObjectStore 是上下文上传使用的对象存储。
type ObjectStore interface {
	// Exists 报告 key 是否已存在
	Exists(ctx context.Context, key string) (bool, error)
	// Put 上传 r 中的全部数据，长度未知
	Put(ctx context.Context, key string, r io.Reader) error
}

// PushAccessProvider 提供上传凭证。
type PushAccessProvider interface {
	GetPushAccess(ctx context.Context) (*api.StorageAccess, error)
}

// StoreFactory 根据上传凭证创建对象存储。
type StoreFactory func(access *api.StorageAccess) (ObjectStore, error)

// Uploader 把镜像构建上下文上传到对象存储，内容相同的上下文只上传一次。
type Uploader struct {
	Access      PushAccessProvider
	NewStore    StoreFactory
	Concurrency int
	Logger      *zap.Logger
}

// ObjectKey 返回上下文在对象存储中的 key。
func ObjectKey(organizationID, hash string) string {
	return fmt.Sprintf("%s/%s/context.tar", organizationID, hash)
}

// Upload 上传 contexts 并按相同顺序返回它们的内容哈希。
func (u *Uploader) Upload(ctx context.Context, contexts []Context) ([]string, error) {
	if len(contexts) == 0 {
		return nil, nil
	}
	access, err := u.Access.GetPushAccess(ctx)
	if err != nil {
		return nil, err
	}
	newStore := u.NewStore
	if newStore == nil {
		newStore = NewMinioStore
	}
	store, err := newStore(access)
	if err != nil {
		return nil, err
	}
	logger := u.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	hashes := make([]string, len(contexts))
	var (
		mu      sync.Mutex
		started = make(map[string]bool)
	)

	g, gctx := errgroup.WithContext(ctx)
	limit := u.Concurrency
	if limit <= 0 {
		limit = 4
	}
	g.SetLimit(limit)
	for i := range contexts {
		i, c := i, contexts[i]
		g.Go(func() error {
			hash, err := HashContext(c)
			if err != nil {
				return fmt.Errorf("hash context %s: %w", c.SourcePath, err)
			}
			hashes[i] = hash

			mu.Lock()
			if started[hash] {
				mu.Unlock()
				return nil
			}
			started[hash] = true
			mu.Unlock()

			key := ObjectKey(access.OrganizationID, hash)
			exists, err := store.Exists(gctx, key)
			if err != nil {
				return err
			}
			if exists {
				logger.Debug("build context already uploaded", zap.String("key", key))
				return nil
			}
			body := TarReader(c)
			defer body.Close()
			if err := store.Put(gctx, key, body); err != nil {
				return fmt.Errorf("upload context %s: %w", c.SourcePath, err)
			}
			logger.Debug("uploaded build context", zap.String("key", key))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return hashes, nil
}
