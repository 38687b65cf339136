package daytona

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/daytonaio/sdk-go/internal/backoff"
)

// volumeNotFound 匹配控制面按名称查询卷失败时的错误信息。
var volumeNotFound = regexp.MustCompile(`^Volume with name (.+) not found`)

const volumePollInterval = time.Second

// VolumeService 管理持久化存储卷。
type VolumeService struct {
	client *Client
}

// List 列出全部卷。
func (s *VolumeService) List(ctx context.Context) ([]*Volume, error) {
	const op = "Failed to list volumes"
	if err := s.client.checkOpen(op); err != nil {
		return nil, err
	}
	items, err := s.client.api.ListVolumes(ctx)
	if err != nil {
		return nil, wrapError(op, err)
	}
	volumes := make([]*Volume, 0, len(items))
	for i := range items {
		volumes = append(volumes, volumeFromAPI(&items[i]))
	}
	return volumes, nil
}

// Get 按名称获取卷。create 为 true 且卷不存在时创建它。
func (s *VolumeService) Get(ctx context.Context, name string, create bool) (*Volume, error) {
	const op = "Failed to get volume"
	if name == "" {
		return nil, validationError(op, "volume name is required")
	}
	if err := s.client.checkOpen(op); err != nil {
		return nil, err
	}
	v, err := s.client.api.GetVolumeByName(ctx, name)
	if err == nil {
		return volumeFromAPI(v), nil
	}
	wrapped := wrapError(op, err)
	if !create || !isVolumeNotFound(wrapped, name) {
		return nil, wrapped
	}

	created, err := s.Create(ctx, name)
	if err == nil || !IsConflict(err) {
		return created, err
	}
	// 并发创建时对方先完成
	v, err = s.client.api.GetVolumeByName(ctx, name)
	if err != nil {
		return nil, wrapError(op, err)
	}
	return volumeFromAPI(v), nil
}

func isVolumeNotFound(err error, name string) bool {
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindNotFound {
		return false
	}
	m := volumeNotFound.FindStringSubmatch(e.Message)
	return m != nil && m[1] == name
}

// Create 创建卷。
func (s *VolumeService) Create(ctx context.Context, name string) (*Volume, error) {
	const op = "Failed to create volume"
	if name == "" {
		return nil, validationError(op, "volume name is required")
	}
	if err := s.client.checkOpen(op); err != nil {
		return nil, err
	}
	v, err := s.client.api.CreateVolume(ctx, name)
	if err != nil {
		return nil, wrapError(op, err)
	}
	return volumeFromAPI(v), nil
}

// Delete 删除卷。
func (s *VolumeService) Delete(ctx context.Context, volume *Volume) error {
	const op = "Failed to delete volume"
	if err := s.client.checkOpen(op); err != nil {
		return err
	}
	return wrapError(op, s.client.api.DeleteVolume(ctx, volume.ID))
}

// WaitForReady 等待卷进入 ready 状态。
func (s *VolumeService) WaitForReady(ctx context.Context, volume *Volume, opts ...Option) (*Volume, error) {
	const op = "Failed to wait for volume"
	ctx, cancel, o, err := begin(ctx, op, opts)
	defer cancel()
	if err != nil {
		return nil, err
	}
	interval := volumePollInterval
	if o.pollPeriod > 0 {
		interval = o.pollPeriod
	}
	current := volume
	v, err := pollLoop(ctx, backoff.Fixed(interval), func(ctx context.Context) (bool, *Volume, error) {
		switch current.State {
		case VolumeReady:
			return true, current, nil
		case VolumeError:
			return false, nil, newError(KindGeneric, op, "volume %s failed: %s", current.Name, current.ErrorReason)
		}
		if err := s.client.checkOpen(op); err != nil {
			return false, nil, err
		}
		got, err := s.client.api.GetVolume(ctx, volume.ID)
		if err != nil {
			return false, nil, err
		}
		current = volumeFromAPI(got)
		return current.State == VolumeReady, current, nil
	})
	if err != nil {
		return nil, wrapError(op, err)
	}
	return v, nil
}
