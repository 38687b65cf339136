package daytona

import (
	"context"
	"fmt"
	"time"

	"github.com/daytonaio/sdk-go/internal/api"
	"github.com/daytonaio/sdk-go/internal/backoff"
	"github.com/daytonaio/sdk-go/internal/stream"
)

// snapshotPollInterval 是等待快照构建结束的轮询间隔。
const snapshotPollInterval = time.Second

// SnapshotService 管理快照。
type SnapshotService struct {
	client *Client
}

// List 按页列出快照，page 从 1 开始，0 表示使用服务端默认值。
func (s *SnapshotService) List(ctx context.Context, page, limit int) (*PaginatedSnapshots, error) {
	const op = "Failed to list snapshots"
	if page < 0 || limit < 0 {
		return nil, validationError(op, "page and limit must be non-negative")
	}
	if err := s.client.checkOpen(op); err != nil {
		return nil, err
	}
	resp, err := s.client.api.ListSnapshots(ctx, page, limit)
	if err != nil {
		return nil, wrapError(op, err)
	}
	result := &PaginatedSnapshots{
		Items:      make([]*Snapshot, 0, len(resp.Items)),
		Total:      resp.Total,
		Page:       resp.Page,
		TotalPages: resp.TotalPages,
	}
	for i := range resp.Items {
		result.Items = append(result.Items, snapshotFromAPI(&resp.Items[i]))
	}
	return result, nil
}

// Get 按名称或 ID 获取快照。
func (s *SnapshotService) Get(ctx context.Context, name string) (*Snapshot, error) {
	const op = "Failed to get snapshot"
	if err := s.client.checkOpen(op); err != nil {
		return nil, err
	}
	snap, err := s.client.api.GetSnapshot(ctx, name)
	if err != nil {
		return nil, wrapError(op, err)
	}
	return snapshotFromAPI(snap), nil
}

// Delete 删除快照。
func (s *SnapshotService) Delete(ctx context.Context, snapshot *Snapshot) error {
	const op = "Failed to delete snapshot"
	if err := s.client.checkOpen(op); err != nil {
		return err
	}
	return wrapError(op, s.client.api.DeleteSnapshot(ctx, snapshot.ID))
}

// Activate 重新激活长期未使用而失效的快照。
func (s *SnapshotService) Activate(ctx context.Context, snapshot *Snapshot) (*Snapshot, error) {
	const op = "Failed to activate snapshot"
	if err := s.client.checkOpen(op); err != nil {
		return nil, err
	}
	snap, err := s.client.api.ActivateSnapshot(ctx, snapshot.ID)
	if err != nil {
		return nil, wrapError(op, err)
	}
	return snapshotFromAPI(snap), nil
}

// Create 创建快照并等待构建结束。设置了 WithOnLogs 时，
// 快照离开 build_pending 后开始转发构建日志，直到构建结束。
func (s *SnapshotService) Create(ctx context.Context, params CreateSnapshotParams, opts ...Option) (*Snapshot, error) {
	const op = "Failed to create snapshot"
	ctx, cancel, o, err := begin(ctx, op, opts)
	defer cancel()
	if err != nil {
		return nil, err
	}
	if err := defaultValidator.Validate(op, &params); err != nil {
		return nil, err
	}
	if (params.ImageName == "") == (params.Image == nil) {
		return nil, validationError(op, "exactly one of image name or image must be set")
	}
	if err := s.client.checkOpen(op); err != nil {
		return nil, err
	}

	body := api.CreateSnapshotRequest{
		Name:       params.Name,
		ImageName:  params.ImageName,
		Entrypoint: params.Entrypoint,
	}
	if params.Resources != nil {
		body.CPU = params.Resources.CPU
		body.GPU = params.Resources.GPU
		body.Memory = params.Resources.Memory
		body.Disk = params.Resources.Disk
	}
	if params.Image != nil {
		if err := params.Image.Err(); err != nil {
			return nil, &Error{Kind: KindValidation, Op: op, Message: err.Error(), Err: err}
		}
		buildInfo, err := s.client.uploadImage(ctx, params.Image)
		if err != nil {
			return nil, wrapError(op, err)
		}
		body.BuildInfo = buildInfo
	}

	created, err := s.client.api.CreateSnapshot(ctx, body)
	if err != nil {
		return nil, wrapError(op, err)
	}
	if o.onLogs != nil {
		o.onLogs(fmt.Sprintf("Creating snapshot %s (%s)\n", created.Name, created.State))
	}

	interval := snapshotPollInterval
	if o.pollPeriod > 0 {
		interval = o.pollPeriod
	}
	current := created
	refresh := func(ctx context.Context) error {
		snap, err := s.client.api.GetSnapshot(ctx, created.ID)
		if err != nil {
			return err
		}
		current = snap
		return nil
	}

	if o.onLogs != nil && !current.State.IsTerminal() {
		_, err = pollLoop(ctx, backoff.Fixed(interval), func(ctx context.Context) (bool, struct{}, error) {
			if current.State != api.SnapshotStateBuildPending {
				return true, struct{}{}, nil
			}
			err := refresh(ctx)
			return err == nil && current.State != api.SnapshotStateBuildPending, struct{}{}, err
		})
		if err != nil {
			return nil, wrapError(op, err)
		}
		if !current.State.IsTerminal() {
			logs, err := s.client.api.GetSnapshotBuildLogs(ctx, created.ID, true)
			if err != nil {
				return nil, wrapError(op, err)
			}
			err = stream.Consume(ctx, logs, o.onLogs, func(ctx context.Context) (bool, error) {
				if err := refresh(ctx); err != nil {
					return false, err
				}
				return current.State.IsTerminal(), nil
			}, nil)
			if err != nil {
				return nil, wrapError(op, err)
			}
		}
	}

	_, err = pollLoop(ctx, backoff.Fixed(interval), func(ctx context.Context) (bool, struct{}, error) {
		if current.State.IsTerminal() {
			return true, struct{}{}, nil
		}
		err := refresh(ctx)
		return err == nil && current.State.IsTerminal(), struct{}{}, err
	})
	if err != nil {
		return nil, wrapError(op, err)
	}

	switch current.State {
	case api.SnapshotStateError, api.SnapshotStateBuildFailed:
		return nil, validationError(op, "snapshot %s failed with state %s: %s", current.Name, current.State, current.ErrorReason)
	}
	if o.onLogs != nil {
		o.onLogs(fmt.Sprintf("Created snapshot %s (%s)\n", current.Name, current.State))
	}
	return snapshotFromAPI(current), nil
}
