package api

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

func (c *Client) ListSnapshots(ctx context.Context, page, limit int) (*PaginatedSnapshots, error) {
	query := url.Values{}
	if page > 0 {
		if err := addQuery(query, "page", page); err != nil {
			return nil, err
		}
	}
	if limit > 0 {
		if err := addQuery(query, "limit", limit); err != nil {
			return nil, err
		}
	}
	var ret PaginatedSnapshots
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/snapshots", query, nil, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

func (c *Client) GetSnapshot(ctx context.Context, snapshotIDOrName string) (*Snapshot, error) {
	target, err := c.path("/snapshots/{}", snapshotIDOrName)
	if err != nil {
		return nil, err
	}
	var ret Snapshot
	if err := c.doJSON(ctx, http.MethodGet, target, nil, nil, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

func (c *Client) CreateSnapshot(ctx context.Context, body CreateSnapshotRequest) (*Snapshot, error) {
	var ret Snapshot
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/snapshots", nil, body, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

func (c *Client) DeleteSnapshot(ctx context.Context, snapshotID string) error {
	target, err := c.path("/snapshots/{}", snapshotID)
	if err != nil {
		return err
	}
	return c.doJSON(ctx, http.MethodDelete, target, nil, nil, nil)
}

func (c *Client) ActivateSnapshot(ctx context.Context, snapshotID string) (*Snapshot, error) {
	target, err := c.path("/snapshots/{}/activate", snapshotID)
	if err != nil {
		return nil, err
	}
	var ret Snapshot
	if err := c.doJSON(ctx, http.MethodPost, target, nil, nil, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

func (c *Client) GetSnapshotBuildLogs(ctx context.Context, snapshotID string, follow bool) (io.ReadCloser, error) {
	target, err := c.path("/snapshots/{}/build-logs", snapshotID)
	if err != nil {
		return nil, err
	}
	query := url.Values{}
	if follow {
		query.Set("follow", "true")
	}
	return c.stream(ctx, target, query)
}
