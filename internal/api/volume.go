package api

import (
	"context"
	"net/http"
)

func (c *Client) ListVolumes(ctx context.Context) ([]Volume, error) {
	var ret []Volume
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/volumes", nil, nil, &ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *Client) GetVolume(ctx context.Context, volumeID string) (*Volume, error) {
	target, err := c.path("/volumes/{}", volumeID)
	if err != nil {
		return nil, err
	}
	var ret Volume
	if err := c.doJSON(ctx, http.MethodGet, target, nil, nil, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

func (c *Client) GetVolumeByName(ctx context.Context, name string) (*Volume, error) {
	target, err := c.path("/volumes/by-name/{}", name)
	if err != nil {
		return nil, err
	}
	var ret Volume
	if err := c.doJSON(ctx, http.MethodGet, target, nil, nil, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

func (c *Client) CreateVolume(ctx context.Context, name string) (*Volume, error) {
	body := struct {
		Name string `json:"name"`
	}{Name: name}
	var ret Volume
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/volumes", nil, body, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

func (c *Client) DeleteVolume(ctx context.Context, volumeID string) error {
	target, err := c.path("/volumes/{}", volumeID)
	if err != nil {
		return err
	}
	return c.doJSON(ctx, http.MethodDelete, target, nil, nil, nil)
}

// GetPushAccess 获取上传镜像构建上下文的临时凭证。
func (c *Client) GetPushAccess(ctx context.Context) (*StorageAccess, error) {
	var ret StorageAccess
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/object-storage/push-access", nil, nil, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}
