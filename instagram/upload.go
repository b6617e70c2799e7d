package instagram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"insta-mirror/pkg/mirror"
)

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (r statusResponse) err() error {
	if r.Status == "ok" {
		return nil
	}
	if r.Message != "" {
		return errors.New(r.Message)
	}
	return fmt.Errorf("unexpected status %q", r.Status)
}

type uploadResponse struct {
	statusResponse
	UploadID string `json:"upload_id"`
}

type sidecarChild struct {
	UploadID string `json:"upload_id"`
}

type sidecarRequest struct {
	Caption         string         `json:"caption"`
	ClientSidecarID string         `json:"client_sidecar_id"`
	SourceType      string         `json:"source_type"`
	Children        []sidecarChild `json:"children_metadata"`
}

// PublishPhoto posts a single photo.
func (c *Client) PublishPhoto(ctx context.Context, path, caption string) error {
	if err := c.publishSingle(ctx, path, mirror.KindPhoto, caption); err != nil {
		return mirror.NewError(mirror.PublishError, "", "publish photo", err)
	}
	return nil
}

// PublishVideo posts a single video.
func (c *Client) PublishVideo(ctx context.Context, path, caption string) error {
	if err := c.publishSingle(ctx, path, mirror.KindVideo, caption); err != nil {
		return mirror.NewError(mirror.PublishError, "", "publish video", err)
	}
	return nil
}

// PublishAlbum posts the files as one carousel in the given order. The kind
// of each file is taken from its extension.
func (c *Client) PublishAlbum(ctx context.Context, paths []string, caption string) error {
	if err := c.publishAlbum(ctx, paths, caption); err != nil {
		return mirror.NewError(mirror.PublishError, "", "publish album", err)
	}
	return nil
}

func (c *Client) publishSingle(ctx context.Context, path string, kind mirror.MediaKind, caption string) error {
	uploadID, err := c.upload(ctx, path, kind, false)
	if err != nil {
		return err
	}

	endpoint := "/api/v1/media/configure/"
	if kind == mirror.KindVideo {
		endpoint += "?video=1"
	}
	form := url.Values{
		"upload_id":   {uploadID},
		"caption":     {caption},
		"source_type": {"4"},
		"device_id":   {c.deviceID},
		"_uid":        {c.uid()},
	}

	var resp statusResponse
	if _, err := c.postForm(ctx, endpoint, form, &resp); err != nil {
		return fmt.Errorf("configure: %w", err)
	}
	if err := resp.err(); err != nil {
		return fmt.Errorf("configure: %w", err)
	}

	c.logger.Info("Media published", "kind", kind, "upload_id", uploadID)
	return nil
}

func (c *Client) publishAlbum(ctx context.Context, paths []string, caption string) error {
	if len(paths) == 0 {
		return errors.New("album has no files")
	}

	children := make([]sidecarChild, 0, len(paths))
	for i, path := range paths {
		uploadID, err := c.upload(ctx, path, kindOf(path), true)
		if err != nil {
			return fmt.Errorf("item %d: %w", i+1, err)
		}
		children = append(children, sidecarChild{UploadID: uploadID})
	}

	body, err := json.Marshal(sidecarRequest{
		Caption:         caption,
		ClientSidecarID: c.nextUploadID(),
		SourceType:      "4",
		Children:        children,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/media/configure_sidecar/", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp statusResponse
	if _, err := c.doJSON(req, &resp); err != nil {
		return fmt.Errorf("configure sidecar: %w", err)
	}
	if err := resp.err(); err != nil {
		return fmt.Errorf("configure sidecar: %w", err)
	}

	c.logger.Info("Album published", "items", len(children))
	return nil
}

func (c *Client) uid() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// upload sends one file to the resumable upload endpoint and returns its upload id.
func (c *Client) upload(ctx context.Context, path string, kind mirror.MediaKind, sidecar bool) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	uploadID := c.nextUploadID()
	entityName := uploadID + "_0_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:10]

	params := map[string]string{
		"upload_id":     uploadID,
		"retry_context": `{"num_step_auto_retry":0,"num_reupload":0,"num_step_manual_retry":0}`,
	}
	endpoint, entityType := "/rupload_igphoto/", "image/jpeg"
	if kind == mirror.KindVideo {
		endpoint, entityType = "/rupload_igvideo/", "video/mp4"
		params["media_type"] = "2"
	} else {
		params["media_type"] = "1"
		params["image_compression"] = `{"lib_name":"moz","lib_version":"3.1.m","quality":"80"}`
	}
	if sidecar {
		params["is_sidecar"] = "1"
	}
	rawParams, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("marshal upload params: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, endpoint+entityName, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("X-Instagram-Rupload-Params", string(rawParams))
	req.Header.Set("X-Entity-Name", entityName)
	req.Header.Set("X-Entity-Type", entityType)
	req.Header.Set("X-Entity-Length", strconv.Itoa(len(data)))
	req.Header.Set("Offset", "0")
	req.Header.Set("Content-Type", "application/octet-stream")

	var resp uploadResponse
	if _, err := c.doJSON(req, &resp); err != nil {
		return "", fmt.Errorf("upload %s: %w", filepath.Base(path), err)
	}
	if err := resp.err(); err != nil {
		return "", fmt.Errorf("upload %s: %w", filepath.Base(path), err)
	}
	if resp.UploadID != "" {
		uploadID = resp.UploadID
	}

	c.logger.Debug("Media uploaded", "path", path, "kind", kind, "upload_id", uploadID, "bytes", len(data))
	return uploadID, nil
}

// nextUploadID returns a millisecond timestamp that is strictly greater than
// the previous one, so album items never share an id.
func (c *Client) nextUploadID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := time.Now().UnixMilli()
	if id <= c.lastUploadID {
		id = c.lastUploadID + 1
	}
	c.lastUploadID = id
	return strconv.FormatInt(id, 10)
}

func kindOf(path string) mirror.MediaKind {
	if strings.EqualFold(filepath.Ext(path), mirror.KindVideo.Ext()) {
		return mirror.KindVideo
	}
	return mirror.KindPhoto
}
