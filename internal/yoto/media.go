package yoto

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
)

// UploadIcon uploads a 16x16 PNG as a user display icon and returns its media
// id, suitable for chapter/track display metadata. Callers treat failure as
// best-effort.
func (c *Client) UploadIcon(ctx context.Context, png []byte) (string, error) {
	var resp struct {
		DisplayIcon struct {
			MediaID string `json:"mediaId"`
		} `json:"displayIcon"`
	}

	err := c.uploadBytes(ctx, "/media/displayIcons/user/me/upload?autoConvert=true",
		"image/png", png, &resp)
	if err != nil {
		return "", fmt.Errorf("uploading icon: %w", err)
	}
	if resp.DisplayIcon.MediaID == "" {
		return "", fmt.Errorf("uploading icon: empty media id in response")
	}
	return "yoto:#" + resp.DisplayIcon.MediaID, nil
}

// UploadCoverImage uploads card cover art and returns the hosted image URL.
// Callers treat failure as best-effort.
func (c *Client) UploadCoverImage(ctx context.Context, image []byte) (string, error) {
	var resp struct {
		CoverImage struct {
			MediaURL string `json:"mediaUrl"`
		} `json:"coverImage"`
	}

	err := c.uploadBytes(ctx, "/media/coverImage/user/me/upload?coverType=default",
		"image/png", image, &resp)
	if err != nil {
		return "", fmt.Errorf("uploading cover image: %w", err)
	}
	if resp.CoverImage.MediaURL == "" {
		return "", fmt.Errorf("uploading cover image: empty media url in response")
	}
	return resp.CoverImage.MediaURL, nil
}

// uploadBytes posts a raw body (not JSON) to an API path and decodes the
// JSON response.
func (c *Client) uploadBytes(ctx context.Context, path, contentType string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.APIBase+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", contentType)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("uploading to %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrAuthExpired
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Body: readShort(resp.Body)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding %s response: %w", path, err)
		}
	}
	return nil
}
