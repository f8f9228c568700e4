package yoto

import (
	"context"
	"fmt"
	"net/http"
)

// Device is one registered playback device.
type Device struct {
	ID   string `json:"deviceId"`
	Name string `json:"name"`
}

// ListDevices enumerates the playback devices registered to the
// authenticated account.
func (c *Client) ListDevices(ctx context.Context) ([]Device, error) {
	var resp struct {
		Devices []Device `json:"devices"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/device-v2/devices/mine", nil, &resp); err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	return resp.Devices, nil
}

// DeployCard pushes a card to one device so it appears without a physical
// card insert.
func (c *Client) DeployCard(ctx context.Context, deviceID, cardID string) error {
	body := map[string]string{"cardId": cardID}
	path := "/device-v2/" + deviceID + "/card"
	if err := c.doJSON(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("deploying card to device %s: %w", deviceID, err)
	}
	return nil
}
