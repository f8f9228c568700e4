// Package deploy pushes a finished card to every registered device
// concurrently, aggregating per-device outcomes instead of failing on the
// first bad device.
package deploy

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tmcgrath/racebrief/internal/yoto"
)

// maxConcurrent caps simultaneous device calls; households have a handful of
// players at most.
const maxConcurrent = 4

// API is the subset of the platform client fan-out needs.
type API interface {
	ListDevices(ctx context.Context) ([]yoto.Device, error)
	DeployCard(ctx context.Context, deviceID, cardID string) error
}

// DeviceResult is the outcome of one delivery attempt.
type DeviceResult struct {
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
}

// Summary aggregates a fan-out. It is returned to the caller of the current
// operation and never persisted.
type Summary struct {
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Total     int            `json:"total"`
	PerDevice []DeviceResult `json:"perDevice"`
}

// Fanout delivers cardID to every registered device. Device enumeration
// failure fails the whole operation; individual delivery failures are
// aggregated into the summary. Zero registered devices is a successful
// no-op, not an error.
func Fanout(ctx context.Context, api API, cardID string) (*Summary, error) {
	devices, err := api.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}

	summary := &Summary{
		Total:     len(devices),
		PerDevice: make([]DeviceResult, len(devices)),
	}
	if len(devices) == 0 {
		return summary, nil
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)

	for i, d := range devices {
		g.Go(func() error {
			res := DeviceResult{DeviceID: d.ID, DeviceName: d.Name, OK: true}
			if err := api.DeployCard(ctx, d.ID, cardID); err != nil {
				res.OK = false
				res.Error = err.Error()
			}

			mu.Lock()
			summary.PerDevice[i] = res
			if res.OK {
				summary.Succeeded++
			} else {
				summary.Failed++
			}
			mu.Unlock()
			// Individual failures never cancel the group.
			return nil
		})
	}

	_ = g.Wait()
	return summary, nil
}
