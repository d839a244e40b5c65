package tuya

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/pkozlovsky/station-monitor/internal/errs"
)

// Property is one raw device reading: a vendor property code, its value and
// the device-reported timestamp in epoch milliseconds. Values are usually
// scaled integers, but a few codes carry base64/hex blobs of device memory.
type Property struct {
	Code  string          `json:"code"`
	Value json.RawMessage `json:"value"`
	Time  int64           `json:"time"`
}

// Number returns the property value as a float64 when it is numeric.
func (p Property) Number() (float64, bool) {
	var n json.Number
	if err := json.Unmarshal(p.Value, &n); err != nil {
		return 0, false
	}
	f, err := n.Float64()
	if err != nil {
		return 0, false
	}
	return f, true
}

// Text returns the property value when it is a JSON string (encoded blobs).
func (p Property) Text() (string, bool) {
	var s string
	if err := json.Unmarshal(p.Value, &s); err != nil {
		return "", false
	}
	return s, true
}

// DeviceDetail is the subset of the device detail payload the monitor needs.
type DeviceDetail struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsOnline bool   `json:"is_online"`
	Model    string `json:"model"`
}

// DeviceClient fetches the station's property snapshot through an
// authenticated session.
type DeviceClient struct {
	session  *Session
	deviceID string
	log      *zap.Logger
}

// NewDeviceClient creates a client for a single device.
func NewDeviceClient(session *Session, deviceID string, log *zap.Logger) *DeviceClient {
	return &DeviceClient{session: session, deviceID: deviceID, log: log}
}

// Detail fetches device metadata, including the online flag.
func (c *DeviceClient) Detail(ctx context.Context) (*DeviceDetail, error) {
	raw, err := c.session.Get(ctx, "/v2.0/cloud/thing/"+c.deviceID)
	if err != nil {
		return nil, err
	}
	var detail DeviceDetail
	if err := json.Unmarshal(raw, &detail); err != nil {
		return nil, fmt.Errorf("decode device detail: %w", err)
	}
	return &detail, nil
}

// Properties fetches the current property snapshot. An offline device is
// reported as errs.ErrDeviceOffline rather than as an empty snapshot, so the
// collector can fall back to the climate API. "No data" from an online
// device is an empty slice, not an error.
func (c *DeviceClient) Properties(ctx context.Context) ([]Property, error) {
	detail, err := c.Detail(ctx)
	if err != nil {
		return nil, err
	}
	if !detail.IsOnline {
		return nil, fmt.Errorf("device %s: %w", c.deviceID, errs.ErrDeviceOffline)
	}

	raw, err := c.session.Get(ctx, "/v2.0/cloud/thing/"+c.deviceID+"/shadow/properties")
	if err != nil {
		return nil, err
	}

	var payload struct {
		Properties []Property `json:"properties"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode shadow properties: %w", err)
	}

	c.log.Debug("fetched device properties",
		zap.String("device", c.deviceID),
		zap.Int("count", len(payload.Properties)),
	)
	return payload.Properties, nil
}
