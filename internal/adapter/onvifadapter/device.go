package onvifadapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gowvp/onvif"
	devicemodel "github.com/gowvp/onvif/device"
	m "github.com/gowvp/onvif/media"
	sdkdevice "github.com/gowvp/onvif/sdk/device"
	sdkmedia "github.com/gowvp/onvif/sdk/media"
	"github.com/gowvp/viewport/internal/core/backend"
)

var ErrDeviceNotReady = errors.New("onvif device not ready")

// Device ONVIF 设备连接，Profile 作为摄像头目录
type Device struct {
	client *http.Client
	log    *slog.Logger

	m           sync.RWMutex
	key         backend.SessionKey
	dev         *onvif.Device
	info        DeviceInfo
	profiles    []backend.Camera
	keepaliveAt time.Time
}

// DeviceInfo 设备概要，不包含密码
type DeviceInfo struct {
	Host         string    `json:"host"`
	Username     string    `json:"username"`
	Manufacturer string    `json:"manufacturer"`
	Model        string    `json:"model"`
	Firmware     string    `json:"firmware"`
	Profiles     int       `json:"profiles"`
	IsOnline     bool      `json:"is_online"`
	KeepaliveAt  time.Time `json:"keepalive_at"`
}

func newDevice(cli *http.Client) func(backend.SessionKey) *Device {
	return func(key backend.SessionKey) *Device {
		return &Device{client: cli, log: logger(key)}
	}
}

// Initialize 连接设备，校验账号并查询 Profiles
func (d *Device) Initialize(ctx context.Context, key backend.SessionKey) error {
	d.m.Lock()
	if d.dev != nil {
		d.m.Unlock()
		return fmt.Errorf("onvif device %s already initialized", key.Host)
	}
	d.key = key
	d.m.Unlock()

	dev, err := onvif.NewDevice(onvif.DeviceParams{
		Xaddr:      key.Host,
		Username:   key.Username,
		Password:   key.Password,
		HttpClient: d.client,
	})
	if err != nil {
		d.log.ErrorContext(ctx, "connect onvif device", "err", err)
		return fmt.Errorf("%w: %s: %w", backend.ErrAuthentication, key.Host, err)
	}

	resp, err := sdkdevice.Call_GetDeviceInformation(ctx, dev, devicemodel.GetDeviceInformation{})
	if err != nil {
		return fmt.Errorf("%w: %s@%s: %w", backend.ErrAuthentication, key.Username, key.Host, err)
	}

	profiles, err := sdkmedia.Call_GetProfiles(ctx, dev, m.GetProfiles{})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", backend.ErrBootstrap, key.Host, err)
	}
	cameras := make([]backend.Camera, 0, len(profiles.Profiles))
	for _, profile := range profiles.Profiles {
		cameras = append(cameras, backend.Camera{
			ID:   string(profile.Token),
			Name: string(profile.Name),
		})
	}
	if len(cameras) == 0 {
		return fmt.Errorf("%w: %s: no onvif profiles", backend.ErrBootstrap, key.Host)
	}

	d.m.Lock()
	d.dev = dev
	d.profiles = cameras
	d.info = DeviceInfo{
		Host:         key.Host,
		Username:     key.Username,
		Manufacturer: resp.Manufacturer,
		Model:        resp.Model,
		Firmware:     resp.FirmwareVersion,
		Profiles:     len(cameras),
		IsOnline:     true,
	}
	d.keepaliveAt = time.Now()
	d.m.Unlock()

	d.log.InfoContext(ctx, "onvif profiles loaded", "model", resp.Model, "profile_count", len(cameras))
	return nil
}

func (d *Device) Key() backend.SessionKey {
	d.m.RLock()
	defer d.m.RUnlock()
	return d.key
}

// Cameras Profile 列表快照
func (d *Device) Cameras() []backend.Camera {
	d.m.RLock()
	defer d.m.RUnlock()
	out := make([]backend.Camera, len(d.profiles))
	copy(out, d.profiles)
	return out
}

// StreamURI 查询 Profile 的 RTSP 地址，地址中带有设备账号
func (d *Device) StreamURI(ctx context.Context, token string) (string, error) {
	d.m.RLock()
	dev := d.dev
	d.m.RUnlock()
	if dev == nil {
		return "", ErrDeviceNotReady
	}
	uri, err := getStreamURI(ctx, dev, token)
	if err != nil {
		return "", fmt.Errorf("get stream uri of profile %s: %w", token, err)
	}
	return uri, nil
}

func (d *Device) Info() DeviceInfo {
	d.m.RLock()
	defer d.m.RUnlock()
	info := d.info
	info.KeepaliveAt = d.keepaliveAt
	return info
}
