package onvifadapter

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gowvp/onvif"
	m "github.com/gowvp/onvif/media"
	sdkmedia "github.com/gowvp/onvif/sdk/media"
	xsdonvif "github.com/gowvp/onvif/xsd/onvif"
	"github.com/gowvp/viewport/internal/core/backend"
	"github.com/gowvp/viewport/pkg/keyed"
)

const (
	Scheme = "onvif"
	// ContainerRTSP ONVIF 设备只提供 RTSP 地址，由消费方拉流
	ContainerRTSP = "rtsp"
)

var _ backend.Provider = (*Provider)(nil)

// Provider 解析 onvif:// 地址，设备的 Profile 作为摄像头目录
//
// 地址格式: onvif://user:pass@ip:port/camera/<_all | profile1,profile2>
type Provider struct {
	devices *keyed.Cache[backend.SessionKey, *Device]
}

// NewProvider timeout 为单次 ONVIF 请求超时
func NewProvider(timeout time.Duration) *Provider {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	cli := *http.DefaultClient
	cli.Timeout = timeout
	return &Provider{
		devices: keyed.New(newDevice(&cli),
			keyed.WithKeyFunc[backend.SessionKey, *Device](backend.SessionKey.String),
			keyed.WithTeardown[backend.SessionKey](func(d *Device) {
				d.log.Info("onvif device removed")
			}),
		),
	}
}

func (p *Provider) Name() string { return Scheme }

// CanHandle implements backend.Provider.
func (p *Provider) CanHandle(u *url.URL) bool {
	return backend.IsCameraURL(u, Scheme)
}

// Resolve implements backend.Provider.
func (p *Provider) Resolve(ctx context.Context, raw string) ([]backend.Stream, error) {
	loc, err := backend.ParseLocator(raw)
	if err != nil {
		return nil, err
	}
	if loc.Scheme != Scheme {
		return nil, fmt.Errorf("%w: unsupported scheme '%s'", backend.ErrValidation, loc.Scheme)
	}

	dev, err := p.devices.GetOrCreate(ctx, loc.Key())
	if err != nil {
		return nil, err
	}
	cameras, err := backend.SelectCameras(dev.Cameras(), loc.Selector, loc.Host)
	if err != nil {
		return nil, err
	}

	base := loc.Base()
	out := make([]backend.Stream, 0, len(cameras))
	for _, c := range cameras {
		out = append(out, backend.NewHandle(base, c, &source{dev: dev, token: c.ID}))
	}
	return out, nil
}

// Devices 已缓存的设备
func (p *Provider) Devices() []DeviceInfo {
	out := make([]DeviceInfo, 0, p.devices.Len())
	p.devices.Range(func(_ string, d *Device) bool {
		out = append(out, d.Info())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Host < out[j].Host })
	return out
}

// InvalidateAll 移除全部设备
func (p *Provider) InvalidateAll() int {
	return p.devices.Clear()
}

func (p *Provider) Close() {
	p.devices.Close()
}

// source 启动时向设备查询 RTSP 地址
type source struct {
	dev   *Device
	token string
}

func (s *source) Open(ctx context.Context, sink backend.Sink) (func(), error) {
	uri, err := s.dev.StreamURI(ctx, s.token)
	if err != nil {
		return nil, err
	}
	sink.SetContainer(ContainerRTSP)
	sink.SetEndpoint(uri)
	// ONVIF 不需要显式停止播放
	return func() {}, nil
}

// getStreamURI 获取 RTSP 流地址
func getStreamURI(ctx context.Context, dev *onvif.Device, profileToken string) (string, error) {
	var param m.GetStreamUri
	param.StreamSetup.Transport.Protocol = "RTSP"
	param.StreamSetup.Stream = "RTP-Unicast"
	param.ProfileToken = xsdonvif.ReferenceToken(profileToken)
	resp, err := sdkmedia.Call_GetStreamUri(ctx, dev, param)
	if err != nil {
		return "", err
	}
	params := dev.GetDeviceParams()
	return buildPlayURL(string(resp.MediaUri.Uri), params.Username, params.Password), nil
}

func buildPlayURL(rawurl, username, password string) string {
	if username == "" || password == "" {
		return rawurl
	}
	u, err := url.Parse(rawurl)
	if err != nil || u.User != nil {
		return rawurl
	}
	if !strings.EqualFold(u.Scheme, "rtsp") && !strings.EqualFold(u.Scheme, "rtsps") {
		return rawurl
	}
	u.User = url.UserPassword(username, password)
	return u.String()
}

func logger(key backend.SessionKey) *slog.Logger {
	return slog.With("onvif", key.Host, "username", key.Username)
}
