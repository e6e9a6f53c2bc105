package onvifadapter

import (
	"context"
	"log/slog"
	"time"

	devicemodel "github.com/gowvp/onvif/device"
	sdkdevice "github.com/gowvp/onvif/sdk/device"
	"github.com/ixugo/goddd/pkg/conc"
)

// StartKeepalive 启动设备健康检查
//
// 1. 定期发送心跳，成功则更新内存中的最后心跳时间
// 2. 定期检查状态，超时未心跳的设备从缓存中移除，下次解析时重新连接
func (p *Provider) StartKeepalive(ctx context.Context, interval, timeout time.Duration) {
	if interval <= 0 {
		return
	}
	if timeout < interval {
		timeout = 3 * interval
	}
	go conc.Timer(ctx, interval, interval, func() {
		p.devices.Range(func(_ string, d *Device) bool {
			// 设备数量较少，每个设备一个协程
			go d.sendHeartbeat(ctx)
			return true
		})
	})
	go conc.Timer(ctx, time.Second, time.Second, func() {
		p.checkStatus(ctx, timeout)
	})
}

func (d *Device) sendHeartbeat(ctx context.Context) {
	d.m.RLock()
	dev := d.dev
	d.m.RUnlock()
	if dev == nil {
		return
	}
	if _, err := sdkdevice.Call_GetDeviceInformation(ctx, dev, devicemodel.GetDeviceInformation{}); err != nil {
		d.log.DebugContext(ctx, "onvif heartbeat", "err", err)
		return
	}
	d.m.Lock()
	d.keepaliveAt = time.Now()
	d.m.Unlock()
}

func (p *Provider) checkStatus(ctx context.Context, timeout time.Duration) {
	now := time.Now()
	p.devices.Range(func(_ string, d *Device) bool {
		d.m.Lock()
		since := now.Sub(d.keepaliveAt)
		online := since < timeout
		changed := d.info.IsOnline != online
		d.info.IsOnline = online
		d.m.Unlock()

		if !changed {
			return true
		}
		slog.WarnContext(ctx, "onvif 设备离线", "host", d.Key().Host, "last_keepalive", since)
		p.devices.Remove(d.Key())
		return true
	})
}
