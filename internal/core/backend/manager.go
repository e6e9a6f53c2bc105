package backend

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ixugo/goddd/pkg/conc"
	"golang.org/x/sync/singleflight"
)

// Manager 管理已解析并启动的流
type Manager struct {
	registry *Registry
	streams  conc.Map[string, Stream]
	// 同一 ID 的启动串行执行
	starting singleflight.Group
}

func NewManager(registry *Registry) *Manager {
	return &Manager{registry: registry}
}

func (m *Manager) Registry() *Registry {
	return m.registry
}

// Open 解析全部地址并启动流
//
// 任意地址解析失败则整体失败，已经启动的流会被停止。
// 相同 ID 的流已在运行时直接复用，并发打开同一 ID 只会启动一次。
func (m *Manager) Open(ctx context.Context, urls []string) ([]Stream, error) {
	var resolved []Stream
	for _, raw := range urls {
		streams, err := m.registry.Resolve(ctx, raw)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, streams...)
	}

	out := make([]Stream, 0, len(resolved))
	var started []Stream
	for _, s := range resolved {
		v, err, _ := m.starting.Do(s.ID(), func() (any, error) {
			if v, ok := m.streams.Load(s.ID()); ok && v.State() == StateActive {
				return v, nil
			}
			if err := s.Start(ctx); err != nil {
				return nil, err
			}
			m.streams.Store(s.ID(), s)
			return s, nil
		})
		if err != nil {
			for _, v := range started {
				m.streams.Delete(v.ID())
				v.Stop()
			}
			return nil, fmt.Errorf("start stream %s: %w", s.Name(), err)
		}
		got := v.(Stream)
		if got == s {
			started = append(started, s)
		}
		out = append(out, got)
	}
	slog.InfoContext(ctx, "streams opened", "count", len(out), "started", len(started))
	return out, nil
}

// Get 查询运行中的流
func (m *Manager) Get(id string) (Stream, error) {
	s, ok := m.streams.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStreamNotFound, id)
	}
	return s, nil
}

// List 按名称排序
func (m *Manager) List() []Stream {
	out := make([]Stream, 0, 8)
	m.streams.Range(func(_ string, s Stream) bool {
		out = append(out, s)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name() == out[j].Name() {
			return out[i].ID() < out[j].ID()
		}
		return out[i].Name() < out[j].Name()
	})
	return out
}

// Close 停止并移除流
func (m *Manager) Close(id string) error {
	s, ok := m.streams.Load(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrStreamNotFound, id)
	}
	m.streams.Delete(id)
	s.Stop()
	return nil
}

// Shutdown 停止全部流
func (m *Manager) Shutdown() {
	var n int
	m.streams.Range(func(id string, s Stream) bool {
		m.streams.Delete(id)
		s.Stop()
		n++
		return true
	})
	slog.Info("streams shutdown", "count", n)
}
