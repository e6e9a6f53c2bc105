package backend

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	// KindCamera 路径中的设备类型
	KindCamera = "camera"
	// SelectAll 选择目录中的全部摄像头
	SelectAll = "_all"
)

// Locator 解析后的资源地址
// 格式: scheme://[username[:password]@]host[:port]/camera/<_all | name1,name2...>
type Locator struct {
	Scheme   string
	Host     string
	Username string
	Password string
	Kind     string
	Selector string
}

// SessionKey 后端会话缓存 key，值相等即为同一个会话
type SessionKey struct {
	Host     string
	Username string
	Password string
}

// String 稳定的 key 格式化，每段加引号避免拼接碰撞
func (k SessionKey) String() string {
	return strconv.Quote(k.Host) + ":" + strconv.Quote(k.Username) + ":" + strconv.Quote(k.Password)
}

// Key 会话缓存 key
func (l Locator) Key() SessionKey {
	return SessionKey{Host: l.Host, Username: l.Username, Password: l.Password}
}

// Base 不含账号密码与选择器的地址，用于日志与流 ID
func (l Locator) Base() string {
	return l.Scheme + "://" + l.Host + "/" + l.Kind
}

// IsAll 是否选择全部摄像头
func (l Locator) IsAll() bool {
	return l.Selector == SelectAll
}

// ParseLocator 解析并校验地址
func ParseLocator(raw string) (*Locator, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err)
	}
	return LocatorFromURL(u)
}

// LocatorFromURL 校验已解析的 URL，路径必须恰好为 <kind>/<selector> 两段
func LocatorFromURL(u *url.URL) (*Locator, error) {
	redacted := u.Redacted()
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: '%s' missing scheme or host", ErrValidation, redacted)
	}
	segments := PathSegments(u)
	if len(segments) != 2 {
		return nil, fmt.Errorf("%w: expecting path '/camera/_all' or '/camera/camera1,camera2...' but got '%s'", ErrValidation, redacted)
	}
	if segments[0] != KindCamera {
		return nil, fmt.Errorf("%w: unsupported device kind '%s' in '%s'", ErrValidation, segments[0], redacted)
	}
	selector := strings.TrimSpace(segments[1])
	if selector == "" {
		return nil, fmt.Errorf("%w: empty camera selector in '%s'", ErrValidation, redacted)
	}

	password, _ := u.User.Password()
	return &Locator{
		Scheme:   strings.ToLower(u.Scheme),
		Host:     u.Host,
		Username: u.User.Username(),
		Password: password,
		Kind:     segments[0],
		Selector: selector,
	}, nil
}

// PathSegments 先按原始路径分段再逐段解码，名称中的 %2F 不会产生新的分段
func PathSegments(u *url.URL) []string {
	p := strings.TrimPrefix(u.EscapedPath(), "/")
	if p == "" {
		return nil
	}
	segments := strings.Split(p, "/")
	for i, s := range segments {
		if v, err := url.PathUnescape(s); err == nil {
			segments[i] = v
		}
	}
	return segments
}

// IsCameraURL scheme 匹配且第一段路径为 camera，无副作用
func IsCameraURL(u *url.URL, scheme string) bool {
	if u == nil || !strings.EqualFold(u.Scheme, scheme) {
		return false
	}
	segments := PathSegments(u)
	return len(segments) > 0 && segments[0] == KindCamera
}

// SplitSelector 按逗号拆分并去除空白
func SplitSelector(selector string) []string {
	parts := strings.Split(selector, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}
