package protect

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"
)

const (
	apiLogin     = "/api/auth/login"
	apiLogout    = "/api/auth/logout"
	apiBootstrap = "/proxy/protect/api/bootstrap"
	apiNVR       = "/proxy/protect/api/nvr"
	wsLivestream = "/proxy/protect/ws/livestream"

	headerCSRF        = "X-CSRF-Token"
	headerUpdatedCSRF = "X-Updated-Csrf-Token"
)

var (
	ErrInvalidCredentials = errors.New("protect: invalid login credentials")
	ErrNotLoggedIn        = errors.New("protect: not logged in")
)

type Config struct {
	RequestTimeout     time.Duration
	InsecureSkipVerify bool // NVR 默认使用自签名证书
}

// Client UniFi Protect 控制器客户端，一个 Client 对应一个登录会话
type Client struct {
	cfg Config
	cli *http.Client

	m         sync.RWMutex
	host      string
	csrf      string
	bootstrap *Bootstrap
}

func NewClient(cfg Config) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	jar, _ := cookiejar.New(nil)
	return &Client{
		cfg: cfg,
		cli: &http.Client{
			Timeout: cfg.RequestTimeout,
			Jar:     jar,
			Transport: &http.Transport{
				TLSClientConfig:     &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}, // nolint
				MaxIdleConnsPerHost: 4,
			},
		},
	}
}

// Login 登录控制器，账号或密码错误时返回 ErrInvalidCredentials
func (c *Client) Login(ctx context.Context, host, username, password string) error {
	c.m.Lock()
	c.host = host
	c.csrf = ""
	c.m.Unlock()

	body, _ := json.Marshal(map[string]any{
		"username":   username,
		"password":   password,
		"rememberMe": true,
	})
	resp, err := c.do(ctx, http.MethodPost, apiLogin, bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrInvalidCredentials
	default:
		return fmt.Errorf("protect: login status %d", resp.StatusCode)
	}

	if token := resp.Header.Get(headerCSRF); token != "" {
		c.m.Lock()
		c.csrf = token
		c.m.Unlock()
	}
	return nil
}

// Logout 注销登录会话
func (c *Client) Logout(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodPost, apiLogout, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// FetchBootstrap 拉取控制器的 bootstrap（含摄像头列表）
func (c *Client) FetchBootstrap(ctx context.Context) error {
	var out Bootstrap
	if err := c.get(ctx, apiBootstrap, &out); err != nil {
		return err
	}
	c.m.Lock()
	c.bootstrap = &out
	c.m.Unlock()
	return nil
}

// Bootstrap 最近一次拉取的 bootstrap，未拉取时为 nil
func (c *Client) Bootstrap() *Bootstrap {
	c.m.RLock()
	defer c.m.RUnlock()
	return c.bootstrap
}

// Ping 探测登录会话是否仍然有效
func (c *Client) Ping(ctx context.Context) error {
	var out NVR
	return c.get(ctx, apiNVR, &out)
}

// CreateLivestream 创建实时流，每次调用对应一条新的 websocket 连接
func (c *Client) CreateLivestream() *Livestream {
	return newLivestream(c)
}

// Host 当前登录的控制器地址
func (c *Client) Host() string {
	c.m.RLock()
	defer c.m.RUnlock()
	return c.host
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return ErrNotLoggedIn
	default:
		return fmt.Errorf("protect: GET %s status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	c.m.RLock()
	host, csrf := c.host, c.csrf
	c.m.RUnlock()
	if host == "" {
		return nil, ErrNotLoggedIn
	}

	req, err := http.NewRequestWithContext(ctx, method, "https://"+host+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if csrf != "" {
		req.Header.Set(headerCSRF, csrf)
	}
	resp, err := c.cli.Do(req)
	if err != nil {
		return nil, err
	}
	if token := resp.Header.Get(headerUpdatedCSRF); token != "" {
		c.m.Lock()
		c.csrf = token
		c.m.Unlock()
	}
	return resp, nil
}

func (c *Client) header() http.Header {
	c.m.RLock()
	defer c.m.RUnlock()
	h := make(http.Header)
	if c.csrf != "" {
		h.Set(headerCSRF, c.csrf)
	}
	return h
}
