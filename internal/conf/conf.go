// Package conf 服务配置，文件格式为 TOML
package conf

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const DefaultPath = "configs/config.toml"

type Bootstrap struct {
	Debug     bool      `toml:"debug" comment:"调试模式，输出请求详情"`
	Server    Server    `toml:"server"`
	Log       Log       `toml:"log"`
	Protect   Protect   `toml:"protect" comment:"UniFi Protect 控制器"`
	Onvif     Onvif     `toml:"onvif"`
	Keepalive Keepalive `toml:"keepalive" comment:"会话保活，interval 为 0 时关闭"`
	Stream    Stream    `toml:"stream"`

	BuildVersion string `toml:"-"`
	ConfigPath   string `toml:"-"`
}

type Server struct {
	HTTP ServerHTTP `toml:"http"`
}

type ServerHTTP struct {
	Port    int      `toml:"port"`
	Timeout Duration `toml:"timeout" comment:"请求超时"`
	Cors    bool     `toml:"cors" comment:"允许跨域访问"`
}

type Log struct {
	Level  string `toml:"level" comment:"debug/info/warn/error"`
	Format string `toml:"format" comment:"text/json"`
}

type Protect struct {
	RequestTimeout     Duration `toml:"request_timeout"`
	InsecureSkipVerify bool     `toml:"insecure_skip_verify" comment:"控制器默认使用自签名证书"`
	Channel            int      `toml:"channel" comment:"实时流码流通道，0 为主码流"`
}

type Onvif struct {
	RequestTimeout Duration `toml:"request_timeout"`
}

type Keepalive struct {
	Interval Duration `toml:"interval"`
	Timeout  Duration `toml:"timeout" comment:"超过该时间未响应的会话被移除"`
}

type Stream struct {
	Buffer int `toml:"buffer" comment:"每个订阅者缓存的消息数"`
}

// Duration 支持 "15s" 形式的时长
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	*d = Duration(v)
	return nil
}

// DefaultConfig 默认配置
func DefaultConfig() Bootstrap {
	return Bootstrap{
		Server: Server{
			HTTP: ServerHTTP{
				Port:    15124,
				Timeout: Duration(60 * time.Second),
				Cors:    true,
			},
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Protect: Protect{
			RequestTimeout:     Duration(10 * time.Second),
			InsecureSkipVerify: true,
		},
		Onvif: Onvif{
			RequestTimeout: Duration(3 * time.Second),
		},
		Keepalive: Keepalive{
			Interval: Duration(30 * time.Second),
			Timeout:  Duration(90 * time.Second),
		},
		Stream: Stream{
			Buffer: 64,
		},
	}
}

// SetupConfig 读取配置文件，文件不存在时使用默认配置并写入该路径
func SetupConfig(path string) (Bootstrap, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = DefaultPath
	}
	cfg.ConfigPath = path

	err := ReadConfig(&cfg, path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, WriteConfig(&cfg, path)
	}
	return cfg, err
}

// ReadConfig 在已有配置上覆盖文件中的字段
func ReadConfig(cfg *Bootstrap, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := toml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// WriteConfig 写入配置文件
func WriteConfig(cfg *Bootstrap, path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).SetIndentTables(true).Encode(cfg); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
