package protect

// Bootstrap 控制器启动信息，只解析用到的字段
type Bootstrap struct {
	AuthUserID   string   `json:"authUserId"`
	AccessKey    string   `json:"accessKey"`
	LastUpdateID string   `json:"lastUpdateId"`
	NVR          NVR      `json:"nvr"`
	Cameras      []Camera `json:"cameras"`
}

type NVR struct {
	ID       string `json:"id"`
	Mac      string `json:"mac"`
	Host     string `json:"host"`
	Name     string `json:"name"`
	Version  string `json:"version"`
	Firmware string `json:"firmwareVersion"`
	Uptime   int64  `json:"uptime"`
}

type Camera struct {
	ID          string    `json:"id"`
	Mac         string    `json:"mac"`
	Host        string    `json:"host"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	State       string    `json:"state"` // CONNECTED / DISCONNECTED
	IsConnected bool      `json:"isConnected"`
	Channels    []Channel `json:"channels"`
}

// Channel 摄像头的码流通道，0 为主码流
type Channel struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Enabled    bool   `json:"enabled"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	FPS        int    `json:"fps"`
	Bitrate    int    `json:"bitrate"`
	RTSPAlias  string `json:"rtspAlias"`
	IsRTSPOpen bool   `json:"isRtspEnabled"`
}

// codecMessage livestream 文本帧中的编码声明
type codecMessage struct {
	Codec string `json:"codec"`
}
