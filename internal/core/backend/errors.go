package backend

import "errors"

var (
	// ErrValidation 地址或选择器格式错误
	ErrValidation = errors.New("invalid locator")
	// ErrAuthentication 后端登录失败
	ErrAuthentication = errors.New("authentication failed")
	// ErrBootstrap 登录成功但拉取摄像头目录失败
	ErrBootstrap = errors.New("bootstrap failed")
	// ErrCameraNotFound 选择器中的摄像头名称在目录中不存在
	ErrCameraNotFound = errors.New("camera not found")
	// ErrAmbiguousCamera 目录中存在多个同名摄像头
	ErrAmbiguousCamera = errors.New("ambiguous camera name")
	// ErrNoProvider 没有可以处理该地址的 provider
	ErrNoProvider = errors.New("no provider can handle locator")
	// ErrStreamNotFound 流不存在
	ErrStreamNotFound = errors.New("stream not found")
)
