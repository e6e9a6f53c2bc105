package backend

import "fmt"

// Camera 摄像头目录项，ID 由后端分配，Name 用于选择器匹配
type Camera struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SelectCameras 按选择器从目录中挑选摄像头
//
// _all 按目录顺序返回全部摄像头；否则逐个匹配逗号分隔的名称，
// 结果顺序与选择器一致，重复名称只保留第一次出现。
// 任一名称找不到或存在同名摄像头时整体失败。
func SelectCameras(directory []Camera, selector, host string) ([]Camera, error) {
	if selector == SelectAll {
		out := make([]Camera, len(directory))
		copy(out, directory)
		return out, nil
	}

	tokens := SplitSelector(selector)
	out := make([]Camera, 0, len(tokens))
	seen := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		if token == "" {
			return nil, fmt.Errorf("%w: empty camera name in selector '%s'", ErrValidation, selector)
		}
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}

		var matched []Camera
		for _, c := range directory {
			if c.Name == token {
				matched = append(matched, c)
			}
		}
		switch len(matched) {
		case 1:
			out = append(out, matched[0])
		case 0:
			return nil, fmt.Errorf("%w: cannot find camera named '%s' at '%s'", ErrCameraNotFound, token, host)
		default:
			return nil, fmt.Errorf("%w: %d cameras named '%s' at '%s'", ErrAmbiguousCamera, len(matched), token, host)
		}
	}
	return out, nil
}
