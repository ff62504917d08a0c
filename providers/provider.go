package providers

import (
	"context"

	"github.com/BaSui01/contentguard/moderation"
)

// TextProvider 文本审核适配器接口。实现方负责把上游原生类目分值映射到
// 规范类目（toxicity / bias / misinformation），只计算启用集中的类目。
type TextProvider interface {
	Name() string
	ModerateText(ctx context.Context, text string, set moderation.Settings) (map[string]moderation.CategoryResult, error)
}

// ImageResult 图像审核的归一化输出。
type ImageResult struct {
	Categories map[string]moderation.CategoryResult `json:"categories"`
	Logos      []moderation.LogoDetection           `json:"logos,omitempty"`
}

// ImageProvider 图像审核适配器接口。Logos 仅在设置启用版权检查时填充；
// 徽标检测失败不算整体失败（结果置空）。
type ImageProvider interface {
	Name() string
	ModerateImage(ctx context.Context, image []byte, set moderation.Settings) (*ImageResult, error)
}
