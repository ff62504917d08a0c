package moderation

// Canonical moderation categories.
const (
	CategoryToxicity       = "toxicity"
	CategoryBias           = "bias"
	CategoryMisinformation = "misinformation"
	CategoryAdult          = "adult"
	CategoryViolence       = "violence"
	CategoryMedical        = "medical"
	CategorySpoof          = "spoof"
)

// TextCategories 文本类目（数值阈值）。
var TextCategories = []string{CategoryToxicity, CategoryBias, CategoryMisinformation}

// ImageCategories 图像类目（序数阈值）。
var ImageCategories = []string{CategoryAdult, CategoryViolence, CategoryMedical, CategorySpoof}

// CategoryResult 单次提交在单个类目上的判定结果。
// Likelihood 仅图像类目返回；Explanation 仅文本类目、且仅在有信号时返回。
type CategoryResult struct {
	Flagged     bool       `json:"flagged"`
	Score       float64    `json:"score"`
	Likelihood  Likelihood `json:"likelihood,omitempty"`
	Explanation *string    `json:"explanation,omitempty"`
}

// Settings 决策引擎消费的有效设置（已合并用户设置与每次调用的覆盖）。
type Settings struct {
	ToxicityThreshold       float64 `json:"toxicity_threshold"`
	BiasThreshold           float64 `json:"bias_threshold"`
	MisinformationThreshold float64 `json:"misinformation_threshold"`

	AdultThreshold    Likelihood `json:"adult_threshold"`
	ViolenceThreshold Likelihood `json:"violence_threshold"`
	MedicalThreshold  Likelihood `json:"medical_threshold"`
	SpoofThreshold    Likelihood `json:"spoof_threshold"`

	CheckCopyright    bool     `json:"check_copyright"`
	EnabledCategories []string `json:"enabled_categories"`
}

// Enabled reports whether the category is in the enabled set.
func (s Settings) Enabled(category string) bool {
	for _, c := range s.EnabledCategories {
		if c == category {
			return true
		}
	}
	return false
}

// DefaultSettings 返回文档化的默认设置。Settings Store 在无持久化行时
// 合成该记录，调用方永远不会拿到空设置。
func DefaultSettings() Settings {
	return Settings{
		ToxicityThreshold:       0.7,
		BiasThreshold:           0.7,
		MisinformationThreshold: 0.7,
		AdultThreshold:          Possible,
		ViolenceThreshold:       Possible,
		MedicalThreshold:        Likely,
		SpoofThreshold:          Likely,
		CheckCopyright:          true,
		EnabledCategories: []string{
			CategoryToxicity, CategoryBias, CategoryMisinformation,
			CategoryAdult, CategoryViolence,
		},
	}
}

// Override 每次调用的可选设置覆盖。逐字段合并：存在的字段覆盖存储的设置，
// 缺失的字段保留原值，而不是整体替换。
type Override struct {
	ToxicityThreshold       *float64 `json:"toxicity_threshold,omitempty"`
	BiasThreshold           *float64 `json:"bias_threshold,omitempty"`
	MisinformationThreshold *float64 `json:"misinformation_threshold,omitempty"`

	AdultThreshold    *Likelihood `json:"adult_threshold,omitempty"`
	ViolenceThreshold *Likelihood `json:"violence_threshold,omitempty"`
	MedicalThreshold  *Likelihood `json:"medical_threshold,omitempty"`
	SpoofThreshold    *Likelihood `json:"spoof_threshold,omitempty"`

	CheckCopyright *bool    `json:"check_copyright,omitempty"`
	Categories     []string `json:"categories,omitempty"`
}

// Merge 将覆盖合并到基础设置之上并返回结果；base 不被修改。
func Merge(base Settings, override *Override) Settings {
	if override == nil {
		return base
	}
	merged := base
	if override.ToxicityThreshold != nil {
		merged.ToxicityThreshold = *override.ToxicityThreshold
	}
	if override.BiasThreshold != nil {
		merged.BiasThreshold = *override.BiasThreshold
	}
	if override.MisinformationThreshold != nil {
		merged.MisinformationThreshold = *override.MisinformationThreshold
	}
	if override.AdultThreshold != nil {
		merged.AdultThreshold = *override.AdultThreshold
	}
	if override.ViolenceThreshold != nil {
		merged.ViolenceThreshold = *override.ViolenceThreshold
	}
	if override.MedicalThreshold != nil {
		merged.MedicalThreshold = *override.MedicalThreshold
	}
	if override.SpoofThreshold != nil {
		merged.SpoofThreshold = *override.SpoofThreshold
	}
	if override.CheckCopyright != nil {
		merged.CheckCopyright = *override.CheckCopyright
	}
	if override.Categories != nil {
		merged.EnabledCategories = override.Categories
	}
	return merged
}

// LogoDetection 单个徽标/品牌检测结果（仅图像，且仅在启用版权检查时）。
type LogoDetection struct {
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}
