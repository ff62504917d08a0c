package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/contentguard/moderation"
)

// ============= 🗄️ 持久化模型 =============

// UserSettings 用户审核设置行，user_id 为主键，每用户一行。
// 默认值由 defaultRow 合成，不靠列默认：GORM 在插入时会把零值字段
// （false、0）替换成列默认值，部分更新写入 false 会被悄悄吃掉。
type UserSettings struct {
	UserID                  string     `gorm:"primaryKey;size:64" json:"user_id"`
	ToxicityThreshold       float64    `json:"toxicity_threshold"`
	BiasThreshold           float64    `json:"bias_threshold"`
	MisinformationThreshold float64    `json:"misinformation_threshold"`
	AdultThreshold          string     `gorm:"size:20" json:"adult_threshold"`
	ViolenceThreshold       string     `gorm:"size:20" json:"violence_threshold"`
	MedicalThreshold        string     `gorm:"size:20" json:"medical_threshold"`
	SpoofThreshold          string     `gorm:"size:20" json:"spoof_threshold"`
	CheckCopyright          bool       `json:"check_copyright"`
	EnabledCategories       StringList `gorm:"type:text" json:"enabled_categories"`
	Theme                   string     `gorm:"size:20" json:"theme"`
	Notifications           bool       `json:"notifications"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

func (UserSettings) TableName() string { return "user_settings" }

// Settings 把存储行转换为引擎消费的设置值。
func (s *UserSettings) Settings() moderation.Settings {
	return moderation.Settings{
		ToxicityThreshold:       s.ToxicityThreshold,
		BiasThreshold:           s.BiasThreshold,
		MisinformationThreshold: s.MisinformationThreshold,
		AdultThreshold:          moderation.LikelihoodFrom(s.AdultThreshold),
		ViolenceThreshold:       moderation.LikelihoodFrom(s.ViolenceThreshold),
		MedicalThreshold:        moderation.LikelihoodFrom(s.MedicalThreshold),
		SpoofThreshold:          moderation.LikelihoodFrom(s.SpoofThreshold),
		CheckCopyright:          s.CheckCopyright,
		EnabledCategories:       []string(s.EnabledCategories),
	}
}

// ModerationLog 单次审核调用的留痕记录。
// Results 以 JSON 存储类目判定明细；ImageURL 仅在被标记图像上传后填充。
type ModerationLog struct {
	ID          string    `gorm:"primaryKey;size:64" json:"id"`
	UserID      string    `gorm:"size:64;not null;index:idx_logs_user_created" json:"user_id"`
	ContentType string    `gorm:"size:20;not null" json:"content_type"` // text | image | url
	Content     string    `gorm:"type:text" json:"content"`
	Results     ResultMap `gorm:"type:text" json:"moderation_results"`
	Logos       LogoList  `gorm:"type:text" json:"logo_detection,omitempty"`
	Flagged     bool      `gorm:"index:idx_logs_flagged" json:"flagged"`
	ImageURL    *string   `gorm:"size:500" json:"image_url,omitempty"`
	CreatedAt   time.Time `gorm:"index:idx_logs_user_created" json:"created_at"`
}

func (ModerationLog) TableName() string { return "moderation_logs" }

// APIKey 外部 API 密钥行。Key 全局唯一，速率限制单位为每小时请求数。
type APIKey struct {
	ID         string     `gorm:"primaryKey;size:64" json:"id"`
	UserID     string     `gorm:"size:64;not null;index" json:"user_id"`
	Name       string     `gorm:"size:100;not null" json:"name"`
	Key        string     `gorm:"size:100;uniqueIndex;not null" json:"key"`
	Active     bool       `gorm:"default:true" json:"active"`
	RateLimit  int        `gorm:"default:1000" json:"rate_limit"` // 每小时请求数
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

func (APIKey) TableName() string { return "api_keys" }

// ============= 🔣 JSON 列类型 =============

// StringList 以 JSON 数组形式存储的字符串列表列。
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	return string(b), err
}

func (l *StringList) Scan(value interface{}) error {
	return scanJSON(value, l)
}

// ResultMap 以 JSON 对象形式存储的类目判定明细列。
type ResultMap map[string]moderation.CategoryResult

func (m ResultMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	return string(b), err
}

func (m *ResultMap) Scan(value interface{}) error {
	return scanJSON(value, m)
}

// LogoList 以 JSON 数组形式存储的徽标检测明细列。
type LogoList []moderation.LogoDetection

func (l LogoList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	b, err := json.Marshal(l)
	return string(b), err
}

func (l *LogoList) Scan(value interface{}) error {
	return scanJSON(value, l)
}

func scanJSON(value, dest interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported column type %T", value)
	}
}
