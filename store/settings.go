package store

import (
	"context"
	"errors"

	"github.com/BaSui01/contentguard/moderation"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ============= ⚙️ 用户设置 =============

// SettingsPatch PUT 设置的部分更新体。缺失的字段不改动现有值。
type SettingsPatch struct {
	ToxicityThreshold       *float64 `json:"toxicity_threshold,omitempty"`
	BiasThreshold           *float64 `json:"bias_threshold,omitempty"`
	MisinformationThreshold *float64 `json:"misinformation_threshold,omitempty"`

	AdultThreshold    *string `json:"adult_threshold,omitempty"`
	ViolenceThreshold *string `json:"violence_threshold,omitempty"`
	MedicalThreshold  *string `json:"medical_threshold,omitempty"`
	SpoofThreshold    *string `json:"spoof_threshold,omitempty"`

	CheckCopyright    *bool    `json:"check_copyright,omitempty"`
	EnabledCategories []string `json:"enabled_categories,omitempty"`
	Theme             *string  `json:"theme,omitempty"`
	Notifications     *bool    `json:"notifications,omitempty"`
}

// defaultRow 用户无持久化行时合成的默认设置行。
func defaultRow(userID string) UserSettings {
	def := moderation.DefaultSettings()
	return UserSettings{
		UserID:                  userID,
		ToxicityThreshold:       def.ToxicityThreshold,
		BiasThreshold:           def.BiasThreshold,
		MisinformationThreshold: def.MisinformationThreshold,
		AdultThreshold:          string(def.AdultThreshold),
		ViolenceThreshold:       string(def.ViolenceThreshold),
		MedicalThreshold:        string(def.MedicalThreshold),
		SpoofThreshold:          string(def.SpoofThreshold),
		CheckCopyright:          def.CheckCopyright,
		EnabledCategories:       StringList(def.EnabledCategories),
		Theme:                   "light",
		Notifications:           true,
	}
}

// GetSettings 返回用户的有效引擎设置。persisted 表示设置来自持久化行；
// 无行或存储故障时合成默认设置返回，调用方永远拿到可用的设置值。
func (s *Store) GetSettings(ctx context.Context, userID string) (moderation.Settings, bool) {
	if s.cache != nil {
		if set, ok := s.cache.Get(ctx, userID); ok {
			return set, true
		}
	}

	row, persisted := s.GetSettingsRow(ctx, userID)
	set := row.Settings()
	if persisted && s.cache != nil {
		s.cache.Set(ctx, userID, set)
	}
	return set, persisted
}

// GetSettingsRow 返回完整设置行（含 theme/notifications 等非引擎字段）。
func (s *Store) GetSettingsRow(ctx context.Context, userID string) (UserSettings, bool) {
	var row UserSettings
	err := s.db.WithContext(ctx).First(&row, "user_id = ?", userID).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn("settings lookup failed, using defaults",
				zap.String("user_id", userID), zap.Error(err))
		}
		return defaultRow(userID), false
	}
	return row, true
}

// UpdateSettings 逐字段合并补丁并持久化（upsert）。持久化失败时返回合并后
// 的值并把 persisted 置 false，请求不因存储故障而失败。
func (s *Store) UpdateSettings(ctx context.Context, userID string, patch SettingsPatch) (UserSettings, bool) {
	row, _ := s.GetSettingsRow(ctx, userID)
	applyPatch(&row, patch)

	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		s.logger.Warn("settings save failed, returning unpersisted merge",
			zap.String("user_id", userID), zap.Error(err))
		return row, false
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, userID)
	}
	return row, true
}

func applyPatch(row *UserSettings, patch SettingsPatch) {
	if patch.ToxicityThreshold != nil {
		row.ToxicityThreshold = *patch.ToxicityThreshold
	}
	if patch.BiasThreshold != nil {
		row.BiasThreshold = *patch.BiasThreshold
	}
	if patch.MisinformationThreshold != nil {
		row.MisinformationThreshold = *patch.MisinformationThreshold
	}
	if patch.AdultThreshold != nil {
		row.AdultThreshold = *patch.AdultThreshold
	}
	if patch.ViolenceThreshold != nil {
		row.ViolenceThreshold = *patch.ViolenceThreshold
	}
	if patch.SpoofThreshold != nil {
		row.SpoofThreshold = *patch.SpoofThreshold
	}
	if patch.MedicalThreshold != nil {
		row.MedicalThreshold = *patch.MedicalThreshold
	}
	if patch.CheckCopyright != nil {
		row.CheckCopyright = *patch.CheckCopyright
	}
	if patch.EnabledCategories != nil {
		row.EnabledCategories = StringList(patch.EnabledCategories)
	}
	if patch.Theme != nil {
		row.Theme = *patch.Theme
	}
	if patch.Notifications != nil {
		row.Notifications = *patch.Notifications
	}
}
