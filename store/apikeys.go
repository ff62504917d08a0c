package store

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/contentguard/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ============= 🔑 API 密钥 =============

const (
	keySegmentCount  = 4
	keySegmentLength = 16
	keyAlphabet      = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	defaultKeyRateLimit = 1000 // 每小时请求数
)

// KeyPatch API 密钥的部分更新。
type KeyPatch struct {
	Name      *string `json:"name,omitempty"`
	Active    *bool   `json:"active,omitempty"`
	RateLimit *int    `json:"rate_limit,omitempty"`
}

// GenerateKey 生成 4 段 16 位 base62 字符、以 '-' 连接的密钥。
func GenerateKey() (string, error) {
	segments := make([]string, keySegmentCount)
	alphabetLen := big.NewInt(int64(len(keyAlphabet)))
	for i := range segments {
		var b strings.Builder
		for j := 0; j < keySegmentLength; j++ {
			n, err := rand.Int(rand.Reader, alphabetLen)
			if err != nil {
				return "", err
			}
			b.WriteByte(keyAlphabet[n.Int64()])
		}
		segments[i] = b.String()
	}
	return strings.Join(segments, "-"), nil
}

// Masked 返回密钥的展示形式，仅暴露前 8 个字符。
func (k *APIKey) Masked() string {
	if len(k.Key) <= 8 {
		return k.Key
	}
	return k.Key[:8] + "..."
}

// CreateKey 为用户生成一把新密钥。完整密钥只在创建响应里返回一次。
func (s *Store) CreateKey(ctx context.Context, userID, name string, rateLimit int) (*APIKey, error) {
	if rateLimit <= 0 {
		rateLimit = defaultKeyRateLimit
	}
	raw, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	key := &APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		Key:       raw,
		Active:    true,
		RateLimit: rateLimit,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(key).Error; err != nil {
		return nil, err
	}
	return key, nil
}

// ListKeys 返回用户的全部密钥，按创建时间倒序。
func (s *Store) ListKeys(ctx context.Context, userID string) ([]APIKey, error) {
	var keys []APIKey
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&keys).Error
	return keys, err
}

// UpdateKey 更新密钥的名称、启用状态或速率限制，限定所有者。
func (s *Store) UpdateKey(ctx context.Context, userID, keyID string, patch KeyPatch) (*APIKey, error) {
	var key APIKey
	err := s.db.WithContext(ctx).First(&key, "id = ? AND user_id = ?", keyID, userID).Error
	if err != nil {
		return nil, err
	}
	if patch.Name != nil {
		key.Name = *patch.Name
	}
	if patch.Active != nil {
		key.Active = *patch.Active
	}
	if patch.RateLimit != nil && *patch.RateLimit > 0 {
		key.RateLimit = *patch.RateLimit
	}
	if err := s.db.WithContext(ctx).Save(&key).Error; err != nil {
		return nil, err
	}
	return &key, nil
}

// DeleteKey 删除密钥，限定所有者。
func (s *Store) DeleteKey(ctx context.Context, userID, keyID string) error {
	result := s.db.WithContext(ctx).Delete(&APIKey{}, "id = ? AND user_id = ?", keyID, userID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Authenticate 校验外部 API 密钥。区分三种失败：密钥表不可用（503，
// 由启动探测的缓存标志判断）、密钥不存在（401）、密钥被停用（403）。
func (s *Store) Authenticate(ctx context.Context, rawKey string) (*types.APIKeyInfo, error) {
	if !s.readiness.Keys {
		return nil, types.NewError(types.ErrServiceUnavailable, "API key storage is unavailable").
			WithHTTPStatus(http.StatusServiceUnavailable).
			WithRetryable(true)
	}

	var key APIKey
	err := s.db.WithContext(ctx).First(&key, "key = ?", rawKey).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.NewError(types.ErrUnauthorized, "invalid API key").
				WithHTTPStatus(http.StatusUnauthorized)
		}
		return nil, types.NewError(types.ErrServiceUnavailable, "API key lookup failed").
			WithHTTPStatus(http.StatusServiceUnavailable).
			WithRetryable(true).
			WithCause(err)
	}
	if !key.Active {
		return nil, types.NewError(types.ErrForbidden, "API key is inactive").
			WithHTTPStatus(http.StatusForbidden)
	}

	// last_used_at 尽力而为，失败不影响认证结果
	now := time.Now().UTC()
	if err := s.db.WithContext(ctx).Model(&key).Update("last_used_at", now).Error; err != nil {
		s.logger.Debug("failed to update key last_used_at", zap.Error(err))
	}

	return &types.APIKeyInfo{
		KeyID:     key.ID,
		UserID:    key.UserID,
		RateLimit: key.RateLimit,
	}, nil
}
