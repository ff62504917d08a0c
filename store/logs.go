package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ============= 📜 审核日志 =============

// LogEntry 写入审核日志所需的字段。
type LogEntry struct {
	UserID      string
	ContentType string
	Content     string
	Results     ResultMap
	Logos       LogoList
	Flagged     bool
	ImageURL    *string
}

// LogFilter 历史查询的过滤与分页参数。
type LogFilter struct {
	Page         int
	PageSize     int
	ContentTypes []string
	Flagged      *bool
	From         *time.Time
	To           *time.Time
}

// Pagination 历史查询的分页元数据。
type Pagination struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"pageSize"`
	TotalPages int   `json:"totalPages"`
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// SaveLog 持久化一条审核记录。存储故障不会让审核调用失败：
// 返回一条临时 ID 的合成记录，persisted 置 false，调用方据此提示客户端。
func (s *Store) SaveLog(ctx context.Context, entry LogEntry) (*ModerationLog, bool) {
	log := &ModerationLog{
		ID:          uuid.NewString(),
		UserID:      entry.UserID,
		ContentType: entry.ContentType,
		Content:     entry.Content,
		Results:     entry.Results,
		Logos:       entry.Logos,
		Flagged:     entry.Flagged,
		ImageURL:    entry.ImageURL,
		CreatedAt:   time.Now().UTC(),
	}

	if !s.readiness.Logs {
		return s.synthesize(log), false
	}
	if err := s.db.WithContext(ctx).Create(log).Error; err != nil {
		s.logger.Warn("log write failed, returning synthesized record",
			zap.String("user_id", entry.UserID), zap.Error(err))
		return s.synthesize(log), false
	}
	return log, true
}

// synthesize 给未持久化的记录换上可识别的临时 ID。
func (s *Store) synthesize(log *ModerationLog) *ModerationLog {
	log.ID = fmt.Sprintf("temp-%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
	return log
}

// ListLogs 按用户查询审核历史，按创建时间倒序，支持标记状态与时间区间过滤。
func (s *Store) ListLogs(ctx context.Context, userID string, filter LogFilter) ([]ModerationLog, Pagination, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	// 日志表不可用时历史查询返回空页而不是报错
	if !s.readiness.Logs {
		return []ModerationLog{}, Pagination{Page: page, PageSize: pageSize}, nil
	}

	query := s.db.WithContext(ctx).Model(&ModerationLog{}).Where("user_id = ?", userID)
	if len(filter.ContentTypes) > 0 {
		query = query.Where("content_type IN ?", filter.ContentTypes)
	}
	if filter.Flagged != nil {
		query = query.Where("flagged = ?", *filter.Flagged)
	}
	if filter.From != nil {
		query = query.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("created_at <= ?", *filter.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, Pagination{}, err
	}

	var logs []ModerationLog
	err := query.Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&logs).Error
	if err != nil {
		return nil, Pagination{}, err
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return logs, Pagination{
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}

// GetLog 按 ID 取单条记录，限定所有者。
func (s *Store) GetLog(ctx context.Context, userID, logID string) (*ModerationLog, error) {
	var log ModerationLog
	err := s.db.WithContext(ctx).
		First(&log, "id = ? AND user_id = ?", logID, userID).Error
	if err != nil {
		return nil, err
	}
	return &log, nil
}
