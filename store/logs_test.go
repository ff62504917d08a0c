package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/contentguard/moderation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sampleEntry(userID string, flagged bool) LogEntry {
	return LogEntry{
		UserID:      userID,
		ContentType: "text",
		Content:     "some content",
		Results: ResultMap{
			moderation.CategoryToxicity: {Flagged: flagged, Score: 0.9},
		},
		Flagged: flagged,
	}
}

func TestSaveLogPersists(t *testing.T) {
	s := newTestStore(t)

	log, persisted := s.SaveLog(context.Background(), sampleEntry("user-1", true))
	assert.True(t, persisted)
	assert.NotEmpty(t, log.ID)
	assert.False(t, strings.HasPrefix(log.ID, "temp-"))

	stored, err := s.GetLog(context.Background(), "user-1", log.ID)
	require.NoError(t, err)
	assert.Equal(t, "text", stored.ContentType)
	assert.True(t, stored.Flagged)
	require.Contains(t, stored.Results, moderation.CategoryToxicity)
	assert.InDelta(t, 0.9, stored.Results[moderation.CategoryToxicity].Score, 1e-9)
}

func TestSaveLogDegradesWhenTableUnavailable(t *testing.T) {
	s := newTestStore(t)
	// 探测后表被破坏：写入失败必须降级而不是报错
	require.NoError(t, s.db.Migrator().DropTable(&ModerationLog{}))

	log, persisted := s.SaveLog(context.Background(), sampleEntry("user-1", false))
	assert.False(t, persisted)
	assert.True(t, strings.HasPrefix(log.ID, "temp-"))
	assert.Equal(t, "user-1", log.UserID)
	assert.Contains(t, log.Results, moderation.CategoryToxicity)
}

func TestSaveLogDegradesWhenProbeFailed(t *testing.T) {
	s := New(newTestDB(t), nil, zap.NewNop())
	s.Probe(context.Background()) // 未迁移，全部不可用

	log, persisted := s.SaveLog(context.Background(), sampleEntry("user-1", false))
	assert.False(t, persisted)
	assert.True(t, strings.HasPrefix(log.ID, "temp-"))
}

func TestListLogsPaginationAndOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		_, persisted := s.SaveLog(ctx, sampleEntry("user-1", i%2 == 0))
		require.True(t, persisted)
	}
	s.SaveLog(ctx, sampleEntry("user-2", true))

	logs, page, err := s.ListLogs(ctx, "user-1", LogFilter{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Len(t, logs, 10)
	assert.Equal(t, int64(25), page.Total)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, 10, page.PageSize)

	logs, _, err = s.ListLogs(ctx, "user-1", LogFilter{Page: 3, PageSize: 10})
	require.NoError(t, err)
	assert.Len(t, logs, 5)
}

func TestListLogsFlaggedFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.SaveLog(ctx, sampleEntry("user-1", true))
	s.SaveLog(ctx, sampleEntry("user-1", false))
	s.SaveLog(ctx, sampleEntry("user-1", true))

	flagged := true
	logs, page, err := s.ListLogs(ctx, "user-1", LogFilter{Flagged: &flagged})
	require.NoError(t, err)
	assert.Len(t, logs, 2)
	assert.Equal(t, int64(2), page.Total)
	for _, l := range logs {
		assert.True(t, l.Flagged)
	}
}

func TestListLogsDateRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := ModerationLog{
		ID:          "old-log",
		UserID:      "user-1",
		ContentType: "text",
		CreatedAt:   time.Now().UTC().Add(-48 * time.Hour),
	}
	require.NoError(t, s.db.Create(&old).Error)
	s.SaveLog(ctx, sampleEntry("user-1", false))

	from := time.Now().UTC().Add(-time.Hour)
	logs, _, err := s.ListLogs(ctx, "user-1", LogFilter{From: &from})
	require.NoError(t, err)
	assert.Len(t, logs, 1)
	assert.NotEqual(t, "old-log", logs[0].ID)

	to := time.Now().UTC().Add(-24 * time.Hour)
	logs, _, err = s.ListLogs(ctx, "user-1", LogFilter{To: &to})
	require.NoError(t, err)
	assert.Len(t, logs, 1)
	assert.Equal(t, "old-log", logs[0].ID)
}

func TestListLogsContentTypeFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.SaveLog(ctx, sampleEntry("user-1", false))
	image := sampleEntry("user-1", true)
	image.ContentType = "image"
	s.SaveLog(ctx, image)
	url := sampleEntry("user-1", true)
	url.ContentType = "url"
	s.SaveLog(ctx, url)

	logs, _, err := s.ListLogs(ctx, "user-1", LogFilter{ContentTypes: []string{"image", "url"}})
	require.NoError(t, err)
	assert.Len(t, logs, 2)

	logs, _, err = s.ListLogs(ctx, "user-1", LogFilter{ContentTypes: []string{"text"}})
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestListLogsEmptyPageWhenTableUnavailable(t *testing.T) {
	s := New(newTestDB(t), nil, zap.NewNop())
	s.Probe(context.Background())

	logs, page, err := s.ListLogs(context.Background(), "user-1", LogFilter{})
	require.NoError(t, err)
	assert.Empty(t, logs)
	assert.Equal(t, int64(0), page.Total)
}

func TestListLogsClampsPageSize(t *testing.T) {
	s := newTestStore(t)

	_, page, err := s.ListLogs(context.Background(), "user-1", LogFilter{Page: -3, PageSize: 9999})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, maxPageSize, page.PageSize)
}

func TestGetLogOwnerScoped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	log, persisted := s.SaveLog(ctx, sampleEntry("user-1", true))
	require.True(t, persisted)

	_, err := s.GetLog(ctx, "user-2", log.ID)
	assert.Error(t, err)
}
